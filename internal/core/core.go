// Package core holds the services behind the HTTP API. They validate a
// request, persist what it creates and hand the work to a stack chain.
package core

import (
	"context"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/stack"
)

// StackStore is the persistence the stack service needs.
type StackStore interface {
	GetStack(ctx context.Context, id int64) (*model.Stack, error)
	CreateStack(ctx context.Context, stack *model.Stack, hosts []model.HostSpec) error
	SetStackStatus(ctx context.Context, stackID int64, u model.StatusUpdate) error
	ListStackHistory(ctx context.Context, stackID int64) ([]model.StackHistory, error)
	SaveStackArtifacts(ctx context.Context, stackID int64, a model.Artifacts) error
	GetBlueprint(ctx context.Context, id int64) (*model.Blueprint, error)
	GetCloudAccount(ctx context.Context, id int64) (*model.CloudAccount, error)
	CreateHosts(ctx context.Context, stackID int64, hosts []model.HostSpec) error
	ListHosts(ctx context.Context, stackID int64, hostIDs []int64) ([]model.Host, error)
	FindSecurityGroup(ctx context.Context, cloudAccountID int64, name string) (*model.SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) error
}

// UserStore is the persistence the user service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// ArtifactBuilder renders a stack's salt inputs from its stored state.
type ArtifactBuilder interface {
	Build(ctx context.Context, stackID int64, faults stack.Faults) (model.Artifacts, error)
}
