package stack

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/stackdio/stackd/internal/model"
)

// Loader is the read side of the store the builder needs.
type Loader interface {
	GetStack(ctx context.Context, id int64) (*model.Stack, error)
	ListHosts(ctx context.Context, stackID int64, hostIDs []int64) ([]model.Host, error)
	ListVolumes(ctx context.Context, stackID int64) ([]model.Volume, error)
	GetBlueprint(ctx context.Context, id int64) (*model.Blueprint, error)
	GetCloudAccount(ctx context.Context, id int64) (*model.CloudAccount, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// Builder renders all four artifacts of a stack from its stored state.
type Builder struct {
	loader    Loader
	stacksDir string
	username  string
	publicKey string
}

func NewBuilder(loader Loader, stacksDir, username, publicKey string) *Builder {
	return &Builder{loader: loader, stacksDir: stacksDir, username: username, publicKey: publicKey}
}

// Dir is the working directory of a stack.
func Dir(stacksDir string, st model.Stack) string {
	return filepath.Join(stacksDir, st.Slug())
}

// Build loads the stack and renders its artifacts. Faults only affect the
// map file.
func (b *Builder) Build(ctx context.Context, stackID int64, faults Faults) (model.Artifacts, error) {
	st, err := b.loader.GetStack(ctx, stackID)
	if err != nil {
		return model.Artifacts{}, err
	}
	hosts, err := b.loader.ListHosts(ctx, stackID, nil)
	if err != nil {
		return model.Artifacts{}, err
	}
	volumes, err := b.loader.ListVolumes(ctx, stackID)
	if err != nil {
		return model.Artifacts{}, err
	}
	bp, err := b.loader.GetBlueprint(ctx, st.BlueprintID)
	if err != nil {
		return model.Artifacts{}, err
	}
	owner, err := b.loader.GetUser(ctx, st.OwnerID)
	if err != nil {
		return model.Artifacts{}, err
	}

	accounts := make(map[int64]model.CloudAccount)
	for _, h := range hosts {
		if _, ok := accounts[h.CloudAccountID]; ok {
			continue
		}
		acct, err := b.loader.GetCloudAccount(ctx, h.CloudAccountID)
		if err != nil {
			return model.Artifacts{}, err
		}
		accounts[acct.ID] = *acct
	}

	var a model.Artifacts
	a.Map, err = RenderMap(MapInput{
		Stack:      *st,
		Hosts:      hosts,
		Volumes:    volumes,
		Accounts:   accounts,
		PillarPath: filepath.Join(Dir(b.stacksDir, *st), PillarFile),
		Faults:     faults,
	})
	if err != nil {
		return model.Artifacts{}, fmt.Errorf("render map for stack %d: %w", stackID, err)
	}
	a.Pillar, err = RenderPillar(PillarInput{
		Stack:      *st,
		Properties: bp.Properties,
		Username:   b.username,
		PublicKey:  b.publicKey,
		Users:      []model.User{*owner},
	})
	if err != nil {
		return model.Artifacts{}, fmt.Errorf("render pillar for stack %d: %w", stackID, err)
	}
	if a.Top, err = RenderTop(*st, hosts); err != nil {
		return model.Artifacts{}, fmt.Errorf("render top file for stack %d: %w", stackID, err)
	}
	if a.Orchestrate, err = RenderOrchestrate(*st, hosts); err != nil {
		return model.Artifacts{}, fmt.Errorf("render orchestrate file for stack %d: %w", stackID, err)
	}
	return a, nil
}

// PublicKey derives the authorized_keys line of a PEM private key.
func PublicKey(privatePEM []byte) (string, error) {
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return "", fmt.Errorf("parse ssh private key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}
