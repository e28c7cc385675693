// Package provider defines the capability interface of cloud provider drivers
// and the registry resolving a driver per cloud account.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stackdio/stackd/internal/model"
)

// ErrNotSupported is returned by drivers for capabilities they lack.
var ErrNotSupported = errors.New("provider: not supported")

// Driver is one cloud account's provider. Launch, query and destroy go
// through salt-cloud; the driver covers everything around them.
type Driver interface {
	Name() string
	// AvailableActions lists the stack actions the provider can run.
	AvailableActions() []string
	// ValidStatesForAction lists the host states an action may start from.
	// Nil means any state.
	ValidStatesForAction(action string) []string

	RegisterDNS(ctx context.Context, hosts []model.Host) (map[int64]string, error)
	UnregisterDNS(ctx context.Context, hosts []model.Host) error

	CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) error
	DeleteSecurityGroup(ctx context.Context, sg model.SecurityGroup) error
	GetSecurityGroups(ctx context.Context, groupIDs []string) ([]model.SecurityGroup, error)

	TagResources(ctx context.Context, st model.Stack, hosts []model.Host, volumes []model.Volume) error
	// RegisterVolumesForDelete makes the provider delete the volumes
	// together with the instances they are attached to.
	RegisterVolumesForDelete(ctx context.Context, hosts []model.Host, volumes []model.Volume) error
	VPCSubnets(ctx context.Context) ([]string, error)
	HasImage(ctx context.Context, image string) (bool, error)
}

// DefaultValidStates is the action/state table most drivers share.
func DefaultValidStates(action string) []string {
	switch action {
	case model.ActionStart:
		return []string{model.StateStopped}
	case model.ActionStop, model.ActionProvision, model.ActionOrchestrate,
		model.ActionSingleSLS, model.ActionPropagateSSH:
		return []string{model.StateRunning}
	default:
		return nil
	}
}

// Supports reports whether d lists action.
func Supports(d Driver, action string) bool {
	for _, a := range d.AvailableActions() {
		if a == action {
			return true
		}
	}
	return false
}

// ValidState reports whether a host in state may run action on d.
func ValidState(d Driver, action, state string) bool {
	valid := d.ValidStatesForAction(action)
	if valid == nil {
		return true
	}
	for _, s := range valid {
		if s == state {
			return true
		}
	}
	return false
}

// Factory builds a driver for a cloud account.
type Factory func(account model.CloudAccount) (Driver, error)

// AccountGetter loads cloud accounts.
type AccountGetter interface {
	GetCloudAccount(ctx context.Context, id int64) (*model.CloudAccount, error)
}

// Registry maps provider names to factories and caches one driver per
// cloud account for the life of the process.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	drivers   map[int64]Driver
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		drivers:   make(map[int64]Driver),
	}
}

// Register adds a provider factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register provider %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register provider %q: already registered", name)
	}
	r.factories[name] = f
	return nil
}

// For returns the driver of a cloud account.
func (r *Registry) For(account model.CloudAccount) (Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[account.ID]; ok {
		return d, nil
	}
	f, ok := r.factories[account.Provider]
	if !ok {
		return nil, fmt.Errorf("cloud account %d: unknown provider %q", account.ID, account.Provider)
	}
	d, err := f(account)
	if err != nil {
		return nil, fmt.Errorf("cloud account %d: create %s driver: %w", account.ID, account.Provider, err)
	}
	r.drivers[account.ID] = d
	return d, nil
}

// Group is the hosts of one cloud account with its driver.
type Group struct {
	Account model.CloudAccount
	Driver  Driver
	Hosts   []model.Host
}

// GroupHosts partitions hosts by cloud account, in order of first
// appearance.
func (r *Registry) GroupHosts(ctx context.Context, accounts AccountGetter, hosts []model.Host) ([]Group, error) {
	var groups []Group
	index := make(map[int64]int)
	for _, h := range hosts {
		i, ok := index[h.CloudAccountID]
		if !ok {
			acct, err := accounts.GetCloudAccount(ctx, h.CloudAccountID)
			if err != nil {
				return nil, err
			}
			d, err := r.For(*acct)
			if err != nil {
				return nil, err
			}
			i = len(groups)
			index[h.CloudAccountID] = i
			groups = append(groups, Group{Account: *acct, Driver: d})
		}
		groups[i].Hosts = append(groups[i].Hosts, h)
	}
	return groups, nil
}

// DNS is a record backend drivers delegate DNS to.
type DNS interface {
	Zone() string
	Register(ctx context.Context, records []Record) error
	Unregister(ctx context.Context, names []string) error
}

// Record points Name at Target. An IP target becomes an A record, anything
// else a CNAME.
type Record struct {
	Name   string
	Target string
}
