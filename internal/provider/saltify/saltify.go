// Package saltify is the provider driver for machines that already exist and
// are only brought under salt management.
package saltify

import (
	"context"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
)

// Name is the provider name cloud accounts use.
const Name = "saltify"

// Driver manages pre-existing machines. Machines cannot be started or
// stopped and there are no security groups or images.
type Driver struct {
	account model.CloudAccount
	dns     provider.DNS
}

var _ provider.Driver = (*Driver)(nil)

// New creates a driver. dns may be nil, in which case hosts keep their
// hostname as fqdn.
func New(account model.CloudAccount, dns provider.DNS) *Driver {
	return &Driver{account: account, dns: dns}
}

// Factory returns a provider.Factory sharing one DNS backend.
func Factory(dns provider.DNS) provider.Factory {
	return func(account model.CloudAccount) (provider.Driver, error) {
		return New(account, dns), nil
	}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) AvailableActions() []string {
	return []string{
		model.ActionLaunch,
		model.ActionTerminate,
		model.ActionProvision,
		model.ActionOrchestrate,
		model.ActionSingleSLS,
		model.ActionPropagateSSH,
	}
}

func (d *Driver) ValidStatesForAction(action string) []string {
	return provider.DefaultValidStates(action)
}

func (d *Driver) fqdn(h model.Host) string {
	if d.dns == nil {
		return h.Hostname
	}
	return h.Hostname + "." + d.dns.Zone()
}

// RegisterDNS points <hostname>.<zone> at each host's address.
func (d *Driver) RegisterDNS(ctx context.Context, hosts []model.Host) (map[int64]string, error) {
	fqdns := make(map[int64]string, len(hosts))
	var records []provider.Record
	for _, h := range hosts {
		fqdns[h.ID] = d.fqdn(h)
		if d.dns != nil {
			records = append(records, provider.Record{Name: fqdns[h.ID], Target: h.Address()})
		}
	}
	if d.dns != nil {
		if err := d.dns.Register(ctx, records); err != nil {
			return nil, err
		}
	}
	return fqdns, nil
}

func (d *Driver) UnregisterDNS(ctx context.Context, hosts []model.Host) error {
	if d.dns == nil {
		return nil
	}
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, d.fqdn(h))
	}
	return d.dns.Unregister(ctx, names)
}

func (d *Driver) CreateSecurityGroup(context.Context, *model.SecurityGroup) error {
	return provider.ErrNotSupported
}

func (d *Driver) DeleteSecurityGroup(context.Context, model.SecurityGroup) error {
	return provider.ErrNotSupported
}

func (d *Driver) GetSecurityGroups(context.Context, []string) ([]model.SecurityGroup, error) {
	return nil, provider.ErrNotSupported
}

// TagResources is a no-op: there is nothing to tag.
func (d *Driver) TagResources(context.Context, model.Stack, []model.Host, []model.Volume) error {
	return nil
}

// RegisterVolumesForDelete is not supported: saltify machines have no
// provider volumes.
func (d *Driver) RegisterVolumesForDelete(context.Context, []model.Host, []model.Volume) error {
	return provider.ErrNotSupported
}

func (d *Driver) VPCSubnets(context.Context) ([]string, error) {
	return nil, provider.ErrNotSupported
}

// HasImage accepts any image; machines are never created from one.
func (d *Driver) HasImage(context.Context, string) (bool, error) {
	return true, nil
}
