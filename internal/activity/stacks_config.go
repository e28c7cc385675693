package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/salt"
	"github.com/stackdio/stackd/internal/stack"
)

// UsersSLS is the state that writes the stack users' SSH keys.
const UsersSLS = "core.stackdio_users"

// eachDriver runs fn once per cloud account of hosts, concurrently.
func (a *Stacks) eachDriver(ctx context.Context, hosts []model.Host, fn func(ctx context.Context, g provider.Group) error) error {
	groups, err := a.providers.GroupHosts(ctx, a.store, hosts)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error { return fn(gctx, group) })
	}
	return g.Wait()
}

// TagInfrastructure tags the stack's instances and volumes at the provider.
func (a *Stacks) TagInfrastructure(ctx context.Context, params HostsParams) error {
	const event = "tag_infrastructure"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusConfiguring, "Tagging infrastructure"); err != nil {
		return err
	}
	volumes, err := a.store.ListVolumes(ctx, st.ID)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	err = a.eachDriver(ctx, hosts, func(ctx context.Context, g provider.Group) error {
		owned := make(map[int64]bool, len(g.Hosts))
		for _, h := range g.Hosts {
			owned[h.ID] = true
		}
		var vs []model.Volume
		for _, v := range volumes {
			if v.HostID != nil && owned[*v.HostID] {
				vs = append(vs, v)
			}
		}
		err := g.Driver.TagResources(ctx, *st, g.Hosts, vs)
		if errors.Is(err, provider.ErrNotSupported) {
			return nil
		}
		return err
	})
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return nil
}

// RegisterDNS registers the hosts with their provider's DNS and stores the
// resulting FQDNs.
func (a *Stacks) RegisterDNS(ctx context.Context, params HostsParams) error {
	const event = "register_dns"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusConfiguring, "Registering hosts with DNS provider"); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		fqdns = make(map[int64]string)
	)
	err = a.eachDriver(ctx, hosts, func(ctx context.Context, g provider.Group) error {
		names, err := g.Driver.RegisterDNS(ctx, g.Hosts)
		if err != nil {
			return fmt.Errorf("%s: %w", g.Account.Title, err)
		}
		mu.Lock()
		defer mu.Unlock()
		for id, fqdn := range names {
			fqdns[id] = fqdn
		}
		return nil
	})
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	for _, h := range hosts {
		fqdn, ok := fqdns[h.ID]
		if !ok || fqdn == h.FQDN {
			continue
		}
		h.FQDN = fqdn
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterDNS removes the hosts' DNS records and clears their FQDNs.
func (a *Stacks) UnregisterDNS(ctx context.Context, params HostsParams) error {
	const event = "unregister_dns"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.note(ctx, st, event, "Unregistering hosts with DNS provider"); err != nil {
		return err
	}
	err = a.eachDriver(ctx, hosts, func(ctx context.Context, g provider.Group) error {
		if err := g.Driver.UnregisterDNS(ctx, g.Hosts); err != nil {
			return fmt.Errorf("%s: %w", g.Account.Title, err)
		}
		return nil
	})
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	for _, h := range hosts {
		if h.FQDN == "" {
			continue
		}
		h.FQDN = ""
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Ping waits for every host's minion to answer.
func (a *Stacks) Ping(ctx context.Context, params HostsParams) error {
	const event = "ping"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusConfiguring, "Pinging all hosts"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}

	tgt := target(st, params.HostIDs, hosts)
	var lastErr error
	for attempt := 0; attempt <= params.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.wait(ctx); err != nil {
				return err
			}
		}
		heartbeat(ctx, fmt.Sprintf("ping attempt %d", attempt+1))
		alive, err := a.salt.Ping(ctx, env, tgt)
		if err != nil {
			lastErr = err
			continue
		}
		var missing []string
		for _, h := range hosts {
			if !alive[h.Hostname] {
				missing = append(missing, h.Hostname)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		lastErr = fmt.Errorf("hosts did not respond: %s", strings.Join(missing, ", "))
	}
	return a.fail(ctx, st.ID, event, lastErr)
}

// runState retries a state run until every minion succeeds. Each of expect
// must return; a silent one counts as failed. On success it returns the last
// report.
func (a *Stacks) runState(ctx context.Context, retries int, name string, expect []string, run func() (*salt.StateReport, error)) (*salt.StateReport, error) {
	var (
		report  *salt.StateReport
		lastErr error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := a.wait(ctx); err != nil {
				return report, err
			}
		}
		heartbeat(ctx, fmt.Sprintf("%s attempt %d", name, attempt+1))
		r, err := run()
		if err != nil {
			lastErr = err
			continue
		}
		r.ExpectMinions(expect)
		report = r
		if r.OK() {
			return r, nil
		}
		lastErr = fmt.Errorf("%s failed: %s", name, r.Summary())
	}
	return report, lastErr
}

// SyncAll syncs custom salt modules to the hosts.
func (a *Stacks) SyncAll(ctx context.Context, params HostsParams) error {
	const event = "sync_all"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusSyncing, "Synchronizing salt systems on all hosts"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	tgt := target(st, params.HostIDs, hosts)
	if _, err := a.runState(ctx, params.MaxRetries, event, hostnames(hosts), func() (*salt.StateReport, error) {
		return a.salt.SyncAll(ctx, env, tgt)
	}); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return nil
}

// Highstate applies the stack's top file and records the per-host result.
func (a *Stacks) Highstate(ctx context.Context, params HostsParams) error {
	const event = "highstate"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusProvisioning, "Running core provisioning"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	tgt := target(st, params.HostIDs, hosts)
	report, runErr := a.runState(ctx, params.MaxRetries, event, hostnames(hosts), func() (*salt.StateReport, error) {
		return a.salt.Highstate(ctx, env, tgt)
	})
	if report != nil {
		if err := a.recordHostResults(ctx, hosts, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return a.fail(ctx, st.ID, event, runErr)
	}
	return nil
}

func (a *Stacks) recordHostResults(ctx context.Context, hosts []model.Host, report *salt.StateReport) error {
	for _, h := range hosts {
		status, detail := model.HostStatusOK, ""
		if failures, ok := report.Failures[h.Hostname]; ok {
			status, detail = model.StatusError, strings.Join(failures, "; ")
		}
		if h.Status == status && h.StatusDetail == detail {
			continue
		}
		h.Status, h.StatusDetail = status, detail
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Orchestrate runs the stack's orchestrate file on the master.
func (a *Stacks) Orchestrate(ctx context.Context, params HostsParams) error {
	const event = "orchestrate"
	st, err := a.store.GetStack(ctx, params.StackID)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusOrchestrating, "Executing orchestration"); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	if _, err := a.runState(ctx, params.MaxRetries, event, nil, func() (*salt.StateReport, error) {
		return a.salt.Orchestrate(ctx, env, stack.OrchestrateSLS)
	}); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return nil
}

// SingleSLS applies one component to the stack's hosts, optionally narrowed
// by a compound target.
func (a *Stacks) SingleSLS(ctx context.Context, params SingleSLSParams) error {
	const event = "single_sls"
	st, err := a.store.GetStack(ctx, params.StackID)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if params.Component == "" {
		return a.fail(ctx, st.ID, event, fmt.Errorf("component is required: %w", model.ErrInvalidInput))
	}
	if err := a.setStatus(ctx, st.ID, event, model.StatusProvisioning, "Running "+params.Component); err != nil {
		return err
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	tgt := stack.StackTarget(st.ID)
	if params.HostTarget != "" {
		tgt = fmt.Sprintf("%s and ( %s )", tgt, params.HostTarget)
	}
	// The compound target may narrow the hosts, so only failures reported
	// by salt count.
	if _, err := a.runState(ctx, params.MaxRetries, event, nil, func() (*salt.StateReport, error) {
		return a.salt.StateSLS(ctx, env, tgt, params.Component)
	}); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return nil
}

// PropagateSSH re-renders the pillar with the current users' keys and
// applies the users state.
func (a *Stacks) PropagateSSH(ctx context.Context, params HostsParams) error {
	const event = "propagate_ssh"
	if err := a.setStatus(ctx, params.StackID, event, model.StatusProvisioning, "Propagating SSH keys"); err != nil {
		return err
	}
	artifacts, err := a.builder.Build(ctx, params.StackID, stack.Faults{})
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.store.SaveStackArtifacts(ctx, params.StackID, artifacts); err != nil {
		return fmt.Errorf("save stack %d artifacts: %w", params.StackID, err)
	}
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	tgt := target(st, params.HostIDs, hosts)
	if _, err := a.runState(ctx, params.MaxRetries, event, hostnames(hosts), func() (*salt.StateReport, error) {
		return a.salt.StateSLS(ctx, env, tgt, UsersSLS)
	}); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	return nil
}

var actionStatus = map[string]string{
	model.ActionStart: model.StatusStarting,
	model.ActionStop:  model.StatusStopping,
}

// ExecuteAction runs a provider action (start, stop) on the hosts. Every
// host must be in a state its driver accepts for the action.
func (a *Stacks) ExecuteAction(ctx context.Context, params ExecuteActionParams) error {
	const event = "execute_action"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	status, ok := actionStatus[params.Action]
	if !ok {
		return a.fail(ctx, st.ID, event, fmt.Errorf("action %q: %w", params.Action, model.ErrActionUnavailable))
	}
	if err := a.setStatus(ctx, st.ID, event, status, fmt.Sprintf("Executing %s on hosts", params.Action)); err != nil {
		return err
	}

	groups, err := a.providers.GroupHosts(ctx, a.store, hosts)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	for _, g := range groups {
		if !provider.Supports(g.Driver, params.Action) {
			return a.fail(ctx, st.ID, event, fmt.Errorf("%s does not support %s: %w", g.Account.Title, params.Action, model.ErrActionUnavailable))
		}
		for _, h := range g.Hosts {
			if !provider.ValidState(g.Driver, params.Action, h.State) {
				return a.fail(ctx, st.ID, event, fmt.Errorf("%s is %s: %w", h.Hostname, h.State, model.ErrInvalidHostState))
			}
		}
	}

	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	if err := a.salt.Action(ctx, env, params.Action, hostnames(hosts)); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	for _, h := range hosts {
		h.Status, h.StatusDetail = status, ""
		if err := a.store.UpdateHost(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
