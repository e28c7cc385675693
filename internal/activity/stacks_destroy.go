package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
)

// RegisterVolumeDelete asks each provider to delete the hosts' volumes with
// their instances and records the flag so later map renders carry it too.
func (a *Stacks) RegisterVolumeDelete(ctx context.Context, params HostsParams) error {
	const event = "register_volume_delete"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if err := a.note(ctx, st, event, "Registering volumes for deletion"); err != nil {
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
		if len(vs) == 0 {
			return nil
		}
		err := g.Driver.RegisterVolumesForDelete(ctx, g.Hosts, vs)
		if errors.Is(err, provider.ErrNotSupported) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: register volumes for deletion: %w", g.Account.Title, err)
		}
		return nil
	})
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}

	scoped := make(map[int64]bool, len(hosts))
	for _, h := range hosts {
		scoped[h.ID] = true
	}
	for _, v := range volumes {
		if v.DeleteOnTermination || v.HostID == nil || !scoped[*v.HostID] {
			continue
		}
		v.DeleteOnTermination = true
		if err := a.store.UpdateVolume(ctx, v); err != nil {
			return a.fail(ctx, st.ID, event, err)
		}
	}
	return nil
}

// DestroyHosts terminates the hosts and deletes their rows. With
// DeleteSecurityGroups the managed groups no other host uses are deleted
// too.
func (a *Stacks) DestroyHosts(ctx context.Context, params DestroyHostsParams) error {
	const event = "destroy_hosts"
	st, hosts, err := a.load(ctx, params.StackID, params.HostIDs)
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	status := model.StatusTerminating
	if st.Status == model.StatusDestroying {
		status = model.StatusDestroying
	}
	if err := a.setStatus(ctx, st.ID, event, status, "Destroying hosts"); err != nil {
		return err
	}
	if len(hosts) == 0 {
		return nil
	}

	var groups []model.SecurityGroup
	if params.DeleteSecurityGroups {
		// Must be computed while the host rows still exist.
		groups, err = a.store.SecurityGroupsForDeletion(ctx, hostIDs(hosts))
		if err != nil {
			return a.fail(ctx, st.ID, event, err)
		}
	}

	env, err := a.workspace.Materialize(*st)
	if err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	heartbeat(ctx, "destroying hosts")
	if err := a.salt.Destroy(ctx, env, hostnames(hosts), params.Parallel); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	if err := a.store.DeleteHosts(ctx, st.ID, hostIDs(hosts)); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}

	for _, sg := range groups {
		if err := a.deleteSecurityGroup(ctx, sg); err != nil {
			return a.fail(ctx, st.ID, event, err)
		}
	}
	a.logger.Info().Int64("stack", st.ID).Strs("hosts", hostnames(hosts)).Int("security_groups", len(groups)).Msg("hosts destroyed")
	return nil
}

func (a *Stacks) deleteSecurityGroup(ctx context.Context, sg model.SecurityGroup) error {
	acct, err := a.store.GetCloudAccount(ctx, sg.CloudAccountID)
	if err != nil {
		return err
	}
	d, err := a.providers.For(*acct)
	if err != nil {
		return err
	}
	if err := d.DeleteSecurityGroup(ctx, sg); err != nil && !errors.Is(err, provider.ErrNotSupported) {
		return fmt.Errorf("delete security group %s: %w", sg.Name, err)
	}
	return a.store.DeleteSecurityGroup(ctx, sg.ID)
}

// DestroyStack removes the stack's workspace and row. Every host must be
// gone already. A stack that no longer exists is already destroyed.
func (a *Stacks) DestroyStack(ctx context.Context, params StackParams) error {
	const event = "destroy_stack"
	st, hosts, err := a.load(ctx, params.StackID, nil)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return a.fail(ctx, params.StackID, event, err)
	}
	if len(hosts) > 0 {
		return a.fail(ctx, st.ID, event, fmt.Errorf("stack still has %d hosts: %v", len(hosts), hostnames(hosts)))
	}
	if err := a.note(ctx, st, event, "Deleting stack"); err != nil {
		return err
	}
	if err := a.workspace.Remove(*st); err != nil {
		return a.fail(ctx, st.ID, event, err)
	}
	a.trigger(ctx, model.EventStackDestroyed, st.ID)
	if err := a.store.DeleteStack(ctx, st.ID); err != nil {
		return fmt.Errorf("delete stack %d: %w", st.ID, err)
	}
	a.logger.Info().Int64("stack", st.ID).Msg("stack destroyed")
	return nil
}

// FinishStack marks the stack finished. It is the last step of every chain
// that leaves the stack in place.
func (a *Stacks) FinishStack(ctx context.Context, params StackParams) error {
	const event = "finish_stack"
	if err := a.setStatus(ctx, params.StackID, event, model.StatusFinished, "Finished executing tasks"); err != nil {
		return err
	}
	a.trigger(ctx, model.EventStackLaunchFinished, params.StackID)
	return nil
}

// MarkStackError records a chain failure that no task got to record, such
// as an activity timeout.
func (a *Stacks) MarkStackError(ctx context.Context, params MarkStackErrorParams) error {
	event := params.Event
	if event == "" {
		event = "workflow"
	}
	err := a.store.SetStackStatus(ctx, params.StackID, model.StatusUpdate{
		Event:  event,
		Status: model.StatusError,
		Detail: params.Detail,
		Level:  model.LevelError,
	})
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark stack %d error: %w", params.StackID, err)
	}
	a.trigger(ctx, model.EventStackError, params.StackID)
	return nil
}
