package workflow

import (
	"fmt"
	"time"

	"github.com/stackdio/stackd/internal/activity"
	"github.com/stackdio/stackd/internal/model"
)

// Step is one activity of a stack chain.
type Step struct {
	Activity string
	Params   any
	Timeout  time.Duration
}

const (
	shortStep = 10 * time.Minute
	longStep  = time.Hour
)

// PlanFor returns the steps a chain request runs, in order.
func PlanFor(req model.ChainRequest) ([]Step, error) {
	switch req.Intent {
	case model.IntentLaunch:
		return LaunchPlan(req), nil
	case model.IntentDestroyHosts:
		if len(req.HostIDs) == 0 {
			return nil, fmt.Errorf("%w: destroy-hosts needs host ids", model.ErrInvalidInput)
		}
		return DestroyHostsPlan(req), nil
	case model.IntentDestroyStack:
		return DestroyStackPlan(req), nil
	case model.IntentAction:
		return ActionPlan(req)
	default:
		return nil, fmt.Errorf("%w: unknown chain intent %q", model.ErrInvalidInput, req.Intent)
	}
}

// LaunchPlan launches the request's hosts (every host when HostIDs is
// empty), brings them under configuration management and provisions them.
func LaunchPlan(req model.ChainRequest) []Step {
	id, hosts, opts := req.StackID, req.HostIDs, req.Options
	steps := []Step{
		{Activity: "LaunchHosts", Params: activity.LaunchHostsParams{StackID: id, Options: opts}, Timeout: longStep},
		{Activity: "CureZombies", Params: activity.CureZombiesParams{StackID: id, HostIDs: hosts, Options: opts}, Timeout: longStep},
		updateMetadata(id, hosts, true),
		hostsStep("TagInfrastructure", id, hosts, 0, shortStep),
		hostsStep("RegisterDNS", id, hosts, 0, shortStep),
		hostsStep("Ping", id, hosts, opts.MaxRetries, shortStep),
		hostsStep("SyncAll", id, hosts, opts.MaxRetries, shortStep),
		hostsStep("Highstate", id, hosts, opts.MaxRetries, longStep),
	}
	if opts.Provision {
		steps = append(steps, hostsStep("Orchestrate", id, nil, opts.MaxRetries, longStep))
	}
	return append(steps, finishStack(id))
}

// DestroyHostsPlan terminates the request's hosts and keeps the stack.
func DestroyHostsPlan(req model.ChainRequest) []Step {
	id, hosts := req.StackID, req.HostIDs
	return []Step{
		updateMetadata(id, hosts, true),
		hostsStep("RegisterVolumeDelete", id, hosts, 0, shortStep),
		hostsStep("UnregisterDNS", id, hosts, 0, shortStep),
		destroyHosts(id, hosts, false, req.Options.Parallel),
		finishStack(id),
	}
}

// DestroyStackPlan tears down every host of the stack and then the stack
// itself. Host ids on the request are ignored.
func DestroyStackPlan(req model.ChainRequest) []Step {
	id := req.StackID
	return []Step{
		updateMetadata(id, nil, false),
		hostsStep("RegisterVolumeDelete", id, nil, 0, shortStep),
		hostsStep("UnregisterDNS", id, nil, 0, shortStep),
		destroyHosts(id, nil, true, req.Options.Parallel),
		{Activity: "DestroyStack", Params: activity.StackParams{StackID: id}, Timeout: shortStep},
	}
}

// ActionPlan returns the steps of a named stack action.
func ActionPlan(req model.ChainRequest) ([]Step, error) {
	id, retries := req.StackID, req.Options.MaxRetries
	switch req.Action {
	case model.ActionLaunch:
		launch := req
		launch.HostIDs = nil
		return LaunchPlan(launch), nil
	case model.ActionTerminate:
		return []Step{
			updateMetadata(id, nil, true),
			hostsStep("RegisterVolumeDelete", id, nil, 0, shortStep),
			hostsStep("UnregisterDNS", id, nil, 0, shortStep),
			destroyHosts(id, nil, true, req.Options.Parallel),
			finishStack(id),
		}, nil
	case model.ActionStop:
		return []Step{
			hostsStep("UnregisterDNS", id, nil, 0, shortStep),
			executeAction(id, model.ActionStop),
			updateMetadata(id, nil, true),
			finishStack(id),
		}, nil
	case model.ActionStart:
		return []Step{
			executeAction(id, model.ActionStart),
			updateMetadata(id, nil, true),
			hostsStep("TagInfrastructure", id, nil, 0, shortStep),
			hostsStep("RegisterDNS", id, nil, 0, shortStep),
			hostsStep("Ping", id, nil, retries, shortStep),
			hostsStep("SyncAll", id, nil, retries, shortStep),
			hostsStep("Highstate", id, nil, retries, longStep),
			finishStack(id),
		}, nil
	case model.ActionProvision:
		return []Step{
			hostsStep("Ping", id, nil, retries, shortStep),
			hostsStep("SyncAll", id, nil, retries, shortStep),
			hostsStep("Highstate", id, nil, retries, longStep),
			hostsStep("Orchestrate", id, nil, retries, longStep),
			finishStack(id),
		}, nil
	case model.ActionOrchestrate:
		return []Step{
			hostsStep("Ping", id, nil, retries, shortStep),
			hostsStep("SyncAll", id, nil, retries, shortStep),
			hostsStep("Orchestrate", id, nil, retries, longStep),
			finishStack(id),
		}, nil
	case model.ActionSingleSLS:
		return []Step{
			hostsStep("Ping", id, nil, retries, shortStep),
			hostsStep("SyncAll", id, nil, retries, shortStep),
			{Activity: "SingleSLS", Params: activity.SingleSLSParams{
				StackID:    id,
				Component:  req.Args.Component,
				HostTarget: req.Args.HostTarget,
				MaxRetries: retries,
			}, Timeout: longStep},
			finishStack(id),
		}, nil
	case model.ActionPropagateSSH:
		return []Step{
			hostsStep("PropagateSSH", id, nil, 0, longStep),
			finishStack(id),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrActionUnavailable, req.Action)
	}
}

func hostsStep(name string, stackID int64, hostIDs []int64, retries int, timeout time.Duration) Step {
	return Step{
		Activity: name,
		Params:   activity.HostsParams{StackID: stackID, HostIDs: hostIDs, MaxRetries: retries},
		Timeout:  timeout,
	}
}

func updateMetadata(stackID int64, hostIDs []int64, removeAbsent bool) Step {
	return Step{
		Activity: "UpdateMetadata",
		Params:   activity.UpdateMetadataParams{StackID: stackID, HostIDs: hostIDs, RemoveAbsent: removeAbsent},
		Timeout:  shortStep,
	}
}

func destroyHosts(stackID int64, hostIDs []int64, deleteGroups, parallel bool) Step {
	return Step{
		Activity: "DestroyHosts",
		Params: activity.DestroyHostsParams{
			StackID:              stackID,
			HostIDs:              hostIDs,
			DeleteSecurityGroups: deleteGroups,
			Parallel:             parallel,
		},
		Timeout: longStep,
	}
}

func executeAction(stackID int64, action string) Step {
	return Step{
		Activity: "ExecuteAction",
		Params:   activity.ExecuteActionParams{StackID: stackID, Action: action},
		Timeout:  longStep,
	}
}

func finishStack(stackID int64) Step {
	return Step{Activity: "FinishStack", Params: activity.StackParams{StackID: stackID}, Timeout: shortStep}
}
