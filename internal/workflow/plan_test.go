package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/activity"
	"github.com/stackdio/stackd/internal/model"
)

func TestLaunchPlan_OrchestrateFollowsProvision(t *testing.T) {
	req := model.ChainRequest{StackID: 3, Intent: model.IntentLaunch, Options: model.DefaultWorkflowOptions()}

	steps := LaunchPlan(req)
	assert.Equal(t, []string{
		"LaunchHosts", "CureZombies", "UpdateMetadata", "TagInfrastructure", "RegisterDNS",
		"Ping", "SyncAll", "Highstate", "Orchestrate", "FinishStack",
	}, activityNames(steps))

	req.Options.Provision = false
	assert.NotContains(t, activityNames(LaunchPlan(req)), "Orchestrate")
}

func TestLaunchPlan_ScopesHostSteps(t *testing.T) {
	req := model.ChainRequest{StackID: 3, Intent: model.IntentLaunch, HostIDs: []int64{8, 9}, Options: model.DefaultWorkflowOptions()}

	steps := LaunchPlan(req)

	zombies := steps[1].Params.(activity.CureZombiesParams)
	assert.Equal(t, []int64{8, 9}, zombies.HostIDs)
	meta := steps[2].Params.(activity.UpdateMetadataParams)
	assert.True(t, meta.RemoveAbsent)
	assert.Equal(t, []int64{8, 9}, meta.HostIDs)
	ping := steps[5].Params.(activity.HostsParams)
	assert.Equal(t, 2, ping.MaxRetries)
	assert.Equal(t, []int64{8, 9}, ping.HostIDs)
}

func TestDestroyStackPlan_IgnoresHostIDs(t *testing.T) {
	req := model.ChainRequest{StackID: 4, Intent: model.IntentDestroyStack, HostIDs: []int64{1}}

	steps, err := PlanFor(req)
	require.NoError(t, err)

	names := activityNames(steps)
	assert.Equal(t, "DestroyStack", names[len(names)-1])
	meta := steps[0].Params.(activity.UpdateMetadataParams)
	assert.False(t, meta.RemoveAbsent)
	assert.Nil(t, meta.HostIDs)
	destroy := steps[3].Params.(activity.DestroyHostsParams)
	assert.Nil(t, destroy.HostIDs)
	assert.True(t, destroy.DeleteSecurityGroups)
}

func TestDestroyStepOnlyInDestroyStackPlan(t *testing.T) {
	reqs := []model.ChainRequest{
		{Intent: model.IntentLaunch, Options: model.DefaultWorkflowOptions()},
		{Intent: model.IntentDestroyHosts, HostIDs: []int64{1}},
	}
	for _, action := range []string{
		model.ActionLaunch, model.ActionTerminate, model.ActionStart, model.ActionStop,
		model.ActionProvision, model.ActionOrchestrate, model.ActionSingleSLS, model.ActionPropagateSSH,
	} {
		reqs = append(reqs, model.ChainRequest{Intent: model.IntentAction, Action: action, Args: model.ActionArgs{Component: "nginx"}})
	}

	for _, req := range reqs {
		steps, err := PlanFor(req)
		require.NoError(t, err, req.Intent+" "+req.Action)
		assert.NotContains(t, activityNames(steps), "DestroyStack", req.Intent+" "+req.Action)
		assert.Equal(t, "FinishStack", steps[len(steps)-1].Activity, req.Intent+" "+req.Action)
	}
}

func TestDestroyHostsPlan_KeepsSecurityGroups(t *testing.T) {
	req := model.ChainRequest{StackID: 4, Intent: model.IntentDestroyHosts, HostIDs: []int64{5}, Options: model.WorkflowOptions{Parallel: true}}

	steps, err := PlanFor(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"UpdateMetadata", "RegisterVolumeDelete", "UnregisterDNS", "DestroyHosts", "FinishStack"}, activityNames(steps))
	destroy := steps[3].Params.(activity.DestroyHostsParams)
	assert.False(t, destroy.DeleteSecurityGroups)
	assert.True(t, destroy.Parallel)
	assert.Equal(t, []int64{5}, destroy.HostIDs)
}

func TestActionPlan(t *testing.T) {
	tests := []struct {
		action string
		want   []string
	}{
		{model.ActionTerminate, []string{"UpdateMetadata", "RegisterVolumeDelete", "UnregisterDNS", "DestroyHosts", "FinishStack"}},
		{model.ActionStop, []string{"UnregisterDNS", "ExecuteAction", "UpdateMetadata", "FinishStack"}},
		{model.ActionStart, []string{"ExecuteAction", "UpdateMetadata", "TagInfrastructure", "RegisterDNS", "Ping", "SyncAll", "Highstate", "FinishStack"}},
		{model.ActionProvision, []string{"Ping", "SyncAll", "Highstate", "Orchestrate", "FinishStack"}},
		{model.ActionOrchestrate, []string{"Ping", "SyncAll", "Orchestrate", "FinishStack"}},
		{model.ActionSingleSLS, []string{"Ping", "SyncAll", "SingleSLS", "FinishStack"}},
		{model.ActionPropagateSSH, []string{"PropagateSSH", "FinishStack"}},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			steps, err := ActionPlan(model.ChainRequest{StackID: 1, Intent: model.IntentAction, Action: tt.action})
			require.NoError(t, err)
			assert.Equal(t, tt.want, activityNames(steps))
		})
	}
}

func TestActionPlan_SingleSLSArgs(t *testing.T) {
	steps, err := ActionPlan(model.ChainRequest{
		StackID: 1,
		Intent:  model.IntentAction,
		Action:  model.ActionSingleSLS,
		Args:    model.ActionArgs{Component: "nginx", HostTarget: "G@role:web"},
		Options: model.WorkflowOptions{MaxRetries: 4},
	})
	require.NoError(t, err)

	params := steps[2].Params.(activity.SingleSLSParams)
	assert.Equal(t, "nginx", params.Component)
	assert.Equal(t, "G@role:web", params.HostTarget)
	assert.Equal(t, 4, params.MaxRetries)
}

func TestActionPlan_StopUsesExecuteAction(t *testing.T) {
	steps, err := ActionPlan(model.ChainRequest{StackID: 2, Intent: model.IntentAction, Action: model.ActionStop})
	require.NoError(t, err)
	assert.Equal(t, activity.ExecuteActionParams{StackID: 2, Action: model.ActionStop}, steps[1].Params)
}

func TestPlanFor_Invalid(t *testing.T) {
	_, err := PlanFor(model.ChainRequest{Intent: "rebuild"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = PlanFor(model.ChainRequest{Intent: model.IntentAction, Action: "reboot"})
	assert.ErrorIs(t, err, model.ErrActionUnavailable)

	_, err = PlanFor(model.ChainRequest{Intent: model.IntentDestroyHosts})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
