package model

// Chain intents.
const (
	IntentLaunch       = "launch"
	IntentDestroyHosts = "destroy-hosts"
	IntentDestroyStack = "destroy-stack"
	IntentAction       = "action"
)

// WorkflowOptions tune a chain. The Simulate* fields and FailurePercent only
// exist for exercising failure paths and do nothing at their zero values.
type WorkflowOptions struct {
	Parallel               bool `json:"parallel"`
	MaxRetries             int  `json:"max_retries"`
	ZombieMaxRetries       int  `json:"zombie_max_retries"`
	Provision              bool `json:"provision"`
	SimulateLaunchFailures bool `json:"simulate_launch_failures"`
	SimulateSSHFailures    bool `json:"simulate_ssh_failures"`
	SimulateZombies        bool `json:"simulate_zombies"`
	FailurePercent         int  `json:"failure_percent"`
}

// DefaultWorkflowOptions returns the options used when a caller sets none.
func DefaultWorkflowOptions() WorkflowOptions {
	return WorkflowOptions{
		Parallel:         true,
		MaxRetries:       2,
		ZombieMaxRetries: 3,
		Provision:        true,
	}
}

// ActionArgs carries per-action arguments.
type ActionArgs struct {
	Component  string `json:"component,omitempty"`
	HostTarget string `json:"host_target,omitempty"`
}

// ChainRequest is the argument of a stack chain workflow. The step plan is
// derived from it inside the workflow.
type ChainRequest struct {
	StackID int64           `json:"stack_id"`
	Intent  string          `json:"intent"`
	Action  string          `json:"action,omitempty"`
	Args    ActionArgs      `json:"args"`
	HostIDs []int64         `json:"host_ids,omitempty"`
	Options WorkflowOptions `json:"options"`
}
