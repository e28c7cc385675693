package model

// Stack status constants. Tasks are the only writers of a stack's status.
const (
	StatusPending         = "pending"
	StatusLaunching       = "launching"
	StatusConfiguring     = "configuring"
	StatusSyncing         = "syncing"
	StatusProvisioning    = "provisioning"
	StatusOrchestrating   = "orchestrating"
	StatusExecutingAction = "executing_action"
	StatusStarting        = "starting"
	StatusStopping        = "stopping"
	StatusFinalizing      = "finalizing"
	StatusFinished        = "finished"
	StatusTerminating     = "terminating"
	StatusDestroying      = "destroying"
	StatusError           = "error"
)

// Host status constants. Hosts reuse the stack statuses above plus these.
const (
	HostStatusOK = "ok"
)

// SafeStates are the stack statuses from which a new action may be started.
var SafeStates = []string{StatusFinished, StatusError}

// IsSafeState reports whether a stack in the given status accepts a new action.
func IsSafeState(status string) bool {
	for _, s := range SafeStates {
		if s == status {
			return true
		}
	}
	return false
}

// History levels.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Provider host states, as reported by the provisioning driver.
const (
	StatePending      = "pending"
	StateRunning      = "running"
	StateStopping     = "stopping"
	StateStopped      = "stopped"
	StateShuttingDown = "shutting-down"
	StateTerminated   = "terminated"
	StateUnknown      = "unknown"
)

// NormalizeState maps a provider-reported state onto the known set.
func NormalizeState(s string) string {
	switch s {
	case StatePending, StateRunning, StateStopping, StateStopped, StateShuttingDown, StateTerminated:
		return s
	case "shutting_down":
		return StateShuttingDown
	case "":
		return StateUnknown
	default:
		return StateUnknown
	}
}

// Stack actions.
const (
	ActionLaunch       = "launch"
	ActionTerminate    = "terminate"
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionProvision    = "provision"
	ActionOrchestrate  = "orchestrate"
	ActionSingleSLS    = "single-sls"
	ActionPropagateSSH = "propagate-ssh"
)

// AllActions lists every action a stack may be asked to run.
var AllActions = []string{
	ActionLaunch, ActionTerminate, ActionStart, ActionStop,
	ActionProvision, ActionOrchestrate, ActionSingleSLS, ActionPropagateSSH,
}
