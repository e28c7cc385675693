package activity

import "github.com/stackdio/stackd/internal/model"

// StackParams identifies the stack a task runs against.
type StackParams struct {
	StackID int64 `json:"stack_id"`
}

// HostsParams scopes a task to some hosts of a stack. Nil HostIDs means
// every host.
type HostsParams struct {
	StackID    int64   `json:"stack_id"`
	HostIDs    []int64 `json:"host_ids,omitempty"`
	MaxRetries int     `json:"max_retries"`
}

// LaunchHostsParams holds parameters for the LaunchHosts activity.
type LaunchHostsParams struct {
	StackID int64                 `json:"stack_id"`
	Options model.WorkflowOptions `json:"options"`
}

// CureZombiesParams holds parameters for the CureZombies activity.
type CureZombiesParams struct {
	StackID int64                 `json:"stack_id"`
	HostIDs []int64               `json:"host_ids,omitempty"`
	Options model.WorkflowOptions `json:"options"`
}

// UpdateMetadataParams holds parameters for the UpdateMetadata activity.
// RemoveAbsent deletes host rows the provider no longer reports.
type UpdateMetadataParams struct {
	StackID      int64   `json:"stack_id"`
	HostIDs      []int64 `json:"host_ids,omitempty"`
	RemoveAbsent bool    `json:"remove_absent"`
}

// SingleSLSParams holds parameters for the SingleSLS activity. HostTarget is
// an optional compound matcher narrowing the stack's minions.
type SingleSLSParams struct {
	StackID    int64  `json:"stack_id"`
	Component  string `json:"component"`
	HostTarget string `json:"host_target,omitempty"`
	MaxRetries int    `json:"max_retries"`
}

// ExecuteActionParams holds parameters for the ExecuteAction activity.
type ExecuteActionParams struct {
	StackID int64   `json:"stack_id"`
	Action  string  `json:"action"`
	HostIDs []int64 `json:"host_ids,omitempty"`
}

// DestroyHostsParams holds parameters for the DestroyHosts activity.
type DestroyHostsParams struct {
	StackID              int64   `json:"stack_id"`
	HostIDs              []int64 `json:"host_ids,omitempty"`
	DeleteSecurityGroups bool    `json:"delete_security_groups"`
	Parallel             bool    `json:"parallel"`
}

// MarkStackErrorParams holds parameters for the MarkStackError activity.
type MarkStackErrorParams struct {
	StackID int64  `json:"stack_id"`
	Event   string `json:"event"`
	Detail  string `json:"detail"`
}

// SendBulkNotificationsParams holds parameters for the SendBulkNotifications
// activity.
type SendBulkNotificationsParams struct {
	Notifier string  `json:"notifier"`
	IDs      []int64 `json:"ids"`
}
