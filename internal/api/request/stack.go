package request

import "github.com/stackdio/stackd/internal/model"

type CreateStack struct {
	OwnerID     int64                  `json:"owner_id" validate:"required,min=1"`
	BlueprintID int64                  `json:"blueprint_id" validate:"required,min=1"`
	Title       string                 `json:"title" validate:"required,max=255"`
	Description string                 `json:"description" validate:"max=4096"`
	Namespace   string                 `json:"namespace" validate:"required,namespace"`
	Options     *model.WorkflowOptions `json:"options"`
}

type StackAction struct {
	Action string           `json:"action" validate:"required"`
	Args   model.ActionArgs `json:"args"`
}

type AddHosts struct {
	HostDefinitionID int64 `json:"host_definition_id" validate:"required,min=1"`
	Count            int   `json:"count" validate:"required,min=1,max=100"`
}

type RemoveHosts struct {
	HostIDs []int64 `json:"host_ids" validate:"required,min=1,dive,min=1"`
}
