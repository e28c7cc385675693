package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stackdio/stackd/internal/activity"
	"github.com/stackdio/stackd/internal/model"
)

// StackChainWorkflow runs the steps of a stack chain one after another and
// stops at the first failure. Failures a task did not record itself, such as
// timeouts, are recorded on the stack before the workflow fails.
func StackChainWorkflow(ctx workflow.Context, req model.ChainRequest) error {
	logger := workflow.GetLogger(ctx)

	steps, err := PlanFor(req)
	if err != nil {
		markStackError(ctx, req.StackID, "workflow", err)
		return temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_CHAIN", err)
	}

	for _, step := range steps {
		err := workflow.ExecuteActivity(stepCtx(ctx, step.Timeout), step.Activity, step.Params).Get(ctx, nil)
		if err == nil {
			continue
		}
		logger.Error("stack chain step failed", "stack", req.StackID, "intent", req.Intent, "activity", step.Activity, "error", err)
		if !isTaskFailure(err) {
			markStackError(ctx, req.StackID, step.Activity, err)
		}
		return err
	}
	logger.Info("stack chain finished", "stack", req.StackID, "intent", req.Intent, "steps", len(steps))
	return nil
}

func markStackError(ctx workflow.Context, stackID int64, event string, cause error) {
	mctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	err := workflow.ExecuteActivity(mctx, "MarkStackError", activity.MarkStackErrorParams{
		StackID: stackID,
		Event:   event,
		Detail:  cause.Error(),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to mark stack error", "stack", stackID, "error", err)
	}
}
