package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stackdio/stackd/internal/activity"
)

// stepCtx returns a workflow context for one chain step. Steps are retried a
// few times for infrastructure errors; task failures are non-retryable and
// stop immediately.
func stepCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    time.Minute,
			BackoffCoefficient: 2.0,
		},
	})
}

// singleAttemptCtx is used by notification workflows. Failed deliveries are
// picked up by the resend sweep instead of activity retries.
func singleAttemptCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

// isTaskFailure reports whether err was raised by a stack task that already
// recorded the failure on the stack.
func isTaskFailure(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == activity.ErrTypeStackTask
}
