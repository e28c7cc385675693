package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/stackdio/stackd/internal/activity"
)

// SendNotificationWorkflow delivers one notification.
func SendNotificationWorkflow(ctx workflow.Context, id int64) error {
	ctx = singleAttemptCtx(ctx, 2*time.Minute)
	return workflow.ExecuteActivity(ctx, "SendNotification", id).Get(ctx, nil)
}

// SendBulkNotificationsWorkflow delivers several notifications of one
// notifier in a single call.
func SendBulkNotificationsWorkflow(ctx workflow.Context, notifier string, ids []int64) error {
	ctx = singleAttemptCtx(ctx, 5*time.Minute)
	return workflow.ExecuteActivity(ctx, "SendBulkNotifications", activity.SendBulkNotificationsParams{
		Notifier: notifier,
		IDs:      ids,
	}).Get(ctx, nil)
}

// ResendFailedNotificationsWorkflow is run on a schedule and re-dispatches
// notifications whose earlier deliveries failed.
func ResendFailedNotificationsWorkflow(ctx workflow.Context) error {
	ctx = singleAttemptCtx(ctx, 5*time.Minute)

	var queued int
	if err := workflow.ExecuteActivity(ctx, "ResendFailedNotifications").Get(ctx, &queued); err != nil {
		return err
	}
	if queued > 0 {
		workflow.GetLogger(ctx).Info("failed notifications resent", "count", queued)
	}
	return nil
}
