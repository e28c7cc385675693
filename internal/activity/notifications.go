package activity

import (
	"context"

	"github.com/rs/zerolog"
)

// NotificationSender delivers queued notifications.
type NotificationSender interface {
	Send(ctx context.Context, id int64) error
	SendBulk(ctx context.Context, notifier string, ids []int64) error
}

// NotificationResender re-dispatches failed notifications.
type NotificationResender interface {
	ResendFailed(ctx context.Context, maxRetries int) (int, error)
}

// Notifications contains the notification delivery activities.
type Notifications struct {
	sender     NotificationSender
	resender   NotificationResender
	maxRetries int
	logger     zerolog.Logger
}

// NewNotifications creates a new Notifications activity struct. maxRetries
// caps the failed_count of notifications that are still resent.
func NewNotifications(sender NotificationSender, resender NotificationResender, maxRetries int, logger zerolog.Logger) *Notifications {
	return &Notifications{
		sender:     sender,
		resender:   resender,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "notification-activities").Logger(),
	}
}

// SendNotification delivers one notification. Failures are recorded on the
// notification and picked up by the resend sweep, so they do not fail the
// activity.
func (a *Notifications) SendNotification(ctx context.Context, id int64) error {
	if err := a.sender.Send(ctx, id); err != nil {
		a.logger.Warn().Err(err).Int64("notification", id).Msg("notification not delivered")
	}
	return nil
}

// SendBulkNotifications delivers the notifications of one notifier.
func (a *Notifications) SendBulkNotifications(ctx context.Context, params SendBulkNotificationsParams) error {
	if err := a.sender.SendBulk(ctx, params.Notifier, params.IDs); err != nil {
		a.logger.Warn().Err(err).Str("notifier", params.Notifier).Int("count", len(params.IDs)).Msg("bulk notifications not delivered")
	}
	return nil
}

// ResendFailedNotifications re-dispatches unsent notifications under the
// retry cap and returns how many were queued.
func (a *Notifications) ResendFailedNotifications(ctx context.Context) (int, error) {
	return a.resender.ResendFailed(ctx, a.maxRetries)
}
