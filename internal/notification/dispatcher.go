package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stackdio/stackd/internal/model"
)

// Store is the persistence the notification subsystem needs.
type Store interface {
	ChannelsForEvent(ctx context.Context, event, contentType string, objectID int64) ([]model.NotificationChannel, error)
	CreateNotifications(ctx context.Context, ns []model.Notification) error
	GetNotification(ctx context.Context, id int64) (*model.Notification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64) error
	ListUnsentNotifications(ctx context.Context, maxFailed int) ([]model.Notification, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GroupMembers(ctx context.Context, groupID int64) ([]model.User, error)
}

// Submitter queues delivery work.
type Submitter interface {
	SubmitNotification(ctx context.Context, id int64) error
	SubmitBulk(ctx context.Context, notifier string, ids []int64) error
}

// Dispatcher creates notifications for events and queues their delivery.
type Dispatcher struct {
	store     Store
	registry  *Registry
	submitter Submitter
	logger    zerolog.Logger
}

func NewDispatcher(store Store, registry *Registry, submitter Submitter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		registry:  registry,
		submitter: submitter,
		logger:    logger.With().Str("component", "notification-dispatcher").Logger(),
	}
}

// Trigger fans event out to every subscribed channel's handlers and queues
// the resulting notifications.
func (d *Dispatcher) Trigger(ctx context.Context, event, contentType string, objectID int64) ([]model.Notification, error) {
	channels, err := d.store.ChannelsForEvent(ctx, event, contentType, objectID)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", event, err)
	}

	var ns []model.Notification
	for _, c := range channels {
		if !c.Subscribed(event, contentType, objectID) {
			continue
		}
		for _, h := range c.Handlers {
			notifier, err := d.registry.Notifier(h.Notifier)
			if err != nil {
				d.logger.Warn().Err(err).Int64("channel", c.ID).Int64("handler", h.ID).Msg("skipping handler")
				continue
			}
			owners, err := d.owners(ctx, c.AuthObject, notifier.Capabilities().SplitGroupNotifications)
			if err != nil {
				return nil, fmt.Errorf("trigger %s: %w", event, err)
			}
			for _, owner := range owners {
				ns = append(ns, model.Notification{
					Event:       event,
					ContentType: contentType,
					ObjectID:    objectID,
					HandlerID:   h.ID,
					Notifier:    h.Notifier,
					Options:     h.Options,
					AuthObject:  owner,
				})
			}
		}
	}
	if len(ns) == 0 {
		return nil, nil
	}
	if err := d.store.CreateNotifications(ctx, ns); err != nil {
		return nil, fmt.Errorf("trigger %s: %w", event, err)
	}
	d.logger.Info().Str("event", event).Int64("object", objectID).Int("notifications", len(ns)).Msg("notifications created")
	return ns, d.Dispatch(ctx, ns)
}

// owners expands a group into its members when split is set.
func (d *Dispatcher) owners(ctx context.Context, auth model.AuthObject, split bool) ([]model.AuthObject, error) {
	if auth.Type != model.AuthObjectGroup || !split {
		return []model.AuthObject{auth}, nil
	}
	members, err := d.store.GroupMembers(ctx, auth.ID)
	if err != nil {
		return nil, err
	}
	owners := make([]model.AuthObject, 0, len(members))
	for _, u := range members {
		owners = append(owners, model.AuthObject{Type: model.AuthObjectUser, ID: u.ID})
	}
	return owners, nil
}

// Dispatch queues delivery. Bulk notifiers get one submission each, in the
// order they first appear; everything else is submitted per notification.
// A failed submission does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, ns []model.Notification) error {
	var (
		errs  []error
		order []string
		bulk  = make(map[string][]int64)
	)
	for _, n := range ns {
		notifier, err := d.registry.Notifier(n.Notifier)
		if err != nil {
			d.logger.Warn().Err(err).Int64("notification", n.ID).Msg("cannot dispatch notification")
			continue
		}
		if notifier.Capabilities().PreferSendInBulk {
			if _, ok := bulk[n.Notifier]; !ok {
				order = append(order, n.Notifier)
			}
			bulk[n.Notifier] = append(bulk[n.Notifier], n.ID)
			continue
		}
		if err := d.submitter.SubmitNotification(ctx, n.ID); err != nil {
			d.logger.Error().Err(err).Int64("notification", n.ID).Msg("submit notification failed")
			errs = append(errs, err)
		}
	}
	for _, name := range order {
		if err := d.submitter.SubmitBulk(ctx, name, bulk[name]); err != nil {
			d.logger.Error().Err(err).Str("notifier", name).Msg("submit bulk notifications failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResendFailed re-dispatches unsent notifications that failed at most
// maxRetries times and returns how many were queued.
func (d *Dispatcher) ResendFailed(ctx context.Context, maxRetries int) (int, error) {
	ns, err := d.store.ListUnsentNotifications(ctx, maxRetries)
	if err != nil {
		return 0, err
	}
	if len(ns) == 0 {
		return 0, nil
	}
	d.logger.Info().Int("notifications", len(ns)).Msg("resending failed notifications")
	return len(ns), d.Dispatch(ctx, ns)
}
