package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackdio/stackd/internal/model"
)

// ChannelsForEvent returns the channels subscribed to event about the given
// content object, with their handlers.
func (s *Store) ChannelsForEvent(ctx context.Context, event, contentType string, objectID int64) ([]model.NotificationChannel, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.name, c.auth_type, c.auth_id
		 FROM notification_channels c
		 JOIN channel_events e ON e.channel_id = c.id AND e.event = $1
		 WHERE NOT EXISTS (SELECT 1 FROM channel_objects o WHERE o.channel_id = c.id AND o.content_type = $2)
		    OR EXISTS (SELECT 1 FROM channel_objects o
		               WHERE o.channel_id = c.id AND o.content_type = $2 AND o.object_id = $3)
		 ORDER BY c.id`, event, contentType, objectID)
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", event, err)
	}
	defer rows.Close()

	var channels []model.NotificationChannel
	index := make(map[int64]int)
	for rows.Next() {
		var c model.NotificationChannel
		if err := rows.Scan(&c.ID, &c.Name, &c.AuthObject.Type, &c.AuthObject.ID); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.Events = []string{event}
		index[c.ID] = len(channels)
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	if len(channels) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(channels))
	for i, c := range channels {
		ids[i] = c.ID
	}
	hRows, err := s.db.Query(ctx,
		`SELECT id, channel_id, notifier, options FROM notification_handlers WHERE channel_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list handlers: %w", err)
	}
	defer hRows.Close()
	for hRows.Next() {
		var h model.NotificationHandler
		if err := hRows.Scan(&h.ID, &h.ChannelID, &h.Notifier, &h.Options); err != nil {
			return nil, fmt.Errorf("scan handler: %w", err)
		}
		c := &channels[index[h.ChannelID]]
		c.Handlers = append(c.Handlers, h)
	}
	if err := hRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handlers: %w", err)
	}
	return channels, nil
}

// CreateNotifications inserts the notifications in one transaction and fills
// in their IDs.
func (s *Store) CreateNotifications(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	err := s.tx(ctx, func(tx pgx.Tx) error {
		for i := range ns {
			n := &ns[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO notifications (event, content_type, object_id, handler_id, auth_type, auth_id)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
				n.Event, n.ContentType, n.ObjectID, n.HandlerID, n.AuthObject.Type, n.AuthObject.ID,
			).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

const notificationColumns = `n.id, n.event, n.content_type, n.object_id, n.handler_id, h.notifier, h.options,
	n.auth_type, n.auth_id, n.sent, n.failed_count, n.created_at, n.updated_at`

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.Event, &n.ContentType, &n.ObjectID, &n.HandlerID, &n.Notifier, &n.Options,
		&n.AuthObject.Type, &n.AuthObject.ID, &n.Sent, &n.FailedCount, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// GetNotification retrieves a notification with its handler's notifier.
func (s *Store) GetNotification(ctx context.Context, id int64) (*model.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications n JOIN notification_handlers h ON h.id = n.handler_id
		 WHERE n.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "notification", id)
	}
	return &n, nil
}

// MarkNotificationSent records a confirmed delivery.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `UPDATE notifications SET sent = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification %d sent: %w", id, err)
	}
	return nil
}

// MarkNotificationFailed records a failed delivery attempt.
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE notifications SET sent = false, failed_count = failed_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification %d failed: %w", id, err)
	}
	return nil
}

// ListUnsentNotifications returns unsent notifications that have failed at
// most maxFailed times.
func (s *Store) ListUnsentNotifications(ctx context.Context, maxFailed int) ([]model.Notification, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications n JOIN notification_handlers h ON h.id = n.handler_id
		 WHERE NOT n.sent AND n.failed_count <= $1
		 ORDER BY n.id`, maxFailed)
	if err != nil {
		return nil, fmt.Errorf("list unsent notifications: %w", err)
	}
	defer rows.Close()

	var ns []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		ns = append(ns, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return ns, nil
}
