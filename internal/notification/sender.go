package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/stackdio/stackd/internal/metrics"
	"github.com/stackdio/stackd/internal/model"
)

var tracer = otel.Tracer("stackd.notification")

// Sender delivers queued notifications and records the outcome.
type Sender struct {
	store    Store
	registry *Registry
	logger   zerolog.Logger

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSender creates a Sender. perSecond limits deliveries per notifier;
// zero or less disables the limit.
func NewSender(store Store, registry *Registry, perSecond float64, logger zerolog.Logger) *Sender {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &Sender{
		store:    store,
		registry: registry,
		logger:   logger.With().Str("component", "notification-sender").Logger(),
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *Sender) limiter(name string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[name]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[name] = l
	}
	return l
}

// delivery loads what a notifier needs to render n.
func (s *Sender) delivery(ctx context.Context, n model.Notification) (Delivery, error) {
	obj, err := s.registry.Serialize(ctx, n.ContentType, n.ObjectID)
	if err != nil {
		return Delivery{}, err
	}
	var recipients []model.User
	switch n.AuthObject.Type {
	case model.AuthObjectUser:
		u, err := s.store.GetUser(ctx, n.AuthObject.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return Delivery{}, err
		}
		if u != nil {
			recipients = []model.User{*u}
		}
	case model.AuthObjectGroup:
		recipients, err = s.store.GroupMembers(ctx, n.AuthObject.ID)
		if err != nil {
			return Delivery{}, err
		}
	}
	return Delivery{Notification: n, Object: obj, Recipients: recipients}, nil
}

// Send delivers one notification. A notifier reporting false marks the
// notification failed without returning an error; a notifier error marks it
// failed and is returned.
func (s *Sender) Send(ctx context.Context, id int64) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if n.Sent {
		return nil
	}
	log := s.logger.With().Int64("notification", id).Str("notifier", n.Notifier).Str("event", n.Event).Logger()

	ctx, span := tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.Int64("notification.id", id),
		attribute.String("notification.notifier", n.Notifier),
	))
	defer span.End()

	sent, sendErr := s.send(ctx, *n)
	if sent {
		metrics.NotificationsTotal.WithLabelValues(n.Notifier, "sent").Inc()
		span.SetStatus(codes.Ok, "")
		return s.store.MarkNotificationSent(ctx, id)
	}

	if err := s.store.MarkNotificationFailed(ctx, id); err != nil {
		log.Error().Err(err).Msg("failed to record notification failure")
	}
	if sendErr != nil {
		metrics.NotificationsTotal.WithLabelValues(n.Notifier, "error").Inc()
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
		log.Error().Err(sendErr).Msg("notification delivery failed")
		return sendErr
	}
	metrics.NotificationsTotal.WithLabelValues(n.Notifier, "failed").Inc()
	span.SetStatus(codes.Error, "not delivered")
	log.Warn().Msg("notifier did not deliver notification")
	return nil
}

func (s *Sender) send(ctx context.Context, n model.Notification) (bool, error) {
	notifier, err := s.registry.Notifier(n.Notifier)
	if err != nil {
		return false, err
	}
	d, err := s.delivery(ctx, n)
	if err != nil {
		return false, err
	}
	if err := s.limiter(n.Notifier).Wait(ctx); err != nil {
		return false, err
	}
	return notifier.SendNotification(ctx, d)
}

// SendBulk delivers the notifications of one notifier in a single call.
// Returned ids are marked sent, the rest failed. Ids the notifier reports as
// delivered count as sent even when the call also returns an error.
func (s *Sender) SendBulk(ctx context.Context, name string, ids []int64) error {
	ctx, span := tracer.Start(ctx, "notification.send_bulk", trace.WithAttributes(
		attribute.String("notification.notifier", name),
		attribute.Int("notification.count", len(ids)),
	))
	defer span.End()

	log := s.logger.With().Str("notifier", name).Logger()

	notifier, err := s.registry.Notifier(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var (
		pending    []Delivery
		pendingIDs []int64
	)
	for _, id := range ids {
		n, err := s.store.GetNotification(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			log.Warn().Int64("notification", id).Msg("notification vanished before delivery")
			continue
		}
		if err != nil {
			return err
		}
		if n.Sent {
			continue
		}
		d, err := s.delivery(ctx, *n)
		if err != nil {
			log.Error().Err(err).Int64("notification", id).Msg("cannot prepare notification")
			s.markFailed(ctx, log, name, id)
			continue
		}
		pending = append(pending, d)
		pendingIDs = append(pendingIDs, id)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.limiter(name).Wait(ctx); err != nil {
		return err
	}
	sentIDs, sendErr := notifier.SendNotificationsInBulk(ctx, pending)

	sent := make(map[int64]bool, len(sentIDs))
	for _, id := range sentIDs {
		sent[id] = true
	}
	var errs []error
	for _, id := range pendingIDs {
		if sent[id] {
			metrics.NotificationsTotal.WithLabelValues(name, "sent").Inc()
			if err := s.store.MarkNotificationSent(ctx, id); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		s.markFailed(ctx, log, name, id)
	}

	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
		log.Error().Err(sendErr).Int("count", len(pending)).Int("delivered", len(sentIDs)).Msg("bulk delivery failed")
		return fmt.Errorf("send %d notifications via %s: %w", len(pending)-len(sent), name, sendErr)
	}
	span.SetStatus(codes.Ok, "")
	return errors.Join(errs...)
}

func (s *Sender) markFailed(ctx context.Context, log zerolog.Logger, name string, id int64) {
	metrics.NotificationsTotal.WithLabelValues(name, "failed").Inc()
	if err := s.store.MarkNotificationFailed(ctx, id); err != nil {
		log.Error().Err(err).Int64("notification", id).Msg("failed to record notification failure")
	}
}
