// Package notifier holds the notification backends: generic webhooks, Slack
// and email.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stackdio/stackd/internal/notification"
)

// Webhook POSTs each notification as JSON to the handler's "url" option.
type Webhook struct {
	client     *http.Client
	defaultURL string
}

// NewWebhook creates a Webhook. defaultURL is used for handlers without a
// url option.
func NewWebhook(defaultURL string) *Webhook {
	return &Webhook{
		client:     &http.Client{Timeout: 30 * time.Second},
		defaultURL: defaultURL,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Capabilities() notification.Capabilities { return notification.Capabilities{} }

// WebhookPayload is the JSON body of a webhook notification.
type WebhookPayload struct {
	NotificationID int64     `json:"notification_id"`
	Event          string    `json:"event"`
	ContentType    string    `json:"content_type"`
	ObjectID       int64     `json:"object_id"`
	Object         any       `json:"object"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendNotification reports a 2xx as delivered and a 4xx as not delivered.
// Network errors and 5xx are returned as errors.
func (w *Webhook) SendNotification(ctx context.Context, d notification.Delivery) (bool, error) {
	url := option(d, "url", w.defaultURL)
	if url == "" {
		return false, nil
	}
	n := d.Notification
	body, err := json.Marshal(WebhookPayload{
		NotificationID: n.ID,
		Event:          n.Event,
		ContentType:    n.ContentType,
		ObjectID:       n.ObjectID,
		Object:         d.Object,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return post(ctx, w.client, url, body)
}

func (w *Webhook) SendNotificationsInBulk(ctx context.Context, ds []notification.Delivery) ([]int64, error) {
	return sendEach(ctx, w, ds)
}

// post sends a JSON body. 2xx is delivered, 4xx is a permanent refusal,
// anything else is an error worth retrying.
func post(ctx context.Context, client *http.Client, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("webhook POST to %s: %w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}
	return false, fmt.Errorf("webhook returned %d", resp.StatusCode)
}

// sendEach is the bulk fallback for notifiers that deliver one at a time.
// A failed delivery does not stop the rest of the batch; the delivered ids
// are returned together with the joined errors.
func sendEach(ctx context.Context, n notification.Notifier, ds []notification.Delivery) ([]int64, error) {
	var (
		sent []int64
		errs []error
	)
	for _, d := range ds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := n.SendNotification(ctx, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			sent = append(sent, d.Notification.ID)
		}
	}
	return sent, errors.Join(errs...)
}

func option(d notification.Delivery, key, fallback string) string {
	if v := d.Notification.Options[key]; v != "" {
		return v
	}
	return fallback
}

// summary pulls the common stack fields out of a serialized object.
type summary struct {
	Title   string
	Status  string
	Detail  string
	Deleted bool
}

func summarize(d notification.Delivery) summary {
	var s summary
	m, ok := d.Object.(map[string]any)
	if !ok {
		return s
	}
	s.Title, _ = m["title"].(string)
	s.Status, _ = m["status"].(string)
	s.Detail, _ = m["status_detail"].(string)
	s.Deleted, _ = m["deleted"].(bool)
	if s.Title == "" {
		s.Title = fmt.Sprintf("%s %d", d.Notification.ContentType, d.Notification.ObjectID)
	}
	return s
}
