package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stackdio/stackd/internal/notification"
)

// Slack posts Block Kit messages to incoming webhooks. Bulk deliveries are
// merged into one message per webhook URL.
type Slack struct {
	client     *http.Client
	defaultURL string
}

func NewSlack(defaultURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 30 * time.Second},
		defaultURL: defaultURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Capabilities() notification.Capabilities {
	return notification.Capabilities{PreferSendInBulk: true}
}

func (s *Slack) SendNotification(ctx context.Context, d notification.Delivery) (bool, error) {
	sent, err := s.SendNotificationsInBulk(ctx, []notification.Delivery{d})
	return len(sent) == 1, err
}

func (s *Slack) SendNotificationsInBulk(ctx context.Context, ds []notification.Delivery) ([]int64, error) {
	var (
		order   []string
		batches = make(map[string][]notification.Delivery)
	)
	for _, d := range ds {
		url := option(d, "webhook_url", s.defaultURL)
		if url == "" {
			continue
		}
		if _, ok := batches[url]; !ok {
			order = append(order, url)
		}
		batches[url] = append(batches[url], d)
	}

	var (
		sent []int64
		errs []error
	)
	for _, url := range order {
		batch := batches[url]
		body, err := buildSlackPayload(batch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok, err := post(ctx, s.client, url, body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, d := range batch {
			sent = append(sent, d.Notification.ID)
		}
	}
	return sent, errors.Join(errs...)
}

var slackEmoji = map[string]string{
	"stack-launch-finished": ":white_check_mark:",
	"stack-error":           ":rotating_light:",
	"stack-destroyed":       ":wastebasket:",
}

// buildSlackPayload creates a Slack Block Kit message with one section per
// delivery.
func buildSlackPayload(ds []notification.Delivery) ([]byte, error) {
	header := "stackd: " + ds[0].Notification.Event
	if len(ds) > 1 {
		header = fmt.Sprintf("stackd: %d notifications", len(ds))
	}
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]string{
				"type": "plain_text",
				"text": header,
			},
		},
	}

	for _, d := range ds {
		s := summarize(d)
		emoji, ok := slackEmoji[d.Notification.Event]
		if !ok {
			emoji = ":information_source:"
		}
		blocks = append(blocks,
			map[string]interface{}{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("%s *%s*", emoji, s.Title),
				},
			},
			map[string]interface{}{
				"type": "section",
				"fields": []map[string]interface{}{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("*Event:* %s", d.Notification.Event),
					},
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("*Status:* %s", statusText(s)),
					},
				},
			},
		)
		if s.Detail != "" {
			blocks = append(blocks, map[string]interface{}{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("```%s```", s.Detail),
				},
			})
		}
	}

	return json.Marshal(map[string]interface{}{
		"text":   header,
		"blocks": blocks,
	})
}

func statusText(s summary) string {
	if s.Deleted {
		return "deleted"
	}
	if s.Status == "" {
		return "unknown"
	}
	return strings.ReplaceAll(s.Status, "_", " ")
}
