package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/stackdio/stackd/internal/notification"
)

// EmailConfig configures the SMTP relay.
type EmailConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// Email sends one plain-text message per recipient. Group notifications are
// split per member so every user gets their own row.
type Email struct {
	cfg      EmailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Addr == "" || cfg.From == "" {
		return nil, fmt.Errorf("email notifier: smtp address and sender are required")
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Capabilities() notification.Capabilities {
	return notification.Capabilities{PreferSendInBulk: true, SplitGroupNotifications: true}
}

func (e *Email) SendNotificationsInBulk(ctx context.Context, ds []notification.Delivery) ([]int64, error) {
	return sendEach(ctx, e, ds)
}

// SendNotification mails the recipients, or the "to" option when set. A
// notification without any address is not delivered.
func (e *Email) SendNotification(ctx context.Context, d notification.Delivery) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	to := recipients(d)
	if len(to) == 0 {
		return false, nil
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		host := e.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, host)
	}
	if err := e.sendMail(e.cfg.Addr, auth, e.cfg.From, to, e.message(d, to)); err != nil {
		return false, fmt.Errorf("send email notification %d: %w", d.Notification.ID, err)
	}
	return true, nil
}

func recipients(d notification.Delivery) []string {
	if v := d.Notification.Options["to"]; v != "" {
		var to []string
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		return to
	}
	var to []string
	for _, u := range d.Recipients {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	return to
}

func (e *Email) message(d notification.Delivery, to []string) []byte {
	s := summarize(d)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [stackd] %s: %s\r\n", s.Title, d.Notification.Event)
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Event: %s\r\n", d.Notification.Event)
	fmt.Fprintf(&b, "Object: %s %d\r\n", d.Notification.ContentType, d.Notification.ObjectID)
	fmt.Fprintf(&b, "Status: %s\r\n", statusText(s))
	if s.Detail != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", s.Detail)
	}
	return []byte(b.String())
}
