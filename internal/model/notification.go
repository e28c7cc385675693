package model

import "time"

// Events fired by stack tasks.
const (
	EventStackLaunchFinished = "stack-launch-finished"
	EventStackError          = "stack-error"
	EventStackDestroyed      = "stack-destroyed"
)

// ContentTypeStack is the content type of notifications about stacks.
const ContentTypeStack = "stacks"

// Auth object types owning a notification channel.
const (
	AuthObjectUser  = "user"
	AuthObjectGroup = "group"
)

// AuthObject is the user or group a channel (and its notifications) belongs to.
type AuthObject struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type NotificationChannel struct {
	ID         int64                 `json:"id"`
	Name       string                `json:"name"`
	AuthObject AuthObject            `json:"auth_object"`
	Events     []string              `json:"events"`
	Objects    []ChannelObject       `json:"objects"`
	Handlers   []NotificationHandler `json:"handlers"`
}

// ChannelObject subscribes a channel to one content object. A channel with no
// objects of a content type receives events for every object of that type.
type ChannelObject struct {
	ContentType string `json:"content_type"`
	ObjectID    int64  `json:"object_id"`
}

// Subscribed reports whether the channel wants event about the given object.
func (c NotificationChannel) Subscribed(event, contentType string, objectID int64) bool {
	found := false
	for _, e := range c.Events {
		if e == event {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	typed := false
	for _, o := range c.Objects {
		if o.ContentType != contentType {
			continue
		}
		typed = true
		if o.ObjectID == objectID {
			return true
		}
	}
	return !typed
}

type NotificationHandler struct {
	ID        int64             `json:"id"`
	ChannelID int64             `json:"channel_id"`
	Notifier  string            `json:"notifier"`
	Options   map[string]string `json:"options"`
}

// Notification delivers Event about one content object through a handler.
// Sent=true means no further delivery is attempted.
type Notification struct {
	ID          int64             `json:"id"`
	Event       string            `json:"event"`
	ContentType string            `json:"content_type"`
	ObjectID    int64             `json:"object_id"`
	HandlerID   int64             `json:"handler_id"`
	Notifier    string            `json:"notifier"`
	Options     map[string]string `json:"options"`
	AuthObject  AuthObject        `json:"auth_object"`
	Sent        bool              `json:"sent"`
	FailedCount int               `json:"failed_count"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
