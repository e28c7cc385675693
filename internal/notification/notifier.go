// Package notification turns stack events into notifications and delivers
// them through pluggable notifier backends.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stackdio/stackd/internal/model"
)

// Delivery is a notification ready to be sent: the row, the serialized
// object it is about and the users it is addressed to.
type Delivery struct {
	Notification model.Notification `json:"notification"`
	Object       any                `json:"object"`
	Recipients   []model.User       `json:"recipients"`
}

// Capabilities declare how a notifier wants to be fed.
type Capabilities struct {
	// PreferSendInBulk batches every pending notification of the notifier
	// into one SendNotificationsInBulk call.
	PreferSendInBulk bool
	// SplitGroupNotifications creates one notification per group member
	// instead of one per group.
	SplitGroupNotifications bool
}

// Notifier is a delivery backend.
type Notifier interface {
	Name() string
	Capabilities() Capabilities
	// SendNotification reports whether the notification was delivered.
	SendNotification(ctx context.Context, d Delivery) (bool, error)
	// SendNotificationsInBulk returns the ids of the delivered notifications.
	SendNotificationsInBulk(ctx context.Context, ds []Delivery) ([]int64, error)
}

// Factory creates a notifier.
type Factory func() (Notifier, error)

// Serializer renders the object a notification is about.
type Serializer func(ctx context.Context, objectID int64) (any, error)

// Registry holds the notifiers and content types of the process. Notifiers
// are built once at registration and shared afterwards.
type Registry struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	serializers map[string]Serializer
}

func NewRegistry() *Registry {
	return &Registry{
		notifiers:   make(map[string]Notifier),
		serializers: make(map[string]Serializer),
	}
}

// RegisterNotifier builds the notifier and checks that it answers to name.
func (r *Registry) RegisterNotifier(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register notifier %q: name and factory are required", name)
	}
	n, err := f()
	if err != nil {
		return fmt.Errorf("register notifier %q: %w", name, err)
	}
	if n == nil {
		return fmt.Errorf("register notifier %q: factory returned nil", name)
	}
	if n.Name() != name {
		return fmt.Errorf("register notifier %q: factory built %q", name, n.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifiers[name]; ok {
		return fmt.Errorf("register notifier %q: already registered", name)
	}
	r.notifiers[name] = n
	return nil
}

// Notifier returns the registered notifier called name.
func (r *Registry) Notifier(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[name]
	if !ok {
		return nil, fmt.Errorf("notifier %q is not registered", name)
	}
	return n, nil
}

// Names lists the registered notifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterContentType adds a content type notifications can be about.
func (r *Registry) RegisterContentType(name string, s Serializer) error {
	if name == "" || s == nil {
		return fmt.Errorf("register content type %q: name and serializer are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.serializers[name]; ok {
		return fmt.Errorf("register content type %q: already registered", name)
	}
	r.serializers[name] = s
	return nil
}

// Serialize renders object id of contentType.
func (r *Registry) Serialize(ctx context.Context, contentType string, id int64) (any, error) {
	r.mu.RLock()
	s, ok := r.serializers[contentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content type %q is not registered", contentType)
	}
	return s(ctx, id)
}
