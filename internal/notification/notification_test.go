package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/store/memory"
)

type fakeNotifier struct {
	name string
	caps Capabilities

	mu      sync.Mutex
	calls   []Delivery
	bulk    [][]Delivery
	result  bool
	err     error
	bulkIDs func([]Delivery) []int64
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Capabilities() Capabilities { return f.caps }

func (f *fakeNotifier) SendNotification(ctx context.Context, d Delivery) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	return f.result, f.err
}

func (f *fakeNotifier) SendNotificationsInBulk(ctx context.Context, ds []Delivery) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, ds)
	if f.bulkIDs != nil {
		return f.bulkIDs(ds), f.err
	}
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]int64, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.Notification.ID)
	}
	return ids, nil
}

type bulkCall struct {
	notifier string
	ids      []int64
}

type fakeSubmitter struct {
	single []int64
	bulk   []bulkCall
	err    error
}

func (f *fakeSubmitter) SubmitNotification(ctx context.Context, id int64) error {
	f.single = append(f.single, id)
	return f.err
}

func (f *fakeSubmitter) SubmitBulk(ctx context.Context, notifier string, ids []int64) error {
	f.bulk = append(f.bulk, bulkCall{notifier: notifier, ids: ids})
	return f.err
}

func testRegistry(t *testing.T, store *memory.Store, notifiers ...*fakeNotifier) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, n := range notifiers {
		n := n
		require.NoError(t, r.RegisterNotifier(n.name, func() (Notifier, error) { return n, nil }))
	}
	require.NoError(t, r.RegisterContentType(model.ContentTypeStack, StackSerializer(store)))
	return r
}

func channel(owner model.AuthObject, notifier string, objects ...model.ChannelObject) model.NotificationChannel {
	return model.NotificationChannel{
		Name:       "ops",
		AuthObject: owner,
		Events:     []string{model.EventStackError},
		Objects:    objects,
		Handlers:   []model.NotificationHandler{{Notifier: notifier}},
	}
}

var alice = model.AuthObject{Type: model.AuthObjectUser, ID: 1}

func TestTrigger_BulkNotifierSubmittedOnce(t *testing.T) {
	store := memory.New()
	for i := 0; i < 3; i++ {
		store.AddChannel(channel(alice, "slack"))
	}
	reg := testRegistry(t, store, &fakeNotifier{name: "slack", caps: Capabilities{PreferSendInBulk: true}})
	sub := &fakeSubmitter{}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	ns, err := d.Trigger(context.Background(), model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	require.Len(t, ns, 3)
	assert.Empty(t, sub.single)
	require.Len(t, sub.bulk, 1)
	assert.Equal(t, "slack", sub.bulk[0].notifier)
	assert.Equal(t, []int64{ns[0].ID, ns[1].ID, ns[2].ID}, sub.bulk[0].ids)
}

func TestTrigger_BulkAcrossChannels(t *testing.T) {
	store := memory.New()
	ops := channel(alice, "slack")
	ops.Handlers = []model.NotificationHandler{
		{Notifier: "slack", Options: map[string]string{"channel": "#ops"}},
		{Notifier: "slack", Options: map[string]string{"channel": "#alerts"}},
	}
	opsCh := store.AddChannel(ops)
	devCh := store.AddChannel(channel(alice, "slack"))
	reg := testRegistry(t, store, &fakeNotifier{name: "slack", caps: Capabilities{PreferSendInBulk: true}})
	sub := &fakeSubmitter{}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	ns, err := d.Trigger(context.Background(), model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	require.Len(t, ns, 3)
	handlers := []int64{ns[0].HandlerID, ns[1].HandlerID, ns[2].HandlerID}
	assert.ElementsMatch(t, []int64{opsCh.Handlers[0].ID, opsCh.Handlers[1].ID, devCh.Handlers[0].ID}, handlers)

	assert.Empty(t, sub.single)
	require.Len(t, sub.bulk, 1)
	assert.Equal(t, "slack", sub.bulk[0].notifier)
	assert.ElementsMatch(t, []int64{ns[0].ID, ns[1].ID, ns[2].ID}, sub.bulk[0].ids)
}

func TestTrigger_SingleNotifierSubmittedPerNotification(t *testing.T) {
	store := memory.New()
	store.AddChannel(channel(alice, "webhook"))
	store.AddChannel(channel(alice, "webhook"))
	reg := testRegistry(t, store, &fakeNotifier{name: "webhook"})
	sub := &fakeSubmitter{}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	ns, err := d.Trigger(context.Background(), model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, []int64{ns[0].ID, ns[1].ID}, sub.single)
	assert.Empty(t, sub.bulk)
}

func TestTrigger_SplitsGroupPerMember(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	var ids []int64
	for _, name := range []string{"alice", "bob", "carol"} {
		u := &model.User{Username: name, Email: name + "@example.com"}
		require.NoError(t, store.CreateUser(ctx, u))
		ids = append(ids, u.ID)
	}
	store.AddGroupMembers(50, ids...)
	store.AddChannel(channel(model.AuthObject{Type: model.AuthObjectGroup, ID: 50}, "email"))
	reg := testRegistry(t, store, &fakeNotifier{name: "email", caps: Capabilities{SplitGroupNotifications: true}})
	d := NewDispatcher(store, reg, &fakeSubmitter{}, zerolog.Nop())

	ns, err := d.Trigger(ctx, model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	require.Len(t, ns, 3)
	for i, n := range ns {
		assert.Equal(t, model.AuthObject{Type: model.AuthObjectUser, ID: ids[i]}, n.AuthObject)
	}
}

func TestTrigger_GroupKeptWithoutSplit(t *testing.T) {
	store := memory.New()
	group := model.AuthObject{Type: model.AuthObjectGroup, ID: 50}
	store.AddGroupMembers(50, 1, 2)
	store.AddChannel(channel(group, "webhook"))
	reg := testRegistry(t, store, &fakeNotifier{name: "webhook"})
	d := NewDispatcher(store, reg, &fakeSubmitter{}, zerolog.Nop())

	ns, err := d.Trigger(context.Background(), model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, group, ns[0].AuthObject)
}

func TestTrigger_ObjectFilterAndUnknownNotifier(t *testing.T) {
	store := memory.New()
	store.AddChannel(channel(alice, "webhook", model.ChannelObject{ContentType: model.ContentTypeStack, ObjectID: 8}))
	store.AddChannel(channel(alice, "pager"))
	reg := testRegistry(t, store, &fakeNotifier{name: "webhook"})
	sub := &fakeSubmitter{}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	ns, err := d.Trigger(context.Background(), model.EventStackError, model.ContentTypeStack, 7)

	require.NoError(t, err)
	assert.Empty(t, ns)
	assert.Empty(t, sub.single)
}

func TestDispatch_SubmissionErrorsJoined(t *testing.T) {
	store := memory.New()
	reg := testRegistry(t, store, &fakeNotifier{name: "webhook"})
	sub := &fakeSubmitter{err: errors.New("temporal down")}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	err := d.Dispatch(context.Background(), []model.Notification{
		{ID: 1, Notifier: "webhook"},
		{ID: 2, Notifier: "webhook"},
	})

	require.Error(t, err)
	assert.Equal(t, []int64{1, 2}, sub.single)
}

func TestResendFailed(t *testing.T) {
	store := memory.New()
	retry := store.AddNotification(model.Notification{Notifier: "webhook", FailedCount: 5})
	store.AddNotification(model.Notification{Notifier: "webhook", FailedCount: 6})
	store.AddNotification(model.Notification{Notifier: "webhook", Sent: true})
	reg := testRegistry(t, store, &fakeNotifier{name: "webhook"})
	sub := &fakeSubmitter{}
	d := NewDispatcher(store, reg, sub, zerolog.Nop())

	n, err := d.ResendFailed(context.Background(), 5)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{retry.ID}, sub.single)
}

func seedStack(t *testing.T, store *memory.Store) *model.Stack {
	t.Helper()
	st := &model.Stack{OwnerID: 1, Title: "web", Namespace: "web", Status: model.StatusError}
	require.NoError(t, store.CreateStack(context.Background(), st, nil))
	return st
}

func TestSend_Delivered(t *testing.T) {
	store := memory.New()
	st := seedStack(t, store)
	n := store.AddNotification(model.Notification{Notifier: "webhook", ContentType: model.ContentTypeStack, ObjectID: st.ID, AuthObject: alice})
	notifier := &fakeNotifier{name: "webhook", result: true}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), n.ID))

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)
	require.Len(t, notifier.calls, 1)
	obj := notifier.calls[0].Object.(map[string]any)
	assert.Equal(t, "web", obj["title"])
}

func TestSend_NotDeliveredMarksFailed(t *testing.T) {
	store := memory.New()
	st := seedStack(t, store)
	n := store.AddNotification(model.Notification{Notifier: "webhook", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	s := NewSender(store, testRegistry(t, store, &fakeNotifier{name: "webhook"}), 0, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), n.ID))

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent)
	assert.Equal(t, 1, got.FailedCount)
}

func TestSend_ErrorMarksFailedAndReturns(t *testing.T) {
	store := memory.New()
	st := seedStack(t, store)
	n := store.AddNotification(model.Notification{Notifier: "webhook", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	s := NewSender(store, testRegistry(t, store, &fakeNotifier{name: "webhook", err: errors.New("boom")}), 0, zerolog.Nop())

	err := s.Send(context.Background(), n.ID)

	require.Error(t, err)
	got, gerr := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, gerr)
	assert.Equal(t, 1, got.FailedCount)
}

func TestSend_AlreadySentSkipped(t *testing.T) {
	store := memory.New()
	n := store.AddNotification(model.Notification{Notifier: "webhook", Sent: true})
	notifier := &fakeNotifier{name: "webhook", result: true}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), n.ID))
	assert.Empty(t, notifier.calls)
}

func TestSend_DeletedStackStillDelivered(t *testing.T) {
	store := memory.New()
	n := store.AddNotification(model.Notification{Notifier: "webhook", ContentType: model.ContentTypeStack, ObjectID: 99})
	notifier := &fakeNotifier{name: "webhook", result: true}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), n.ID))
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, map[string]any{"id": int64(99), "deleted": true}, notifier.calls[0].Object)
}

func TestSend_GroupRecipients(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	st := seedStack(t, store)
	u := &model.User{Username: "bob", Email: "bob@example.com"}
	require.NoError(t, store.CreateUser(ctx, u))
	store.AddGroupMembers(50, u.ID)
	n := store.AddNotification(model.Notification{
		Notifier:    "webhook",
		ContentType: model.ContentTypeStack,
		ObjectID:    st.ID,
		AuthObject:  model.AuthObject{Type: model.AuthObjectGroup, ID: 50},
	})
	notifier := &fakeNotifier{name: "webhook", result: true}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	require.NoError(t, s.Send(ctx, n.ID))
	require.Len(t, notifier.calls, 1)
	require.Len(t, notifier.calls[0].Recipients, 1)
	assert.Equal(t, "bob@example.com", notifier.calls[0].Recipients[0].Email)
}

func TestSendBulk_PartialDelivery(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	st := seedStack(t, store)
	var ids []int64
	for i := 0; i < 3; i++ {
		n := store.AddNotification(model.Notification{Notifier: "slack", ContentType: model.ContentTypeStack, ObjectID: st.ID})
		ids = append(ids, n.ID)
	}
	notifier := &fakeNotifier{
		name: "slack",
		caps: Capabilities{PreferSendInBulk: true},
		bulkIDs: func(ds []Delivery) []int64 {
			return []int64{ds[0].Notification.ID, ds[2].Notification.ID}
		},
	}
	s := NewSender(store, testRegistry(t, store, notifier), 10, zerolog.Nop())

	require.NoError(t, s.SendBulk(ctx, "slack", ids))

	require.Len(t, notifier.bulk, 1)
	assert.Len(t, notifier.bulk[0], 3)
	for i, id := range ids {
		got, err := store.GetNotification(ctx, id)
		require.NoError(t, err)
		if i == 1 {
			assert.False(t, got.Sent)
			assert.Equal(t, 1, got.FailedCount)
			continue
		}
		assert.True(t, got.Sent)
	}
}

func TestSendBulk_ErrorKeepsDeliveredIDs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	st := seedStack(t, store)
	a := store.AddNotification(model.Notification{Notifier: "email", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	b := store.AddNotification(model.Notification{Notifier: "email", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	notifier := &fakeNotifier{
		name: "email",
		caps: Capabilities{PreferSendInBulk: true},
		err:  errors.New("550 mailbox unavailable"),
		bulkIDs: func(ds []Delivery) []int64 {
			return []int64{ds[0].Notification.ID}
		},
	}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	err := s.SendBulk(ctx, "email", []int64{a.ID, b.ID})

	require.Error(t, err)
	gotA, err := store.GetNotification(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Sent)
	assert.Equal(t, 0, gotA.FailedCount)
	gotB, err := store.GetNotification(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, gotB.Sent)
	assert.Equal(t, 1, gotB.FailedCount)
}

func TestSendBulk_ErrorWithoutDeliveries(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	st := seedStack(t, store)
	a := store.AddNotification(model.Notification{Notifier: "slack", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	b := store.AddNotification(model.Notification{Notifier: "slack", ContentType: model.ContentTypeStack, ObjectID: st.ID})
	sent := store.AddNotification(model.Notification{Notifier: "slack", Sent: true})
	notifier := &fakeNotifier{name: "slack", err: errors.New("rate limited")}
	s := NewSender(store, testRegistry(t, store, notifier), 0, zerolog.Nop())

	err := s.SendBulk(ctx, "slack", []int64{a.ID, b.ID, sent.ID, 12345})

	require.Error(t, err)
	require.Len(t, notifier.bulk, 1)
	assert.Len(t, notifier.bulk[0], 2)
	for _, id := range []int64{a.ID, b.ID} {
		got, gerr := store.GetNotification(ctx, id)
		require.NoError(t, gerr)
		assert.Equal(t, 1, got.FailedCount)
	}
}

func TestRegistry_RegisterNotifier(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterNotifier("webhook", func() (Notifier, error) { return &fakeNotifier{name: "webhook"}, nil }))
	assert.Error(t, r.RegisterNotifier("webhook", func() (Notifier, error) { return &fakeNotifier{name: "webhook"}, nil }))
	assert.Error(t, r.RegisterNotifier("slack", func() (Notifier, error) { return &fakeNotifier{name: "email"}, nil }))
	assert.Error(t, r.RegisterNotifier("email", func() (Notifier, error) { return nil, errors.New("no smtp") }))
	assert.Error(t, r.RegisterNotifier("email", func() (Notifier, error) { return nil, nil }))
	assert.Error(t, r.RegisterNotifier("", nil))

	assert.Equal(t, []string{"webhook"}, r.Names())
	_, err := r.Notifier("slack")
	assert.Error(t, err)
}

func TestRegistry_ContentTypes(t *testing.T) {
	r := NewRegistry()
	s := func(ctx context.Context, id int64) (any, error) { return id, nil }

	require.NoError(t, r.RegisterContentType("stacks", s))
	assert.Error(t, r.RegisterContentType("stacks", s))

	got, err := r.Serialize(context.Background(), "stacks", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = r.Serialize(context.Background(), "hosts", 3)
	assert.Error(t, err)
}
