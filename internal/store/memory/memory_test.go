package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/model"
)

func TestSetStackStatus_AppendsHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	stack := &model.Stack{OwnerID: 1, Title: "web", Status: model.StatusPending}
	require.NoError(t, s.CreateStack(ctx, stack, nil))

	require.NoError(t, s.SetStackStatus(ctx, stack.ID, model.StatusUpdate{Event: "launch_hosts", Status: model.StatusLaunching}))
	require.NoError(t, s.SetStackStatus(ctx, stack.ID, model.StatusUpdate{Event: "finish_stack", Status: model.StatusFinished}))

	history, err := s.ListStackHistory(ctx, stack.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StatusPending, history[0].Status)
	assert.Equal(t, model.StatusLaunching, history[1].Status)
	assert.Equal(t, model.LevelInfo, history[1].Level)
	assert.Equal(t, model.StatusFinished, history[2].Status)

	got, err := s.GetStack(ctx, stack.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
}

func TestCreateStack_DuplicateTitle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateStack(ctx, &model.Stack{OwnerID: 1, Title: "web"}, nil))
	err := s.CreateStack(ctx, &model.Stack{OwnerID: 1, Title: "web"}, nil)
	assert.ErrorIs(t, err, model.ErrStackExists)

	require.NoError(t, s.CreateStack(ctx, &model.Stack{OwnerID: 2, Title: "web"}, nil))
}

func TestListHosts_NilSelectsAllEmptySelectsNone(t *testing.T) {
	s := New()
	ctx := context.Background()

	stack := &model.Stack{OwnerID: 1, Title: "web"}
	hosts := []model.HostSpec{
		{Host: model.Host{Hostname: "web-1", Index: 1}, Volumes: []model.Volume{{Device: "/dev/xvdf"}}},
		{Host: model.Host{Hostname: "web-2", Index: 2}},
	}
	require.NoError(t, s.CreateStack(ctx, stack, hosts))

	all, err := s.ListHosts(ctx, stack.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.ListHosts(ctx, stack.ID, []int64{})
	require.NoError(t, err)
	assert.Empty(t, none)

	one, err := s.ListHosts(ctx, stack.ID, []int64{hosts[1].Host.ID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "web-2", one[0].Hostname)

	volumes, err := s.ListVolumes(ctx, stack.ID)
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, hosts[0].Host.ID, *volumes[0].HostID)

	require.NoError(t, s.DeleteHosts(ctx, stack.ID, []int64{hosts[0].Host.ID}))
	volumes, err = s.ListVolumes(ctx, stack.ID)
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestListUnsentNotifications_FailedCountCap(t *testing.T) {
	s := New()
	ctx := context.Background()

	five := s.AddNotification(model.Notification{Event: model.EventStackError, FailedCount: 5})
	s.AddNotification(model.Notification{Event: model.EventStackError, FailedCount: 6})
	s.AddNotification(model.Notification{Event: model.EventStackError, Sent: true})

	ns, err := s.ListUnsentNotifications(ctx, 5)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, five.ID, ns[0].ID)
}

func TestMarkNotification(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := s.AddNotification(model.Notification{Event: model.EventStackError})

	require.NoError(t, s.MarkNotificationFailed(ctx, n.ID))
	require.NoError(t, s.MarkNotificationFailed(ctx, n.ID))
	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedCount)
	assert.False(t, got.Sent)

	require.NoError(t, s.MarkNotificationSent(ctx, n.ID))
	got, err = s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)
	assert.Equal(t, 2, got.FailedCount)
}

func TestSecurityGroupsForDeletion_SkipsSharedGroups(t *testing.T) {
	s := New()
	ctx := context.Background()
	defID := int64(100)

	shared := s.AddSecurityGroup(model.SecurityGroup{Name: "shared", IsManaged: true, HostDefinitionID: &defID})
	own := s.AddSecurityGroup(model.SecurityGroup{Name: "own", IsManaged: true, HostDefinitionID: &defID})
	unmanaged := s.AddSecurityGroup(model.SecurityGroup{Name: "default"})

	stack := &model.Stack{OwnerID: 1, Title: "web"}
	hosts := []model.HostSpec{
		{Host: model.Host{Hostname: "a", State: model.StateUnknown, SecurityGroups: []model.SecurityGroup{shared, own, unmanaged}}},
		{Host: model.Host{Hostname: "b", State: model.StateUnknown, SecurityGroups: []model.SecurityGroup{shared}}},
	}
	require.NoError(t, s.CreateStack(ctx, stack, hosts))

	groups, err := s.SecurityGroupsForDeletion(ctx, []int64{hosts[0].Host.ID})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, own.ID, groups[0].ID)

	groups, err = s.SecurityGroupsForDeletion(ctx, []int64{hosts[0].Host.ID, hosts[1].Host.ID})
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestCreateUser_StoresSettings(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &model.User{Username: "alice", Settings: model.UserSettings{PublicKey: "ssh-ed25519 AAAA"}}
	require.NoError(t, s.CreateUser(ctx, u))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.Settings.UserID)
	assert.Equal(t, "ssh-ed25519 AAAA", got.Settings.PublicKey)

	err = s.CreateUser(ctx, &model.User{Username: "alice"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
