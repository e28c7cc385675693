package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSafeState(t *testing.T) {
	assert.True(t, IsSafeState(StatusFinished))
	assert.True(t, IsSafeState(StatusError))

	for _, s := range []string{
		StatusPending, StatusLaunching, StatusConfiguring, StatusProvisioning,
		StatusExecutingAction, StatusFinalizing, StatusTerminating, StatusDestroying,
	} {
		assert.False(t, IsSafeState(s), s)
	}
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, StateRunning, NormalizeState("running"))
	assert.Equal(t, StateShuttingDown, NormalizeState("shutting_down"))
	assert.Equal(t, StateUnknown, NormalizeState(""))
	assert.Equal(t, StateUnknown, NormalizeState("rebooting"))
}

func TestStackSlug(t *testing.T) {
	assert.Equal(t, "my-hadoop-stack-7", Stack{ID: 7, Title: "My Hadoop  Stack!"}.Slug())
	assert.Equal(t, "stack-3", Stack{ID: 3, Title: "***"}.Slug())
}

func TestHostApplyNode(t *testing.T) {
	h := Host{Hostname: "web-1"}
	h.ApplyNode(NodeInfo{InstanceID: "i-123", State: "running", PublicDNS: "ec2-1.example.com"})
	assert.Equal(t, StateRunning, h.State)
	assert.Equal(t, "i-123", h.InstanceID)
	assert.Equal(t, "ec2-1.example.com", h.ProviderPublicDNS)
}

func TestHostApplyNode_RunningWithoutInstanceID(t *testing.T) {
	h := Host{Hostname: "web-1"}
	h.ApplyNode(NodeInfo{State: "running"})
	assert.Equal(t, StateUnknown, h.State)
	assert.Empty(t, h.InstanceID)
}

func TestHostAddress(t *testing.T) {
	assert.Equal(t, "1.2.3.4", Host{PublicIP: "1.2.3.4", FQDN: "a.example.com"}.Address())
	assert.Equal(t, "a.example.com", Host{FQDN: "a.example.com"}.Address())
	assert.Equal(t, "web-1", Host{Hostname: "web-1"}.Address())
}

func TestChannelSubscribed(t *testing.T) {
	all := NotificationChannel{Events: []string{EventStackError}}
	assert.True(t, all.Subscribed(EventStackError, ContentTypeStack, 9))
	assert.False(t, all.Subscribed(EventStackDestroyed, ContentTypeStack, 9))

	one := NotificationChannel{
		Events:  []string{EventStackError},
		Objects: []ChannelObject{{ContentType: ContentTypeStack, ObjectID: 1}},
	}
	assert.True(t, one.Subscribed(EventStackError, ContentTypeStack, 1))
	assert.False(t, one.Subscribed(EventStackError, ContentTypeStack, 2))
}
