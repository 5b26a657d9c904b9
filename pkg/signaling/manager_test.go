package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_engine/pkg/rtc"
)

func newTestManager(t *testing.T, net *MemoryNetwork, user string, reconnect bool) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Reconnect = reconnect
	cfg.ReconnectMin = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond

	m, err := NewManager(net.Dialer(user), cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m
}

func nextMessage(t *testing.T, ch <-chan Event) *Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Message != nil {
				return ev.Message
			}
		case <-deadline:
			t.Fatal("no message received")
			return nil
		}
	}
}

func waitState(t *testing.T, ch <-chan Event, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.IsState() && ev.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s was not published", want)
		}
	}
}

func TestManagerExchange(t *testing.T) {
	net := NewMemoryNetwork(nil)
	alice := newTestManager(t, net, "alice", false)
	bob := newTestManager(t, net, "bob", false)

	events, cancel := bob.Subscribe()
	defer cancel()

	ctx := context.Background()
	require.NoError(t, alice.Connect(ctx, "alice-token"))
	require.NoError(t, bob.Connect(ctx, "bob-token"))
	assert.Equal(t, StateConnected, alice.State())

	require.NoError(t, alice.Send(ctx, NewInvite("s1", "alice", "bob", rtc.CallAudio)))
	require.NoError(t, alice.Send(ctx, NewHangup("s1", "alice", "bob")))

	first := nextMessage(t, events)
	second := nextMessage(t, events)
	assert.Equal(t, TypeInvite, first.Type)
	assert.Equal(t, TypeHangup, second.Type)
}

func TestManagerSkipsMalformed(t *testing.T) {
	net := NewMemoryNetwork(nil)
	bob := newTestManager(t, net, "bob", false)
	events, cancel := bob.Subscribe()
	defer cancel()
	require.NoError(t, bob.Connect(context.Background(), ""))

	raw, err := net.Dialer("mallory").Dial(context.Background(), "")
	require.NoError(t, err)
	defer raw.Close()

	ctx := context.Background()
	require.NoError(t, raw.WriteMessage(ctx, []byte(`{"toId":"bob","type":"bogus"}`)))
	require.NoError(t, raw.WriteMessage(ctx, []byte(`{"toId":"bob","type":"hangup","sessionId":"s1","fromId":"mallory"}`)))

	msg := nextMessage(t, events)
	assert.Equal(t, TypeHangup, msg.Type)
}

func TestManagerSendWhileDisconnected(t *testing.T) {
	net := NewMemoryNetwork(nil)
	alice := newTestManager(t, net, "alice", false)

	err := alice.Send(context.Background(), NewHangup("s1", "alice", "bob"))
	assert.ErrorIs(t, err, ErrDisconnected)

	err = alice.Send(context.Background(), &Message{Type: TypeHangup})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestManagerReconnects(t *testing.T) {
	net := NewMemoryNetwork(nil)
	alice := newTestManager(t, net, "alice", true)
	events, cancel := alice.Subscribe()
	defer cancel()

	require.NoError(t, alice.Connect(context.Background(), ""))
	waitState(t, events, StateConnected)

	require.True(t, net.Drop("alice"))
	waitState(t, events, StateDisconnected)
	waitState(t, events, StateConnected)
	assert.True(t, net.Connected("alice"))
}

func TestManagerDisconnectStopsReconnect(t *testing.T) {
	net := NewMemoryNetwork(nil)
	alice := newTestManager(t, net, "alice", true)

	require.NoError(t, alice.Connect(context.Background(), ""))
	net.Block("alice", true)
	require.True(t, net.Drop("alice"))

	require.Eventually(t, func() bool { return alice.State() != StateConnected }, time.Second, time.Millisecond)
	alice.Disconnect()
	net.Block("alice", false)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, alice.State())
	assert.False(t, net.Connected("alice"))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.ReconnectMax = cfg.ReconnectMin / 2
	assert.Error(t, cfg.Validate())

	_, err := NewManager(nil, DefaultConfig(), Options{})
	assert.Error(t, err)
}
