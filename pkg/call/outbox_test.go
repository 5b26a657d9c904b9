package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/signaling"
)

// switchTransport транспорт с переключаемым состоянием подключения
type switchTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []string
}

func (t *switchTransport) Send(_ context.Context, msg *signaling.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return signaling.ErrDisconnected
	}
	t.sent = append(t.sent, msg.SessionID+"/"+string(msg.Type))
	return nil
}

func (t *switchTransport) Subscribe() (<-chan signaling.Event, func()) {
	return make(chan signaling.Event), func() {}
}

func (t *switchTransport) State() signaling.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return signaling.StateConnected
	}
	return signaling.StateDisconnected
}

func (t *switchTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *switchTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func newTestOutbox(tr *switchTransport, clk clock.Clock) *outbox {
	return newOutbox(tr, time.Second, 15*time.Second, clk, zap.NewNop(), newMetrics(nil))
}

func TestOutboxHoldsWhileDisconnected(t *testing.T) {
	tr := &switchTransport{}
	o := newTestOutbox(tr, clock.NewMock())
	defer o.close()

	o.enqueue(signaling.NewHangup("s1", "alice", "bob"))
	o.enqueue(signaling.NewDecline("s2", "alice", "bob", "declined"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tr.Sent())
	assert.Equal(t, 2, o.held())

	tr.setConnected(true)
	o.resume()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s1/hangup", "s2/decline"}, tr.Sent())
}

func TestOutboxRequeuesOnDrop(t *testing.T) {
	tr := &switchTransport{connected: true}
	o := newTestOutbox(tr, clock.NewMock())
	defer o.close()

	tr.setConnected(false)
	o.enqueue(signaling.NewHangup("s1", "alice", "bob"))
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.paused && len(o.queue) == 1
	}, time.Second, 5*time.Millisecond)

	tr.setConnected(true)
	o.resume()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestOutboxDiscardBySession(t *testing.T) {
	tr := &switchTransport{}
	o := newTestOutbox(tr, clock.NewMock())
	defer o.close()

	o.enqueue(signaling.NewHangup("s1", "alice", "bob"))
	o.enqueue(signaling.NewHangup("s2", "alice", "carol"))
	o.enqueue(signaling.NewHangup("s1", "alice", "dave"))
	assert.Equal(t, 2, o.discard("s1"))

	tr.setConnected(true)
	o.resume()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s2/hangup"}, tr.Sent())
}

func TestOutboxDropsExpiredHeld(t *testing.T) {
	tr := &switchTransport{}
	clk := clock.NewMock()
	o := newTestOutbox(tr, clk)
	defer o.close()

	o.enqueue(signaling.NewHangup("s1", "alice", "bob"))
	clk.Add(time.Minute)
	o.enqueue(signaling.NewHangup("s2", "alice", "bob"))

	tr.setConnected(true)
	o.resume()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s2/hangup"}, tr.Sent())
	assert.Zero(t, o.held())
}

func TestOutboxCloseDropsHeld(t *testing.T) {
	tr := &switchTransport{}
	o := newTestOutbox(tr, clock.NewMock())
	o.enqueue(signaling.NewHangup("s1", "alice", "bob"))

	done := make(chan struct{})
	go func() {
		o.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close blocked on held messages")
	}
	assert.Empty(t, tr.Sent())
}
