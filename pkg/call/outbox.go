package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/signaling"
)

type outgoing struct {
	msg *signaling.Message
	at  time.Time
}

// outbox отправляет сигнальные сообщения в порядке постановки одной горутиной.
//
// Пока сигнальное соединение потеряно, очередь удерживается и отправляется
// после восстановления. Сообщения старше holdLimit при этом отбрасываются.
type outbox struct {
	transport signaling.Transport
	timeout   time.Duration
	holdLimit time.Duration
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics

	mu     sync.Mutex
	queue  []outgoing
	closed bool
	paused bool
	// resumes растет на каждом resume, отличает устаревшую ошибку отправки
	resumes uint64
	wake    chan struct{}
	stopped chan struct{}
}

func newOutbox(transport signaling.Transport, timeout, holdLimit time.Duration, clk clock.Clock, log *zap.Logger, m *metrics) *outbox {
	o := &outbox{
		transport: transport,
		timeout:   timeout,
		holdLimit: holdLimit,
		clock:     clk,
		log:       log,
		metrics:   m,
		paused:    transport.State() != signaling.StateConnected,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) enqueue(msg *signaling.Message) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.log.Debug("outbox closed, message dropped", zap.String("type", string(msg.Type)))
		return
	}
	o.queue = append(o.queue, outgoing{msg: msg, at: o.clock.Now()})
	o.mu.Unlock()
	o.signal()
}

// pause удерживает очередь до resume
func (o *outbox) pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// resume отправляет удержанные сообщения в порядке постановки
func (o *outbox) resume() {
	o.mu.Lock()
	o.paused = false
	o.resumes++
	o.mu.Unlock()
	o.signal()
}

// discard удаляет неотправленные сообщения сессии
func (o *outbox) discard(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.queue[:0]
	dropped := 0
	for _, item := range o.queue {
		if item.msg.SessionID == sessionID {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(o.queue); i++ {
		o.queue[i] = outgoing{}
	}
	o.queue = kept
	return dropped
}

// held количество сообщений в очереди
func (o *outbox) held() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// close дожидается отправки уже поставленных сообщений.
// Удержанные при потерянном соединении сообщения отбрасываются.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.stopped
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.signal()
	<-o.stopped
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.stopped)
	for {
		o.mu.Lock()
		if o.closed && o.paused && len(o.queue) > 0 {
			o.log.Info("signaling unavailable, held messages dropped", zap.Int("count", len(o.queue)))
			o.queue = nil
		}
		if len(o.queue) == 0 || o.paused {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			<-o.wake
			continue
		}
		item := o.queue[0]
		o.queue[0] = outgoing{}
		o.queue = o.queue[1:]
		gen := o.resumes
		o.mu.Unlock()

		if o.holdLimit > 0 && o.clock.Since(item.at) > o.holdLimit {
			o.log.Info("signaling message expired while held",
				zap.String("type", string(item.msg.Type)),
				zap.String("session_id", item.msg.SessionID))
			continue
		}
		if err := o.send(item.msg); errors.Is(err, signaling.ErrDisconnected) {
			o.hold(item, gen)
		}
	}
}

// hold возвращает сообщение в голову очереди после обрыва соединения.
// Если соединение уже восстановлено, отправка повторяется сразу.
func (o *outbox) hold(item outgoing, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue = append([]outgoing{item}, o.queue...)
	if o.resumes == gen {
		o.paused = true
	}
}

func (o *outbox) send(msg *signaling.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	err := o.transport.Send(ctx, msg)
	switch {
	case errors.Is(err, signaling.ErrDisconnected):
		o.log.Debug("signaling disconnected, message held",
			zap.String("type", string(msg.Type)),
			zap.String("session_id", msg.SessionID))
		return err
	case err != nil:
		o.metrics.sendFailures.Inc()
		o.log.Warn("failed to send signaling message",
			zap.String("type", string(msg.Type)),
			zap.String("session_id", msg.SessionID),
			zap.String("to_id", msg.ToID),
			zap.Error(err))
		return err
	}
	o.metrics.messages.WithLabelValues("out", string(msg.Type)).Inc()
	return nil
}
