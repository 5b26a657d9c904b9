package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// MemoryNetwork сигнальная сеть в памяти: маршрутизирует сообщения между
// соединениями по toId, как это делает ретранслятор.
type MemoryNetwork struct {
	log *zap.Logger

	mu      sync.Mutex
	conns   map[string]*memConn
	blocked map[string]bool
}

// NewMemoryNetwork создает пустую сеть
func NewMemoryNetwork(logger *zap.Logger) *MemoryNetwork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryNetwork{
		log:     logger.Named("memnet"),
		conns:   make(map[string]*memConn),
		blocked: make(map[string]bool),
	}
}

// Dialer возвращает Dialer пользователя
func (n *MemoryNetwork) Dialer(userID string) Dialer {
	return memDialer{net: n, userID: userID}
}

// Drop обрывает соединение пользователя, имитируя сбой сети
func (n *MemoryNetwork) Drop(userID string) bool {
	n.mu.Lock()
	c, ok := n.conns[userID]
	n.mu.Unlock()
	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

// Block запрещает или разрешает новые подключения пользователя
func (n *MemoryNetwork) Block(userID string, blocked bool) {
	n.mu.Lock()
	n.blocked[userID] = blocked
	n.mu.Unlock()
}

// Connected сообщает подключен ли пользователь
func (n *MemoryNetwork) Connected(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.conns[userID]
	return ok
}

func (n *MemoryNetwork) register(c *memConn) error {
	n.mu.Lock()
	if n.blocked[c.userID] {
		n.mu.Unlock()
		return errors.New("memnet: connection refused")
	}
	prev := n.conns[c.userID]
	n.conns[c.userID] = c
	n.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (n *MemoryNetwork) unregister(c *memConn) {
	n.mu.Lock()
	if n.conns[c.userID] == c {
		delete(n.conns, c.userID)
	}
	n.mu.Unlock()
}

func (n *MemoryNetwork) route(ctx context.Context, data []byte) error {
	var envelope struct {
		ToID string `json:"toId"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	n.mu.Lock()
	target, ok := n.conns[envelope.ToID]
	n.mu.Unlock()
	if !ok {
		n.log.Debug("recipient is offline, dropping message", zap.String("to_id", envelope.ToID))
		return nil
	}

	buf := append([]byte(nil), data...)
	select {
	case target.inbox <- buf:
		return nil
	case <-target.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type memDialer struct {
	net    *MemoryNetwork
	userID string
}

func (d memDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &memConn{
		net:    d.net,
		userID: d.userID,
		inbox:  make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
	if err := d.net.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

type memConn struct {
	net    *MemoryNetwork
	userID string
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *memConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *memConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	return c.net.route(ctx, data)
}

func (c *memConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.net.unregister(c)
	})
	return nil
}
