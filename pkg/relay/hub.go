// Package relay ретранслятор сигнальных сообщений между клиентами.
//
// Клиент подключается по WebSocket, идентификатор пользователя берется из
// заголовка Authorization: Bearer. Сообщения пересылаются без изменений
// получателю из поля toId.
package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/signaling"
)

const sendBuffer = 256

// Options параметры ретранслятора
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	WS         signaling.WSOptions
	// CheckOrigin проверка заголовка Origin, nil разрешает любой
	CheckOrigin func(r *http.Request) bool
}

type client struct {
	id   string
	conn *signaling.WSConn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub реестр подключенных клиентов
type Hub struct {
	log      *zap.Logger
	opts     signaling.WSOptions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	connected prometheus.Gauge
	routed    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewHub создает ретранслятор
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	log := opts.Logger.Named("relay")
	opts.WS.Logger = log

	factory := promauto.With(reg)
	return &Hub{
		log:  log,
		opts: opts.WS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*client),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "call_engine",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Number of connected signaling clients",
		}),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "relay",
			Name:      "messages_routed_total",
			Help:      "Messages delivered to recipients by type",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Messages not delivered by reason",
		}, []string{"reason"}),
	}
}

// Online проверяет подключение пользователя
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Count количество подключенных клиентов
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP принимает WebSocket подключение клиента
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := bearer(r)
	if userID == "" {
		http.Error(w, "missing bearer credential", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{
		id:   userID,
		conn: signaling.NewWSConn(ws, h.opts),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close отключает всех клиентов
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.connected.Set(0)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	prev := h.clients[c.id]
	h.clients[c.id] = c
	h.mu.Unlock()

	if prev != nil {
		h.log.Info("client replaced by new connection", zap.String("user_id", c.id))
		prev.close()
	} else {
		h.connected.Inc()
	}
	h.log.Info("client connected", zap.String("user_id", c.id))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current := h.clients[c.id] == c
	if current {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	c.close()
	if current {
		h.connected.Dec()
		h.log.Info("client disconnected", zap.String("user_id", c.id))
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("client read failed", zap.String("user_id", c.id), zap.Error(err))
			}
			return
		}
		h.route(c, data)
	}
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.conn.WriteMessage(ctx, data)
			cancel()
			if err != nil {
				h.log.Debug("client write failed", zap.String("user_id", c.id), zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) route(from *client, data []byte) {
	msg, err := signaling.Decode(data)
	if err != nil {
		h.drop("malformed", from.id, "", err)
		return
	}
	if msg.FromID != from.id {
		h.drop("spoofed", from.id, msg.ToID, nil)
		return
	}

	h.mu.RLock()
	to, ok := h.clients[msg.ToID]
	h.mu.RUnlock()
	if !ok {
		h.drop("offline", from.id, msg.ToID, nil)
		return
	}

	select {
	case to.send <- data:
		h.routed.WithLabelValues(string(msg.Type)).Inc()
	case <-to.done:
		h.drop("offline", from.id, msg.ToID, nil)
	default:
		h.drop("overflow", from.id, msg.ToID, nil)
	}
}

func (h *Hub) drop(reason, fromID, toID string, err error) {
	h.dropped.WithLabelValues(reason).Inc()
	h.log.Debug("message dropped",
		zap.String("reason", reason),
		zap.String("from_id", fromID),
		zap.String("to_id", toID),
		zap.Error(err))
}

func bearer(r *http.Request) string {
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
