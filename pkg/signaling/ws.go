package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WSOptions параметры WebSocket соединения
type WSOptions struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Logger       *zap.Logger
}

// DefaultWSOptions значения по умолчанию
func DefaultWSOptions() WSOptions {
	return WSOptions{
		PingInterval: 20 * time.Second,
		PongWait:     45 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadLimit:    1 << 20,
	}
}

func (o WSOptions) withDefaults() WSOptions {
	d := DefaultWSOptions()
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait / 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// WSDialer подключается к сигнальному серверу по WebSocket.
// Учетные данные передаются заголовком Authorization: Bearer.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Options          WSOptions
}

var _ Dialer = (*WSDialer)(nil)

func (d *WSDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake failed with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "websocket dial")
	}
	return NewWSConn(conn, d.Options), nil
}

// WSConn Conn поверх gorilla/websocket. Используется и клиентом, и ретранслятором.
type WSConn struct {
	conn *websocket.Conn
	opts WSOptions

	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

// NewWSConn оборачивает установленное соединение и запускает ping
func NewWSConn(conn *websocket.Conn, opts WSOptions) *WSConn {
	opts = opts.withDefaults()
	c := &WSConn{conn: conn, opts: opts, stop: make(chan struct{})}

	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.pingLoop()
	return c
}

// ReadMessage возвращает следующее текстовое сообщение
func (c *WSConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteMessage пишет текстовое сообщение с учетом дедлайна контекста
func (c *WSConn) WriteMessage(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)

		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.opts.WriteTimeout)
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.opts.Logger.Debug("websocket ping failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}
