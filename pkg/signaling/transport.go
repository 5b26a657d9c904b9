package signaling

import "context"

// State состояние подключения транспорта
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Event событие транспорта: входящее сообщение либо смена состояния
type Event struct {
	Message *Message
	State   State
}

// IsState сообщает что событие описывает смену состояния
func (e Event) IsState() bool {
	return e.Message == nil
}

// Transport сигнальный транспорт, которым пользуется движок звонков
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	// Subscribe возвращает канал событий и функцию отписки
	Subscribe() (<-chan Event, func())
	State() State
}

// Conn двунаправленное соединение, передающее закодированные сообщения
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer устанавливает соединение с сигнальным сервером
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}
