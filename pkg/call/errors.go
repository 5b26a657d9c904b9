package call

import (
	"errors"
	"fmt"
)

var (
	// ErrCallInProgress новый звонок при уже идущем
	ErrCallInProgress = errors.New("call: another call is in progress")
	// ErrCommandIgnored команда недопустима в текущей фазе, состояние не изменено
	ErrCommandIgnored = errors.New("call: command ignored in current phase")
	// ErrEngineClosed движок остановлен
	ErrEngineClosed = errors.New("call: engine is closed")
	// ErrInvalidArgument некорректные параметры команды
	ErrInvalidArgument = errors.New("call: invalid argument")
)

// CommandError команда отклонена как недопустимая для фазы
type CommandError struct {
	Command string
	Phase   Phase
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("call: command %s ignored in phase %s", e.Command, e.Phase)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrCommandIgnored)
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandIgnored
}

// ProtocolErrorCode код нарушения протокола
type ProtocolErrorCode int

const (
	// ErrorCodeUnknownSession сообщение для неизвестной сессии
	ErrorCodeUnknownSession ProtocolErrorCode = iota + 5000
	// ErrorCodeEndedSession сообщение для завершенной сессии
	ErrorCodeEndedSession
	// ErrorCodeUnexpectedSender отправитель не участвует в сессии
	ErrorCodeUnexpectedSender
	// ErrorCodeUnexpectedMessage сообщение недопустимо в текущей фазе
	ErrorCodeUnexpectedMessage
)

func (code ProtocolErrorCode) String() string {
	switch code {
	case ErrorCodeUnknownSession:
		return "unknown-session"
	case ErrorCodeEndedSession:
		return "ended-session"
	case ErrorCodeUnexpectedSender:
		return "unexpected-sender"
	case ErrorCodeUnexpectedMessage:
		return "unexpected-message"
	default:
		return fmt.Sprintf("ProtocolErrorCode(%d)", int(code))
	}
}

// ProtocolError входящее сообщение нарушает протокол. Такие сообщения
// записываются в лог и игнорируются.
type ProtocolError struct {
	Code        ProtocolErrorCode
	SessionID   string
	FromID      string
	MessageType string
	Phase       Phase
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("[protocol:%s] %s from %s for session %s in phase %s",
		e.Code, e.MessageType, e.FromID, e.SessionID, e.Phase)
}

// Is сравнивает ошибки по коду
func (e *ProtocolError) Is(target error) bool {
	if t, ok := target.(*ProtocolError); ok {
		return e.Code == t.Code
	}
	return false
}
