package signaling

import "fmt"

// ErrorCode код ошибки сигнального транспорта
type ErrorCode int

const (
	// ErrorCodeDisconnected транспорт не подключен
	ErrorCodeDisconnected ErrorCode = iota + 3000
	// ErrorCodeMalformed сообщение не разбирается или не проходит проверку
	ErrorCodeMalformed
	// ErrorCodeSendFailed ошибка записи в соединение
	ErrorCodeSendFailed
	// ErrorCodeDialFailed не удалось установить соединение
	ErrorCodeDialFailed
)

func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeDisconnected:
		return "disconnected"
	case ErrorCodeMalformed:
		return "malformed"
	case ErrorCodeSendFailed:
		return "send-failed"
	case ErrorCodeDialFailed:
		return "dial-failed"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(code))
	}
}

// Error ошибка сигнального транспорта
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[signaling:%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[signaling:%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Образцы для errors.Is
var (
	ErrDisconnected = &Error{Code: ErrorCodeDisconnected, Message: "transport is disconnected"}
	ErrMalformed    = &Error{Code: ErrorCodeMalformed, Message: "malformed message"}
)

func malformed(msg string) error {
	return &Error{Code: ErrorCodeMalformed, Message: msg}
}
