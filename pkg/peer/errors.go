package peer

import (
	"errors"
	"fmt"
)

// NegotiationErrorCode код ошибки согласования
type NegotiationErrorCode int

const (
	// ErrorCodeDescriptionRejected удаленное описание не принято
	ErrorCodeDescriptionRejected NegotiationErrorCode = iota + 4000
	// ErrorCodeDescriptionFailed не удалось создать или применить локальное описание
	ErrorCodeDescriptionFailed
	// ErrorCodeICEFailed связность потеряна и не восстановлена
	ErrorCodeICEFailed
	// ErrorCodeICETimeout связность не установлена за отведенное время
	ErrorCodeICETimeout
	// ErrorCodeWrongRole операция не соответствует роли соединения
	ErrorCodeWrongRole
)

func (code NegotiationErrorCode) String() string {
	switch code {
	case ErrorCodeDescriptionRejected:
		return "description-rejected"
	case ErrorCodeDescriptionFailed:
		return "description-failed"
	case ErrorCodeICEFailed:
		return "ice-failed"
	case ErrorCodeICETimeout:
		return "ice-timeout"
	case ErrorCodeWrongRole:
		return "wrong-role"
	default:
		return fmt.Sprintf("NegotiationErrorCode(%d)", int(code))
	}
}

// NegotiationError ошибка согласования соединения с участником
type NegotiationError struct {
	Code          NegotiationErrorCode
	ParticipantID string
	Message       string
	Wrapped       error
}

func (e *NegotiationError) Error() string {
	msg := fmt.Sprintf("[negotiation:%s] participant %s: %s", e.Code, e.ParticipantID, e.Message)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *NegotiationError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *NegotiationError) Is(target error) bool {
	if t, ok := target.(*NegotiationError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNegotiationError создает ошибку согласования
func NewNegotiationError(code NegotiationErrorCode, participantID, message string, cause error) *NegotiationError {
	return &NegotiationError{Code: code, ParticipantID: participantID, Message: message, Wrapped: cause}
}

// Образцы для errors.Is
var (
	ErrDescriptionRejected = &NegotiationError{Code: ErrorCodeDescriptionRejected}
	ErrICEFailed           = &NegotiationError{Code: ErrorCodeICEFailed}
	ErrICETimeout          = &NegotiationError{Code: ErrorCodeICETimeout}
	ErrWrongRole           = &NegotiationError{Code: ErrorCodeWrongRole}
)

var (
	ErrMediaNotAcquired   = errors.New("peer: local media is not acquired")
	ErrUnknownParticipant = errors.New("peer: unknown participant")
	ErrConnectionClosed   = errors.New("peer: connection closed")
)
