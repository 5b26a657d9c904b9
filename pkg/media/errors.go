package media

import (
	"errors"
	"fmt"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// DeviceErrorCode типизированный код ошибки устройства захвата
type DeviceErrorCode int

const (
	// ErrorCodePermissionDenied пользователь или система запретили доступ к устройству
	ErrorCodePermissionDenied DeviceErrorCode = iota + 2000
	// ErrorCodeNotFound подходящее устройство отсутствует
	ErrorCodeNotFound
	// ErrorCodeInUse устройство занято другим приложением
	ErrorCodeInUse
	// ErrorCodeTimeout захват не завершился за отведенное время
	ErrorCodeTimeout
)

// String возвращает строковое представление кода ошибки
func (code DeviceErrorCode) String() string {
	switch code {
	case ErrorCodePermissionDenied:
		return "permission-denied"
	case ErrorCodeNotFound:
		return "not-found"
	case ErrorCodeInUse:
		return "in-use"
	case ErrorCodeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("DeviceErrorCode(%d)", int(code))
	}
}

// DeviceError ошибка захвата локальных устройств.
//
// Содержит код ошибки, источник (микрофон, камера, экран) и исходную
// ошибку платформы.
type DeviceError struct {
	Code    DeviceErrorCode
	Source  rtc.Source
	Message string
	Wrapped error
}

// Error реализует интерфейс error
func (e *DeviceError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("[device:%s] %s: %s", e.Code, e.Source, e.Message)
	}
	return fmt.Sprintf("[device:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *DeviceError) Unwrap() error {
	return e.Wrapped
}

// Is позволяет сравнивать ошибки по коду через errors.Is
func (e *DeviceError) Is(target error) bool {
	if t, ok := target.(*DeviceError); ok {
		return e.Code == t.Code
	}
	return false
}

// Образцы для errors.Is
var (
	ErrPermissionDenied = &DeviceError{Code: ErrorCodePermissionDenied}
	ErrNotFound         = &DeviceError{Code: ErrorCodeNotFound}
	ErrInUse            = &DeviceError{Code: ErrorCodeInUse}
	ErrTimeout          = &DeviceError{Code: ErrorCodeTimeout}
)

// Ошибки состояния контроллера
var (
	ErrNotAcquired      = errors.New("media: local media is not acquired")
	ErrNoVideo          = errors.New("media: call has no video")
	ErrAcquireCancelled = errors.New("media: acquisition cancelled")
)

// WrapDeviceError классифицирует ошибку платформы
func WrapDeviceError(source rtc.Source, err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}

	code := ErrorCodeNotFound
	switch {
	case errors.Is(err, rtc.ErrPermissionDenied):
		code = ErrorCodePermissionDenied
	case errors.Is(err, rtc.ErrDeviceInUse):
		code = ErrorCodeInUse
	}
	return &DeviceError{Code: code, Source: source, Message: err.Error(), Wrapped: err}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code DeviceErrorCode) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// GetErrorSuggestion возвращает подсказку для пользователя
func GetErrorSuggestion(err error) string {
	var de *DeviceError
	if !errors.As(err, &de) {
		return "Проверьте подключение устройств и логи"
	}
	switch de.Code {
	case ErrorCodePermissionDenied:
		return "Разрешите доступ к камере и микрофону в настройках системы"
	case ErrorCodeNotFound:
		return "Подключите микрофон или камеру"
	case ErrorCodeInUse:
		return "Закройте приложение, которое использует устройство"
	case ErrorCodeTimeout:
		return "Ответьте на запрос доступа к устройствам и повторите звонок"
	default:
		return "Проверьте подключение устройств и логи"
	}
}
