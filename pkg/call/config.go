package call

import (
	"time"

	"github.com/pkg/errors"
)

// Config конфигурация движка звонков
type Config struct {
	// SelfID идентификатор локального пользователя в сигнальном протоколе
	SelfID string

	// AcquireTimeout ожидание захвата устройств перед отправкой приглашения
	AcquireTimeout time.Duration
	// RingTimeout ожидание ответа на исходящий звонок
	RingTimeout time.Duration
	// IncomingRingTimeout ожидание решения пользователя по входящему звонку
	IncomingRingTimeout time.Duration
	// ConnectTimeout установление связности после принятия звонка
	ConnectTimeout time.Duration
	// ICERestartTimeout восстановление связности после ICE restart
	ICERestartTimeout time.Duration
	// SignalingGrace ожидание восстановления сигнального соединения
	SignalingGrace time.Duration

	// SendTimeout таймаут отправки одного сигнального сообщения
	SendTimeout time.Duration
	// DurationTick период публикации длительности активного звонка
	DurationTick time.Duration
	// InboxSize размер очереди событий движка
	InboxSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig(selfID string) Config {
	return Config{
		SelfID:              selfID,
		AcquireTimeout:      30 * time.Second,
		RingTimeout:         45 * time.Second,
		IncomingRingTimeout: 45 * time.Second,
		ConnectTimeout:      30 * time.Second,
		ICERestartTimeout:   15 * time.Second,
		SignalingGrace:      15 * time.Second,
		SendTimeout:         5 * time.Second,
		DurationTick:        time.Second,
		InboxSize:           256,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.SelfID == "" {
		return errors.New("self id is required")
	}
	durations := map[string]time.Duration{
		"acquire timeout":       c.AcquireTimeout,
		"ring timeout":          c.RingTimeout,
		"incoming ring timeout": c.IncomingRingTimeout,
		"connect timeout":       c.ConnectTimeout,
		"ice restart timeout":   c.ICERestartTimeout,
		"signaling grace":       c.SignalingGrace,
		"send timeout":          c.SendTimeout,
		"duration tick":         c.DurationTick,
	}
	for name, d := range durations {
		if d <= 0 {
			return errors.Errorf("%s must be positive", name)
		}
	}
	if c.InboxSize <= 0 {
		return errors.New("inbox size must be positive")
	}
	return nil
}
