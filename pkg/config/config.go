// Package config собирает конфигурацию программ из переменных окружения.
//
// Компоненты модуля принимают собственные Config структуры, этот пакет
// только заполняет их значениями окружения поверх DefaultConfig.
package config

import (
	"github.com/pkg/errors"

	"github.com/arzzra/call_engine/pkg/call"
	"github.com/arzzra/call_engine/pkg/logger"
	"github.com/arzzra/call_engine/pkg/pionrtc"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/signaling"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

// Softphone конфигурация консольного софтфона
type Softphone struct {
	UserID string
	// Credential передается ретранслятору в заголовке Authorization
	Credential   string
	SignalingURL string
	ICEServers   []rtc.ICEServer

	Call      call.Config
	Signaling signaling.Config
	Platform  pionrtc.Config
	Log       logger.Config

	// Ringtone включает воспроизведение через динамик
	Ringtone    bool
	MetricsAddr string
}

// LoadSoftphone читает конфигурацию софтфона
func LoadSoftphone() (Softphone, error) {
	userID := GetString("USER_ID", "")
	cfg := Softphone{
		UserID:       userID,
		Credential:   GetString("SIGNALING_CREDENTIAL", userID),
		SignalingURL: GetString("SIGNALING_URL", "ws://127.0.0.1:8080/ws"),
		ICEServers:   loadICEServers(),
		Call:         loadCall(userID),
		Signaling:    loadSignaling(),
		Platform:     loadPlatform(),
		Log:          loadLog(),
		Ringtone:     GetBool("RINGTONE_ENABLED", true),
		MetricsAddr:  GetString("METRICS_ADDR", ""),
	}
	return cfg, cfg.Validate()
}

// Validate проверяет конфигурацию софтфона
func (c Softphone) Validate() error {
	if c.UserID == "" {
		return errors.New("USER_ID is required")
	}
	if c.SignalingURL == "" {
		return errors.New("SIGNALING_URL is required")
	}
	if err := c.Call.Validate(); err != nil {
		return errors.Wrap(err, "call config")
	}
	if err := c.Signaling.Validate(); err != nil {
		return errors.Wrap(err, "signaling config")
	}
	if err := c.Platform.Validate(); err != nil {
		return errors.Wrap(err, "platform config")
	}
	return nil
}

// Relay конфигурация сигнального ретранслятора
type Relay struct {
	Addr string
	Log  logger.Config
}

// LoadRelay читает конфигурацию ретранслятора
func LoadRelay() (Relay, error) {
	cfg := Relay{
		Addr: GetString("RELAY_ADDR", ":8080"),
		Log:  loadLog(),
	}
	if cfg.Addr == "" {
		return cfg, errors.New("RELAY_ADDR is required")
	}
	return cfg, nil
}

func loadLog() logger.Config {
	return logger.Config{
		Level:  GetString("LOG_LEVEL", "info"),
		Format: GetString("LOG_FORMAT", "console"),
	}
}

func loadICEServers() []rtc.ICEServer {
	urls := GetList("ICE_SERVERS", []string{defaultSTUN})
	if len(urls) == 0 {
		return nil
	}
	return []rtc.ICEServer{{
		URLs:       urls,
		Username:   GetString("ICE_USERNAME", ""),
		Credential: GetString("ICE_CREDENTIAL", ""),
	}}
}

func loadCall(userID string) call.Config {
	d := call.DefaultConfig(userID)
	return call.Config{
		SelfID:              userID,
		AcquireTimeout:      GetDuration("CALL_ACQUIRE_TIMEOUT", d.AcquireTimeout),
		RingTimeout:         GetDuration("CALL_RING_TIMEOUT", d.RingTimeout),
		IncomingRingTimeout: GetDuration("CALL_INCOMING_RING_TIMEOUT", d.IncomingRingTimeout),
		ConnectTimeout:      GetDuration("CALL_CONNECT_TIMEOUT", d.ConnectTimeout),
		ICERestartTimeout:   GetDuration("CALL_ICE_RESTART_TIMEOUT", d.ICERestartTimeout),
		SignalingGrace:      GetDuration("CALL_SIGNALING_GRACE", d.SignalingGrace),
		SendTimeout:         GetDuration("CALL_SEND_TIMEOUT", d.SendTimeout),
		DurationTick:        d.DurationTick,
		InboxSize:           GetInt("CALL_INBOX_SIZE", d.InboxSize),
	}
}

func loadSignaling() signaling.Config {
	cfg := signaling.DefaultConfig()
	cfg.Reconnect = GetBool("SIGNALING_RECONNECT", cfg.Reconnect)
	cfg.ReconnectMin = GetDuration("SIGNALING_RECONNECT_MIN", cfg.ReconnectMin)
	cfg.ReconnectMax = GetDuration("SIGNALING_RECONNECT_MAX", cfg.ReconnectMax)
	return cfg
}

func loadPlatform() pionrtc.Config {
	cfg := pionrtc.DefaultConfig()
	cfg.PortMin = uint16(GetInt("RTC_PORT_MIN", 0))
	cfg.PortMax = uint16(GetInt("RTC_PORT_MAX", 0))
	cfg.ICEDisconnectedTimeout = GetDuration("RTC_ICE_DISCONNECTED_TIMEOUT", cfg.ICEDisconnectedTimeout)
	cfg.ICEFailedTimeout = GetDuration("RTC_ICE_FAILED_TIMEOUT", cfg.ICEFailedTimeout)
	cfg.VideoBitRate = GetInt("RTC_VIDEO_BITRATE", cfg.VideoBitRate)
	return cfg
}
