package pionrtc

import (
	"context"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// Config параметры платформы
type Config struct {
	// ICEDisconnectedTimeout время без ответов до состояния disconnected
	ICEDisconnectedTimeout time.Duration
	// ICEFailedTimeout время в disconnected до состояния failed
	ICEFailedTimeout time.Duration
	ICEKeepalive     time.Duration

	// PortMin и PortMax ограничивают локальные UDP порты, 0 без ограничений
	PortMin uint16
	PortMax uint16

	// VideoBitRate целевой битрейт VP8 в бит/с
	VideoBitRate int
	// MaxWidth и MaxHeight ограничивают разрешение камеры
	MaxWidth  int
	MaxHeight int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ICEDisconnectedTimeout: 5 * time.Second,
		ICEFailedTimeout:       25 * time.Second,
		ICEKeepalive:           2 * time.Second,
		VideoBitRate:           1_500_000,
		MaxWidth:               640,
		MaxHeight:              480,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.ICEDisconnectedTimeout <= 0 || c.ICEFailedTimeout <= 0 || c.ICEKeepalive <= 0 {
		return errors.New("ice timeouts must be positive")
	}
	if (c.PortMin == 0) != (c.PortMax == 0) || c.PortMin > c.PortMax {
		return errors.Errorf("invalid udp port range %d-%d", c.PortMin, c.PortMax)
	}
	return nil
}

// Platform медиа платформа на pion
type Platform struct {
	api     *webrtc.API
	capture capturer
	log     *zap.Logger
}

var _ rtc.Platform = (*Platform)(nil)

// NewPlatform создает платформу
func NewPlatform(cfg Config, logger *zap.Logger) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid platform config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("pionrtc")

	mediaEngine := &webrtc.MediaEngine{}
	capture, err := newCapturer(mediaEngine, cfg, log)
	if err != nil {
		return nil, errors.Wrap(err, "init media capture")
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.ICEDisconnectedTimeout, cfg.ICEFailedTimeout, cfg.ICEKeepalive)
	if cfg.PortMin != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, errors.Wrap(err, "set udp port range")
		}
	}

	return &Platform{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		capture: capture,
		log:     log,
	}, nil
}

func (p *Platform) NewPeerConnection(ctx context.Context, cfg rtc.Config) (rtc.PeerConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := p.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: toPionICEServers(cfg.ICEServers),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	if !p.capture.available() {
		// без захвата нужны recvonly секции, иначе описание будет без m-line
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, errors.Wrapf(err, "add %s transceiver", kind)
			}
		}
	}
	return newPeerConnection(pc, p.log), nil
}

func (p *Platform) GetUserMedia(ctx context.Context, c rtc.Constraints) ([]rtc.LocalTrack, error) {
	return p.capture.userMedia(ctx, c)
}

func (p *Platform) GetDisplayMedia(ctx context.Context) (rtc.LocalTrack, error) {
	return p.capture.displayMedia(ctx)
}

// capturer захват устройств, реализация зависит от платформы сборки
type capturer interface {
	available() bool
	userMedia(ctx context.Context, c rtc.Constraints) ([]rtc.LocalTrack, error)
	displayMedia(ctx context.Context) (rtc.LocalTrack, error)
}
