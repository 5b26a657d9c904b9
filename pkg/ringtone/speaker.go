//go:build cgo

package ringtone

import (
	"encoding/binary"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SpeakerSink воспроизводит сигналы через системное аудио устройство (miniaudio)
type SpeakerSink struct {
	log *zap.Logger
	ctx *malgo.AllocatedContext

	// devMu сериализует управление устройством, mu защищает состояние
	// воспроизведения и берется из аудио потока
	devMu      sync.Mutex
	device     *malgo.Device
	sampleRate int

	mu   sync.Mutex
	clip *Clip
	pos  int
}

var _ Sink = (*SpeakerSink)(nil)

// NewSpeakerSink инициализирует аудио контекст
func NewSpeakerSink(logger *zap.Logger) (*SpeakerSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("speaker")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, errors.Wrap(err, "init audio context")
	}
	return &SpeakerSink{log: log, ctx: ctx}, nil
}

func (s *SpeakerSink) Play(clip *Clip) error {
	if clip == nil || len(clip.Samples) == 0 {
		return errors.New("empty clip")
	}

	s.mu.Lock()
	if s.clip != clip {
		s.clip = clip
		s.pos = 0
	}
	s.mu.Unlock()

	s.devMu.Lock()
	defer s.devMu.Unlock()

	if s.device != nil && s.sampleRate != clip.SampleRate {
		s.device.Uninit()
		s.device = nil
	}
	if s.device == nil {
		cfg := malgo.DefaultDeviceConfig(malgo.Playback)
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = 1
		cfg.SampleRate = uint32(clip.SampleRate)

		dev, err := malgo.InitDevice(s.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.fill})
		if err != nil {
			return errors.Wrap(err, "init playback device")
		}
		s.device = dev
		s.sampleRate = clip.SampleRate
	}
	return errors.Wrap(s.device.Start(), "start playback device")
}

func (s *SpeakerSink) Pause() error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.device == nil || !s.device.IsStarted() {
		return nil
	}
	return errors.Wrap(s.device.Stop(), "stop playback device")
}

func (s *SpeakerSink) Rewind() {
	s.mu.Lock()
	s.pos = 0
	s.mu.Unlock()
}

// Close освобождает устройство и аудио контекст
func (s *SpeakerSink) Close() error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

// fill вызывается аудио потоком miniaudio
func (s *SpeakerSink) fill(out, _ []byte, frames uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clip == nil || len(s.clip.Samples) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	for i := 0; i < int(frames) && 2*i+1 < len(out); i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s.clip.Samples[s.pos]))
		s.pos = (s.pos + 1) % len(s.clip.Samples)
	}
}
