package media

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// LocalStream снимок локального медиа состояния
type LocalStream struct {
	Kind  rtc.CallKind
	Audio rtc.LocalTrack
	// Video исходящий видео слот: камера или экран
	Video         rtc.LocalTrack
	Muted         bool
	VideoEnabled  bool
	ScreenSharing bool
}

// Tracks возвращает треки для прикрепления к соединению
func (s LocalStream) Tracks() []rtc.LocalTrack {
	var out []rtc.LocalTrack
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// Options дополнительные параметры контроллера
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Controller контроллер локальных устройств
type Controller struct {
	capture rtc.Capturer
	log     *zap.Logger
	metrics *metrics

	// acquireMu сериализует захваты, чтобы устройство не открывалось дважды
	acquireMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	held   bool
	kind   rtc.CallKind
	audio  rtc.LocalTrack
	video  rtc.LocalTrack
	camera rtc.LocalTrack // сохраненная камера на время демонстрации экрана

	muted    bool
	videoOff bool
	sharing  bool

	onScreenEnded func()
}

// NewController создает контроллер поверх возможностей захвата платформы
func NewController(capture rtc.Capturer, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		capture: capture,
		log:     opts.Logger.Named("media"),
		metrics: newMetrics(opts.Registerer),
	}
}

// Acquire захватывает устройства для звонка указанного типа
func (c *Controller) Acquire(ctx context.Context, kind rtc.CallKind) (LocalStream, error) {
	if !kind.Valid() {
		return LocalStream{}, errors.Errorf("unknown call kind %q", kind)
	}

	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	if c.held && c.kind == kind {
		s := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Debug("reusing local media", zap.String("kind", string(kind)))
		return s, nil
	}
	if c.held {
		c.log.Debug("releasing local media of another kind",
			zap.String("held", string(c.kind)), zap.String("requested", string(kind)))
		c.releaseLocked()
	}
	gen := c.gen
	c.mu.Unlock()

	tracks, err := c.capture.GetUserMedia(ctx, rtc.Constraints{Audio: true, Video: kind == rtc.CallVideo})
	if err != nil {
		source := rtc.SourceMicrophone
		if kind == rtc.CallVideo {
			source = rtc.SourceCamera
		}
		de := WrapDeviceError(source, err)
		c.metrics.acquisitions.WithLabelValues(string(kind), de.Code.String()).Inc()
		c.log.Warn("local media acquisition failed",
			zap.String("kind", string(kind)), zap.Stringer("code", de.Code), zap.Error(err))
		return LocalStream{}, de
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil || gen != c.gen {
		stopAll(tracks)
		c.metrics.acquisitions.WithLabelValues(string(kind), "cancelled").Inc()
		c.log.Debug("discarding late local media", zap.String("kind", string(kind)))
		if ctx.Err() != nil {
			return LocalStream{}, errors.Wrap(ErrAcquireCancelled, ctx.Err().Error())
		}
		return LocalStream{}, ErrAcquireCancelled
	}

	for _, t := range tracks {
		switch t.Kind() {
		case rtc.TrackAudio:
			c.audio = t
		case rtc.TrackVideo:
			c.video = t
		}
	}
	if c.audio == nil || (kind == rtc.CallVideo && c.video == nil) {
		stopAll(tracks)
		c.audio, c.video = nil, nil
		c.metrics.acquisitions.WithLabelValues(string(kind), ErrorCodeNotFound.String()).Inc()
		return LocalStream{}, &DeviceError{Code: ErrorCodeNotFound, Message: "platform returned incomplete media"}
	}

	c.held = true
	c.kind = kind
	c.muted, c.videoOff, c.sharing = false, false, false
	c.metrics.acquisitions.WithLabelValues(string(kind), "ok").Inc()
	c.metrics.held.Set(1)
	c.log.Info("local media acquired", zap.String("kind", string(kind)), zap.Int("tracks", len(tracks)))
	return c.snapshotLocked(), nil
}

// Stream возвращает текущее состояние, если устройства захвачены
func (c *Controller) Stream() (LocalStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return LocalStream{}, false
	}
	return c.snapshotLocked(), true
}

// ToggleMute переключает передачу звука и возвращает новое состояние mute
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held || c.audio == nil {
		return false, ErrNotAcquired
	}
	c.muted = !c.muted
	c.audio.SetEnabled(!c.muted)
	return c.muted, nil
}

// ToggleVideo переключает передачу видео и возвращает признак включенного видео
func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return false, ErrNotAcquired
	}
	if c.video == nil {
		return false, ErrNoVideo
	}
	c.videoOff = !c.videoOff
	c.video.SetEnabled(!c.videoOff)
	return !c.videoOff, nil
}

// ScreenSharing сообщает идет ли демонстрация экрана
func (c *Controller) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// OnScreenShareEnded регистрирует обработчик остановки демонстрации источником
func (c *Controller) OnScreenShareEnded(fn func()) {
	c.mu.Lock()
	c.onScreenEnded = fn
	c.mu.Unlock()
}

// StartScreenShare подменяет исходящую камеру экраном и возвращает трек экрана
func (c *Controller) StartScreenShare(ctx context.Context) (rtc.LocalTrack, error) {
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	switch {
	case !c.held:
		c.mu.Unlock()
		return nil, ErrNotAcquired
	case c.kind != rtc.CallVideo:
		c.mu.Unlock()
		return nil, ErrNoVideo
	case c.sharing:
		t := c.video
		c.mu.Unlock()
		return t, nil
	}
	gen := c.gen
	c.mu.Unlock()

	screen, err := c.capture.GetDisplayMedia(ctx)
	if err != nil {
		de := WrapDeviceError(rtc.SourceScreen, err)
		c.log.Warn("screen capture failed", zap.Stringer("code", de.Code), zap.Error(err))
		return nil, de
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || gen != c.gen {
		_ = screen.Stop()
		return nil, ErrAcquireCancelled
	}

	c.camera = c.video
	c.video = screen
	c.sharing = true
	screen.SetEnabled(!c.videoOff)
	screen.OnEnded(func() { c.screenEnded(screen) })
	c.metrics.screenShares.Inc()
	c.log.Info("screen share started", zap.String("track_id", screen.ID()))
	return screen, nil
}

// StopScreenShare возвращает камеру в исходящий видео слот.
// Если камера была остановлена, она захватывается заново.
func (c *Controller) StopScreenShare(ctx context.Context) (rtc.LocalTrack, error) {
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		return nil, ErrNotAcquired
	}
	if !c.sharing {
		t := c.video
		c.mu.Unlock()
		return t, nil
	}
	camera := c.camera
	gen := c.gen
	c.mu.Unlock()

	if camera == nil || camera.Ended() {
		tracks, err := c.capture.GetUserMedia(ctx, rtc.Constraints{Video: true})
		if err != nil {
			c.mu.Lock()
			c.dropScreenLocked()
			c.video = nil
			c.mu.Unlock()
			return nil, WrapDeviceError(rtc.SourceCamera, err)
		}
		camera = nil
		for _, t := range tracks {
			if t.Kind() == rtc.TrackVideo && camera == nil {
				camera = t
				continue
			}
			_ = t.Stop()
		}
		if camera == nil {
			c.mu.Lock()
			c.dropScreenLocked()
			c.video = nil
			c.mu.Unlock()
			return nil, &DeviceError{Code: ErrorCodeNotFound, Source: rtc.SourceCamera, Message: "camera is not available"}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if camera != c.camera {
			_ = camera.Stop()
		}
		return nil, ErrAcquireCancelled
	}
	c.dropScreenLocked()
	c.video = camera
	camera.SetEnabled(!c.videoOff)
	c.log.Info("screen share stopped", zap.String("camera_track_id", camera.ID()))
	return camera, nil
}

// dropScreenLocked останавливает экран, слот видео вызывающий код заполняет сам
func (c *Controller) dropScreenLocked() {
	if c.sharing && c.video != nil {
		_ = c.video.Stop()
	}
	c.sharing = false
	c.camera = nil
}

func (c *Controller) screenEnded(screen rtc.LocalTrack) {
	c.mu.Lock()
	if !c.sharing || c.video != screen {
		c.mu.Unlock()
		return
	}
	fn := c.onScreenEnded
	c.mu.Unlock()

	c.log.Info("screen share ended by source", zap.String("track_id", screen.ID()))
	if fn != nil {
		fn()
	}
}

// Release останавливает все локальные треки. Повторный вызов безопасен.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

func (c *Controller) releaseLocked() {
	c.gen++
	if !c.held {
		return
	}
	for _, t := range []rtc.LocalTrack{c.audio, c.video, c.camera} {
		if t != nil {
			if err := t.Stop(); err != nil {
				c.log.Debug("track stop failed", zap.String("track_id", t.ID()), zap.Error(err))
			}
		}
	}
	c.audio, c.video, c.camera = nil, nil, nil
	c.held = false
	c.kind = ""
	c.muted, c.videoOff, c.sharing = false, false, false
	c.metrics.releases.Inc()
	c.metrics.held.Set(0)
	c.log.Info("local media released")
}

func (c *Controller) snapshotLocked() LocalStream {
	return LocalStream{
		Kind:          c.kind,
		Audio:         c.audio,
		Video:         c.video,
		Muted:         c.muted,
		VideoEnabled:  c.video != nil && !c.videoOff,
		ScreenSharing: c.sharing,
	}
}

func stopAll(tracks []rtc.LocalTrack) {
	for _, t := range tracks {
		_ = t.Stop()
	}
}
