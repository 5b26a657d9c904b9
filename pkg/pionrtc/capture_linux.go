//go:build linux && cgo

package pionrtc

import (
	"context"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

type deviceCapturer struct {
	selector *mediadevices.CodecSelector
	cfg      Config
	log      *zap.Logger
}

func newCapturer(mediaEngine *webrtc.MediaEngine, cfg Config, log *zap.Logger) (capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, errors.Wrap(err, "vp8 params")
	}
	vpxParams.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, errors.Wrap(err, "opus params")
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	selector.Populate(mediaEngine)

	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Debug("media device found", zap.Any("kind", d.Kind), zap.String("label", d.Label))
	}
	if len(devices) == 0 {
		log.Warn("no media devices found")
	}
	return &deviceCapturer{selector: selector, cfg: cfg, log: log}, nil
}

func (c *deviceCapturer) available() bool { return true }

func (c *deviceCapturer) userMedia(ctx context.Context, req rtc.Constraints) ([]rtc.LocalTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if req.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	if req.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// только несжатые форматы, MJPEG с некоторых камер ломает кодер VP8
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: c.cfg.MaxWidth}
			mc.Height = prop.IntRanged{Max: c.cfg.MaxHeight}
		}
	}

	stream, err := c.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		return nil, err
	}

	var out []rtc.LocalTrack
	for _, t := range stream.GetTracks() {
		source := rtc.SourceMicrophone
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			source = rtc.SourceCamera
		}
		out = append(out, newLocalTrack(t, source))
	}
	c.log.Info("local media captured", zap.Int("tracks", len(out)))
	return out, nil
}

func (c *deviceCapturer) displayMedia(ctx context.Context) (rtc.LocalTrack, error) {
	stream, err := c.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(*mediadevices.MediaTrackConstraints) {},
			Codec: c.selector,
		})
	})
	if err != nil {
		return nil, err
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.Wrap(rtc.ErrDeviceNotFound, "display capture returned no video")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	return newLocalTrack(tracks[0], rtc.SourceScreen), nil
}

type captureResult struct {
	stream mediadevices.MediaStream
	err    error
}

// capture выполняет блокирующий захват с учетом отмены контекста.
// Поток, пришедший после отмены, закрывается.
func (c *deviceCapturer) capture(ctx context.Context, open func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	ch := make(chan captureResult, 1)
	go func() {
		stream, err := open()
		ch <- captureResult{stream: stream, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, classify(res.err)
		}
		return res.stream, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				for _, t := range res.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

// classify приводит ошибки драйверов к ошибкам rtc
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return errors.Wrap(rtc.ErrPermissionDenied, err.Error())
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return errors.Wrap(rtc.ErrDeviceInUse, err.Error())
	default:
		return errors.Wrap(rtc.ErrDeviceNotFound, err.Error())
	}
}
