//go:build !linux || !cgo

package pionrtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// noCapturer платформа без драйверов захвата: соединения только принимают медиа
type noCapturer struct{}

func newCapturer(mediaEngine *webrtc.MediaEngine, _ Config, log *zap.Logger) (capturer, error) {
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register default codecs")
	}
	log.Warn("local media capture is not supported in this build, connections are receive-only")
	return noCapturer{}, nil
}

func (noCapturer) available() bool { return false }

func (noCapturer) userMedia(context.Context, rtc.Constraints) ([]rtc.LocalTrack, error) {
	return nil, errors.Wrap(rtc.ErrDeviceNotFound, "capture is not supported in this build")
}

func (noCapturer) displayMedia(context.Context) (rtc.LocalTrack, error) {
	return nil, errors.Wrap(rtc.ErrDeviceNotFound, "display capture is not supported in this build")
}
