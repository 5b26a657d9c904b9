//go:build cgo

package main

import (
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/ringtone"
)

func newSink(enabled bool, log *zap.Logger) (ringtone.Sink, func()) {
	if !enabled {
		return ringtone.NopSink{}, func() {}
	}
	speaker, err := ringtone.NewSpeakerSink(log)
	if err != nil {
		log.Warn("speaker unavailable, ringtone disabled", zap.Error(err))
		return ringtone.NopSink{}, func() {}
	}
	return speaker, func() { _ = speaker.Close() }
}
