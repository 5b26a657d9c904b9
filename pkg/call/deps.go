package call

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/ringtone"
	"github.com/arzzra/call_engine/pkg/signaling"
	"github.com/arzzra/call_engine/pkg/streams"
)

// Devices локальные устройства, реализуется media.Controller
type Devices interface {
	Acquire(ctx context.Context, kind rtc.CallKind) (media.LocalStream, error)
	Stream() (media.LocalStream, bool)
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	StartScreenShare(ctx context.Context) (rtc.LocalTrack, error)
	StopScreenShare(ctx context.Context) (rtc.LocalTrack, error)
	ScreenSharing() bool
	OnScreenShareEnded(fn func())
	Release()
}

// Peers соединения с участниками, реализуется peer.Manager
type Peers interface {
	SetCallbacks(cb peer.Callbacks)
	Open(ctx context.Context, participantID string, role peer.Role) (*peer.Connection, error)
	CreateOffer(ctx context.Context, participantID string, tracks []rtc.LocalTrack, opts rtc.OfferOptions) (rtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, participantID string, tracks []rtc.LocalTrack) (rtc.SessionDescription, error)
	ApplyRemoteDescription(ctx context.Context, participantID string, desc rtc.SessionDescription) error
	AddICECandidate(participantID string, c rtc.ICECandidate) error
	ReplaceTrack(kind rtc.TrackKind, track rtc.LocalTrack) error
	Close(participantID string) error
	CloseAll()
}

// Ringer сигнал вызова, реализуется ringtone.Player
type Ringer interface {
	Start(cue ringtone.Cue)
	Stop()
}

// StreamSource удаленные потоки, реализуется streams.Registry
type StreamSource interface {
	Snapshot() map[string]streams.Stream
	Subscribe(fn func(streams.Change)) (unsubscribe func())
}

var (
	_ Devices      = (*media.Controller)(nil)
	_ Peers        = (*peer.Manager)(nil)
	_ Ringer       = (*ringtone.Player)(nil)
	_ StreamSource = (*streams.Registry)(nil)
)

// Deps зависимости движка
type Deps struct {
	Transport signaling.Transport
	Devices   Devices
	Peers     Peers
	Streams   StreamSource
	// Ringer по умолчанию беззвучный плеер
	Ringer Ringer

	Clock      clock.Clock
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}
