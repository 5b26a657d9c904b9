package rtc

import (
	"context"
	"errors"

	"github.com/pion/rtp"
)

// Ошибки платформы. Реализации оборачивают их, чтобы вызывающий код мог
// классифицировать сбой через errors.Is.
var (
	ErrPermissionDenied = errors.New("rtc: permission denied")
	ErrDeviceNotFound   = errors.New("rtc: device not found")
	ErrDeviceInUse      = errors.New("rtc: device in use")
	ErrClosed           = errors.New("rtc: connection closed")
)

// LocalTrack локальный трек захвата.
//
// SetEnabled переключает передачу без пересогласования: выключенный трек
// остается прикрепленным к отправителям, но медиа не уходит.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Source() Source
	Enabled() bool
	SetEnabled(enabled bool)
	// Ended сообщает что трек остановлен локально или источником
	Ended() bool
	// OnEnded регистрирует обработчик завершения трека источником
	// (например пользователь остановил демонстрацию экрана средствами ОС)
	OnEnded(fn func())
	Stop() error
}

// RemoteTrack трек удаленного участника
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
}

// Capturer доступ к устройствам захвата.
// Оба метода могут блокироваться на запросе разрешения у пользователя.
type Capturer interface {
	GetUserMedia(ctx context.Context, c Constraints) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context) (LocalTrack, error)
}

// Sender отправитель одного локального трека внутри PeerConnection
type Sender interface {
	Track() LocalTrack
	// ReplaceTrack подменяет источник без пересогласования, nil прекращает отправку
	ReplaceTrack(track LocalTrack) error
}

// PeerConnection соединение с одним удаленным участником
type PeerConnection interface {
	AddTrack(track LocalTrack) (Sender, error)
	CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddICECandidate(c ICECandidate) error

	OnICECandidate(fn func(ICECandidate))
	OnTrack(fn func(RemoteTrack))
	OnTrackEnded(fn func(RemoteTrack))
	// OnPacket вызывается для каждого принятого RTP пакета удаленного трека
	OnPacket(fn func(RemoteTrack, *rtp.Packet))
	OnConnectionStateChange(fn func(ConnectionState))

	Close() error
}

// Platform полный набор возможностей медиа платформы
type Platform interface {
	Capturer
	NewPeerConnection(ctx context.Context, cfg Config) (PeerConnection, error)
}
