package rtc

import "fmt"

// CallKind тип звонка
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// Valid проверяет что тип звонка известен
func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

// TrackKind тип медиа трека
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Source источник локального трека
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

// SDPType тип описания сессии
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription описание сессии (SDP) вместе с его типом
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate кандидат транспортного адреса в формате trickle ICE
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// String возвращает компактное представление кандидата для логов
func (c ICECandidate) String() string {
	mid := "-"
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	return fmt.Sprintf("%s (mid=%s)", c.Candidate, mid)
}

// ConnectionState состояние связности соединения с участником
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Lost возвращает true для состояний потери связности
func (s ConnectionState) Lost() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed
}

// Constraints запрос на захват устройств
type Constraints struct {
	Audio bool
	Video bool
}

// OfferOptions параметры создания offer
type OfferOptions struct {
	// ICERestart создает offer с новыми ICE учетными данными
	ICERestart bool
}

// ICEServer STUN/TURN сервер
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config параметры создания PeerConnection
type Config struct {
	ICEServers []ICEServer
}
