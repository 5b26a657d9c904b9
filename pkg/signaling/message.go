package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// Type тип сигнального сообщения
type Type string

const (
	TypeInvite       Type = "invite"
	TypeAccept       Type = "accept"
	TypeDecline      Type = "decline"
	TypeBusy         Type = "busy"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeHangup       Type = "hangup"
)

// Message сигнальное сообщение. Набор заполненных полей зависит от Type.
type Message struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	FromID    string `json:"fromId"`
	// ToID используется ретранслятором для маршрутизации
	ToID string `json:"toId,omitempty"`

	Kind       rtc.CallKind      `json:"kind,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	SDP        string            `json:"sdp,omitempty"`
	ICERestart bool              `json:"iceRestart,omitempty"`
	Candidate  *rtc.ICECandidate `json:"candidate,omitempty"`
}

// Validate проверяет обязательные поля для типа сообщения
func (m *Message) Validate() error {
	if m == nil {
		return malformed("nil message")
	}
	if m.SessionID == "" {
		return malformed("sessionId is required")
	}
	if m.FromID == "" {
		return malformed("fromId is required")
	}

	switch m.Type {
	case TypeInvite:
		if m.ToID == "" {
			return malformed("invite requires toId")
		}
		if !m.Kind.Valid() {
			return malformed(fmt.Sprintf("invite has invalid kind %q", m.Kind))
		}
	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return malformed(fmt.Sprintf("%s requires sdp", m.Type))
		}
	case TypeICECandidate:
		if m.Candidate == nil {
			return malformed("ice-candidate requires candidate")
		}
	case TypeAccept, TypeDecline, TypeBusy, TypeHangup:
	default:
		return malformed(fmt.Sprintf("unknown message type %q", m.Type))
	}
	return nil
}

// Description возвращает описание сессии для offer/answer
func (m *Message) Description() rtc.SessionDescription {
	t := rtc.SDPOffer
	if m.Type == TypeAnswer {
		t = rtc.SDPAnswer
	}
	return rtc.SessionDescription{Type: t, SDP: m.SDP}
}

// Encode сериализует сообщение в JSON
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &Error{Code: ErrorCodeMalformed, Message: "encode message", Wrapped: err}
	}
	return data, nil
}

// Decode разбирает и проверяет сообщение
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: ErrorCodeMalformed, Message: "decode message", Wrapped: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func NewInvite(sessionID, from, to string, kind rtc.CallKind) *Message {
	return &Message{Type: TypeInvite, SessionID: sessionID, FromID: from, ToID: to, Kind: kind}
}

func NewAccept(sessionID, from, to string) *Message {
	return &Message{Type: TypeAccept, SessionID: sessionID, FromID: from, ToID: to}
}

func NewDecline(sessionID, from, to, reason string) *Message {
	return &Message{Type: TypeDecline, SessionID: sessionID, FromID: from, ToID: to, Reason: reason}
}

func NewBusy(sessionID, from, to string) *Message {
	return &Message{Type: TypeBusy, SessionID: sessionID, FromID: from, ToID: to}
}

func NewOffer(sessionID, from, to string, desc rtc.SessionDescription, iceRestart bool) *Message {
	return &Message{Type: TypeOffer, SessionID: sessionID, FromID: from, ToID: to, SDP: desc.SDP, ICERestart: iceRestart}
}

func NewAnswer(sessionID, from, to string, desc rtc.SessionDescription) *Message {
	return &Message{Type: TypeAnswer, SessionID: sessionID, FromID: from, ToID: to, SDP: desc.SDP}
}

func NewCandidate(sessionID, from, to string, c rtc.ICECandidate) *Message {
	return &Message{Type: TypeICECandidate, SessionID: sessionID, FromID: from, ToID: to, Candidate: &c}
}

func NewHangup(sessionID, from, to string) *Message {
	return &Message{Type: TypeHangup, SessionID: sessionID, FromID: from, ToID: to}
}
