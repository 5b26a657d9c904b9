package call

import (
	"time"

	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
)

// Phase фаза сессии звонка
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseInitiating      Phase = "initiating"
	PhaseOutgoingRinging Phase = "outgoing_ringing"
	PhaseIncomingRinging Phase = "incoming_ringing"
	PhaseConnecting      Phase = "connecting"
	PhaseActive          Phase = "active"
	PhaseEnded           Phase = "ended"
)

func (p Phase) String() string { return string(p) }

// Ringing сообщает что фаза является фазой вызова (в любом направлении)
func (p Phase) Ringing() bool {
	return p == PhaseOutgoingRinging || p == PhaseIncomingRinging
}

// Live сообщает что сессия в этой фазе еще не завершена
func (p Phase) Live() bool {
	return p != PhaseIdle && p != PhaseEnded
}

// Direction направление звонка
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// EndReason причина завершения, показываемая пользователю
type EndReason string

const (
	ReasonEnded             EndReason = "ended"
	ReasonNoAnswer          EndReason = "no answer"
	ReasonDeclined          EndReason = "declined"
	ReasonBusy              EndReason = "busy"
	ReasonConnectionLost    EndReason = "connection lost"
	ReasonDeviceUnavailable EndReason = "device unavailable"
)

// Session снимок сессии звонка
type Session struct {
	ID           string
	Direction    Direction
	Kind         rtc.CallKind
	Phase        Phase
	Participants []string

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	// Duration длительность завершенного звонка
	Duration time.Duration

	EndReason EndReason
	Err       error
	// Reconnecting выставляется на время восстановления сигнального соединения
	Reconnecting bool
}

func (s Session) clone() Session {
	s.Participants = append([]string(nil), s.Participants...)
	return s
}

// Participant состояние соединения с удаленным участником
type Participant struct {
	ID               string
	Role             peer.Role
	State            rtc.ConnectionState
	Connected        bool
	RestartAttempted bool
}
