package peer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// Role роль соединения в обмене описаниями
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// Connection соединение с одним участником.
// Создается и уничтожается только Manager.
type Connection struct {
	participantID string
	role          Role
	pc            rtc.PeerConnection
	log           *zap.Logger

	// opMu сериализует операции с описаниями
	opMu sync.Mutex

	mu            sync.Mutex
	state         rtc.ConnectionState
	remoteApplied bool
	remoteUfrag   string
	pending       []rtc.ICECandidate
	closed        bool
	senders       map[rtc.TrackKind]rtc.Sender
	restarts      int
}

func newConnection(participantID string, role Role, pc rtc.PeerConnection, log *zap.Logger) *Connection {
	return &Connection{
		participantID: participantID,
		role:          role,
		pc:            pc,
		log:           log,
		state:         rtc.ConnectionNew,
		senders:       make(map[rtc.TrackKind]rtc.Sender),
	}
}

func (c *Connection) ParticipantID() string { return c.participantID }
func (c *Connection) Role() Role { return c.role }

// State последнее известное состояние связности
func (c *Connection) State() rtc.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingCandidates количество буферизованных кандидатов
func (c *Connection) PendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RemoteApplied сообщает применено ли текущее удаленное описание
func (c *Connection) RemoteApplied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteApplied
}

// Restarts количество выполненных ICE restart
func (c *Connection) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// Closed сообщает закрыто ли соединение
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// whileOpen выполняет fn, если соединение не закрыто. close ждет завершения fn.
func (c *Connection) whileOpen(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	fn()
	return true
}

func (c *Connection) setState(s rtc.ConnectionState) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == s {
		return false
	}
	c.state = s
	return true
}

// attachTracks прикрепляет локальные треки один раз на каждый тип. Вызывается под opMu.
func (c *Connection) attachTracks(tracks []rtc.LocalTrack) error {
	for _, t := range tracks {
		c.mu.Lock()
		_, attached := c.senders[t.Kind()]
		c.mu.Unlock()
		if attached {
			continue
		}

		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.senders[t.Kind()] = sender
		c.mu.Unlock()
	}
	return nil
}

func (c *Connection) sender(kind rtc.TrackKind) rtc.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[kind]
}

// addCandidate применяет кандидата или откладывает его до удаленного описания.
// Возвращает true если кандидат отложен.
func (c *Connection) addCandidate(cand rtc.ICECandidate) (buffered bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if !c.remoteApplied {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(cand); err != nil {
		// устаревший или повторный кандидат не является ошибкой звонка
		c.log.Debug("ice candidate rejected", zap.Stringer("candidate", cand), zap.Error(err))
	}
	return false
}

// markRemotePending включает буферизацию до применения нового удаленного описания
func (c *Connection) markRemotePending() {
	c.mu.Lock()
	c.remoteApplied = false
	c.mu.Unlock()
}

// flushCandidates применяет буфер в порядке поступления. Вызывается под opMu
// после успешного применения удаленного описания.
func (c *Connection) flushCandidates(ufrag string) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	pending := c.pending
	c.pending = nil
	c.remoteApplied = true
	if c.remoteUfrag != "" && ufrag != "" && ufrag != c.remoteUfrag {
		c.restarts++
	}
	if ufrag != "" {
		c.remoteUfrag = ufrag
	}
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Debug("buffered ice candidate rejected", zap.Stringer("candidate", cand), zap.Error(err))
		}
	}
	return len(pending)
}

// close закрывает соединение платформы ровно один раз
func (c *Connection) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.pending = nil
	c.state = rtc.ConnectionClosed
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.log.Debug("peer connection close failed", zap.Error(err))
	}
	return true
}
