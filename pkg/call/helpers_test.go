package call

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/rtc/mockrtc"
	"github.com/arzzra/call_engine/pkg/ringtone"
	"github.com/arzzra/call_engine/pkg/signaling"
	"github.com/arzzra/call_engine/pkg/streams"
)

const (
	waitFor  = 2 * time.Second
	pollStep = 5 * time.Millisecond
)

type fakeRinger struct {
	mu      sync.Mutex
	cues    []ringtone.Cue
	stops   int
	playing bool
	cue     ringtone.Cue
}

func (r *fakeRinger) Start(cue ringtone.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing && r.cue == cue {
		return
	}
	r.cues = append(r.cues, cue)
	r.cue = cue
	r.playing = true
}

func (r *fakeRinger) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.playing = false
}

func (r *fakeRinger) Playing() (ringtone.Cue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cue, r.playing
}

func (r *fakeRinger) Cues() []ringtone.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ringtone.Cue(nil), r.cues...)
}

// countingDevices считает вызовы Release
type countingDevices struct {
	*media.Controller
	releases atomic.Int32
}

func (d *countingDevices) Release() {
	d.releases.Add(1)
	d.Controller.Release()
}

type endpointOptions struct {
	reconnect bool
	config    func(*Config)
}

type endpoint struct {
	id        string
	platform  *mockrtc.Platform
	devices   *countingDevices
	registry  *streams.Registry
	peers     *peer.Manager
	transport *signaling.Manager
	ringer    *fakeRinger
	clock     *clock.Mock
	engine    *Engine
}

func newEndpoint(t *testing.T, net *signaling.MemoryNetwork, id string, opts ...endpointOptions) *endpoint {
	t.Helper()
	var o endpointOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	platform := mockrtc.New()
	platform.AutoConnect = true
	registry := streams.NewRegistry(nil)
	peers, err := peer.NewManager(platform, registry, peer.DefaultConfig(), peer.Options{})
	require.NoError(t, err)

	ep := &endpoint{
		id:        id,
		platform:  platform,
		devices:   &countingDevices{Controller: media.NewController(platform, media.Options{})},
		registry:  registry,
		peers:     peers,
		transport: connectTransport(t, net, id, o.reconnect),
		ringer:    &fakeRinger{},
		clock:     clock.NewMock(),
	}

	cfg := DefaultConfig(id)
	if o.config != nil {
		o.config(&cfg)
	}
	ep.engine, err = New(cfg, Deps{
		Transport: ep.transport,
		Devices:   ep.devices,
		Peers:     ep.peers,
		Streams:   ep.registry,
		Ringer:    ep.ringer,
		Clock:     ep.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.engine.Close() })
	return ep
}

func connectTransport(t *testing.T, net *signaling.MemoryNetwork, id string, reconnect bool) *signaling.Manager {
	t.Helper()
	cfg := signaling.DefaultConfig()
	cfg.Reconnect = reconnect
	cfg.ReconnectMin = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond

	m, err := signaling.NewManager(net.Dialer(id), cfg, signaling.Options{})
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background(), "token-"+id))
	t.Cleanup(m.Disconnect)
	return m
}

func (ep *endpoint) waitPhase(t *testing.T, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ep.engine.State() == phase
	}, waitFor, pollStep, "phase %s was not reached, current %s", phase, ep.engine.State())
}

func (ep *endpoint) session(t *testing.T) Session {
	t.Helper()
	s, ok := ep.engine.Session()
	require.True(t, ok)
	return s
}

func (ep *endpoint) connection(t *testing.T) *mockrtc.PeerConnection {
	t.Helper()
	var pc *mockrtc.PeerConnection
	require.Eventually(t, func() bool {
		pc = ep.platform.LastConnection()
		return pc != nil
	}, waitFor, pollStep)
	return pc
}

// remote участник, которым тест управляет вручную через сигнальный канал
type remote struct {
	id        string
	transport *signaling.Manager
	events    <-chan signaling.Event
}

func newRemote(t *testing.T, net *signaling.MemoryNetwork, id string) *remote {
	t.Helper()
	m := connectTransport(t, net, id, false)
	ch, unsubscribe := m.Subscribe()
	t.Cleanup(unsubscribe)
	return &remote{id: id, transport: m, events: ch}
}

func (r *remote) send(t *testing.T, msg *signaling.Message) {
	t.Helper()
	require.NoError(t, r.transport.Send(context.Background(), msg))
}

// expect ждет сообщение указанного типа, кандидаты пропускаются
func (r *remote) expect(t *testing.T, typ signaling.Type) *signaling.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-r.events:
			if ev.Message == nil {
				continue
			}
			if ev.Message.Type == signaling.TypeICECandidate && typ != signaling.TypeICECandidate {
				continue
			}
			require.Equal(t, typ, ev.Message.Type, "unexpected message %+v", ev.Message)
			return ev.Message
		case <-deadline:
			t.Fatalf("%s was not received by %s", typ, r.id)
			return nil
		}
	}
}

// expectSilence проверяет, что за окно не пришло ни одного сообщения кроме кандидатов
func (r *remote) expectSilence(t *testing.T, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case ev := <-r.events:
			if ev.Message != nil && ev.Message.Type != signaling.TypeICECandidate {
				t.Fatalf("unexpected message %s", ev.Message.Type)
			}
		case <-deadline:
			return
		}
	}
}

func kindsFor(kind rtc.CallKind) []rtc.TrackKind {
	if kind == rtc.CallVideo {
		return []rtc.TrackKind{rtc.TrackAudio, rtc.TrackVideo}
	}
	return []rtc.TrackKind{rtc.TrackAudio}
}

func remoteDescription(typ rtc.SDPType, version int, ufrag string, kind rtc.CallKind) rtc.SessionDescription {
	return rtc.SessionDescription{Type: typ, SDP: mockrtc.FakeSDP(77, version, ufrag, kindsFor(kind))}
}

// callOut доводит исходящий звонок до active и возвращает идентификатор сессии
func callOut(t *testing.T, ep *endpoint, r *remote, kind rtc.CallKind) string {
	t.Helper()
	id, err := ep.engine.StartCall(context.Background(), r.id, kind)
	require.NoError(t, err)

	invite := r.expect(t, signaling.TypeInvite)
	require.Equal(t, id, invite.SessionID)
	ep.waitPhase(t, PhaseOutgoingRinging)

	r.send(t, signaling.NewAccept(id, r.id, ep.id))
	offer := r.expect(t, signaling.TypeOffer)
	require.False(t, offer.ICERestart)
	r.send(t, signaling.NewAnswer(id, r.id, ep.id, remoteDescription(rtc.SDPAnswer, 1, "remote1", kind)))

	ep.waitPhase(t, PhaseActive)
	return id
}

// callIn доводит входящий звонок до active
func callIn(t *testing.T, ep *endpoint, r *remote, sessionID string, kind rtc.CallKind) {
	t.Helper()
	r.send(t, signaling.NewInvite(sessionID, r.id, ep.id, kind))
	ep.waitPhase(t, PhaseIncomingRinging)

	require.NoError(t, ep.engine.AnswerCall(context.Background()))
	r.expect(t, signaling.TypeAccept)
	r.send(t, signaling.NewOffer(sessionID, r.id, ep.id, remoteDescription(rtc.SDPOffer, 1, "remote1", kind), false))
	r.expect(t, signaling.TypeAnswer)

	ep.waitPhase(t, PhaseActive)
}
