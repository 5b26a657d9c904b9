package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/rtc/mockrtc"
	"github.com/arzzra/call_engine/pkg/streams"
)

func candidate(n int) rtc.ICECandidate {
	return rtc.ICECandidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000 typ host", n, n)}
}

func offerSDP(ufrag string) rtc.SessionDescription {
	return rtc.SessionDescription{
		Type: rtc.SDPOffer,
		SDP:  mockrtc.FakeSDP(99, 1, ufrag, []rtc.TrackKind{rtc.TrackAudio, rtc.TrackVideo}),
	}
}

func answerSDP(ufrag string) rtc.SessionDescription {
	return rtc.SessionDescription{
		Type: rtc.SDPAnswer,
		SDP:  mockrtc.FakeSDP(98, 1, ufrag, []rtc.TrackKind{rtc.TrackAudio}),
	}
}

type ManagerSuite struct {
	suite.Suite
	platform *mockrtc.Platform
	registry *streams.Registry
	mgr      *Manager
	audio    *mockrtc.Track
	ctx      context.Context
}

func (s *ManagerSuite) SetupTest() {
	s.platform = mockrtc.New()
	s.registry = streams.NewRegistry(nil)
	mgr, err := NewManager(s.platform, s.registry, DefaultConfig(), Options{})
	s.Require().NoError(err)
	s.mgr = mgr
	s.audio = mockrtc.NewTrack(rtc.TrackAudio, rtc.SourceMicrophone)
	s.ctx = context.Background()
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) tracks() []rtc.LocalTrack {
	return []rtc.LocalTrack{s.audio}
}

func (s *ManagerSuite) TestCandidatesBufferedUntilRemoteDescription() {
	conn, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)

	for i := 1; i <= 3; i++ {
		s.Require().NoError(s.mgr.AddICECandidate("bob", candidate(i)))
	}
	s.Equal(3, conn.PendingCandidates())

	pc := s.platform.LastConnection()
	s.Empty(pc.Candidates())

	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", offerSDP("r1")))
	s.Equal(0, conn.PendingCandidates())
	s.Equal([]rtc.ICECandidate{candidate(1), candidate(2), candidate(3)}, pc.Candidates())

	ops := pc.Ops()
	s.Equal("set-remote:offer", ops[0])

	// после описания кандидаты применяются сразу
	s.Require().NoError(s.mgr.AddICECandidate("bob", candidate(4)))
	s.Len(pc.Candidates(), 4)
}

func (s *ManagerSuite) TestCandidatesBeforeOpenAreKept() {
	s.Require().NoError(s.mgr.AddICECandidate("bob", candidate(1)))
	s.Require().NoError(s.mgr.AddICECandidate("bob", candidate(2)))

	conn, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)
	s.Equal(2, conn.PendingCandidates())

	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", offerSDP("r1")))
	s.Equal([]rtc.ICECandidate{candidate(1), candidate(2)}, s.platform.LastConnection().Candidates())
}

func (s *ManagerSuite) TestOfferAnswerFlow() {
	_, err := s.mgr.Open(s.ctx, "bob", RoleOfferer)
	s.Require().NoError(err)

	_, err = s.mgr.CreateOffer(s.ctx, "bob", nil, rtc.OfferOptions{})
	s.ErrorIs(err, ErrMediaNotAcquired)

	offer, err := s.mgr.CreateOffer(s.ctx, "bob", s.tracks(), rtc.OfferOptions{})
	s.Require().NoError(err)
	s.Equal(rtc.SDPOffer, offer.Type)

	// повторный offer не прикрепляет треки второй раз
	_, err = s.mgr.CreateOffer(s.ctx, "bob", s.tracks(), rtc.OfferOptions{})
	s.Require().NoError(err)
	s.Len(s.platform.LastConnection().Senders(), 1)

	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", answerSDP("r1")))

	err = s.mgr.ApplyRemoteDescription(s.ctx, "bob", offerSDP("r2"))
	s.ErrorIs(err, ErrWrongRole)
}

func (s *ManagerSuite) TestAnswererCannotOffer() {
	_, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)

	_, err = s.mgr.CreateOffer(s.ctx, "bob", s.tracks(), rtc.OfferOptions{})
	s.ErrorIs(err, ErrWrongRole)

	_, err = s.mgr.CreateAnswer(s.ctx, "bob", s.tracks())
	s.Error(err, "answer without remote offer")

	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", offerSDP("r1")))
	answer, err := s.mgr.CreateAnswer(s.ctx, "bob", s.tracks())
	s.Require().NoError(err)
	s.Equal(rtc.SDPAnswer, answer.Type)
}

func (s *ManagerSuite) TestInvalidDescriptionRejected() {
	_, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)

	err = s.mgr.ApplyRemoteDescription(s.ctx, "bob", rtc.SessionDescription{Type: rtc.SDPOffer, SDP: "garbage"})
	s.Require().Error(err)
	s.ErrorIs(err, ErrDescriptionRejected)

	var ne *NegotiationError
	s.Require().True(errors.As(err, &ne))
	s.Equal("bob", ne.ParticipantID)

	s.platform.LastConnection().FailRemoteDescription(errors.New("boom"))
	err = s.mgr.ApplyRemoteDescription(s.ctx, "bob", offerSDP("r1"))
	s.ErrorIs(err, ErrDescriptionRejected)
}

func (s *ManagerSuite) TestRestartOfferRearmsBuffering() {
	conn, err := s.mgr.Open(s.ctx, "bob", RoleOfferer)
	s.Require().NoError(err)
	_, err = s.mgr.CreateOffer(s.ctx, "bob", s.tracks(), rtc.OfferOptions{})
	s.Require().NoError(err)
	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", answerSDP("r1")))
	s.True(conn.RemoteApplied())

	_, err = s.mgr.CreateOffer(s.ctx, "bob", s.tracks(), rtc.OfferOptions{ICERestart: true})
	s.Require().NoError(err)
	s.False(conn.RemoteApplied())

	s.Require().NoError(s.mgr.AddICECandidate("bob", candidate(7)))
	s.Equal(1, conn.PendingCandidates())

	s.Require().NoError(s.mgr.ApplyRemoteDescription(s.ctx, "bob", answerSDP("r2")))
	s.Equal(0, conn.PendingCandidates())
	s.Equal(1, conn.Restarts())
	s.Contains(s.platform.LastConnection().Ops(), "create-offer:restart")
}

func (s *ManagerSuite) TestCloseIsIdempotentAndSilencesCandidates() {
	_, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)
	pc := s.platform.LastConnection()
	pc.EmitTrack(mockrtc.NewRemoteTrack("a1", "s1", rtc.TrackAudio))
	s.Equal(1, s.registry.Len())

	s.Require().NoError(s.mgr.Close("bob"))
	s.Require().NoError(s.mgr.Close("bob"))
	s.mgr.CloseAll()

	s.Equal(1, pc.CloseCount())
	s.Equal(0, s.registry.Len())

	s.NoError(s.mgr.AddICECandidate("bob", candidate(1)))
	_, ok := s.mgr.Get("bob")
	s.False(ok)

	// новое соединение с тем же участником не получает устаревших кандидатов
	conn, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)
	s.Equal(0, conn.PendingCandidates())
}

func (s *ManagerSuite) TestCloseAll() {
	for _, id := range []string{"bob", "carol"} {
		_, err := s.mgr.Open(s.ctx, id, RoleOfferer)
		s.Require().NoError(err)
	}
	s.mgr.CloseAll()
	for _, pc := range s.platform.Connections() {
		s.Equal(1, pc.CloseCount())
	}
	s.Empty(s.mgr.Connections())
}

func (s *ManagerSuite) TestTrackAfterCloseIgnored() {
	_, err := s.mgr.Open(s.ctx, "bob", RoleAnswerer)
	s.Require().NoError(err)
	pc := s.platform.LastConnection()
	s.Require().NoError(s.mgr.Close("bob"))

	pc.EmitTrack(mockrtc.NewRemoteTrack("a1", "s1", rtc.TrackAudio))
	_, ok := s.registry.Get("bob")
	s.False(ok)
}

func (s *ManagerSuite) TestTrackRacingCloseLeavesNoStream() {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("peer-%d", i)
		_, err := s.mgr.Open(s.ctx, id, RoleAnswerer)
		s.Require().NoError(err)
		pc := s.platform.LastConnection()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			pc.EmitTrack(mockrtc.NewRemoteTrack("v-"+id, "s-"+id, rtc.TrackVideo))
		}()
		go func() {
			defer wg.Done()
			_ = s.mgr.Close(id)
		}()
		wg.Wait()

		_, ok := s.registry.Get(id)
		s.False(ok, "stream of %s survived close", id)
	}
	s.Equal(0, s.registry.Len())
}

func (s *ManagerSuite) TestOpenWithCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.mgr.Open(ctx, "bob", RoleOfferer)
	s.Error(err)
	s.Empty(s.mgr.Connections())
}

func (s *ManagerSuite) TestReplaceTrack() {
	camera := mockrtc.NewTrack(rtc.TrackVideo, rtc.SourceCamera)
	screen := mockrtc.NewTrack(rtc.TrackVideo, rtc.SourceScreen)

	for _, id := range []string{"bob", "carol"} {
		_, err := s.mgr.Open(s.ctx, id, RoleOfferer)
		s.Require().NoError(err)
		_, err = s.mgr.CreateOffer(s.ctx, id, []rtc.LocalTrack{s.audio, camera}, rtc.OfferOptions{})
		s.Require().NoError(err)
	}

	s.Require().NoError(s.mgr.ReplaceTrack(rtc.TrackVideo, screen))
	for _, pc := range s.platform.Connections() {
		sender := pc.SenderFor(rtc.TrackVideo)
		s.Require().NotNil(sender)
		s.Equal(screen.ID(), sender.Track().ID())
		s.Equal(1, pc.Offers(), "подмена трека не пересогласует соединение")
	}
}

func (s *ManagerSuite) TestCallbacks() {
	var mu sync.Mutex
	var local []rtc.ICECandidate
	var states []rtc.ConnectionState
	s.mgr.SetCallbacks(Callbacks{
		OnLocalCandidate: func(pid string, c rtc.ICECandidate) {
			mu.Lock()
			local = append(local, c)
			mu.Unlock()
		},
		OnStateChange: func(pid string, st rtc.ConnectionState) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})

	_, err := s.mgr.Open(s.ctx, "bob", RoleOfferer)
	s.Require().NoError(err)
	pc := s.platform.LastConnection()

	pc.EmitCandidate(candidate(1))
	pc.EmitState(rtc.ConnectionConnecting)
	pc.EmitState(rtc.ConnectionConnecting)
	pc.EmitState(rtc.ConnectionConnected)

	track := mockrtc.NewRemoteTrack("v1", "s1", rtc.TrackVideo)
	pc.EmitTrack(track)
	pc.EmitPacket(track, &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}, Payload: []byte{1, 2}})

	mu.Lock()
	s.Equal([]rtc.ICECandidate{candidate(1)}, local)
	s.Equal([]rtc.ConnectionState{rtc.ConnectionConnecting, rtc.ConnectionConnected}, states)
	mu.Unlock()

	stream, ok := s.registry.Get("bob")
	s.Require().True(ok)
	s.EqualValues(1, stream.Stats.Packets)

	pc.EmitTrackEnded(track)
	s.Equal(0, s.registry.Len())
}

func TestTwoManagersNegotiate(t *testing.T) {
	ctx := context.Background()
	newSide := func() (*Manager, *mockrtc.Platform) {
		p := mockrtc.New()
		m, err := NewManager(p, streams.NewRegistry(nil), DefaultConfig(), Options{})
		require.NoError(t, err)
		return m, p
	}
	alice, alicePlatform := newSide()
	bob, _ := newSide()

	_, err := alice.Open(ctx, "bob", RoleOfferer)
	require.NoError(t, err)
	_, err = bob.Open(ctx, "alice", RoleAnswerer)
	require.NoError(t, err)

	mic := []rtc.LocalTrack{mockrtc.NewTrack(rtc.TrackAudio, rtc.SourceMicrophone)}

	offer, err := alice.CreateOffer(ctx, "bob", mic, rtc.OfferOptions{})
	require.NoError(t, err)
	require.NoError(t, bob.ApplyRemoteDescription(ctx, "alice", offer))

	answer, err := bob.CreateAnswer(ctx, "alice", mic)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyRemoteDescription(ctx, "bob", answer))

	conn, ok := alice.Get("bob")
	require.True(t, ok)
	assert.True(t, conn.RemoteApplied())
	assert.Contains(t, alicePlatform.LastConnection().Ops(), "set-remote:answer")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.ICEServers = append(cfg.ICEServers, rtc.ICEServer{})
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.EarlyCandidateLimit = 0
	assert.Error(t, cfg.Validate())
}
