package pionrtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_engine/pkg/rtc"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.PortMin = 40000
	assert.Error(t, cfg.Validate())

	cfg.PortMax = 39000
	assert.Error(t, cfg.Validate())

	cfg.PortMax = 40100
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ICEFailedTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestCandidateConversion(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	ufrag := "abcd"
	c := rtc.ICECandidate{
		Candidate:        "candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host",
		SDPMid:           &mid,
		SDPMLineIndex:    &idx,
		UsernameFragment: &ufrag,
	}
	assert.Equal(t, c, fromPionCandidate(toPionCandidate(c)))
}

func TestStateConversion(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]rtc.ConnectionState{
		webrtc.PeerConnectionStateNew:          rtc.ConnectionNew,
		webrtc.PeerConnectionStateConnecting:   rtc.ConnectionConnecting,
		webrtc.PeerConnectionStateConnected:    rtc.ConnectionConnected,
		webrtc.PeerConnectionStateDisconnected: rtc.ConnectionDisconnected,
		webrtc.PeerConnectionStateFailed:       rtc.ConnectionFailed,
		webrtc.PeerConnectionStateClosed:       rtc.ConnectionClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, fromPionState(in), in.String())
	}
}

func TestDescriptionConversion(t *testing.T) {
	d := rtc.SessionDescription{Type: rtc.SDPAnswer, SDP: "v=0\r\n"}
	p := toPionDescription(d)
	assert.Equal(t, webrtc.SDPTypeAnswer, p.Type)
	assert.Equal(t, d, fromPionDescription(p))
}

func TestOfferAnswerBetweenConnections(t *testing.T) {
	platform, err := NewPlatform(DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	offerer, err := platform.NewPeerConnection(ctx, rtc.Config{})
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := platform.NewPeerConnection(ctx, rtc.Config{})
	require.NoError(t, err)
	defer answerer.Close()

	if !platform.capture.available() {
		offer, err := offerer.CreateOffer(ctx, rtc.OfferOptions{})
		require.NoError(t, err)
		require.Equal(t, rtc.SDPOffer, offer.Type)
		require.NoError(t, offerer.SetLocalDescription(ctx, offer))
		assert.Contains(t, offer.SDP, "m=audio")

		require.NoError(t, answerer.SetRemoteDescription(ctx, offer))
		answer, err := answerer.CreateAnswer(ctx)
		require.NoError(t, err)
		require.NoError(t, answerer.SetLocalDescription(ctx, answer))
		require.NoError(t, offerer.SetRemoteDescription(ctx, answer))
		assert.Equal(t, rtc.SDPAnswer, answer.Type)
	}
}

func TestCancelledContext(t *testing.T) {
	platform, err := NewPlatform(DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = platform.NewPeerConnection(ctx, rtc.Config{})
	assert.ErrorIs(t, err, context.Canceled)
}
