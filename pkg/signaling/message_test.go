package signaling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_engine/pkg/rtc"
)

func TestMessageValidate(t *testing.T) {
	cand := rtc.ICECandidate{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"}
	desc := rtc.SessionDescription{Type: rtc.SDPOffer, SDP: "v=0"}

	tests := []struct {
		name  string
		msg   *Message
		valid bool
	}{
		{"invite", NewInvite("s1", "alice", "bob", rtc.CallVideo), true},
		{"invite without kind", NewInvite("s1", "alice", "bob", ""), false},
		{"invite without recipient", NewInvite("s1", "alice", "", rtc.CallAudio), false},
		{"accept", NewAccept("s1", "bob", "alice"), true},
		{"decline with reason", NewDecline("s1", "bob", "alice", "declined"), true},
		{"busy", NewBusy("s1", "bob", "alice"), true},
		{"offer", NewOffer("s1", "alice", "bob", desc, false), true},
		{"offer without sdp", &Message{Type: TypeOffer, SessionID: "s1", FromID: "alice"}, false},
		{"answer", NewAnswer("s1", "bob", "alice", desc), true},
		{"candidate", NewCandidate("s1", "alice", "bob", cand), true},
		{"candidate missing", &Message{Type: TypeICECandidate, SessionID: "s1", FromID: "alice"}, false},
		{"hangup", NewHangup("s1", "alice", "bob"), true},
		{"no session", &Message{Type: TypeHangup, FromID: "alice"}, false},
		{"no sender", &Message{Type: TypeHangup, SessionID: "s1"}, false},
		{"unknown type", &Message{Type: "ring", SessionID: "s1", FromID: "alice"}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestDecodeWireFormat(t *testing.T) {
	raw := `{"type":"ice-candidate","sessionId":"s1","fromId":"bob","toId":"alice",
		"candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 4000 typ host","sdpMid":"0","sdpMLineIndex":0}}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeICECandidate, msg.Type)
	require.NotNil(t, msg.Candidate)
	require.NotNil(t, msg.Candidate.SDPMid)
	assert.Equal(t, "0", *msg.Candidate.SDPMid)
	require.NotNil(t, msg.Candidate.SDPMLineIndex)
	assert.EqualValues(t, 0, *msg.Candidate.SDPMLineIndex)

	data, err := Encode(NewOffer("s1", "alice", "bob", rtc.SessionDescription{Type: rtc.SDPOffer, SDP: "v=0"}, true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sessionId":"s1","fromId":"alice","toId":"bob","sdp":"v=0","iceRestart":true}`, string(data))

	_, err = Decode([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessageDescription(t *testing.T) {
	offer := NewOffer("s1", "a", "b", rtc.SessionDescription{SDP: "x"}, false)
	assert.Equal(t, rtc.SDPOffer, offer.Description().Type)
	answer := NewAnswer("s1", "b", "a", rtc.SessionDescription{SDP: "y"})
	assert.Equal(t, rtc.SessionDescription{Type: rtc.SDPAnswer, SDP: "y"}, answer.Description())
}
