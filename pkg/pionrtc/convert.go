package pionrtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/arzzra/call_engine/pkg/rtc"
)

func toPionDescription(d rtc.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func fromPionDescription(d webrtc.SessionDescription) rtc.SessionDescription {
	return rtc.SessionDescription{Type: rtc.SDPType(d.Type.String()), SDP: d.SDP}
}

func toPionCandidate(c rtc.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(init webrtc.ICECandidateInit) rtc.ICECandidate {
	return rtc.ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func fromPionState(s webrtc.PeerConnectionState) rtc.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return rtc.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return rtc.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return rtc.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return rtc.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return rtc.ConnectionClosed
	default:
		return rtc.ConnectionNew
	}
}

func fromPionKind(k webrtc.RTPCodecType) rtc.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return rtc.TrackVideo
	}
	return rtc.TrackAudio
}

func toPionICEServers(servers []rtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
