package negotiation

import (
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the slice of a WebRTC peer connection the engine drives.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// PeerEvents are the callbacks a PeerConnection reports through.
// OnICECandidate may fire from inside SetLocalDescription; the others must
// not be invoked synchronously from inside a PeerConnection method.
type PeerEvents struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnICEState     func(webrtc.ICEConnectionState)
	OnTrack        func(*webrtc.TrackRemote)
}

// PeerFactory builds the connection toward one remote peer.
type PeerFactory func(peer domain.ConnID, ev PeerEvents) (PeerConnection, error)
