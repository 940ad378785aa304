package party

import (
	"github.com/dkeye/WatchParty/internal/adapters/rtc"
	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Dialer opens the peer connection toward peer. out is the track to send,
// nil when only receiving.
type Dialer func(peer domain.ConnID, ev negotiation.PeerEvents, out webrtc.TrackLocal) (negotiation.PeerConnection, error)

// RTCDialer dials with pion.
func RTCDialer(cfg webrtc.Configuration) Dialer {
	return func(peer domain.ConnID, ev negotiation.PeerEvents, out webrtc.TrackLocal) (negotiation.PeerConnection, error) {
		conn, err := rtc.NewConnection(cfg, peer, ev)
		if err != nil {
			return nil, err
		}
		if out != nil {
			if err := conn.AddTrack(out); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}
