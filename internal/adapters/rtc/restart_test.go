package rtc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// link carries one side's signals to the other engine in emit order.
type link struct {
	from domain.ConnID
	ch   chan func()
	to   *negotiation.Engine
}

func newLink(t *testing.T, from domain.ConnID) *link {
	l := &link{from: from, ch: make(chan func(), 256)}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case <-done:
				return
			case fn := <-l.ch:
				fn()
			}
		}
	}()
	return l
}

func (l *link) Emit(event string, payload any) error {
	sig := payload.(protocol.Signal)
	l.ch <- func() {
		switch event {
		case protocol.EvOffer:
			_ = l.to.HandleOffer(l.from, sig.Offer)
		case protocol.EvAnswer:
			_ = l.to.HandleAnswer(l.from, sig.Answer)
		case protocol.EvCandidate:
			_ = l.to.HandleICECandidate(l.from, sig.Candidate)
		}
	}
	return nil
}

func TestICERestartKeepsMediaFlowing(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "watchparty")
	require.NoError(t, err)

	toViewer := newLink(t, "host")
	toHost := newLink(t, "viewer")

	var (
		mu         sync.Mutex
		hostEvents negotiation.PeerEvents
		viewerPCs  int
		received   atomic.Int64
	)
	host := negotiation.NewEngine(negotiation.Config{
		Emitter: toViewer,
		NewPeer: func(peer domain.ConnID, ev negotiation.PeerEvents) (negotiation.PeerConnection, error) {
			conn, err := NewConnection(webrtc.Configuration{}, peer, ev)
			if err != nil {
				return nil, err
			}
			mu.Lock()
			hostEvents = ev
			mu.Unlock()
			return conn, conn.AddTrack(track)
		},
	})
	viewer := negotiation.NewEngine(negotiation.Config{
		Emitter: toHost,
		NewPeer: func(peer domain.ConnID, ev negotiation.PeerEvents) (negotiation.PeerConnection, error) {
			mu.Lock()
			viewerPCs++
			mu.Unlock()
			return NewConnection(webrtc.Configuration{}, peer, ev)
		},
		OnTrack: func(_ domain.ConnID, remote *webrtc.TrackRemote) {
			go func() {
				for {
					if _, _, err := remote.ReadRTP(); err != nil {
						return
					}
					received.Add(1)
				}
			}()
		},
	})
	toViewer.to = viewer
	toHost.to = host
	t.Cleanup(host.Close)
	t.Cleanup(viewer.Close)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		var seq uint16
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				seq++
				_ = track.WriteRTP(&rtp.Packet{
					Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, Timestamp: uint32(seq) * 900, SSRC: 1},
					Payload: []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a},
				})
			}
		}
	}()

	require.NoError(t, host.Offer("viewer"))
	require.Eventually(t, func() bool {
		return viewer.Status().Connected == 1 && received.Load() > 5
	}, 15*time.Second, 20*time.Millisecond, "initial media")

	mu.Lock()
	ev := hostEvents
	mu.Unlock()
	ev.OnICEState(webrtc.ICEConnectionStateDisconnected)

	require.Eventually(t, func() bool {
		st, ok := host.State("viewer")
		return ok && st == negotiation.StateStable
	}, 10*time.Second, 20*time.Millisecond, "restart answered")
	require.Eventually(t, func() bool { return host.Status().Connected == 1 }, 15*time.Second, 20*time.Millisecond)

	before := received.Load()
	require.Eventually(t, func() bool { return received.Load() > before+20 }, 10*time.Second, 20*time.Millisecond, "media after restart")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, viewerPCs, "restart reuses the viewer connection")
}
