package rtc

import (
	"strings"
	"sync"

	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configuration builds the ICE setup from client config. STUN entries are
// used as given; TURN entries carry the shared credentials.
func Configuration(cfg config.ClientConfig) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	var turn []string
	for _, u := range cfg.TURNURLs {
		if u = strings.TrimSpace(u); u != "" {
			turn = append(turn, u)
		}
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}
	c := webrtc.Configuration{ICEServers: servers}
	if cfg.ForceRelay && len(turn) > 0 {
		c.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return c
}

// Connection wraps a pion PeerConnection. Pion callbacks are queued and
// delivered in order from a single goroutine, never from inside a method.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.ConnID
	logger zerolog.Logger

	events   chan func()
	done     chan struct{}
	once     sync.Once
	onClosed func()
}

var _ negotiation.PeerConnection = (*Connection)(nil)

func NewConnection(cfg webrtc.Configuration, peer domain.ConnID, ev negotiation.PeerEvents) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:     pc,
		peer:   peer,
		logger: log.With().Str("module", "webrtc").Str("peer", string(peer)).Logger(),
		events: make(chan func(), 64),
		done:   make(chan struct{}),
	}
	go c.dispatch()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && ev.OnICECandidate != nil {
			init := cand.ToJSON()
			c.post(func() { ev.OnICECandidate(init) })
		}
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if ev.OnICEState != nil {
			c.post(func() { ev.OnICEState(s) })
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Debug().Str("peer_connection_state", s.String()).Msg("peer state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if ev.OnTrack != nil {
			c.post(func() { ev.OnTrack(track) })
		}
	})
	return c, nil
}

func (c *Connection) post(fn func()) {
	select {
	case <-c.done:
	case c.events <- fn:
	}
}

func (c *Connection) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Connection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return c.pc.CreateOffer(opts)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches an outgoing track.
func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// RTCP must be drained for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// RecvOnly prepares the connection to receive one video track.
func (c *Connection) RecvOnly() error {
	_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

// OnClosed sets a hook run once when the connection is closed.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pc.Close()
		if err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
	return err
}
