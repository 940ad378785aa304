package party

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/media"
	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/client/signaling"
	"github.com/dkeye/WatchParty/internal/client/syncer"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrDisconnected = errors.New("party: signaling connection lost")

// Transport is the signaling channel to the relay.
type Transport interface {
	signaling.Emitter
	Incoming() <-chan protocol.Envelope
	Done() <-chan struct{}
}

type Options struct {
	Client config.ClientConfig
	// RoomID to join; empty creates a new room.
	RoomID   string
	Username string

	Player       syncer.Player
	PlayerEvents <-chan syncer.PlayerEvent

	// Source makes the participant claim the host role once joined.
	Source media.Source
	// SinkOut receives the stream as raw RTP when watching.
	SinkOut io.Writer

	Dial   Dialer
	Clock  clock.Clock
	Output io.Writer
}

// Participant runs one member of a watch party: it joins the room, hosts or
// watches the stream and keeps playback in step.
type Participant struct {
	opts   Options
	tr     Transport
	clk    clock.Clock
	engine *negotiation.Engine
	fanout *media.Fanout
	sink   *media.Sink
	logger zerolog.Logger

	mu        sync.Mutex
	ctx       context.Context
	self      domain.ConnID
	room      domain.RoomID
	joined    bool
	streamer  domain.ConnID
	users     []protocol.UserEntry
	sync      *syncer.Session
	request   *clock.Timer
	netStatus negotiation.Status
	status    Status
	out       sync.Mutex
}

func New(tr Transport, opts Options) *Participant {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Dial == nil {
		opts.Dial = RTCDialer(webrtc.Configuration{})
	}
	if opts.Client.RequestStreamDelay <= 0 {
		opts.Client.RequestStreamDelay = 400 * time.Millisecond
	}
	p := &Participant{
		opts:   opts,
		tr:     tr,
		clk:    opts.Clock,
		sink:   media.NewSink(opts.SinkOut),
		logger: log.With().Str("module", "party").Logger(),
		ctx:    context.Background(),
	}
	if opts.Source != nil {
		p.fanout = media.NewFanout(opts.Source)
	}
	p.engine = negotiation.NewEngine(negotiation.Config{
		Emitter:        tr,
		NewPeer:        p.newPeer,
		Clock:          opts.Clock,
		FallbackWindow: opts.Client.FallbackWindow,
		OnStatus:       p.onNetStatus,
		OnTrack:        p.onTrack,
	})
	return p
}

// Run joins the room and processes relay events until ctx ends or the
// signaling connection drops.
func (p *Participant) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	defer wg.Wait()
	defer cancel()

	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	if p.opts.PlayerEvents != nil {
		wg.Go(func() { p.pumpPlayer(ctx) })
	}
	if p.fanout != nil {
		wg.Go(func() {
			if err := p.fanout.Run(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("stream source ended")
			}
		})
	}

	if err := p.enter(); err != nil {
		p.shutdown()
		return err
	}
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-p.tr.Done():
			p.shutdown()
			return ErrDisconnected
		case env, ok := <-p.tr.Incoming():
			if !ok {
				p.shutdown()
				return ErrDisconnected
			}
			p.handle(env)
		}
	}
}

func (p *Participant) enter() error {
	if p.opts.RoomID == "" {
		return p.tr.Emit(protocol.EvCreateRoom, nil)
	}
	id, err := domain.CanonicalRoomID(p.opts.RoomID)
	if err != nil {
		return err
	}
	return p.join(id)
}

func (p *Participant) join(id domain.RoomID) error {
	p.mu.Lock()
	p.room = id
	p.mu.Unlock()
	p.notice(fmt.Sprintf("joining room %s", id))
	return p.tr.Emit(protocol.EvJoinRoom, protocol.JoinRoom{RoomID: string(id), Username: p.opts.Username})
}

func (p *Participant) shutdown() {
	p.mu.Lock()
	host := p.streamer != "" && p.streamer == p.self
	room := p.room
	s := p.sync
	p.stopRequestLocked()
	p.mu.Unlock()

	if host {
		_ = p.tr.Emit(protocol.EvStopStream, protocol.RoomRef{RoomID: string(room)})
	}
	p.engine.Close()
	if s != nil {
		s.Close()
	}
}

func (p *Participant) pumpPlayer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.opts.PlayerEvents:
			if !ok {
				return
			}
			if s := p.session(); s != nil {
				s.OnPlayerEvent(ev)
			}
		}
	}
}

func (p *Participant) session() *syncer.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync
}

// Room returns the joined room code, empty before joining.
func (p *Participant) Room() domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *Participant) Self() domain.ConnID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.self
}

func (p *Participant) Streamer() domain.ConnID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamer
}

func (p *Participant) Users() []protocol.UserEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.UserEntry(nil), p.users...)
}

func (p *Participant) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// RTT is the last measured round trip to the relay in milliseconds.
func (p *Participant) RTT() float64 {
	if s := p.session(); s != nil {
		return s.RTT()
	}
	return 0
}

// Say posts a chat message to the room.
func (p *Participant) Say(msg string) error {
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()
	return p.tr.Emit(protocol.EvSendMessage, protocol.SendMessage{RoomID: string(room), Message: msg, User: p.opts.Username})
}

// peers

func (p *Participant) newPeer(peer domain.ConnID, ev negotiation.PeerEvents) (negotiation.PeerConnection, error) {
	p.mu.Lock()
	hosting := p.fanout != nil && p.streamer != "" && p.streamer == p.self
	p.mu.Unlock()
	if !hosting {
		return p.opts.Dial(peer, ev, nil)
	}

	track, err := p.fanout.TrackFor(peer)
	if err != nil {
		return nil, err
	}
	next := ev.OnICEState
	ev.OnICEState = func(st webrtc.ICEConnectionState) {
		p.fanout.OnICEState(peer, track, st)
		if next != nil {
			next(st)
		}
	}
	pc, err := p.opts.Dial(peer, ev, track)
	if err != nil {
		p.fanout.Release(peer)
		return nil, err
	}
	return pc, nil
}

func (p *Participant) onTrack(peer domain.ConnID, track *webrtc.TrackRemote) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	p.logger.Info().Str("peer", string(peer)).Str("codec", track.Codec().MimeType).Msg("receiving stream")
	go p.sink.Consume(ctx, media.SourceFunc(func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}))
}

func (p *Participant) onNetStatus(st negotiation.Status) {
	p.mu.Lock()
	p.netStatus = st
	s := p.sync
	viewer := p.streamer != "" && p.streamer != p.self
	p.mu.Unlock()
	if s != nil && viewer {
		s.SetFallback(st.Fallback)
	}
	p.refreshStatus()
}

func (p *Participant) refreshStatus() {
	p.mu.Lock()
	var next Status
	switch {
	case p.streamer == "":
		next = StatusIdle
	case p.streamer == p.self:
		next = StatusHosting
	case p.netStatus.Connected > 0:
		next = StatusLive
	case p.netStatus.Fallback:
		next = StatusSyncOnly
	default:
		next = StatusConnecting
	}
	changed := next != p.status
	p.status = next
	p.mu.Unlock()
	if changed {
		p.print(next.Render())
	}
}

func (p *Participant) print(line string) {
	p.out.Lock()
	defer p.out.Unlock()
	fmt.Fprintln(p.opts.Output, line)
}

func (p *Participant) notice(msg string) { p.print(noticeTxt.Render(msg)) }
