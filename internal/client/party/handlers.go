package party

import (
	"fmt"

	"github.com/dkeye/WatchParty/internal/client/syncer"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
)

func (p *Participant) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.EvConnected:
		on(p, env, func(c protocol.Connected) {
			p.mu.Lock()
			p.self = domain.ConnID(c.ID)
			p.mu.Unlock()
		})
	case protocol.EvRoomCreated:
		on(p, env, func(c protocol.RoomCreated) {
			if err := p.join(domain.RoomID(c.RoomID)); err != nil {
				p.logger.Error().Err(err).Msg("join")
			}
		})
	case protocol.EvStreamStatus:
		on(p, env, p.onStreamStatus)
	case protocol.EvStreamStarted:
		on(p, env, func(s protocol.StreamStarted) { p.onStreamStarted(domain.ConnID(s.StreamerID)) })
	case protocol.EvStreamStopped:
		p.onStreamStopped()
	case protocol.EvUserJoined:
		on(p, env, p.onUserJoined)
	case protocol.EvUserLeft:
		on(p, env, p.onUserLeft)
	case protocol.EvUserList:
		on(p, env, func(users []protocol.UserEntry) {
			p.mu.Lock()
			p.users = users
			p.mu.Unlock()
		})
	case protocol.EvRequestStream:
		on(p, env, func(f protocol.From) {
			if p.hosting() {
				p.offer(domain.ConnID(f.From))
			}
		})
	case protocol.EvRequestSync:
		on(p, env, func(f protocol.From) {
			if s := p.session(); s != nil {
				s.HandleSyncRequest(f.From)
			}
		})
	case protocol.EvOffer, protocol.EvAnswer, protocol.EvCandidate:
		on(p, env, func(sig protocol.RelayedSignal) { p.onSignal(env.Type, sig) })
	case protocol.EvHeartbeat, protocol.EvSyncResponse:
		on(p, env, func(st protocol.SyncState) {
			if s := p.session(); s != nil {
				s.HandleSyncState(st)
			}
		})
	case protocol.EvPlay:
		p.withSession(func(s *syncer.Session) { s.HandlePlay() })
	case protocol.EvPause:
		p.withSession(func(s *syncer.Session) { s.HandlePause() })
	case protocol.EvSeek:
		on(p, env, func(st protocol.SeekTo) {
			p.withSession(func(s *syncer.Session) { s.HandleSeek(st.Time) })
		})
	case protocol.EvVolume:
		on(p, env, func(v protocol.VolumeState) {
			p.withSession(func(s *syncer.Session) { s.HandleVolume(v.Muted, v.Volume) })
		})
	case protocol.EvPongRTT:
		p.withSession(func(s *syncer.Session) { s.HandlePong(env.Payload) })
	case protocol.EvReceiveMessage:
		on(p, env, func(m protocol.ChatMessage) {
			p.print(chatUser.Render(m.User+":") + " " + m.Message)
		})
	case protocol.EvError:
		on(p, env, func(e protocol.Error) {
			p.logger.Warn().Str("error", e.Error).Msg("relay error")
			p.print(errorTxt.Render("error: " + e.Error))
		})
	default:
		p.logger.Debug().Str("type", env.Type).Msg("ignored event")
	}
}

func on[T any](p *Participant, env protocol.Envelope, fn func(T)) {
	v, err := protocol.Decode[T](env.Payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("type", env.Type).Msg("bad payload")
		return
	}
	fn(v)
}

func (p *Participant) withSession(fn func(*syncer.Session)) {
	if s := p.session(); s != nil {
		fn(s)
	}
}

func (p *Participant) hosting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamer != "" && p.streamer == p.self
}

func (p *Participant) offer(peer domain.ConnID) {
	if peer == "" || peer == p.Self() {
		return
	}
	if err := p.engine.Offer(peer); err != nil {
		p.logger.Warn().Err(err).Str("peer", string(peer)).Msg("offer")
	}
}

func (p *Participant) onStreamStatus(st protocol.StreamStatus) {
	p.mu.Lock()
	first := !p.joined
	p.joined = true
	if p.sync == nil {
		p.sync = syncer.NewSession(syncer.Config{
			RoomID:        string(p.room),
			Emitter:       p.tr,
			Player:        p.opts.Player,
			Clock:         p.clk,
			ViewerControl: p.opts.Client.ViewerControl,
		})
		p.sync.Start()
	}
	s := p.sync
	room := p.room
	p.mu.Unlock()

	if first {
		p.notice(fmt.Sprintf("joined room %s", room))
	}
	switch {
	case st.IsStreaming && st.StreamerID != "":
		p.onStreamStarted(domain.ConnID(st.StreamerID))
		if st.PlayState != nil && !p.hosting() {
			s.HandleSyncState(protocol.SyncState{
				Playing:     st.PlayState.Playing,
				CurrentTime: st.PlayState.CurrentTime,
				Duration:    st.PlayState.Duration,
				ServerTime:  p.clk.Now().UnixMilli(),
			})
		}
	case p.fanout != nil:
		if err := p.tr.Emit(protocol.EvStartStream, protocol.RoomRef{RoomID: string(room)}); err != nil {
			p.logger.Error().Err(err).Msg("start-stream")
		}
	default:
		p.refreshStatus()
	}
}

func (p *Participant) onStreamStarted(streamer domain.ConnID) {
	p.mu.Lock()
	prev := p.streamer
	p.streamer = streamer
	self := p.self
	s := p.sync
	room := p.room
	if streamer == self {
		p.stopRequestLocked()
	}
	p.mu.Unlock()

	if prev == streamer {
		p.refreshStatus()
		return
	}
	// any session belonged to the previous streamer
	if prev != "" {
		p.engine.CloseAll()
		if prev == self && p.fanout != nil {
			p.fanout.ReleaseAll()
		}
	}

	if streamer == self {
		if s != nil {
			s.SetRole(syncer.Host)
		}
		p.notice("you are hosting")
		p.refreshStatus()
		return
	}
	if prev == self && prev != "" {
		p.notice("another member took over the stream")
	}
	if s != nil {
		s.SetRole(syncer.Viewer)
	}
	p.engine.Expect()
	p.refreshStatus()

	p.mu.Lock()
	p.stopRequestLocked()
	p.request = p.clk.AfterFunc(p.opts.Client.RequestStreamDelay, func() {
		if p.Streamer() != streamer {
			return
		}
		if p.engine.Status().Sessions == 0 {
			_ = p.tr.Emit(protocol.EvRequestStream, protocol.RoomRef{RoomID: string(room)})
		}
		if s != nil {
			s.RequestSync()
		}
	})
	p.mu.Unlock()
}

func (p *Participant) onStreamStopped() {
	p.mu.Lock()
	had := p.streamer != ""
	p.streamer = ""
	s := p.sync
	p.stopRequestLocked()
	p.mu.Unlock()

	p.engine.CloseAll()
	if p.fanout != nil {
		p.fanout.ReleaseAll()
	}
	if s != nil {
		s.SetRole(syncer.Viewer)
		s.SetFallback(false)
	}
	if had {
		p.notice("stream stopped")
	}
	p.refreshStatus()
}

func (p *Participant) onUserJoined(u protocol.UserEvent) {
	p.notice(fmt.Sprintf("%s joined", u.Username))
	if p.hosting() {
		p.offer(domain.ConnID(u.ID))
	}
}

func (p *Participant) onUserLeft(u protocol.UserEvent) {
	p.notice(fmt.Sprintf("%s left", u.Username))
	id := domain.ConnID(u.ID)
	p.engine.ClosePeer(id)
	if p.fanout != nil {
		p.fanout.Release(id)
	}
}

func (p *Participant) onSignal(event string, sig protocol.RelayedSignal) {
	from := domain.ConnID(sig.From)
	var err error
	switch event {
	case protocol.EvOffer:
		if from != p.Streamer() || p.hosting() {
			p.logger.Warn().Str("from", sig.From).Msg("offer not from streamer, ignored")
			return
		}
		err = p.engine.HandleOffer(from, sig.Offer)
	case protocol.EvAnswer:
		err = p.engine.HandleAnswer(from, sig.Answer)
	case protocol.EvCandidate:
		err = p.engine.HandleICECandidate(from, sig.Candidate)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("from", sig.From).Str("type", event).Msg("negotiation")
	}
}

func (p *Participant) stopRequestLocked() {
	if p.request != nil {
		p.request.Stop()
		p.request = nil
	}
}
