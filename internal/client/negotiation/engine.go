// Package negotiation runs the offer/answer/ICE exchange with every remote peer.
// The host always offers and viewers always answer, so there is no glare to
// resolve; what remains is keeping late callbacks and stale answers away from
// newer sessions.
package negotiation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/signaling"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultFallbackWindow = 15 * time.Second

// Status summarizes all peer sessions.
type Status struct {
	Sessions  int
	Connected int
	Failed    int
	Fallback  bool
}

type Config struct {
	Emitter        signaling.Emitter
	NewPeer        PeerFactory
	Clock          clock.Clock
	FallbackWindow time.Duration

	// OnStatus and OnTrack are called without the engine lock held.
	OnStatus func(Status)
	OnTrack  func(peer domain.ConnID, track *webrtc.TrackRemote)
}

type session struct {
	peer  domain.ConnID
	gen   uint64
	pc    PeerConnection
	state State
	ice   webrtc.ICEConnectionState

	offerer     bool
	makingOffer bool
	remoteSet   bool
	restarted   bool
	fingerprint string

	// out orders local candidates behind the description they belong to.
	out       sync.Mutex
	announced bool
	outbox    []webrtc.ICECandidateInit
}

// hold queues local candidates until the next description is announced.
func (s *session) hold() {
	s.out.Lock()
	s.announced = false
	s.out.Unlock()
}

func (s *session) connected() bool {
	return s.state.Active() &&
		(s.ice == webrtc.ICEConnectionStateConnected || s.ice == webrtc.ICEConnectionStateCompleted)
}

type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[domain.ConnID]*session
	pending  map[domain.ConnID][]webrtc.ICECandidateInit
	gen      uint64
	closed   bool

	window    *clock.Timer
	windowGen uint64
	degraded  bool
	wasLive   bool
	last      Status
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = DefaultFallbackWindow
	}
	return &Engine{
		cfg:      cfg,
		logger:   log.With().Str("module", "negotiation").Logger(),
		sessions: make(map[domain.ConnID]*session),
		pending:  make(map[domain.ConnID][]webrtc.ICECandidateInit),
	}
}

// Offer starts a session toward peer as the offerer. It is used both when a
// viewer joins and when a viewer asks for the stream; while a session to that
// peer is in progress or connected the call is ignored.
func (e *Engine) Offer(peer domain.ConnID) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var stale PeerConnection
	if s, ok := e.sessions[peer]; ok {
		if s.state.Active() {
			e.mu.Unlock()
			e.logger.Debug().Str("peer", string(peer)).Str("state", s.state.String()).Msg("session in progress, offer ignored")
			return nil
		}
		stale = s.pc
		delete(e.sessions, peer)
		delete(e.pending, peer)
	}
	s, err := e.newSessionLocked(peer)
	if err != nil {
		e.mu.Unlock()
		closePC(stale)
		return &NegotiationError{Op: "create peer", Peer: peer, Err: err}
	}
	s.offerer = true
	s.makingOffer = true
	e.mu.Unlock()

	closePC(stale)
	e.notify()
	return e.sendOffer(s, false)
}

// sendOffer runs outside the lock; s.makingOffer is already set.
func (e *Engine) sendOffer(s *session, restart bool) error {
	op := "offer"
	if restart {
		op = "ice restart"
	}
	s.hold()
	offer, err := s.pc.CreateOffer(restart)
	if err == nil {
		err = s.pc.SetLocalDescription(offer)
	}

	e.mu.Lock()
	s.makingOffer = false
	if !e.isCurrentLocked(s) {
		e.mu.Unlock()
		e.logger.Debug().Str("peer", string(s.peer)).Msg("offer for superseded session dropped")
		return nil
	}
	if err == nil {
		var next State
		if next, err = Next(s.state, EventLocalOffer); err == nil {
			s.state = next
			s.remoteSet = false
		}
	}
	if err != nil {
		e.failLocked(s)
		e.mu.Unlock()
		e.notify()
		nerr := &NegotiationError{Op: op, Peer: s.peer, Err: err}
		e.logger.Error().Err(nerr).Msg("offer abandoned")
		return nerr
	}
	e.mu.Unlock()

	e.logger.Info().Str("peer", string(s.peer)).Bool("restart", restart).Msg("sending offer")
	return e.announce(s, protocol.EvOffer, offer)
}

// HandleOffer answers an offer from from. An offer on a stable session that
// pins the same DTLS fingerprint is a renegotiation (an ICE restart from the
// host) and is applied to the existing connection; any other offer replaces
// the previous session.
func (e *Engine) HandleOffer(from domain.ConnID, raw json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return &NegotiationError{Op: "decode offer", Peer: from, Err: err}
	}
	fp := fingerprint(offer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	s, ok := e.sessions[from]
	renegotiate := ok && !s.offerer && s.state == StateStable && s.remoteSet && s.fingerprint == fp
	var stale PeerConnection
	if renegotiate {
		s.state, _ = Next(s.state, EventRemoteOffer)
	} else {
		if ok {
			s.state = StateClosed
			stale = s.pc
			delete(e.sessions, from)
			delete(e.pending, from)
		}
		var err error
		if s, err = e.newSessionLocked(from); err != nil {
			e.mu.Unlock()
			closePC(stale)
			return &NegotiationError{Op: "create peer", Peer: from, Err: err}
		}
		s.state, _ = Next(s.state, EventRemoteOffer)
	}
	s.fingerprint = fp
	e.mu.Unlock()
	closePC(stale)
	e.notify()
	if renegotiate {
		e.logger.Info().Str("peer", string(from)).Msg("renegotiating on existing connection")
	}

	err := s.pc.SetRemoteDescription(offer)

	e.mu.Lock()
	if !e.isCurrentLocked(s) {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		return e.abandonLocked(s, "set remote offer", err)
	}
	e.markRemoteSetLocked(s)
	e.mu.Unlock()

	s.hold()
	answer, err := s.pc.CreateAnswer()
	if err == nil {
		err = s.pc.SetLocalDescription(answer)
	}

	e.mu.Lock()
	if !e.isCurrentLocked(s) {
		e.mu.Unlock()
		return nil
	}
	if err == nil {
		s.state, err = Next(s.state, EventLocalAnswer)
	}
	if err != nil {
		return e.abandonLocked(s, "answer", err)
	}
	e.mu.Unlock()

	e.logger.Info().Str("peer", string(from)).Msg("sending answer")
	return e.announce(s, protocol.EvAnswer, answer)
}

// HandleAnswer applies an answer only while an offer to from is pending;
// anything else is a stale or duplicate answer and is discarded.
func (e *Engine) HandleAnswer(from domain.ConnID, raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return &NegotiationError{Op: "decode answer", Peer: from, Err: err}
	}

	e.mu.Lock()
	s, ok := e.sessions[from]
	if !ok || s.state != StateHaveLocalOffer {
		e.mu.Unlock()
		e.logger.Debug().Str("peer", string(from)).Msg("stale answer discarded")
		return nil
	}
	s.state, _ = Next(s.state, EventRemoteAnswer)
	e.mu.Unlock()

	err := s.pc.SetRemoteDescription(answer)

	e.mu.Lock()
	if !e.isCurrentLocked(s) {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		return e.abandonLocked(s, "set remote answer", err)
	}
	e.markRemoteSetLocked(s)
	e.mu.Unlock()
	e.notify()
	return nil
}

// HandleICECandidate applies a candidate once the remote description exists
// and buffers it in arrival order until then.
func (e *Engine) HandleICECandidate(from domain.ConnID, raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return &NegotiationError{Op: "decode candidate", Peer: from, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[from]
	if !ok || !s.remoteSet || !s.state.Active() {
		e.pending[from] = append(e.pending[from], cand)
		return nil
	}
	if err := s.pc.AddICECandidate(cand); err != nil {
		e.logger.Warn().Err(err).Str("peer", string(from)).Msg("add candidate")
	}
	return nil
}

// ClosePeer tears down the session with peer and drops its buffered candidates.
func (e *Engine) ClosePeer(peer domain.ConnID) {
	e.mu.Lock()
	s, ok := e.sessions[peer]
	delete(e.pending, peer)
	if !ok {
		e.mu.Unlock()
		return
	}
	s.state = StateClosed
	delete(e.sessions, peer)
	e.mu.Unlock()

	closePC(s.pc)
	e.logger.Info().Str("peer", string(peer)).Msg("peer closed")
	e.notify()
}

// CloseAll tears down every session and resets the fallback window.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	pcs := make([]PeerConnection, 0, len(e.sessions))
	for peer, s := range e.sessions {
		s.state = StateClosed
		pcs = append(pcs, s.pc)
		delete(e.sessions, peer)
	}
	clear(e.pending)
	e.resetWindowLocked()
	e.mu.Unlock()

	for _, pc := range pcs {
		closePC(pc)
	}
	e.notify()
}

// Close is CloseAll plus refusing any further work.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.CloseAll()
}

// State reports the signaling state of the session with peer.
func (e *Engine) State(peer domain.ConnID) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[peer]
	if !ok {
		return StateClosed, false
	}
	return s.state, true
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) newSessionLocked(peer domain.ConnID) (*session, error) {
	e.gen++
	s := &session{peer: peer, gen: e.gen, state: StateNew}
	pc, err := e.cfg.NewPeer(peer, PeerEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) { e.onLocalCandidate(s, c) },
		OnICEState:     func(st webrtc.ICEConnectionState) { e.onICEState(s, st) },
		OnTrack: func(t *webrtc.TrackRemote) {
			if e.isCurrent(s) && e.cfg.OnTrack != nil {
				e.cfg.OnTrack(peer, t)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.pc = pc
	e.sessions[peer] = s
	e.startWindowLocked()
	return s, nil
}

func (e *Engine) isCurrent(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isCurrentLocked(s)
}

// isCurrentLocked guards every async continuation against a session that was
// closed or replaced while it was running.
func (e *Engine) isCurrentLocked(s *session) bool {
	cur, ok := e.sessions[s.peer]
	return ok && cur.gen == s.gen && s.state != StateClosed
}

func (e *Engine) markRemoteSetLocked(s *session) {
	s.remoteSet = true
	queued := e.pending[s.peer]
	delete(e.pending, s.peer)
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			e.logger.Warn().Err(err).Str("peer", string(s.peer)).Msg("add buffered candidate")
		}
	}
	if len(queued) > 0 {
		e.logger.Debug().Str("peer", string(s.peer)).Int("count", len(queued)).Msg("flushed buffered candidates")
	}
}

// abandonLocked fails s, unlocks and returns the wrapped error.
func (e *Engine) abandonLocked(s *session, op string, err error) error {
	e.failLocked(s)
	e.mu.Unlock()
	e.notify()
	nerr := &NegotiationError{Op: op, Peer: s.peer, Err: err}
	e.logger.Error().Err(nerr).Msg("negotiation abandoned")
	return nerr
}

func (e *Engine) failLocked(s *session) {
	s.state, _ = Next(s.state, EventFail)
	e.degraded = true
}

// onLocalCandidate may run from inside SetLocalDescription, before the
// description is on the wire; such candidates wait in the outbox.
func (e *Engine) onLocalCandidate(s *session, c webrtc.ICECandidateInit) {
	if !e.isCurrent(s) {
		return
	}
	s.out.Lock()
	defer s.out.Unlock()
	if !s.announced {
		s.outbox = append(s.outbox, c)
		return
	}
	e.emitCandidate(s.peer, c)
}

// announce sends the description and then every candidate gathered while it
// was being set, in gathering order.
func (e *Engine) announce(s *session, event string, desc webrtc.SessionDescription) error {
	s.out.Lock()
	defer s.out.Unlock()
	queued := s.outbox
	s.outbox = nil
	if err := e.emitSDP(event, s.peer, desc); err != nil {
		return err
	}
	s.announced = true
	for _, c := range queued {
		e.emitCandidate(s.peer, c)
	}
	return nil
}

func (e *Engine) emitCandidate(peer domain.ConnID, c webrtc.ICECandidateInit) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := e.cfg.Emitter.Emit(protocol.EvCandidate, protocol.Signal{To: string(peer), Candidate: raw}); err != nil {
		e.logger.Warn().Err(err).Str("peer", string(peer)).Msg("emit candidate")
	}
}

func (e *Engine) onICEState(s *session, st webrtc.ICEConnectionState) {
	e.mu.Lock()
	if !e.isCurrentLocked(s) {
		e.mu.Unlock()
		return
	}
	s.ice = st
	if s.connected() {
		e.wasLive = true
	}
	restart := false
	switch st {
	case webrtc.ICEConnectionStateDisconnected:
		if s.offerer && !s.restarted && s.state == StateStable && !s.makingOffer {
			s.restarted = true
			s.makingOffer = true
			restart = true
		}
	case webrtc.ICEConnectionStateFailed:
		e.failLocked(s)
	}
	e.mu.Unlock()

	e.logger.Info().Str("peer", string(s.peer)).Str("ice_state", st.String()).Msg("ICE state")
	e.notify()
	if restart {
		_ = e.sendOffer(s, true)
	}
}

// Expect arms the fallback window without creating a session, for an answerer
// waiting on an offer that may never come.
func (e *Engine) Expect() {
	e.mu.Lock()
	if !e.closed {
		e.startWindowLocked()
	}
	e.mu.Unlock()
}

// startWindowLocked arms the fallback window if it is not running. Once a
// session has connected, the next attempt gets a fresh window.
func (e *Engine) startWindowLocked() {
	if e.wasLive {
		e.resetWindowLocked()
	}
	if e.window != nil {
		return
	}
	e.windowGen++
	gen := e.windowGen
	e.window = e.cfg.Clock.AfterFunc(e.cfg.FallbackWindow, func() { e.onWindowExpired(gen) })
}

func (e *Engine) resetWindowLocked() {
	if e.window != nil {
		e.window.Stop()
		e.window = nil
	}
	e.windowGen++
	e.degraded = false
	e.wasLive = false
}

func (e *Engine) onWindowExpired(gen uint64) {
	e.mu.Lock()
	if gen != e.windowGen {
		e.mu.Unlock()
		return
	}
	e.degraded = true
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) statusLocked() Status {
	st := Status{Sessions: len(e.sessions)}
	for _, s := range e.sessions {
		switch {
		case s.connected():
			st.Connected++
		case s.state == StateFailed:
			st.Failed++
		}
	}
	st.Fallback = e.degraded && st.Connected == 0
	return st
}

// notify reports the status when it changed.
func (e *Engine) notify() {
	e.mu.Lock()
	st := e.statusLocked()
	changed := st != e.last
	e.last = st
	e.mu.Unlock()
	if changed && e.cfg.OnStatus != nil {
		e.cfg.OnStatus(st)
	}
}

func (e *Engine) emitSDP(event string, peer domain.ConnID, sdp webrtc.SessionDescription) error {
	raw, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	sig := protocol.Signal{To: string(peer)}
	if event == protocol.EvOffer {
		sig.Offer = raw
	} else {
		sig.Answer = raw
	}
	return e.cfg.Emitter.Emit(event, sig)
}

// fingerprint returns the DTLS fingerprint a description pins, or "" when it
// cannot be parsed or carries none.
func fingerprint(desc webrtc.SessionDescription) string {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	if fp, ok := parsed.Attribute("fingerprint"); ok {
		return fp
	}
	for _, m := range parsed.MediaDescriptions {
		if fp, ok := m.Attribute("fingerprint"); ok {
			return fp
		}
	}
	return ""
}

func closePC(pc PeerConnection) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "negotiation").Msg("peer close")
	}
}
