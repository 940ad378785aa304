package syncer

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/signaling"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	Viewer Role = iota
	Host
)

func (r Role) String() string {
	if r == Host {
		return "host"
	}
	return "viewer"
}

var ErrSessionClosed = errors.New("syncer: session closed")

type Config struct {
	RoomID  string
	Emitter signaling.Emitter
	Player  Player
	Clock   clock.Clock
	// ViewerControl lets a viewer's own play/pause/seek/volume reach the room.
	ViewerControl bool
}

// Session keeps one participant's player aligned with the room. As host it
// publishes heartbeats and discrete playback changes, as viewer it corrects
// its player toward the host's timeline.
type Session struct {
	cfg     Config
	clk     clock.Clock
	rtt     *RTTSampler
	seekOut *Debouncer
	seekIn  *Debouncer

	mu          sync.Mutex
	role        Role
	closed      bool
	heartbeat   *clock.Timer
	hbGen       uint64
	lastPlaying *bool
	seekTo      float64
	applying    int
	guardUntil  time.Time
	fallback    bool
	last        Correction
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Session{
		cfg:     cfg,
		clk:     cfg.Clock,
		rtt:     NewRTTSampler(cfg.Clock, cfg.Emitter),
		seekOut: NewDebouncer(cfg.Clock, SeekDebounceOut),
		seekIn:  NewDebouncer(cfg.Clock, SeekDebounceIn),
	}
}

// Start begins RTT sampling.
func (s *Session) Start() { s.rtt.Start() }

func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopHeartbeatLocked()
	s.mu.Unlock()
	s.rtt.Stop()
	s.seekOut.Stop()
	s.seekIn.Stop()
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) RTT() float64 { return s.rtt.RTT() }

// LastCorrection is the most recent viewer correction.
func (s *Session) LastCorrection() Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) SetRole(role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.role == role {
		return
	}
	s.role = role
	s.lastPlaying = nil
	switch role {
	case Host:
		s.cfg.Player.SetRate(1)
		s.armHeartbeatLocked()
	case Viewer:
		s.stopHeartbeatLocked()
		s.seekOut.Stop()
	}
	log.Debug().Str("module", "syncer").Stringer("role", role).Msg("role changed")
}

// SetFallback records that media delivery failed. A viewer entering fallback
// asks the host for an immediate snapshot.
func (s *Session) SetFallback(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.fallback
	s.fallback = on
	if on && !was && s.role == Viewer && !s.closed {
		s.emitLocked(protocol.EvRequestSync, s.roomRef())
	}
}

// RequestSync asks the host for its current state.
func (s *Session) RequestSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role == Viewer && !s.closed {
		s.emitLocked(protocol.EvRequestSync, s.roomRef())
	}
}

func (s *Session) HandlePong(raw json.RawMessage) { s.rtt.HandlePong(raw) }

// Guarded reports whether local player changes are currently caused by
// incoming sync and must not be re-emitted.
func (s *Session) Guarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardedLocked()
}

func (s *Session) guardedLocked() bool {
	return s.applying > 0 || s.clk.Now().Before(s.guardUntil)
}

// applyLocked runs fn with the guard raised and keeps it up for settle.
func (s *Session) applyLocked(settle time.Duration, fn func()) {
	s.applying++
	defer func() {
		s.applying--
		s.extendGuardLocked(settle)
	}()
	fn()
}

func (s *Session) extendGuardLocked(d time.Duration) {
	if until := s.clk.Now().Add(d); until.After(s.guardUntil) {
		s.guardUntil = until
	}
}

func (s *Session) roomRef() protocol.RoomRef { return protocol.RoomRef{RoomID: s.cfg.RoomID} }

func (s *Session) emitLocked(event string, payload any) {
	if err := s.cfg.Emitter.Emit(event, payload); err != nil {
		log.Warn().Err(err).Str("module", "syncer").Str("event", event).Msg("emit")
	}
}

// host side

func (s *Session) armHeartbeatLocked() {
	s.stopHeartbeatLocked()
	gen := s.hbGen
	s.heartbeat = s.clk.AfterFunc(HeartbeatInterval, func() { s.onHeartbeatTick(gen) })
}

func (s *Session) stopHeartbeatLocked() {
	s.hbGen++
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
}

func (s *Session) onHeartbeatTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.role != Host || gen != s.hbGen {
		return
	}
	s.heartbeat = s.clk.AfterFunc(HeartbeatInterval, func() { s.onHeartbeatTick(gen) })
	s.sendHeartbeatLocked()
}

func (s *Session) sendHeartbeatLocked() {
	p := s.cfg.Player
	s.emitLocked(protocol.EvHeartbeat, protocol.SyncHeartbeat{
		RoomID:      s.cfg.RoomID,
		Playing:     !p.Paused(),
		CurrentTime: p.Position(),
		Duration:    p.Duration(),
	})
}

// HandleSyncRequest answers a request-sync relayed from viewer from.
func (s *Session) HandleSyncRequest(from string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.role != Host || from == "" {
		return
	}
	p := s.cfg.Player
	s.emitLocked(protocol.EvSyncResponse, protocol.SyncResponse{
		To:          from,
		Playing:     !p.Paused(),
		CurrentTime: p.Position(),
		Duration:    p.Duration(),
	})
}

// OnPlayerEvent handles a change observed on the local player.
func (s *Session) OnPlayerEvent(ev PlayerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.guardedLocked() {
		return
	}
	if s.role == Viewer && !s.cfg.ViewerControl {
		return
	}
	switch ev.Kind {
	case PlayerPlay, PlayerPause:
		playing := ev.Kind == PlayerPlay
		if s.lastPlaying != nil && *s.lastPlaying == playing {
			return
		}
		s.lastPlaying = &playing
		event := protocol.EvPause
		if playing {
			event = protocol.EvPlay
		}
		s.emitLocked(event, s.roomRef())
	case PlayerSeek:
		s.seekTo = ev.Position
		s.seekOut.Trigger(s.flushSeek)
	case PlayerVolume:
		s.emitLocked(protocol.EvVolume, protocol.VolumeChange{
			RoomID: s.cfg.RoomID,
			Muted:  ev.Muted,
			Volume: ev.Volume,
		})
	}
}

func (s *Session) flushSeek() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitLocked(protocol.EvSeek, protocol.SeekVideo{RoomID: s.cfg.RoomID, Time: s.seekTo})
	if s.role == Host {
		s.sendHeartbeatLocked()
	}
}

// viewer side

// HandleSyncState applies a heartbeat or sync response and returns the
// correction taken.
func (s *Session) HandleSyncState(st protocol.SyncState) Correction {
	rtt := s.rtt.RTT()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.role == Host {
		return Correction{}
	}
	expected := st.CurrentTime
	if st.Playing {
		elapsed := float64(s.clk.Now().UnixMilli() - st.ServerTime)
		if elapsed < 0 {
			elapsed = 0
		}
		expected = ExpectedPosition(st.CurrentTime, rtt, elapsed)
	}
	p := s.cfg.Player
	c := Classify(expected - p.Position())
	s.applyLocked(settleHeartbeat, func() {
		switch c.Kind {
		case HardSeek:
			p.Seek(expected)
			p.SetRate(1)
		default:
			if p.Rate() != c.Rate {
				p.SetRate(c.Rate)
			}
		}
		if st.Playing && p.Paused() {
			p.Play()
		} else if !st.Playing && !p.Paused() {
			p.Pause()
		}
	})
	s.last = c
	return c
}

func (s *Session) HandlePlay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.applyLocked(settlePlayback, func() {
		if s.cfg.Player.Paused() {
			s.cfg.Player.Play()
		}
	})
}

func (s *Session) HandlePause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.applyLocked(settlePlayback, func() {
		if !s.cfg.Player.Paused() {
			s.cfg.Player.Pause()
		}
	})
}

// HandleSeek applies a relayed seek after SeekDebounceIn; the guard stays
// raised from receipt until the seek has settled.
func (s *Session) HandleSeek(pos float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.extendGuardLocked(SeekDebounceIn + settleSeek)
	s.mu.Unlock()

	s.seekIn.Trigger(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.applyLocked(settleSeek, func() { s.cfg.Player.Seek(pos) })
	})
}

func (s *Session) HandleVolume(muted bool, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.applyLocked(settlePlayback, func() { s.cfg.Player.SetVolume(muted, volume) })
}
