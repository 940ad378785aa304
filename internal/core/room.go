package core

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// Snapshot is a consistent copy of a room's state.
type Snapshot struct {
	ID       domain.RoomID
	Host     domain.Host
	Playback *domain.PlaybackState
	Members  []domain.Member
}

// IsStreaming reports whether the room currently has a broadcaster.
func (s Snapshot) IsStreaming() bool {
	_, ok := s.Host.Get()
	return ok
}

// LeaveResult tells the caller what a leave changed.
type LeaveResult struct {
	Member  domain.Member
	Removed bool
	WasHost bool
	Empty   bool
}

// Room is a threadsafe in-memory room. All mutations are serialized by mu so the
// host is always either empty or a current member.
type Room struct {
	id domain.RoomID

	mu           sync.RWMutex
	host         domain.Host
	members      map[domain.ConnID]domain.Member
	playback     *domain.PlaybackState
	lastActivity time.Time
}

func NewRoom(id domain.RoomID, now time.Time) *Room {
	return &Room{
		id:           id,
		members:      make(map[domain.ConnID]domain.Member),
		lastActivity: now,
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// Join adds conn to the room. Re-joining keeps the original join time and
// refreshes the display name.
func (r *Room) Join(conn domain.ConnID, username string, now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conn]
	if ok {
		m.Username = username
	} else {
		m = domain.NewMember(conn, username, now)
	}
	r.members[conn] = m
	r.lastActivity = now
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(conn)).Msg("member joined")
	return r.snapshotLocked()
}

func (r *Room) Leave(conn domain.ConnID, now time.Time) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conn]
	if !ok {
		return LeaveResult{Empty: len(r.members) == 0}
	}
	delete(r.members, conn)
	res := LeaveResult{Member: m, Removed: true, Empty: len(r.members) == 0}
	if r.host.Is(conn) {
		r.host = domain.NoHost()
		r.playback = nil
		res.WasHost = true
	}
	r.lastActivity = now
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(conn)).Bool("was_host", res.WasHost).Msg("member left")
	return res
}

// SetHost makes conn the broadcaster, displacing any previous host. Only
// members can host.
func (r *Room) SetHost(conn domain.ConnID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[conn]; !ok {
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(conn)).Msg("set host from non-member ignored")
		return false
	}
	if prev, ok := r.host.Get(); ok && prev != conn {
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("prev", string(prev)).Str("conn", string(conn)).Msg("host displaced")
	}
	if !r.host.Is(conn) {
		r.playback = nil
	}
	r.host = domain.HostOf(conn)
	r.lastActivity = now
	return true
}

// ClearHost drops the host only if conn is the current one.
func (r *Room) ClearHost(conn domain.ConnID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.host.Is(conn) {
		return false
	}
	r.host = domain.NoHost()
	r.playback = nil
	r.lastActivity = now
	return true
}

// RecordHeartbeat stores the host's playback snapshot. Heartbeats from anyone
// but the host are rejected.
func (r *Room) RecordHeartbeat(conn domain.ConnID, ps domain.PlaybackState, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.host.Is(conn) {
		return false
	}
	ps.ServerTimestamp = now
	r.playback = &ps
	r.lastActivity = now
	return true
}

func (r *Room) Host() domain.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

func (r *Room) HasMember(conn domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[conn]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// MemberIDs returns member connection ids ordered by join time.
func (r *Room) MemberIDs() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.orderedLocked()
	out := make([]domain.ConnID, len(members))
	for i, m := range members {
		out[i] = m.ConnID
	}
	return out
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// IsIdle reports an empty room whose last activity is older than ttl.
func (r *Room) IsIdle(now time.Time, ttl time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0 && now.Sub(r.lastActivity) > ttl
}

func (r *Room) Touch(now time.Time) {
	r.mu.Lock()
	r.lastActivity = now
	r.mu.Unlock()
}

func (r *Room) snapshotLocked() Snapshot {
	s := Snapshot{ID: r.id, Host: r.host, Members: r.orderedLocked()}
	if r.playback != nil {
		ps := *r.playback
		s.Playback = &ps
	}
	return s
}

func (r *Room) orderedLocked() []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Member) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ConnID), string(b.ConnID))
	})
	return out
}
