package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxCreateAttempts = 16

var ErrRoomSpaceExhausted = errors.New("could not allocate room id")

// RoomObserver is told about every committed room change.
type RoomObserver interface {
	RoomChanged(core.Snapshot)
	RoomDeleted(domain.RoomID)
}

// RoomManager is the room registry. Rooms live only in memory.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room

	clock    clock.Clock
	idleTTL  time.Duration
	newID    func() (domain.RoomID, error)
	observer RoomObserver
}

type RoomManagerOption func(*RoomManager)

func WithClock(c clock.Clock) RoomManagerOption {
	return func(m *RoomManager) { m.clock = c }
}

func WithObserver(o RoomObserver) RoomManagerOption {
	return func(m *RoomManager) { m.observer = o }
}

func WithIDGenerator(gen func() (domain.RoomID, error)) RoomManagerOption {
	return func(m *RoomManager) { m.newID = gen }
}

func NewRoomManager(idleTTL time.Duration, opts ...RoomManagerOption) *RoomManager {
	m := &RoomManager{
		rooms:   make(map[domain.RoomID]*core.Room),
		clock:   clock.New(),
		idleTTL: idleTTL,
		newID:   domain.NewRoomID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RoomManager) Now() time.Time { return m.clock.Now() }

// CreateRoom inserts an empty room under a fresh id.
func (m *RoomManager) CreateRoom() (domain.RoomID, error) {
	m.mu.Lock()
	var (
		id   domain.RoomID
		room *core.Room
	)
	for range maxCreateAttempts {
		cand, err := m.newID()
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
		if _, taken := m.rooms[cand]; taken {
			log.Debug().Str("module", "app.rooms").Str("room", string(cand)).Msg("room id collision, retrying")
			continue
		}
		id = cand
		room = core.NewRoom(id, m.clock.Now())
		m.rooms[id] = room
		break
	}
	m.mu.Unlock()
	if room == nil {
		return "", ErrRoomSpaceExhausted
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	m.notify(room.Snapshot())
	return id, nil
}

// JoinRoom adds conn to id, creating the room when it does not exist yet.
// The manager lock is held across the join so a concurrent sweep can never
// delete the room in between.
func (m *RoomManager) JoinRoom(id domain.RoomID, conn domain.ConnID, username string) core.Snapshot {
	now := m.clock.Now()
	m.mu.Lock()
	room, ok := m.rooms[id]
	if !ok {
		room = core.NewRoom(id, now)
		m.rooms[id] = room
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created on join")
	}
	snap := room.Join(conn, username, now)
	m.mu.Unlock()
	m.notify(snap)
	return snap
}

// LeaveRoom removes conn from id. Unknown rooms are a no-op.
func (m *RoomManager) LeaveRoom(id domain.RoomID, conn domain.ConnID) (core.LeaveResult, core.Snapshot) {
	room, ok := m.Room(id)
	if !ok {
		return core.LeaveResult{}, core.Snapshot{}
	}
	res := room.Leave(conn, m.clock.Now())
	snap := room.Snapshot()
	if res.Removed {
		m.notify(snap)
	}
	return res, snap
}

func (m *RoomManager) SetHost(id domain.RoomID, conn domain.ConnID) bool {
	room, ok := m.Room(id)
	if !ok {
		return false
	}
	if !room.SetHost(conn, m.clock.Now()) {
		return false
	}
	m.notify(room.Snapshot())
	return true
}

func (m *RoomManager) ClearHost(id domain.RoomID, conn domain.ConnID) bool {
	room, ok := m.Room(id)
	if !ok {
		return false
	}
	if !room.ClearHost(conn, m.clock.Now()) {
		return false
	}
	m.notify(room.Snapshot())
	return true
}

// RecordHeartbeat stores the host snapshot and returns the server time it was
// stamped with.
func (m *RoomManager) RecordHeartbeat(id domain.RoomID, conn domain.ConnID, ps domain.PlaybackState) (time.Time, bool) {
	room, ok := m.Room(id)
	if !ok {
		return time.Time{}, false
	}
	now := m.clock.Now()
	if !room.RecordHeartbeat(conn, ps, now) {
		return time.Time{}, false
	}
	return now, true
}

// Touch records activity on a room without changing its state.
func (m *RoomManager) Touch(id domain.RoomID) bool {
	room, ok := m.Room(id)
	if ok {
		room.Touch(m.clock.Now())
	}
	return ok
}

func (m *RoomManager) Room(id domain.RoomID) (*core.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

func (m *RoomManager) Snapshot(id domain.RoomID) (core.Snapshot, bool) {
	room, ok := m.Room(id)
	if !ok {
		return core.Snapshot{}, false
	}
	return room.Snapshot(), true
}

// List returns snapshots of all rooms ordered by id.
func (m *RoomManager) List() []core.Snapshot {
	m.mu.RLock()
	rooms := make([]*core.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]core.Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	slices.SortFunc(out, func(a, b core.Snapshot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Sweep deletes every empty room idle for longer than the ttl.
func (m *RoomManager) Sweep() int {
	now := m.clock.Now()
	var deleted []domain.RoomID
	m.mu.Lock()
	for id, r := range m.rooms {
		if r.IsIdle(now, m.idleTTL) {
			delete(m.rooms, id)
			deleted = append(deleted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range deleted {
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("idle room deleted")
		if m.observer != nil {
			m.observer.RoomDeleted(id)
		}
	}
	return len(deleted)
}

// RunSweeper sweeps every interval until ctx is done.
func (m *RoomManager) RunSweeper(ctx context.Context, interval time.Duration) {
	t := m.clock.Ticker(interval)
	defer t.Stop()
	log.Info().Str("module", "app.rooms").Dur("interval", interval).Dur("ttl", m.idleTTL).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.rooms").Msg("sweeper stopped")
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				log.Debug().Str("module", "app.rooms").Int("deleted", n).Msg("sweep done")
			}
		}
	}
}

func (m *RoomManager) notify(s core.Snapshot) {
	if m.observer != nil {
		m.observer.RoomChanged(s)
	}
}
