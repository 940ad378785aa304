package app

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Rooms  map[domain.RoomID]struct{}
}

// Registry maps live connections to their transport and the rooms they joined.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

func (r *Registry) Bind(id domain.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel, Rooms: make(map[domain.RoomID]struct{})}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Unbind forgets the connection and returns the rooms it was in.
func (r *Registry) Unbind(id domain.ConnID) ([]domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
	return sortedRooms(e.Rooms), true
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) AddRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.Rooms[room] = struct{}{}
	return true
}

func (r *Registry) RemoveRoom(id domain.ConnID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		delete(e.Rooms, room)
	}
}

func (r *Registry) RoomsOf(id domain.ConnID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	return sortedRooms(e.Rooms)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the connection's pumps; cleanup then runs through the normal
// disconnect path.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Conn.Close()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func sortedRooms(set map[domain.RoomID]struct{}) []domain.RoomID {
	return slices.Sorted(maps.Keys(set))
}
