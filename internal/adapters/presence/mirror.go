package presence

import (
	"context"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	queueSize    = 256
	writeTimeout = 2 * time.Second
)

type update struct {
	snap    core.Snapshot
	deleted bool
}

// Mirror is an app.RoomObserver that forwards changes to a Store from a
// single worker so the relay never waits on Redis.
type Mirror struct {
	store Store
	queue chan update
}

func NewMirror(store Store) *Mirror {
	return &Mirror{store: store, queue: make(chan update, queueSize)}
}

func (m *Mirror) RoomChanged(s core.Snapshot) {
	m.enqueue(update{snap: s})
}

func (m *Mirror) RoomDeleted(id domain.RoomID) {
	m.enqueue(update{snap: core.Snapshot{ID: id}, deleted: true})
}

func (m *Mirror) enqueue(u update) {
	select {
	case m.queue <- u:
	default:
		log.Warn().Str("module", "presence").Str("room", string(u.snap.ID)).Msg("presence queue full, update dropped")
	}
}

// Run applies queued updates until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-m.queue:
			m.apply(ctx, u)
		}
	}
}

func (m *Mirror) apply(ctx context.Context, u update) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var err error
	if u.deleted {
		err = m.store.DeleteRoom(ctx, u.snap.ID)
	} else {
		err = m.store.WriteRoom(ctx, u.snap)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "presence").Str("room", string(u.snap.ID)).Bool("deleted", u.deleted).Msg("presence write failed")
	}
}
