// Package presence mirrors room membership into Redis for external dashboards.
// Nothing is ever read back; rooms stay memory-resident.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Store persists presence snapshots somewhere outside the process.
type Store interface {
	WriteRoom(ctx context.Context, s core.Snapshot) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error
}

// RedisStore keeps <prefix>:room:<id>:members (hash conn -> username) and
// <prefix>:room:<id>:host, both expiring after ttl.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "watchparty"
	}
	return &RedisStore{rdb: rdb, prefix: p, ttl: ttl}
}

func (s *RedisStore) MembersKey(id domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:members", s.prefix, id)
}

func (s *RedisStore) HostKey(id domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:host", s.prefix, id)
}

func (s *RedisStore) WriteRoom(ctx context.Context, snap core.Snapshot) error {
	members, host := s.MembersKey(snap.ID), s.HostKey(snap.ID)
	pipe := s.rdb.TxPipeline()
	_ = pipe.Del(ctx, members)
	if len(snap.Members) > 0 {
		fields := make(map[string]any, len(snap.Members))
		for _, m := range snap.Members {
			fields[string(m.ConnID)] = m.Username
		}
		_ = pipe.HSet(ctx, members, fields)
		_ = pipe.Expire(ctx, members, s.ttl)
	}
	if id, ok := snap.Host.Get(); ok {
		_ = pipe.Set(ctx, host, string(id), s.ttl)
	} else {
		_ = pipe.Del(ctx, host)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return s.rdb.Del(ctx, s.MembersKey(id), s.HostKey(id)).Err()
}
