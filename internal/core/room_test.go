package core

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRoomMembershipMatchesJoinsMinusLeaves(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := NewRoom("ROOM01", t0)
	want := map[domain.ConnID]bool{}
	now := t0

	for i := range 500 {
		now = now.Add(time.Second)
		id := domain.ConnID(fmt.Sprintf("c%d", rng.IntN(8)))
		switch rng.IntN(4) {
		case 0, 1:
			r.Join(id, "u", now)
			want[id] = true
		case 2:
			r.Leave(id, now)
			delete(want, id)
		case 3:
			r.SetHost(id, now)
		}

		ids := r.MemberIDs()
		require.Len(t, ids, len(want), "step %d", i)
		for _, got := range ids {
			require.True(t, want[got], "step %d: unexpected member %s", i, got)
		}
		if h, ok := r.Host().Get(); ok {
			require.True(t, want[h], "step %d: host %s is not a member", i, h)
		}
	}
}

func TestClearHostIdempotent(t *testing.T) {
	r := NewRoom("R", t0)
	r.Join("a", "alice", t0)
	r.Join("b", "bob", t0)
	require.True(t, r.SetHost("a", t0))

	before := r.Snapshot()
	assert.False(t, r.ClearHost("b", t0))
	assert.Equal(t, before, r.Snapshot())

	assert.True(t, r.ClearHost("a", t0))
	once := r.Snapshot()
	assert.False(t, r.ClearHost("a", t0))
	assert.Equal(t, once, r.Snapshot())
	assert.False(t, once.IsStreaming())
}

func TestSetHostDisplacesAndRequiresMembership(t *testing.T) {
	r := NewRoom("R", t0)
	assert.False(t, r.SetHost("ghost", t0))

	r.Join("a", "alice", t0)
	r.Join("b", "bob", t0)
	require.True(t, r.SetHost("a", t0))
	require.True(t, r.RecordHeartbeat("a", domain.PlaybackState{Playing: true, Position: 10}, t0))

	require.True(t, r.SetHost("b", t0))
	s := r.Snapshot()
	assert.True(t, s.Host.Is("b"))
	assert.Nil(t, s.Playback, "playback of displaced host is dropped")
}

func TestHeartbeatOnlyFromHost(t *testing.T) {
	r := NewRoom("R", t0)
	r.Join("a", "alice", t0)
	r.Join("b", "bob", t0)
	r.SetHost("a", t0)

	assert.False(t, r.RecordHeartbeat("b", domain.PlaybackState{Position: 5}, t0))
	assert.Nil(t, r.Snapshot().Playback)

	at := t0.Add(3 * time.Second)
	assert.True(t, r.RecordHeartbeat("a", domain.PlaybackState{Playing: true, Position: 42, Duration: 100}, at))
	ps := r.Snapshot().Playback
	require.NotNil(t, ps)
	assert.Equal(t, 42.0, ps.Position)
	assert.Equal(t, at, ps.ServerTimestamp)
}

func TestLeaveByHostClearsState(t *testing.T) {
	r := NewRoom("R", t0)
	r.Join("a", "alice", t0)
	r.SetHost("a", t0)
	r.RecordHeartbeat("a", domain.PlaybackState{Position: 1}, t0)

	res := r.Leave("a", t0)
	assert.True(t, res.Removed)
	assert.True(t, res.WasHost)
	assert.True(t, res.Empty)
	assert.Equal(t, "alice", res.Member.Username)
	s := r.Snapshot()
	assert.False(t, s.IsStreaming())
	assert.Nil(t, s.Playback)

	assert.False(t, r.Leave("a", t0).Removed)
}

func TestIsIdleStrictlyGreater(t *testing.T) {
	ttl := 30 * time.Minute
	r := NewRoom("R", t0)
	assert.False(t, r.IsIdle(t0.Add(ttl), ttl))
	assert.True(t, r.IsIdle(t0.Add(ttl+time.Nanosecond), ttl))

	r.Join("a", "alice", t0)
	assert.False(t, r.IsIdle(t0.Add(2*ttl), ttl))
}

func TestMembersOrderedByJoinTime(t *testing.T) {
	r := NewRoom("R", t0)
	r.Join("z", "zed", t0)
	r.Join("a", "amy", t0.Add(time.Second))
	r.Join("z", "zed2", t0.Add(2*time.Second))

	s := r.Snapshot()
	require.Len(t, s.Members, 2)
	assert.Equal(t, domain.ConnID("z"), s.Members[0].ConnID)
	assert.Equal(t, "zed2", s.Members[0].Username)
	assert.Equal(t, t0, s.Members[0].JoinedAt)
}
