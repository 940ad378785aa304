package syncer

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/signaling/mocks"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const room = "ABC123"

type harness struct {
	clk     *clock.Mock
	emitter *mocks.MockEmitter
	player  *VirtualPlayer
	s       *Session
}

func newHarness(t *testing.T, viewerControl bool) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		clk:     clk,
		emitter: mocks.NewMockEmitter(ctrl),
		player:  NewVirtualPlayer(clk, 3600),
	}
	h.s = NewSession(Config{
		RoomID:        room,
		Emitter:       h.emitter,
		Player:        h.player,
		Clock:         clk,
		ViewerControl: viewerControl,
	})
	t.Cleanup(h.s.Close)
	return h
}

// measureRTT completes one ping/pong exchange taking d.
func (h *harness) measureRTT(t *testing.T, d time.Duration) {
	t.Helper()
	var sent int64
	h.emitter.EXPECT().Emit(protocol.EvPingRTT, gomock.Any()).DoAndReturn(func(_ string, p any) error {
		sent = p.(int64)
		return nil
	})
	h.s.Start()
	h.clk.Add(d)
	h.s.HandlePong(json.RawMessage(strconv.FormatInt(sent, 10)))
	require.InDelta(t, float64(d.Milliseconds()), h.s.RTT(), 1e-9)
}

func TestViewerSoftCorrection(t *testing.T) {
	h := newHarness(t, false)
	h.measureRTT(t, 40*time.Millisecond)

	h.player.Seek(100.9)
	h.player.Play()
	c := h.s.HandleSyncState(protocol.SyncState{
		Playing:     true,
		CurrentTime: 100,
		ServerTime:  h.clk.Now().Add(-200 * time.Millisecond).UnixMilli(),
	})

	assert.Equal(t, SoftAdjust, c.Kind)
	assert.InDelta(t, -0.68, c.Drift, 1e-6)
	assert.InDelta(t, 0.95, h.player.Rate(), 1e-9)
	assert.InDelta(t, 100.9, h.player.Position(), 1e-9)
}

func TestViewerHardSeekAndPause(t *testing.T) {
	h := newHarness(t, false)
	h.player.Seek(50)
	h.player.Play()
	h.player.SetRate(1.05)

	c := h.s.HandleSyncState(protocol.SyncState{
		Playing:     false,
		CurrentTime: 100,
		ServerTime:  h.clk.Now().Add(-time.Second).UnixMilli(),
	})
	assert.Equal(t, HardSeek, c.Kind)
	// a paused host does not advance
	assert.InDelta(t, 100, h.player.Position(), 1e-9)
	assert.True(t, h.player.Paused())
	assert.Equal(t, 1.0, h.player.Rate())
	assert.Equal(t, c, h.s.LastCorrection())
}

func TestViewerInSyncResetsRate(t *testing.T) {
	h := newHarness(t, false)
	h.player.Seek(10)
	h.player.SetRate(0.95)
	c := h.s.HandleSyncState(protocol.SyncState{Playing: false, CurrentTime: 10.1, ServerTime: h.clk.Now().UnixMilli()})
	assert.Equal(t, InSync, c.Kind)
	assert.Equal(t, 1.0, h.player.Rate())
}

func TestFutureServerTimeIsClamped(t *testing.T) {
	h := newHarness(t, false)
	h.player.Seek(10)
	h.player.Play()
	c := h.s.HandleSyncState(protocol.SyncState{Playing: true, CurrentTime: 10, ServerTime: h.clk.Now().Add(time.Minute).UnixMilli()})
	assert.Equal(t, InSync, c.Kind)
}

func TestHostIgnoresSyncState(t *testing.T) {
	h := newHarness(t, false)
	h.s.SetRole(Host)
	h.player.Seek(5)
	c := h.s.HandleSyncState(protocol.SyncState{Playing: true, CurrentTime: 500})
	assert.Equal(t, Correction{}, c)
	assert.InDelta(t, 5, h.player.Position(), 1e-9)
}

func TestGuardSuppressesEcho(t *testing.T) {
	// gomock fails on any emit not expected here
	h := newHarness(t, true)
	h.player.Seek(10)
	h.s.HandleSyncState(protocol.SyncState{Playing: true, CurrentTime: 40, ServerTime: h.clk.Now().UnixMilli()})

	assert.True(t, h.s.Guarded())
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerSeek, Position: 40})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPlay, Position: 40})

	h.clk.Add(settleHeartbeat + time.Millisecond)
	assert.False(t, h.s.Guarded())

	h.emitter.EXPECT().Emit(protocol.EvPause, protocol.RoomRef{RoomID: room})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPause})
}

func TestDiscreteEventsApplyUnderGuard(t *testing.T) {
	h := newHarness(t, false)
	h.s.HandlePlay()
	assert.False(t, h.player.Paused())
	assert.True(t, h.s.Guarded())

	h.s.HandlePause()
	assert.True(t, h.player.Paused())

	h.s.HandleVolume(true, 0.3)
	muted, vol := h.player.Volume()
	assert.True(t, muted)
	assert.Equal(t, 0.3, vol)
}

func TestViewerWithoutControlStaysSilent(t *testing.T) {
	h := newHarness(t, false)
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPlay})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerVolume, Volume: 0.5})
}

func TestReceivedSeeksAreDebounced(t *testing.T) {
	h := newHarness(t, false)
	h.s.HandleSeek(10)
	h.clk.Add(50 * time.Millisecond)
	h.s.HandleSeek(20)
	assert.True(t, h.s.Guarded())
	assert.InDelta(t, 0, h.player.Position(), 1e-9)

	h.clk.Add(SeekDebounceIn)
	require.Eventually(t, func() bool { return h.player.Position() == 20 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.s.Guarded())
}

func TestHostSeekDebounce(t *testing.T) {
	h := newHarness(t, false)
	h.s.SetRole(Host)

	done := make(chan struct{})
	gomock.InOrder(
		h.emitter.EXPECT().Emit(protocol.EvSeek, protocol.SeekVideo{RoomID: room, Time: 20}).Times(1),
		h.emitter.EXPECT().Emit(protocol.EvHeartbeat, gomock.Any()).Times(1).Do(func(_ string, p any) {
			hb := p.(protocol.SyncHeartbeat)
			assert.Equal(t, room, hb.RoomID)
			assert.InDelta(t, 20+SeekDebounceOut.Seconds(), hb.CurrentTime, 1e-6, "heartbeat carries the live position")
			close(done)
		}),
	)

	h.player.Play()
	h.player.Seek(10)
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerSeek, Position: 10})
	h.clk.Add(50 * time.Millisecond)
	h.player.Seek(20)
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerSeek, Position: 20})
	h.clk.Add(SeekDebounceOut)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("seek not flushed")
	}
}

func TestHostPlayPauseDedupe(t *testing.T) {
	h := newHarness(t, false)
	h.s.SetRole(Host)
	gomock.InOrder(
		h.emitter.EXPECT().Emit(protocol.EvPlay, protocol.RoomRef{RoomID: room}).Times(1),
		h.emitter.EXPECT().Emit(protocol.EvPause, protocol.RoomRef{RoomID: room}).Times(1),
	)
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPlay})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPlay})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPause})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPause})
}

func TestHostVolume(t *testing.T) {
	h := newHarness(t, false)
	h.s.SetRole(Host)
	h.emitter.EXPECT().Emit(protocol.EvVolume, protocol.VolumeChange{RoomID: room, Muted: false, Volume: 0.4})
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerVolume, Volume: 0.4})
}

func TestHostHeartbeatLoop(t *testing.T) {
	h := newHarness(t, false)
	h.player.Seek(42)
	h.player.Play()

	var mu sync.Mutex
	var beats []protocol.SyncHeartbeat
	h.emitter.EXPECT().Emit(protocol.EvHeartbeat, gomock.Any()).AnyTimes().Do(func(_ string, p any) {
		mu.Lock()
		beats = append(beats, p.(protocol.SyncHeartbeat))
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(beats)
	}

	h.s.SetRole(Host)
	h.clk.Add(HeartbeatInterval - time.Millisecond)
	assert.Equal(t, 0, count())
	h.clk.Add(time.Millisecond)
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
	h.clk.Add(HeartbeatInterval)
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.True(t, beats[0].Playing)
	assert.Equal(t, room, beats[0].RoomID)
	assert.Equal(t, 3600.0, beats[0].Duration)
	mu.Unlock()

	h.s.SetRole(Viewer)
	h.clk.Add(2 * HeartbeatInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, count())
}

func TestHostAnswersSyncRequest(t *testing.T) {
	h := newHarness(t, false)
	h.player.Seek(7)
	h.emitter.EXPECT().Emit(protocol.EvSyncResponse, protocol.SyncResponse{To: "v1", Playing: false, CurrentTime: 7, Duration: 3600})
	h.s.HandleSyncRequest("v1")
	h.s.SetRole(Host)
	h.s.HandleSyncRequest("v1")
}

func TestFallbackRequestsSyncOnce(t *testing.T) {
	h := newHarness(t, false)
	h.emitter.EXPECT().Emit(protocol.EvRequestSync, protocol.RoomRef{RoomID: room}).Times(1)
	h.s.SetFallback(true)
	h.s.SetFallback(true)
}

func TestStalePongIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.emitter.EXPECT().Emit(protocol.EvPingRTT, gomock.Any())
	h.s.Start()
	h.clk.Add(10 * time.Millisecond)
	h.s.HandlePong(json.RawMessage(`12345`))
	h.s.HandlePong(json.RawMessage(`"junk"`))
	assert.Equal(t, 0.0, h.s.RTT())
}

func TestClosedSessionIsInert(t *testing.T) {
	h := newHarness(t, true)
	h.s.Close()
	h.s.SetRole(Host)
	h.s.OnPlayerEvent(PlayerEvent{Kind: PlayerPlay})
	h.s.SetFallback(true)
	assert.Equal(t, Viewer, h.s.Role())
}
