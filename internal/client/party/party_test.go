package party

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/client/syncer"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []emitted
	in   chan protocol.Envelope
	done chan struct{}
}

func newTransport() *fakeTransport {
	return &fakeTransport{in: make(chan protocol.Envelope, 16), done: make(chan struct{})}
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, emitted{event, payload})
	return nil
}

func (f *fakeTransport) Incoming() <-chan protocol.Envelope { return f.in }
func (f *fakeTransport) Done() <-chan struct{}              { return f.done }

func (f *fakeTransport) of(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.sent {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type fakePC struct {
	mu     sync.Mutex
	out    webrtc.TrackLocal
	closed bool
}

func (p *fakePC) CreateOffer(bool) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, nil
}
func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}, nil
}
func (p *fakePC) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (p *fakePC) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (p *fakePC) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type dialLog struct {
	mu    sync.Mutex
	peers map[domain.ConnID]*fakePC
}

func (d *dialLog) dial(peer domain.ConnID, _ negotiation.PeerEvents, out webrtc.TrackLocal) (negotiation.PeerConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc := &fakePC{out: out}
	d.peers[peer] = pc
	return pc, nil
}

func (d *dialLog) get(peer domain.ConnID) *fakePC {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[peer]
}

type idleSource struct{ stop chan struct{} }

func (s idleSource) ReadRTP() (*rtp.Packet, error) {
	<-s.stop
	return nil, context.Canceled
}

type harness struct {
	clk    *clock.Mock
	tr     *fakeTransport
	dials  *dialLog
	player *syncer.VirtualPlayer
	out    *bytes.Buffer
	p      *Participant
}

func newHarness(t *testing.T, room string, host bool) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		clk:    clk,
		tr:     newTransport(),
		dials:  &dialLog{peers: map[domain.ConnID]*fakePC{}},
		player: syncer.NewVirtualPlayer(clk, 600),
		out:    &bytes.Buffer{},
	}
	opts := Options{
		Client: config.ClientConfig{
			FallbackWindow:     15 * time.Second,
			RequestStreamDelay: 400 * time.Millisecond,
		},
		RoomID:   room,
		Username: "alice",
		Player:   h.player,
		Dial:     h.dials.dial,
		Clock:    clk,
		Output:   h.out,
	}
	if host {
		stop := make(chan struct{})
		t.Cleanup(func() { close(stop) })
		opts.Source = idleSource{stop: stop}
	}
	h.p = New(h.tr, opts)
	t.Cleanup(h.p.shutdown)
	return h
}

func (h *harness) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	h.p.handle(protocol.Envelope{Type: event, Payload: raw})
}

func sdp(t *testing.T, typ webrtc.SDPType) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: "x"})
	require.NoError(t, err)
	return b
}

func TestHostFlow(t *testing.T) {
	h := newHarness(t, "", true)
	require.NoError(t, h.p.enter())
	assert.Len(t, h.tr.of(protocol.EvCreateRoom), 1)

	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})
	h.deliver(t, protocol.EvRoomCreated, protocol.RoomCreated{RoomID: "ABC123"})
	require.Len(t, h.tr.of(protocol.EvJoinRoom), 1)
	assert.Equal(t, protocol.JoinRoom{RoomID: "ABC123", Username: "alice"}, h.tr.of(protocol.EvJoinRoom)[0])

	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{IsStreaming: false})
	require.Len(t, h.tr.of(protocol.EvStartStream), 1)

	h.deliver(t, protocol.EvStreamStarted, protocol.StreamStarted{StreamerID: "me"})
	assert.Equal(t, StatusHosting, h.p.Status())
	assert.Contains(t, h.out.String(), "Hosting")

	h.deliver(t, protocol.EvUserJoined, protocol.UserEvent{ID: "v1", Username: "bob"})
	offers := h.tr.of(protocol.EvOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "v1", offers[0].(protocol.Signal).To)
	pc := h.dials.get("v1")
	require.NotNil(t, pc)
	assert.NotNil(t, pc.out, "host dials with the stream track")

	// a later request from the same viewer is ignored while negotiating
	h.deliver(t, protocol.EvRequestStream, protocol.From{From: "v1"})
	assert.Len(t, h.tr.of(protocol.EvOffer), 1)

	h.deliver(t, protocol.EvRequestSync, protocol.From{From: "v1"})
	require.Len(t, h.tr.of(protocol.EvSyncResponse), 1)
	assert.Equal(t, "v1", h.tr.of(protocol.EvSyncResponse)[0].(protocol.SyncResponse).To)

	h.deliver(t, protocol.EvUserLeft, protocol.UserEvent{ID: "v1", Username: "bob"})
	_, ok := h.p.engine.State("v1")
	assert.False(t, ok)
	assert.True(t, pc.closed)
}

func TestViewerRequestsStreamAfterDelay(t *testing.T) {
	h := newHarness(t, " abc123 ", false)
	require.NoError(t, h.p.enter())
	assert.Equal(t, domain.RoomID("ABC123"), h.p.Room())
	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})

	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{
		IsStreaming: true,
		StreamerID:  "host",
		PlayState:   &protocol.PlayState{Playing: false, CurrentTime: 42, Duration: 600},
	})
	assert.Equal(t, StatusConnecting, h.p.Status())
	assert.InDelta(t, 42, h.player.Position(), 1e-9)
	assert.Empty(t, h.tr.of(protocol.EvRequestStream))

	h.clk.Add(400 * time.Millisecond)
	require.Eventually(t, func() bool { return len(h.tr.of(protocol.EvRequestStream)) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.tr.of(protocol.EvRequestSync)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.RoomRef{RoomID: "ABC123"}, h.tr.of(protocol.EvRequestStream)[0])
}

func TestViewerAnswersOnlyTheStreamer(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})
	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{IsStreaming: true, StreamerID: "host"})

	h.deliver(t, protocol.EvOffer, protocol.RelayedSignal{From: "intruder", Offer: sdp(t, webrtc.SDPTypeOffer)})
	assert.Nil(t, h.dials.get("intruder"))
	assert.Empty(t, h.tr.of(protocol.EvAnswer))

	h.deliver(t, protocol.EvOffer, protocol.RelayedSignal{From: "host", Offer: sdp(t, webrtc.SDPTypeOffer)})
	require.Len(t, h.tr.of(protocol.EvAnswer), 1)
	assert.Equal(t, "host", h.tr.of(protocol.EvAnswer)[0].(protocol.Signal).To)
	assert.Nil(t, h.dials.get("host").out)
}

func TestViewerFallsBackToSyncOnly(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})
	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{IsStreaming: true, StreamerID: "host"})

	h.clk.Add(15 * time.Second)
	require.Eventually(t, func() bool { return h.p.Status() == StatusSyncOnly }, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.out.String(), "Sync Only (WebRTC failed)")
	// one from the delayed request, one from entering fallback
	require.Eventually(t, func() bool { return len(h.tr.of(protocol.EvRequestSync)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHostDisplacedBecomesViewer(t *testing.T) {
	h := newHarness(t, "ABC123", true)
	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})
	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{})
	h.deliver(t, protocol.EvStreamStarted, protocol.StreamStarted{StreamerID: "me"})
	h.deliver(t, protocol.EvUserJoined, protocol.UserEvent{ID: "v1", Username: "bob"})
	require.NotNil(t, h.dials.get("v1"))

	h.deliver(t, protocol.EvStreamStarted, protocol.StreamStarted{StreamerID: "v1"})
	assert.Equal(t, StatusConnecting, h.p.Status())
	assert.Equal(t, syncer.Viewer, h.p.session().Role())
	assert.True(t, h.dials.get("v1").closed)
	assert.Contains(t, h.out.String(), "another member took over the stream")
}

func TestStreamStoppedGoesIdle(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	h.deliver(t, protocol.EvConnected, protocol.Connected{ID: "me"})
	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{IsStreaming: true, StreamerID: "host"})
	h.deliver(t, protocol.EvStreamStopped, nil)
	assert.Equal(t, StatusIdle, h.p.Status())
	assert.Equal(t, domain.ConnID(""), h.p.Streamer())

	// the pending request dies with the stream
	h.clk.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.tr.of(protocol.EvRequestStream))
}

func TestPlaybackEventsReachPlayer(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	h.deliver(t, protocol.EvStreamStatus, protocol.StreamStatus{})
	h.deliver(t, protocol.EvPlay, nil)
	assert.False(t, h.player.Paused())
	h.deliver(t, protocol.EvVolume, protocol.VolumeState{Muted: true, Volume: 0.2})
	m, v := h.player.Volume()
	assert.True(t, m)
	assert.Equal(t, 0.2, v)
	h.deliver(t, protocol.EvPause, nil)
	assert.True(t, h.player.Paused())
}

func TestChatAndErrorsArePrinted(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	h.deliver(t, protocol.EvReceiveMessage, protocol.ChatMessage{Message: "hi there", User: "bob"})
	h.deliver(t, protocol.EvError, protocol.Error{Error: "rate_limited"})
	assert.Contains(t, h.out.String(), "hi there")
	assert.Contains(t, h.out.String(), "rate_limited")

	require.NoError(t, h.p.Say("yo"))
	assert.Equal(t, protocol.SendMessage{Message: "yo", User: "alice"}, h.tr.of(protocol.EvSendMessage)[0])
}

func TestRunEndsWhenSignalingDrops(t *testing.T) {
	h := newHarness(t, "ABC123", false)
	errc := make(chan error, 1)
	go func() { errc <- h.p.Run(context.Background()) }()

	h.tr.in <- protocol.Envelope{Type: protocol.EvConnected, Payload: json.RawMessage(`{"id":"me"}`)}
	require.Eventually(t, func() bool { return h.p.Self() == "me" }, time.Second, 5*time.Millisecond)
	close(h.tr.done)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	assert.Len(t, h.tr.of(protocol.EvJoinRoom), 1)
}
