package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/WatchParty/internal/adapters/signal"
	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "test", StaticPath: t.TempDir(), Secret: "test-secret"}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(30 * time.Minute),
		Policy:   app.SimplePolicy{},
	}
	ctrl := signal.NewSignalWSController(o, signal.NewRoomRateLimiter(20, 10*time.Second, nil), signal.Options{})
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, ctrl))
	t.Cleanup(srv.Close)
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, v any) {
	c.t.Helper()
	b, err := protocol.Encode(event, v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, b))
}

// next reads frames until one of the given type arrives.
func (c *wsClient) next(event string) protocol.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		env, err := protocol.ParseEnvelope(data)
		require.NoError(c.t, err)
		if env.Type == event {
			return env
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJoinOverWebsocket(t *testing.T) {
	srv := newServer(t)

	a := dial(t, srv)
	var aID protocol.Connected
	require.NoError(t, json.Unmarshal(a.next(protocol.EvConnected).Payload, &aID))
	assert.NotEmpty(t, aID.ID)

	a.emit(protocol.EvCreateRoom, nil)
	var created protocol.RoomCreated
	require.NoError(t, json.Unmarshal(a.next(protocol.EvRoomCreated).Payload, &created))
	require.Len(t, created.RoomID, 6)

	a.emit(protocol.EvJoinRoom, protocol.JoinRoom{RoomID: created.RoomID, Username: "alice"})
	a.next(protocol.EvStreamStatus)
	a.emit(protocol.EvStartStream, created.RoomID)
	a.next(protocol.EvStreamStarted)

	b := dial(t, srv)
	b.next(protocol.EvConnected)
	b.emit(protocol.EvJoinRoom, protocol.JoinRoom{RoomID: strings.ToLower(created.RoomID) + " ", Username: "bob"})

	var status protocol.StreamStatus
	require.NoError(t, json.Unmarshal(b.next(protocol.EvStreamStatus).Payload, &status))
	assert.True(t, status.IsStreaming)
	assert.Equal(t, aID.ID, status.StreamerID)

	var joined protocol.UserEvent
	require.NoError(t, json.Unmarshal(a.next(protocol.EvUserJoined).Payload, &joined))
	assert.Equal(t, "bob", joined.Username)

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rooms []protocol.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, protocol.RoomInfo{ID: created.RoomID, Members: 2, Streaming: true}, rooms[0])
}

func TestProtocolErrors(t *testing.T) {
	srv := newServer(t)
	c := dial(t, srv)
	c.next(protocol.EvConnected)

	c.emit("launch-missiles", nil)
	var e protocol.Error
	require.NoError(t, json.Unmarshal(c.next(protocol.EvError).Payload, &e))
	assert.Equal(t, protocol.CodeUnknownEvent, e.Error)

	c.emit(protocol.EvStreamStarted, protocol.StreamStarted{})
	require.NoError(t, json.Unmarshal(c.next(protocol.EvError).Payload, &e))
	assert.Equal(t, protocol.CodeUnknownEvent, e.Error, "server-only events are not accepted from clients")

	c.emit(protocol.EvJoinRoom, map[string]string{"username": "x"})
	require.NoError(t, json.Unmarshal(c.next(protocol.EvError).Payload, &e))
	assert.Equal(t, protocol.CodeBadPayload, e.Error)
}
