// Package protocol defines the closed set of signaling events exchanged between
// participants and the relay, and their payload shapes.
package protocol

const (
	// connection lifecycle
	EvConnected = "connected"
	EvError     = "error"

	// rooms
	EvCreateRoom   = "create-room"
	EvRoomCreated  = "room-created"
	EvJoinRoom     = "join-room"
	EvStreamStatus = "stream-status"
	EvUserJoined   = "user-joined"
	EvUserLeft     = "user-left"
	EvUserList     = "user-list"

	// chat
	EvSendMessage    = "send-message"
	EvReceiveMessage = "receive-message"

	// stream control
	EvStartStream   = "start-stream"
	EvStopStream    = "stop-stream"
	EvStreamStarted = "stream-started"
	EvStreamStopped = "stream-stopped"
	EvRequestStream = "request-stream"

	// negotiation
	EvOffer     = "webrtc-offer"
	EvAnswer    = "webrtc-answer"
	EvCandidate = "webrtc-ice-candidate"

	// playback sync
	EvHeartbeat    = "sync-heartbeat"
	EvRequestSync  = "request-sync"
	EvSyncResponse = "sync-response"
	EvPlay         = "play-video"
	EvPause        = "pause-video"
	EvSeek         = "seek-video"
	EvVolume       = "volume-change"
	EvPingRTT      = "ping-rtt"
	EvPongRTT      = "pong-rtt"
)

// Error codes carried in EvError payloads.
const (
	CodeBadPayload   = "bad_payload"
	CodeUnknownEvent = "unknown_event"
	CodeRateLimited  = "rate_limited"
)

var inbound = map[string]struct{}{
	EvCreateRoom:    {},
	EvJoinRoom:      {},
	EvSendMessage:   {},
	EvStartStream:   {},
	EvStopStream:    {},
	EvRequestStream: {},
	EvOffer:         {},
	EvAnswer:        {},
	EvCandidate:     {},
	EvHeartbeat:     {},
	EvRequestSync:   {},
	EvSyncResponse:  {},
	EvPlay:          {},
	EvPause:         {},
	EvSeek:          {},
	EvVolume:        {},
	EvPingRTT:       {},
}

// IsInbound reports whether a client may send the event to the relay.
func IsInbound(event string) bool {
	_, ok := inbound[event]
	return ok
}
