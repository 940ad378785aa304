package orch

import (
	"strings"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) CreateRoom(id domain.ConnID) {
	roomID, err := o.Rooms.CreateRoom()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("create room")
		return
	}
	o.send(id, protocol.EvRoomCreated, protocol.RoomCreated{RoomID: string(roomID)})
}

// JoinRoom adds the connection to a room (creating it if needed), replies with
// the stream status and announces the joiner to everyone else.
func (o *Orchestrator) JoinRoom(id domain.ConnID, p protocol.JoinRoom) {
	roomID, err := domain.CanonicalRoomID(p.RoomID)
	if err != nil {
		o.SendError(id, protocol.CodeBadPayload)
		return
	}
	name := domain.SanitizeUsername(p.Username)
	if !o.Registry.AddRoom(id, roomID) {
		return
	}
	snap := o.Rooms.JoinRoom(roomID, id, name)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Str("username", name).Msg("joined room")

	o.send(id, protocol.EvStreamStatus, streamStatus(snap))
	o.broadcast(snap.Members, id, protocol.EvUserJoined, protocol.UserEvent{ID: string(id), Username: name})
	o.broadcast(snap.Members, "", protocol.EvUserList, userList(snap))
}

func (o *Orchestrator) leave(roomID domain.RoomID, id domain.ConnID) {
	res, snap := o.Rooms.LeaveRoom(roomID, id)
	if !res.Removed {
		return
	}
	if res.WasHost {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("host left, stream stopped")
		o.broadcast(snap.Members, "", protocol.EvStreamStopped, nil)
	}
	o.broadcast(snap.Members, "", protocol.EvUserLeft, protocol.UserEvent{ID: string(id), Username: res.Member.Username})
	o.broadcast(snap.Members, "", protocol.EvUserList, userList(snap))
}

// Chat relays a message to the whole room, sender included.
func (o *Orchestrator) Chat(id domain.ConnID, p protocol.SendMessage) {
	snap, ok := o.memberRoom(id, p.RoomID)
	if !ok {
		return
	}
	user := strings.TrimSpace(p.User)
	if user == "" {
		for _, m := range snap.Members {
			if m.ConnID == id {
				user = m.Username
			}
		}
	}
	msg := protocol.ChatMessage{
		Message: p.Message,
		User:    domain.SanitizeUsername(user),
		TS:      o.Rooms.Now().UnixMilli(),
	}
	o.broadcast(snap.Members, "", protocol.EvReceiveMessage, msg)
}

// memberRoom resolves a room reference and checks the sender belongs to it.
func (o *Orchestrator) memberRoom(id domain.ConnID, raw string) (core.Snapshot, bool) {
	roomID, err := domain.CanonicalRoomID(raw)
	if err != nil {
		return core.Snapshot{}, false
	}
	room, ok := o.Rooms.Room(roomID)
	if !ok || !room.HasMember(id) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("not a member, ignored")
		return core.Snapshot{}, false
	}
	return room.Snapshot(), true
}

func streamStatus(s core.Snapshot) protocol.StreamStatus {
	st := protocol.StreamStatus{IsStreaming: s.IsStreaming(), StreamerID: s.Host.String()}
	if s.Playback != nil {
		st.PlayState = &protocol.PlayState{
			Playing:     s.Playback.Playing,
			CurrentTime: s.Playback.Position,
			Duration:    s.Playback.Duration,
		}
	}
	return st
}

func userList(s core.Snapshot) []protocol.UserEntry {
	out := make([]protocol.UserEntry, 0, len(s.Members))
	for _, m := range s.Members {
		out = append(out, protocol.UserEntry{
			ID:         string(m.ConnID),
			Username:   m.Username,
			IsStreamer: s.Host.Is(m.ConnID),
		})
	}
	return out
}
