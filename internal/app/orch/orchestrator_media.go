package orch

import (
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// StartStream makes the sender the room's broadcaster, displacing any other.
func (o *Orchestrator) StartStream(id domain.ConnID, ref protocol.RoomRef) {
	snap, ok := o.memberRoom(id, ref.RoomID)
	if !ok {
		return
	}
	if !o.Rooms.SetHost(snap.ID, id) {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(snap.ID)).Msg("stream started")
	snap, _ = o.Rooms.Snapshot(snap.ID)
	o.broadcast(snap.Members, "", protocol.EvStreamStarted, protocol.StreamStarted{StreamerID: string(id)})
	o.broadcast(snap.Members, "", protocol.EvUserList, userList(snap))
}

// StopStream is honoured only from the current host.
func (o *Orchestrator) StopStream(id domain.ConnID, ref protocol.RoomRef) {
	roomID, err := domain.CanonicalRoomID(ref.RoomID)
	if err != nil {
		return
	}
	if !o.Rooms.ClearHost(roomID, id) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("stale stop-stream ignored")
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("stream stopped")
	snap, _ := o.Rooms.Snapshot(roomID)
	o.broadcast(snap.Members, "", protocol.EvStreamStopped, nil)
	o.broadcast(snap.Members, "", protocol.EvUserList, userList(snap))
}

// RequestStream forwards a viewer's request to the current host.
func (o *Orchestrator) RequestStream(id domain.ConnID, ref protocol.RoomRef) {
	o.toHost(id, ref, protocol.EvRequestStream)
}

// RequestSync asks the current host for its playback state on behalf of id.
func (o *Orchestrator) RequestSync(id domain.ConnID, ref protocol.RoomRef) {
	o.toHost(id, ref, protocol.EvRequestSync)
}

func (o *Orchestrator) toHost(id domain.ConnID, ref protocol.RoomRef, event string) {
	snap, ok := o.memberRoom(id, ref.RoomID)
	if !ok {
		return
	}
	host, ok := snap.Host.Get()
	if !ok || host == id {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("event", event).Msg("no host to forward to")
		return
	}
	o.send(host, event, protocol.From{From: string(id)})
}

// Signal unicasts a negotiation message to its explicit recipient. Offers,
// answers and candidates are never broadcast.
func (o *Orchestrator) Signal(id domain.ConnID, event string, p protocol.Signal) {
	to := domain.ConnID(p.To)
	if to == id {
		return
	}
	o.send(to, event, protocol.RelayedSignal{
		From:      string(id),
		Offer:     p.Offer,
		Answer:    p.Answer,
		Candidate: p.Candidate,
	})
}

// Heartbeat stores and relays the host's playback state to the rest of the room.
func (o *Orchestrator) Heartbeat(id domain.ConnID, p protocol.SyncHeartbeat) {
	roomID, err := domain.CanonicalRoomID(p.RoomID)
	if err != nil {
		return
	}
	at, ok := o.Rooms.RecordHeartbeat(roomID, id, domain.PlaybackState{
		Playing:  p.Playing,
		Position: p.CurrentTime,
		Duration: p.Duration,
	})
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).Msg("heartbeat from non-host dropped")
		return
	}
	snap, _ := o.Rooms.Snapshot(roomID)
	o.broadcast(snap.Members, id, protocol.EvHeartbeat, protocol.SyncState{
		Playing:     p.Playing,
		CurrentTime: p.CurrentTime,
		Duration:    p.Duration,
		ServerTime:  at.UnixMilli(),
	})
}

// SyncResponse relays the host's answer to one viewer, stamped with server time.
func (o *Orchestrator) SyncResponse(id domain.ConnID, p protocol.SyncResponse) {
	o.send(domain.ConnID(p.To), protocol.EvSyncResponse, protocol.SyncState{
		From:        string(id),
		Playing:     p.Playing,
		CurrentTime: p.CurrentTime,
		Duration:    p.Duration,
		ServerTime:  o.Rooms.Now().UnixMilli(),
	})
}

// Play and Pause relay to the room excluding the sender.
func (o *Orchestrator) Play(id domain.ConnID, ref protocol.RoomRef) {
	o.relayPlayback(id, ref.RoomID, protocol.EvPlay, nil)
}

func (o *Orchestrator) Pause(id domain.ConnID, ref protocol.RoomRef) {
	o.relayPlayback(id, ref.RoomID, protocol.EvPause, nil)
}

func (o *Orchestrator) Seek(id domain.ConnID, p protocol.SeekVideo) {
	o.relayPlayback(id, p.RoomID, protocol.EvSeek, protocol.SeekTo{Time: p.Time})
}

func (o *Orchestrator) Volume(id domain.ConnID, p protocol.VolumeChange) {
	o.relayPlayback(id, p.RoomID, protocol.EvVolume, protocol.VolumeState{Muted: p.Muted, Volume: p.Volume})
}

func (o *Orchestrator) relayPlayback(id domain.ConnID, room, event string, v any) {
	snap, ok := o.memberRoom(id, room)
	if !ok {
		return
	}
	if o.Rooms.Touch(snap.ID) {
		o.broadcast(snap.Members, id, event, v)
	}
}

// Ping echoes the client's opaque timestamp back.
func (o *Orchestrator) Ping(id domain.ConnID, payload json.RawMessage) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	o.send(id, protocol.EvPongRTT, payload)
}
