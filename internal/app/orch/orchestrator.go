// Package orch is the signaling relay: it routes typed events between
// connections using the room registry for addressing.
package orch

import (
	"errors"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
}

// Connect registers a new transport connection and tells it its id.
func (o *Orchestrator) Connect(id domain.ConnID, conn core.SignalConnection, cancel func()) {
	o.Registry.Bind(id, conn, cancel)
	o.send(id, protocol.EvConnected, protocol.Connected{ID: string(id)})
}

// Disconnect removes the connection from every room it joined.
func (o *Orchestrator) Disconnect(id domain.ConnID) {
	if o.Policy != nil {
		o.Policy.Forget(id)
	}
	rooms, ok := o.Registry.Unbind(id)
	if !ok {
		return
	}
	for _, room := range rooms {
		o.leave(room, id)
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Int("rooms", len(rooms)).Msg("disconnected")
}

// Kick drops a connection; cleanup follows through Disconnect once its pumps stop.
func (o *Orchestrator) Kick(id domain.ConnID) {
	log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("kicking connection")
	o.Registry.Cancel(id)
}

// SendError replies with a protocol error code.
func (o *Orchestrator) SendError(id domain.ConnID, code string) {
	o.send(id, protocol.EvError, protocol.Error{Error: code})
}

// RoomList summarizes live rooms.
func (o *Orchestrator) RoomList() []protocol.RoomInfo {
	snaps := o.Rooms.List()
	out := make([]protocol.RoomInfo, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, protocol.RoomInfo{ID: string(s.ID), Members: len(s.Members), Streaming: s.IsStreaming()})
	}
	return out
}

func (o *Orchestrator) send(to domain.ConnID, event string, v any) bool {
	frame, err := protocol.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return false
	}
	return o.sendFrame(to, event, frame)
}

// broadcast sends one encoded frame to every member except skip.
func (o *Orchestrator) broadcast(members []domain.Member, skip domain.ConnID, event string, v any) int {
	frame, err := protocol.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return 0
	}
	sent := 0
	for _, m := range members {
		if m.ConnID == skip {
			continue
		}
		if o.sendFrame(m.ConnID, event, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "orch").Str("event", event).Str("from", string(skip)).Int("sent_to", sent).Msg("broadcast result")
	return sent
}

func (o *Orchestrator) sendFrame(to domain.ConnID, event string, frame core.Frame) bool {
	conn, ok := o.Registry.Conn(to)
	if !ok {
		log.Debug().Str("module", "orch").Str("to", string(to)).Str("event", event).Msg("recipient gone")
		return false
	}
	err := conn.TrySend(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, core.ErrBackpressure) {
		action := app.KickMember
		if o.Policy != nil {
			action = o.Policy.OnBackPressure(to)
		}
		log.Warn().Str("module", "orch").Str("to", string(to)).Str("event", event).Stringer("action", action).Msg("send buffer full")
		if action == app.KickMember {
			o.Kick(to)
		}
		return false
	}
	log.Debug().Err(err).Str("module", "orch").Str("to", string(to)).Str("event", event).Msg("send failed")
	return false
}
