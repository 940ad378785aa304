package signal

import (
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(id domain.ConnID, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
		ctl.Orch.SendError(id, protocol.CodeBadPayload)
		return
	}
	if !protocol.IsInbound(env.Type) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("type", env.Type).Msg("unknown signal")
		ctl.Orch.SendError(id, protocol.CodeUnknownEvent)
		return
	}

	o := ctl.Orch
	switch env.Type {
	case protocol.EvCreateRoom:
		o.CreateRoom(id)
	case protocol.EvJoinRoom:
		bind(ctl, id, env, o.JoinRoom)
	case protocol.EvSendMessage:
		bind(ctl, id, env, ctl.handleChat)
	case protocol.EvStartStream:
		bind(ctl, id, env, o.StartStream)
	case protocol.EvStopStream:
		bind(ctl, id, env, o.StopStream)
	case protocol.EvRequestStream:
		bind(ctl, id, env, o.RequestStream)
	case protocol.EvOffer, protocol.EvAnswer, protocol.EvCandidate:
		bind(ctl, id, env, func(id domain.ConnID, p protocol.Signal) { o.Signal(id, env.Type, p) })
	case protocol.EvHeartbeat:
		bind(ctl, id, env, o.Heartbeat)
	case protocol.EvRequestSync:
		bind(ctl, id, env, o.RequestSync)
	case protocol.EvSyncResponse:
		bind(ctl, id, env, o.SyncResponse)
	case protocol.EvPlay:
		bind(ctl, id, env, o.Play)
	case protocol.EvPause:
		bind(ctl, id, env, o.Pause)
	case protocol.EvSeek:
		bind(ctl, id, env, o.Seek)
	case protocol.EvVolume:
		bind(ctl, id, env, o.Volume)
	case protocol.EvPingRTT:
		o.Ping(id, env.Payload)
	default:
		log.Error().Str("module", "signal").Str("type", env.Type).Msg("inbound event without handler")
		o.SendError(id, protocol.CodeUnknownEvent)
	}
}

// bind decodes and validates the payload before handing it to fn.
func bind[T any](ctl *SignalWSController, id domain.ConnID, env protocol.Envelope, fn func(domain.ConnID, T)) {
	p, err := protocol.Decode[T](env.Payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", env.Type).Msg("bad payload")
		ctl.Orch.SendError(id, protocol.CodeBadPayload)
		return
	}
	fn(id, p)
}

func (ctl *SignalWSController) handleChat(id domain.ConnID, p protocol.SendMessage) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("chat rate limited")
		ctl.Orch.SendError(id, protocol.CodeRateLimited)
		return
	}
	ctl.Orch.Chat(id, p)
}
