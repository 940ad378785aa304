package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	return [...]string{"ok", "muted", "delete"}[s]
}

// RTPWriter is the sending side of a viewer track.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is the outgoing copy of the stream toward one viewer.
type OutTrack struct {
	Track RTPWriter
	state atomic.Int32 // zero is TrackStateOk
}

func NewOutTrack(track RTPWriter) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() TrackState { return TrackState(ot.state.Load()) }

func (ot *OutTrack) MarkOk() { ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk)) }

func (ot *OutTrack) MarkMuted() { ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted)) }

func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(TrackStateDelete)) }
