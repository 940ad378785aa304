package media

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	TrackID  = "video"
	StreamID = "watchparty"
)

var ErrFanoutClosed = errors.New("media: fanout closed")

// Source yields the host's encoded video as RTP.
type Source interface {
	ReadRTP() (*rtp.Packet, error)
}

// Fanout copies one source stream to a track per connected viewer.
type Fanout struct {
	src    Source
	codec  webrtc.RTPCodecCapability
	logger zerolog.Logger

	mu     sync.RWMutex
	out    map[domain.ConnID]*OutTrack
	closed bool

	packets atomic.Uint64
}

func NewFanout(src Source) *Fanout {
	return &Fanout{
		src:    src,
		codec:  webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		logger: log.With().Str("module", "fanout").Logger(),
		out:    make(map[domain.ConnID]*OutTrack),
	}
}

// TrackFor creates the local track that carries the stream to peer,
// replacing any previous one.
func (f *Fanout) TrackFor(peer domain.ConnID) (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(f.codec, TrackID, StreamID)
	if err != nil {
		return nil, err
	}
	if err := f.Attach(peer, track); err != nil {
		return nil, err
	}
	return track, nil
}

func (f *Fanout) Attach(peer domain.ConnID, w RTPWriter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFanoutClosed
	}
	if old, ok := f.out[peer]; ok {
		old.MarkDelete()
	}
	f.out[peer] = NewOutTrack(w)
	return nil
}

// Release stops forwarding to peer. The entry is dropped by the forward loop.
func (f *Fanout) Release(peer domain.ConnID) {
	if ot := f.get(peer); ot != nil {
		ot.MarkDelete()
	}
}

// ReleaseAll stops forwarding to every viewer.
func (f *Fanout) ReleaseAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ot := range f.out {
		ot.MarkDelete()
	}
}

func (f *Fanout) Mute(peer domain.ConnID) {
	if ot := f.get(peer); ot != nil {
		ot.MarkMuted()
	}
}

func (f *Fanout) Unmute(peer domain.ConnID) {
	if ot := f.get(peer); ot != nil {
		ot.MarkOk()
	}
}

// OnICEState mutes a viewer while its transport is down. w identifies the
// track the state belongs to, so a replaced connection cannot touch its
// successor.
func (f *Fanout) OnICEState(peer domain.ConnID, w RTPWriter, st webrtc.ICEConnectionState) {
	ot := f.get(peer)
	if ot == nil || ot.Track != w {
		return
	}
	switch st {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		ot.MarkOk()
	case webrtc.ICEConnectionStateDisconnected:
		ot.MarkMuted()
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		ot.MarkDelete()
	}
}

func (f *Fanout) State(peer domain.ConnID) (TrackState, bool) {
	ot := f.get(peer)
	if ot == nil {
		return 0, false
	}
	return ot.State(), true
}

func (f *Fanout) Viewers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.out)
}

func (f *Fanout) Packets() uint64 { return f.packets.Load() }

func (f *Fanout) get(peer domain.ConnID) *OutTrack {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.out[peer]
}

// Run forwards packets until ctx ends or the source fails.
func (f *Fanout) Run(ctx context.Context) error {
	defer f.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := f.src.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error().Err(err).Msg("source read failed, stopping")
			return err
		}
		f.packets.Add(1)
		f.forward(pkt)
	}
}

func (f *Fanout) forward(pkt *rtp.Packet) {
	f.mu.RLock()
	snapshot := maps.Clone(f.out)
	f.mu.RUnlock()

	var dirty []domain.ConnID
	for peer, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, peer)
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				f.logger.Warn().Err(err).Str("peer", string(peer)).Msg("write failed, dropping viewer")
				ot.MarkDelete()
				dirty = append(dirty, peer)
			}
		}
	}
	if len(dirty) > 0 {
		f.cleanup(snapshot, dirty)
	}
}

// cleanup removes entries that are still the ones seen in the snapshot.
func (f *Fanout) cleanup(snapshot map[domain.ConnID]*OutTrack, dirty []domain.ConnID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, peer := range dirty {
		if f.out[peer] == snapshot[peer] {
			delete(f.out, peer)
		}
	}
}

func (f *Fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, ot := range f.out {
		ot.MarkDelete()
	}
}
