package media

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// Sink drains a received stream, optionally re-emitting each packet to out
// so an external player can render it.
type Sink struct {
	out io.Writer

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewSink(out io.Writer) *Sink { return &Sink{out: out} }

func (s *Sink) Packets() uint64 { return s.packets.Load() }
func (s *Sink) Bytes() uint64   { return s.bytes.Load() }

// Consume reads src until it fails or ctx ends.
func (s *Sink) Consume(ctx context.Context, src Source) {
	for ctx.Err() == nil {
		pkt, err := src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				log.Debug().Err(err).Str("module", "sink").Msg("track ended")
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		if s.out == nil {
			continue
		}
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		if _, err := s.out.Write(raw); err != nil {
			log.Warn().Err(err).Str("module", "sink").Msg("forward failed")
			s.out = nil
		}
	}
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*rtp.Packet, error)

func (f SourceFunc) ReadRTP() (*rtp.Packet, error) { return f() }
