package syncer

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/client/signaling"
	"github.com/dkeye/WatchParty/internal/protocol"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// RTTSampler keeps a round-trip estimate to the relay from ping-rtt/pong-rtt
// exchanges. A pong counts only if it echoes the outstanding ping.
type RTTSampler struct {
	clk     clock.Clock
	emitter signaling.Emitter

	mu          sync.Mutex
	rtt         float64
	outstanding int64
	next        *clock.Timer
	abandon     *clock.Timer
	running     bool
}

func NewRTTSampler(clk clock.Clock, emitter signaling.Emitter) *RTTSampler {
	return &RTTSampler{clk: clk, emitter: emitter}
}

// Start pings immediately and then every RTTInterval.
func (r *RTTSampler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	r.sample()
}

func (r *RTTSampler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.outstanding = 0
	if r.next != nil {
		r.next.Stop()
	}
	if r.abandon != nil {
		r.abandon.Stop()
	}
}

// RTT returns the last measured round trip in milliseconds.
func (r *RTTSampler) RTT() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rtt
}

func (r *RTTSampler) sample() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	sent := r.clk.Now().UnixMilli()
	r.outstanding = sent
	r.abandon = r.clk.AfterFunc(RTTTimeout, func() {
		r.mu.Lock()
		if r.outstanding == sent {
			r.outstanding = 0
		}
		r.mu.Unlock()
	})
	r.next = r.clk.AfterFunc(RTTInterval, r.sample)
	r.mu.Unlock()

	if err := r.emitter.Emit(protocol.EvPingRTT, sent); err != nil {
		log.Warn().Err(err).Str("module", "syncer").Msg("ping-rtt")
	}
}

// HandlePong consumes a pong-rtt payload.
func (r *RTTSampler) HandlePong(raw json.RawMessage) bool {
	var sent int64
	if err := json.Unmarshal(raw, &sent); err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sent == 0 || sent != r.outstanding {
		return false
	}
	r.outstanding = 0
	r.rtt = float64(r.clk.Now().UnixMilli() - sent)
	if r.abandon != nil {
		r.abandon.Stop()
	}
	return true
}
