package syncer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// VirtualPlayer is a headless Player whose position advances with the clock
// at the current rate while playing. Every change is reported on Events,
// including changes made by sync, the way a media element would.
type VirtualPlayer struct {
	clk    clock.Clock
	events chan PlayerEvent

	mu       sync.Mutex
	base     float64
	since    time.Time
	duration float64
	playing  bool
	rate     float64
	muted    bool
	volume   float64
}

func NewVirtualPlayer(clk clock.Clock, duration float64) *VirtualPlayer {
	return &VirtualPlayer{
		clk:      clk,
		events:   make(chan PlayerEvent, 32),
		since:    clk.Now(),
		duration: duration,
		rate:     1,
		volume:   1,
	}
}

func (p *VirtualPlayer) Events() <-chan PlayerEvent { return p.events }

func (p *VirtualPlayer) positionLocked() float64 {
	pos := p.base
	if p.playing {
		pos += p.clk.Since(p.since).Seconds() * p.rate
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

// rebaseLocked folds elapsed playback into base.
func (p *VirtualPlayer) rebaseLocked() {
	p.base = p.positionLocked()
	p.since = p.clk.Now()
}

func (p *VirtualPlayer) publish(ev PlayerEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *VirtualPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *VirtualPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *VirtualPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

func (p *VirtualPlayer) Play() {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.rebaseLocked()
	p.playing = true
	pos := p.base
	p.mu.Unlock()
	p.publish(PlayerEvent{Kind: PlayerPlay, Position: pos})
}

func (p *VirtualPlayer) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.rebaseLocked()
	p.playing = false
	pos := p.base
	p.mu.Unlock()
	p.publish(PlayerEvent{Kind: PlayerPause, Position: pos})
}

func (p *VirtualPlayer) Seek(pos float64) {
	if pos < 0 {
		pos = 0
	}
	p.mu.Lock()
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	p.base = pos
	p.since = p.clk.Now()
	p.mu.Unlock()
	p.publish(PlayerEvent{Kind: PlayerSeek, Position: pos})
}

func (p *VirtualPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *VirtualPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebaseLocked()
	p.rate = rate
}

func (p *VirtualPlayer) SetVolume(muted bool, volume float64) {
	p.mu.Lock()
	p.muted, p.volume = muted, volume
	p.mu.Unlock()
	p.publish(PlayerEvent{Kind: PlayerVolume, Muted: muted, Volume: volume})
}

func (p *VirtualPlayer) Volume() (muted bool, volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted, p.volume
}
