package syncer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer runs only the last function triggered within its delay.
type Debouncer struct {
	clk   clock.Clock
	delay time.Duration

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

func NewDebouncer(clk clock.Clock, delay time.Duration) *Debouncer {
	return &Debouncer{clk: clk, delay: delay}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := gen == d.gen
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
