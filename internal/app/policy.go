package app

import (
	"sync"

	"github.com/dkeye/WatchParty/internal/domain"
)

type BackpressureAction int

const (
	KickMember BackpressureAction = iota
	DropFrame
)

func (a BackpressureAction) String() string {
	if a == DropFrame {
		return "drop"
	}
	return "kick"
}

// Policy decides what to do with a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(conn domain.ConnID) BackpressureAction
	Forget(conn domain.ConnID)
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return KickMember
}

func (SimplePolicy) Forget(domain.ConnID) {}

// StrikePolicy drops frames for a slow connection and kicks it on the
// Limit-th overflow. A Limit below 2 behaves like SimplePolicy.
type StrikePolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[domain.ConnID]int
}

func NewStrikePolicy(limit int) *StrikePolicy {
	return &StrikePolicy{Limit: limit, strikes: make(map[domain.ConnID]int)}
}

func (p *StrikePolicy) OnBackPressure(conn domain.ConnID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[conn]++
	if p.strikes[conn] >= p.Limit {
		delete(p.strikes, conn)
		return KickMember
	}
	return DropFrame
}

func (p *StrikePolicy) Forget(conn domain.ConnID) {
	p.mu.Lock()
	delete(p.strikes, conn)
	p.mu.Unlock()
}
