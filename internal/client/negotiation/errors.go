package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/WatchParty/internal/domain"
)

var (
	ErrIllegalTransition = errors.New("illegal negotiation transition")
	ErrNoSession         = errors.New("no session for peer")
	ErrClosed            = errors.New("negotiation engine closed")
)

// NegotiationError wraps a failed step of one peer's negotiation.
type NegotiationError struct {
	Op   string
	Peer domain.ConnID
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s with %s: %v", e.Op, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
