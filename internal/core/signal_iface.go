package core

import "errors"

// ErrBackpressure is returned by TrySend when the connection cannot take more frames.
var ErrBackpressure = errors.New("backpressure")

// Frame is an encoded protocol envelope.
type Frame []byte

// SignalConnection abstracts the per-connection messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
