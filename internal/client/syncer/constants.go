package syncer

import "time"

const (
	HeartbeatInterval = 5000 * time.Millisecond
	HardSeekThreshold = 0.8  // seconds
	SoftAdjustMin     = 0.15 // seconds
	RateStep          = 0.05
	RTTInterval       = 10000 * time.Millisecond
	RTTTimeout        = 5 * time.Second
	SeekDebounceOut   = 150 * time.Millisecond
	SeekDebounceIn    = 100 * time.Millisecond

	// settle windows keep the guard up while asynchronous player events
	// caused by a correction drain.
	settleHeartbeat = 250 * time.Millisecond
	settlePlayback  = 100 * time.Millisecond
	settleSeek      = 200 * time.Millisecond
)
