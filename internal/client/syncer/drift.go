package syncer

import (
	"fmt"
	"math"
)

type CorrectionKind int

const (
	InSync CorrectionKind = iota
	SoftAdjust
	HardSeek
)

func (k CorrectionKind) String() string {
	switch k {
	case SoftAdjust:
		return "soft"
	case HardSeek:
		return "hard"
	}
	return "in-sync"
}

// Correction is what a viewer does about a measured drift.
type Correction struct {
	Kind  CorrectionKind
	Drift float64
	Rate  float64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s drift=%.3fs rate=%.2f", c.Kind, c.Drift, c.Rate)
}

// ExpectedPosition projects the host position forward by half the round trip
// and the time elapsed since the relay stamped the heartbeat.
func ExpectedPosition(position, rttMillis, elapsedMillis float64) float64 {
	return position + rttMillis/2000 + elapsedMillis/1000
}

// Classify maps a drift (expected minus local, seconds) to a correction.
// A drift of exactly the hard threshold snaps.
func Classify(drift float64) Correction {
	abs := math.Abs(drift)
	switch {
	case abs >= HardSeekThreshold:
		return Correction{Kind: HardSeek, Drift: drift, Rate: 1}
	case abs > SoftAdjustMin:
		rate := 1 + RateStep
		if drift < 0 {
			rate = 1 - RateStep
		}
		return Correction{Kind: SoftAdjust, Drift: drift, Rate: rate}
	}
	return Correction{Kind: InSync, Drift: drift, Rate: 1}
}
