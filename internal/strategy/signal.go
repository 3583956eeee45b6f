package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// PrimaryVoteWeight is the vote a directional strategy signal carries.
const PrimaryVoteWeight = 2

// Rejection explains why a setup that matched on price became a HOLD.
type Rejection string

const (
	RejectionNone     Rejection = ""
	RejectionVolume   Rejection = "volume"
	RejectionGeometry Rejection = "geometry"
)

// SignalResult is the decision of one strategy for one bar.
type SignalResult struct {
	Direction   types.Direction
	VoteWeight  int
	Reason      string
	StopPrice   optional.Option[float64]
	TargetPrice optional.Option[float64]
	Rejection   Rejection
}

// IsEntry reports whether the result asks to open a position.
func (r SignalResult) IsEntry() bool {
	return r.Direction == types.DirectionBuy || r.Direction == types.DirectionSell
}

// Hold returns a HOLD result.
func Hold(reason string) SignalResult {
	return SignalResult{Direction: types.DirectionHold, Reason: reason}
}

func entry(dir types.Direction, reason string, stop, target optional.Option[float64]) SignalResult {
	return SignalResult{
		Direction:   dir,
		VoteWeight:  PrimaryVoteWeight,
		Reason:      reason,
		StopPrice:   stop,
		TargetPrice: target,
	}
}

// volumeConfirmed reports whether the bar volume strictly exceeds threshold
// times the average volume. An unavailable or non-positive average never
// confirms.
func volumeConfirmed(snap indicator.Snapshot, threshold float64) (float64, bool) {
	avg, err := snap.AvgVolume.Take()
	if err != nil || avg <= 0 {
		return 0, false
	}
	return snap.Volume / avg, snap.Volume > threshold*avg
}

func volumeHold(ratio, threshold float64) SignalResult {
	return SignalResult{
		Direction: types.DirectionHold,
		Reason:    fmt.Sprintf("Volume %.1fx avg below %.1fx threshold", ratio, threshold),
		Rejection: RejectionVolume,
	}
}

func geometryHold(reason string) SignalResult {
	return SignalResult{
		Direction: types.DirectionHold,
		Reason:    reason,
		Rejection: RejectionGeometry,
	}
}

// bracketed checks that stop and target sit on either side of the price in
// the trade's direction.
func bracketed(dir types.Direction, price, stop, target float64) bool {
	if dir == types.DirectionBuy {
		return stop < price && price < target
	}
	return target < price && price < stop
}

// atrOrFallback returns the ATR reading, or 2% of the price without one.
func atrOrFallback(snap indicator.Snapshot) float64 {
	if atr, err := snap.ATR.Take(); err == nil && atr > 0 {
		return atr
	}
	return snap.Price * 0.02
}
