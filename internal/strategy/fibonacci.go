package strategy

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// levelOf looks up a ratio in the level map. Ratios from configuration are
// matched against the known ones with a small tolerance.
func levelOf(fib indicator.FibLevels, ratio float64) (float64, bool) {
	for _, r := range indicator.FibRatios {
		if math.Abs(float64(r)-ratio) < 1e-9 {
			return fib.Level(r)
		}
	}
	return 0, false
}

// FibonacciSignal enters on a pullback to a retracement level in the
// direction of the trend. Levels whose stop and target do not bracket the
// price are skipped.
func FibonacciSignal(snap indicator.Snapshot, p FibonacciParams) SignalResult {
	fib, err := snap.Fibonacci.Take()
	if err != nil {
		return Hold("Fibonacci levels unavailable")
	}
	stop, okS := levelOf(fib, p.StopLevel)
	target, okT := levelOf(fib, p.TargetLevel)
	if !okS || !okT {
		return Hold("Fibonacci stop or target level unavailable")
	}

	price := snap.Price
	dir, side, trend := types.DirectionBuy, "support", "uptrend"
	if !fib.Uptrend {
		dir, side, trend = types.DirectionSell, "resistance", "downtrend"
	}

	rejected := false
	for _, ratio := range p.EntryLevels {
		level, ok := levelOf(fib, ratio)
		if !ok || level <= 0 {
			continue
		}
		if math.Abs(price-level)/level >= p.EntryTolerance {
			continue
		}
		if !bracketed(dir, price, stop, target) {
			rejected = true
			continue
		}
		ratioVol, confirmed := volumeConfirmed(snap, p.VolumeThreshold)
		if !confirmed {
			return volumeHold(ratioVol, p.VolumeThreshold)
		}
		return entry(dir,
			fmt.Sprintf("Fibonacci %.1f%% %s ($%.2f) in %s", ratio*100, side, level, trend),
			optional.Some(stop),
			optional.Some(target))
	}

	if rejected {
		return geometryHold(fmt.Sprintf("Fibonacci setup rejected: stop $%.2f and target $%.2f do not bracket price $%.2f", stop, target, price))
	}
	return Hold("Price not at a key Fibonacci level")
}
