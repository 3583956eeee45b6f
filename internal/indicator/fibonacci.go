package indicator

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// FibRatio identifies a Fibonacci level.
type FibRatio float64

const (
	Fib236  FibRatio = 0.236
	Fib382  FibRatio = 0.382
	Fib500  FibRatio = 0.5
	Fib618  FibRatio = 0.618
	Fib786  FibRatio = 0.786
	Fib1000 FibRatio = 1.0
	Fib1618 FibRatio = 1.618
)

// FibRatios lists every level in ascending order.
var FibRatios = []FibRatio{Fib236, Fib382, Fib500, Fib618, Fib786, Fib1000, Fib1618}

// FibLevels is the level map for one bar.
type FibLevels struct {
	Uptrend   bool
	SwingHigh float64
	SwingLow  float64
	Levels    map[FibRatio]float64
}

// Level returns the price of a ratio.
func (f FibLevels) Level(r FibRatio) (float64, bool) {
	v, ok := f.Levels[r]
	return v, ok
}

// NewFibLevels builds the direction-aware level map from a swing range.
// In an uptrend retracements are measured down from the swing high and
// extensions project above it; a downtrend mirrors this from the swing low.
func NewFibLevels(high, low float64, uptrend bool) FibLevels {
	diff := high - low
	levels := make(map[FibRatio]float64, len(FibRatios))
	for _, r := range FibRatios {
		ratio := float64(r)
		switch {
		case uptrend && ratio <= 1:
			levels[r] = high - diff*ratio
		case uptrend:
			levels[r] = high + diff*(ratio-1)
		case ratio <= 1:
			levels[r] = low + diff*ratio
		default:
			levels[r] = low - diff*(ratio-1)
		}
	}
	return FibLevels{Uptrend: uptrend, SwingHigh: high, SwingLow: low, Levels: levels}
}

// Fibonacci computes the level map for each bar from the swing high and
// low of the trailing window, including the bar itself. uptrend decides the
// orientation per bar; bars with no trend reading or a flat range get None.
func Fibonacci(bars []types.Bar, window int, uptrend []optional.Option[bool]) []optional.Option[FibLevels] {
	out := make([]optional.Option[FibLevels], len(bars))
	for i := range out {
		out[i] = optional.None[FibLevels]()
	}
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(bars); i++ {
		if i >= len(uptrend) || uptrend[i].IsNone() {
			continue
		}
		hi, lo := math.Inf(-1), math.Inf(1)
		for _, b := range bars[i-window+1 : i+1] {
			hi = math.Max(hi, b.High)
			lo = math.Min(lo, b.Low)
		}
		if hi-lo <= 0 {
			continue
		}
		out[i] = optional.Some(NewFibLevels(hi, lo, uptrend[i].Unwrap()))
	}
	return out
}
