// Package indicator provides the technical indicators used by the strategies.
//
// Every function returns one value per input bar. A value is None until the
// rolling window behind it is full, and whenever computing it would need a
// zero denominator.
package indicator

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Value is a per-bar indicator reading that may be unavailable.
type Value = optional.Option[float64]

func none() Value {
	return optional.None[float64]()
}

func some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return none()
	}
	return optional.Some(v)
}

func emptySeries(n int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = none()
	}
	return out
}

// Closes extracts close prices.
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// SMA calculates the simple moving average.
func SMA(values []float64, period int) []Value {
	out := emptySeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = some(sum / float64(period))
		}
	}
	return out
}

// EMA calculates the exponential moving average with smoothing 2/(period+1),
// seeded by the simple average of the first period values.
func EMA(values []float64, period int) []Value {
	out := emptySeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	k := 2.0 / float64(period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out[period-1] = some(ema)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = some(ema)
	}
	return out
}

// emaOfValues runs an EMA over a partially available series, starting at
// the first available point.
func emaOfValues(values []Value, period int) []Value {
	out := emptySeries(len(values))
	start := -1
	for i, v := range values {
		if v.IsSome() {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}
	dense := make([]float64, 0, len(values)-start)
	for _, v := range values[start:] {
		dense = append(dense, v.TakeOr(0))
	}
	for i, v := range EMA(dense, period) {
		out[start+i] = v
	}
	return out
}

// RollingStdDev calculates the sample standard deviation over a window.
func RollingStdDev(values []float64, period int) []Value {
	out := emptySeries(len(values))
	if period < 2 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = some(math.Sqrt(ss / float64(period-1)))
	}
	return out
}

// RSI calculates the Relative Strength Index with Wilder smoothing. The
// first reading is at index period. A window without any losses reads 100;
// a window without any movement is unavailable.
func RSI(closes []float64, period int) []Value {
	out := emptySeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) Value {
	if avgLoss == 0 {
		if avgGain == 0 {
			return none()
		}
		return some(100)
	}
	rs := avgGain / avgLoss
	return some(100 - 100/(1+rs))
}

// MACDSeries holds the MACD line, its signal line and the histogram.
type MACDSeries struct {
	Line      []Value
	Signal    []Value
	Histogram []Value
}

// MACD calculates Moving Average Convergence Divergence.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line := emptySeries(len(closes))
	for i := range closes {
		f, errF := fastEMA[i].Take()
		s, errS := slowEMA[i].Take()
		if errF == nil && errS == nil {
			line[i] = some(f - s)
		}
	}
	sig := emaOfValues(line, signal)
	hist := emptySeries(len(closes))
	for i := range closes {
		if line[i].IsSome() && sig[i].IsSome() {
			hist[i] = some(line[i].Unwrap() - sig[i].Unwrap())
		}
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}
}

// BandSeries holds Bollinger band values.
type BandSeries struct {
	Upper  []Value
	Middle []Value
	Lower  []Value
}

// Bollinger calculates Bollinger Bands as SMA +/- k sample deviations.
func Bollinger(closes []float64, period int, k float64) BandSeries {
	middle := SMA(closes, period)
	std := RollingStdDev(closes, period)
	upper := emptySeries(len(closes))
	lower := emptySeries(len(closes))
	for i := range closes {
		if middle[i].IsSome() && std[i].IsSome() {
			m, s := middle[i].Unwrap(), std[i].Unwrap()
			upper[i] = some(m + k*s)
			lower[i] = some(m - k*s)
		}
	}
	return BandSeries{Upper: upper, Middle: middle, Lower: lower}
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|). The
// first bar has no previous close and uses high-low.
func TrueRange(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR calculates the Average True Range as a rolling mean of true range.
func ATR(bars []types.Bar, period int) []Value {
	return SMA(TrueRange(bars), period)
}

// VWAP calculates the cumulative volume weighted average price from the
// typical price. Accumulation restarts on every flagged session start; a
// nil sessionStarts slice means one session.
func VWAP(bars []types.Bar, sessionStarts []bool) []Value {
	out := emptySeries(len(bars))
	var cumPV, cumV float64
	for i, b := range bars {
		if i > 0 && sessionStarts != nil && sessionStarts[i] {
			cumPV, cumV = 0, 0
		}
		cumPV += b.TypicalPrice() * b.Volume
		cumV += b.Volume
		if cumV > 0 {
			out[i] = some(cumPV / cumV)
		}
	}
	return out
}

// SupportResistance returns the lowest low and the highest high over the
// window bars preceding each bar. The current bar is excluded so that a
// close can break out of the range.
func SupportResistance(bars []types.Bar, window int) (support, resistance []Value) {
	support = emptySeries(len(bars))
	resistance = emptySeries(len(bars))
	if window <= 0 {
		return support, resistance
	}
	for i := window; i < len(bars); i++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, b := range bars[i-window : i] {
			lo = math.Min(lo, b.Low)
			hi = math.Max(hi, b.High)
		}
		support[i] = some(lo)
		resistance[i] = some(hi)
	}
	return support, resistance
}

// VolumeProfile returns the rolling average volume over the window ending
// at each bar, and the ratio of the bar's volume to that average.
func VolumeProfile(bars []types.Bar, period int) (avg, ratio []Value) {
	avg = SMA(Volumes(bars), period)
	ratio = emptySeries(len(bars))
	for i, b := range bars {
		if a, err := avg[i].Take(); err == nil && a > 0 {
			ratio[i] = some(b.Volume / a)
		}
	}
	return avg, ratio
}

// VolumeTrend labels a volume ratio.
func VolumeTrend(ratio float64) string {
	switch {
	case ratio > 1.5:
		return "HIGH"
	case ratio > 0.5:
		return "NORMAL"
	default:
		return "LOW"
	}
}

// ADX calculates the Average Directional Index with Wilder smoothing. The
// first reading is at index 2*period-1.
func ADX(bars []types.Bar, period int) []Value {
	n := len(bars)
	out := emptySeries(n)
	if period <= 0 || n < 2*period {
		return out
	}
	tr := TrueRange(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := func() float64 {
		if sTR == 0 {
			return 0
		}
		plusDI := 100 * sPlus / sTR
		minusDI := 100 * sMinus / sTR
		if plusDI+minusDI == 0 {
			return 0
		}
		return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	dxSum := dx()
	p := float64(period)
	for i := period + 1; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		d := dx()
		switch {
		case i < 2*period-1:
			dxSum += d
		case i == 2*period-1:
			dxSum += d
			out[i] = some(dxSum / p)
		default:
			prev := out[i-1].Unwrap()
			out[i] = some((prev*(p-1) + d) / p)
		}
	}
	return out
}

// OpeningRange returns, for every bar after the first n bars of its
// session, the high and low of those first n bars.
func OpeningRange(bars []types.Bar, sessionStarts []bool, n int) (high, low []Value) {
	high = emptySeries(len(bars))
	low = emptySeries(len(bars))
	if n <= 0 {
		return high, low
	}
	var hi, lo float64
	count := 0
	for i, b := range bars {
		if i == 0 || (sessionStarts != nil && sessionStarts[i]) {
			count = 0
			hi, lo = b.High, b.Low
		}
		if count < n {
			hi = math.Max(hi, b.High)
			lo = math.Min(lo, b.Low)
			count++
			continue
		}
		high[i] = some(hi)
		low[i] = some(lo)
	}
	return high, low
}
