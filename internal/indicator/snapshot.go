package indicator

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Config contains the indicator periods.
type Config struct {
	RSIPeriod        int     `mapstructure:"rsi_period" validate:"min=2"`
	MACDFast         int     `mapstructure:"macd_fast" validate:"min=1"`
	MACDSlow         int     `mapstructure:"macd_slow" validate:"gtfield=MACDFast"`
	MACDSignal       int     `mapstructure:"macd_signal" validate:"min=1"`
	BollingerPeriod  int     `mapstructure:"bollinger_period" validate:"min=2"`
	BollingerK       float64 `mapstructure:"bollinger_k" validate:"gt=0"`
	ATRPeriod        int     `mapstructure:"atr_period" validate:"min=1"`
	ADXPeriod        int     `mapstructure:"adx_period" validate:"min=2"`
	SRWindow         int     `mapstructure:"sr_window" validate:"min=2"`
	FibWindow        int     `mapstructure:"fib_window" validate:"min=2"`
	TrendShort       int     `mapstructure:"trend_short" validate:"min=1"`
	TrendLong        int     `mapstructure:"trend_long" validate:"gtfield=TrendShort"`
	TrendEMA         int     `mapstructure:"trend_ema" validate:"min=1"`
	VolumePeriod     int     `mapstructure:"volume_period" validate:"min=1"`
	OpeningRangeBars int     `mapstructure:"opening_range_bars" validate:"min=1"`
}

// DefaultConfig returns the standard indicator periods.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BollingerPeriod:  20,
		BollingerK:       2,
		ATRPeriod:        14,
		ADXPeriod:        14,
		SRWindow:         20,
		FibWindow:        50,
		TrendShort:       20,
		TrendLong:        50,
		TrendEMA:         50,
		VolumePeriod:     20,
		OpeningRangeBars: 6,
	}
}

// Snapshot is the typed indicator reading at one bar.
type Snapshot struct {
	Index     int
	Time      time.Time
	Price     float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	PrevClose Value

	RSI           Value
	MACD          Value
	MACDSignal    Value
	MACDHistogram Value

	BollingerUpper  Value
	BollingerMiddle Value
	BollingerLower  Value

	ATR        Value
	VWAP       Value
	Support    Value
	Resistance Value
	ADX        Value
	EMATrend   Value

	AvgVolume   Value
	VolumeRatio Value

	OpeningHigh Value
	OpeningLow  Value

	Trend     Trend
	Fibonacci optional.Option[FibLevels]

	SessionStart bool
	SessionEnd   bool
}

// Set holds every indicator series for one bar series.
type Set struct {
	bars          []types.Bar
	sessionStarts []bool

	rsi        []Value
	macd       MACDSeries
	bands      BandSeries
	atr        []Value
	vwap       []Value
	support    []Value
	resistance []Value
	adx        []Value
	ema        []Value
	avgVolume  []Value
	volRatio   []Value
	openHigh   []Value
	openLow    []Value
	trend      []Trend
	fib        []optional.Option[FibLevels]
}

// Compute derives every indicator over the whole series in one pass per
// indicator. Only data up to a bar is used for that bar's values.
func Compute(series types.Series, cfg Config) *Set {
	bars := series.Bars
	closes := Closes(bars)
	starts := series.SessionStarts()

	s := &Set{
		bars:          bars,
		sessionStarts: starts,
		rsi:           RSI(closes, cfg.RSIPeriod),
		macd:          MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		bands:         Bollinger(closes, cfg.BollingerPeriod, cfg.BollingerK),
		atr:           ATR(bars, cfg.ATRPeriod),
		vwap:          VWAP(bars, starts),
		adx:           ADX(bars, cfg.ADXPeriod),
		ema:           EMA(closes, cfg.TrendEMA),
		trend:         TrendSeries(closes, cfg.TrendShort, cfg.TrendLong),
	}
	s.support, s.resistance = SupportResistance(bars, cfg.SRWindow)
	s.avgVolume, s.volRatio = VolumeProfile(bars, cfg.VolumePeriod)
	s.openHigh, s.openLow = OpeningRange(bars, starts, cfg.OpeningRangeBars)

	uptrend := make([]optional.Option[bool], len(bars))
	for i, b := range bars {
		if e, err := s.ema[i].Take(); err == nil {
			uptrend[i] = optional.Some(b.Close > e)
		} else {
			uptrend[i] = optional.None[bool]()
		}
	}
	s.fib = Fibonacci(bars, cfg.FibWindow, uptrend)
	return s
}

// Len returns the number of bars covered.
func (s *Set) Len() int {
	return len(s.bars)
}

// At returns the snapshot for bar i.
func (s *Set) At(i int) Snapshot {
	b := s.bars[i]
	prev := none()
	if i > 0 {
		prev = some(s.bars[i-1].Close)
	}
	return Snapshot{
		Index:           i,
		Time:            b.Timestamp,
		Price:           b.Close,
		Open:            b.Open,
		High:            b.High,
		Low:             b.Low,
		Volume:          b.Volume,
		PrevClose:       prev,
		RSI:             s.rsi[i],
		MACD:            s.macd.Line[i],
		MACDSignal:      s.macd.Signal[i],
		MACDHistogram:   s.macd.Histogram[i],
		BollingerUpper:  s.bands.Upper[i],
		BollingerMiddle: s.bands.Middle[i],
		BollingerLower:  s.bands.Lower[i],
		ATR:             s.atr[i],
		VWAP:            s.vwap[i],
		Support:         s.support[i],
		Resistance:      s.resistance[i],
		ADX:             s.adx[i],
		EMATrend:        s.ema[i],
		AvgVolume:       s.avgVolume[i],
		VolumeRatio:     s.volRatio[i],
		OpeningHigh:     s.openHigh[i],
		OpeningLow:      s.openLow[i],
		Trend:           s.trend[i],
		Fibonacci:       s.fib[i],
		SessionStart:    s.sessionStarts[i],
		SessionEnd:      i == len(s.bars)-1 || s.sessionStarts[i+1],
	}
}

// Latest returns the snapshot for the most recent bar.
func (s *Set) Latest() Snapshot {
	return s.At(len(s.bars) - 1)
}

// Map renders the snapshot for API output. Unavailable readings are nil.
func (snap Snapshot) Map(timeframe types.Timeframe) map[string]any {
	val := func(v Value) any {
		if f, err := v.Take(); err == nil {
			return f
		}
		return nil
	}
	volume := map[string]any{
		"current_volume": snap.Volume,
		"avg_volume":     val(snap.AvgVolume),
		"volume_ratio":   val(snap.VolumeRatio),
	}
	if r, err := snap.VolumeRatio.Take(); err == nil {
		volume["volume_trend"] = VolumeTrend(r)
	}
	out := map[string]any{
		"rsi": val(snap.RSI),
		"macd": map[string]any{
			"macd":      val(snap.MACD),
			"signal":    val(snap.MACDSignal),
			"histogram": val(snap.MACDHistogram),
		},
		"bollinger": map[string]any{
			"upper":  val(snap.BollingerUpper),
			"middle": val(snap.BollingerMiddle),
			"lower":  val(snap.BollingerLower),
		},
		"support":    val(snap.Support),
		"resistance": val(snap.Resistance),
		"trend":      string(snap.Trend),
		"volume":     volume,
		"atr":        val(snap.ATR),
		"vwap":       val(snap.VWAP),
		"adx":        val(snap.ADX),
		"timeframe":  string(timeframe),
	}
	if fib, err := snap.Fibonacci.Take(); err == nil {
		levels := make(map[string]float64, len(fib.Levels))
		for r, v := range fib.Levels {
			levels[fibKey(r)] = v
		}
		out["fibonacci"] = levels
	}
	return out
}

func fibKey(r FibRatio) string {
	switch r {
	case Fib236:
		return "level_236"
	case Fib382:
		return "level_382"
	case Fib500:
		return "level_500"
	case Fib618:
		return "level_618"
	case Fib786:
		return "level_786"
	case Fib1000:
		return "level_1000"
	default:
		return "level_1618"
	}
}
