package indicator

// Trend classifies the moving average relationship.
type Trend string

const (
	TrendUp               Trend = "UPTREND"
	TrendDown             Trend = "DOWNTREND"
	TrendSideways         Trend = "SIDEWAYS"
	TrendInsufficientData Trend = "INSUFFICIENT_DATA"
)

// trendBand is the 2% separation the short average needs from the long one.
const trendBand = 0.02

// TrendSeries classifies each bar by comparing the short and long simple
// moving averages of the closes.
func TrendSeries(closes []float64, short, long int) []Trend {
	out := make([]Trend, len(closes))
	shortMA := SMA(closes, short)
	longMA := SMA(closes, long)
	for i := range closes {
		out[i] = TrendInsufficientData
		if i+1 < long {
			continue
		}
		s, errS := shortMA[i].Take()
		l, errL := longMA[i].Take()
		if errS != nil || errL != nil {
			continue
		}
		switch {
		case s > l*(1+trendBand):
			out[i] = TrendUp
		case s < l*(1-trendBand):
			out[i] = TrendDown
		default:
			out[i] = TrendSideways
		}
	}
	return out
}
