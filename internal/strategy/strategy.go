// Package strategy provides the catalogue of trading strategies.
//
// The catalogue is closed: every strategy is a Kind, and dispatch is a
// switch over Kind. ParseKind is the only place an identifier can fail to
// resolve.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Kind identifies a strategy.
type Kind string

const (
	KindVWAP          Kind = "vwap"
	KindORB           Kind = "orb"
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
	KindFibonacci     Kind = "fibonacci"
	KindBreakout      Kind = "breakout"
)

// AllKinds lists every strategy, intraday kinds first.
var AllKinds = []Kind{
	KindVWAP,
	KindORB,
	KindMomentum,
	KindMeanReversion,
	KindFibonacci,
	KindBreakout,
}

// Category groups strategies by holding horizon.
type Category string

const (
	CategoryIntraday Category = "day_trading"
	CategoryMultiDay Category = "swing_trading"
)

// ParseKind resolves a strategy identifier.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", errors.Newf(errors.ErrCodeUnknownStrategy,
		"strategy '%s' not found. Available: %s", name, strings.Join(Names(), ", "))
}

// Names returns every strategy identifier in sorted order.
func Names() []string {
	names := make([]string, len(AllKinds))
	for i, k := range AllKinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	return names
}

func (k Kind) String() string {
	return string(k)
}

// Category returns the holding horizon of the strategy.
func (k Kind) Category() Category {
	switch k {
	case KindVWAP, KindORB, KindMomentum:
		return CategoryIntraday
	default:
		return CategoryMultiDay
	}
}

// Intraday reports whether positions are closed by the end of the session.
func (k Kind) Intraday() bool {
	return k.Category() == CategoryIntraday
}

// MinBars is the shortest series the strategy can be run on.
func (k Kind) MinBars() int {
	switch k {
	case KindVWAP:
		return 20
	case KindORB:
		return 10
	case KindMomentum, KindMeanReversion:
		return 30
	case KindFibonacci:
		return 55
	case KindBreakout:
		return 25
	default:
		return 0
	}
}

// PreferredTimeframe is the bar size the strategy is designed for.
func (k Kind) PreferredTimeframe() types.Timeframe {
	if k.Intraday() {
		return types.Timeframe5m
	}
	return types.Timeframe1d
}

// Description summarizes the entry rules.
func (k Kind) Description() string {
	switch k {
	case KindVWAP:
		return "VWAP trading: enter when price holds just above or below VWAP on rising volume"
	case KindORB:
		return "Opening range breakout: trade a break of the session's first bars with volume"
	case KindMomentum:
		return "Momentum/gap-and-go: follow gaps over 2% confirmed by RSI, MACD and volume"
	case KindMeanReversion:
		return "Mean reversion: fade Bollinger band touches with RSI extremes and volume"
	case KindFibonacci:
		return "Fibonacci retracement: buy 38.2/50/61.8% pullbacks in the prevailing trend"
	case KindBreakout:
		return "Breakout: trade closes beyond support or resistance on a volume spike with ADX over 25"
	default:
		return ""
	}
}

// KindsFor returns the strategies whose category fits the granularity.
func KindsFor(g types.Granularity) []Kind {
	want := CategoryMultiDay
	if g == types.GranularityIntraday {
		want = CategoryIntraday
	}
	var out []Kind
	for _, k := range AllKinds {
		if k.Category() == want {
			out = append(out, k)
		}
	}
	return out
}

// Evaluate runs the strategy's signal function on one snapshot.
func Evaluate(k Kind, snap indicator.Snapshot, p Params) SignalResult {
	switch k {
	case KindVWAP:
		return VWAPSignal(snap, p.VWAP)
	case KindORB:
		return ORBSignal(snap, p.ORB)
	case KindMomentum:
		return MomentumSignal(snap, p.Momentum)
	case KindMeanReversion:
		return MeanReversionSignal(snap, p.MeanReversion)
	case KindFibonacci:
		return FibonacciSignal(snap, p.Fibonacci)
	case KindBreakout:
		return BreakoutSignal(snap, p.Breakout)
	default:
		return Hold(fmt.Sprintf("unsupported strategy %q", string(k)))
	}
}

// Info describes a strategy for listings.
type Info struct {
	Name               string          `json:"name"`
	Type               Category        `json:"type"`
	Description        string          `json:"description"`
	MinBars            int             `json:"min_bars"`
	PreferredTimeframe types.Timeframe `json:"preferred_timeframe"`
	Parameters         map[string]any  `json:"parameters"`
}

// Describe returns the listing entry of a strategy.
func Describe(k Kind, p Params) Info {
	return Info{
		Name:               string(k),
		Type:               k.Category(),
		Description:        k.Description(),
		MinBars:            k.MinBars(),
		PreferredTimeframe: k.PreferredTimeframe(),
		Parameters:         p.Map(k),
	}
}

// List returns the listing entry of every strategy.
func List(p Params) []Info {
	out := make([]Info, len(AllKinds))
	for i, k := range AllKinds {
		out[i] = Describe(k, p)
	}
	return out
}
