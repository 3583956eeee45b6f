package strategy

import (
	"fmt"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// OpenPosition is what the exit rules need to know about a position.
type OpenPosition struct {
	Side       types.PositionSide
	EntryPrice float64
	// Level is the price the entry keyed on. For breakouts it is the broken
	// support or resistance.
	Level float64
}

// ShouldExit evaluates the strategy's discretionary exit for an open
// position. Stops, targets and session closes are handled by the caller.
func ShouldExit(k Kind, pos OpenPosition, snap indicator.Snapshot, p Params) (string, bool) {
	long := pos.Side == types.PositionSideLong
	short := pos.Side == types.PositionSideShort
	price := snap.Price

	switch k {
	case KindVWAP:
		vwap, err := snap.VWAP.Take()
		if err != nil {
			return "", false
		}
		if (long && price <= vwap) || (short && price >= vwap) {
			return fmt.Sprintf("Price crossed back to VWAP ($%.2f)", vwap), true
		}

	case KindMomentum:
		rsi, err := snap.RSI.Take()
		if err != nil {
			return "", false
		}
		if long && rsi > p.Momentum.RSIExitLong {
			return fmt.Sprintf("RSI exhaustion (%.1f)", rsi), true
		}
		if short && rsi < p.Momentum.RSIExitShort {
			return fmt.Sprintf("RSI exhaustion (%.1f)", rsi), true
		}

	case KindMeanReversion:
		upper, errU := snap.BollingerUpper.Take()
		middle, errM := snap.BollingerMiddle.Take()
		lower, errL := snap.BollingerLower.Take()
		if errU != nil || errM != nil || errL != nil {
			return "", false
		}
		brk := p.MeanReversion.BandBreakExit
		switch {
		case long && price >= middle, short && price <= middle:
			return fmt.Sprintf("Reverted to middle band ($%.2f)", middle), true
		case long && price < lower*(1-brk):
			return fmt.Sprintf("Broke below lower band ($%.2f)", lower), true
		case short && price > upper*(1+brk):
			return fmt.Sprintf("Broke above upper band ($%.2f)", upper), true
		}

	case KindFibonacci:
		ema, err := snap.EMATrend.Take()
		if err != nil {
			return "", false
		}
		if long && price <= ema {
			return fmt.Sprintf("Trend reversed: close below EMA ($%.2f)", ema), true
		}
		if short && price > ema {
			return fmt.Sprintf("Trend reversed: close above EMA ($%.2f)", ema), true
		}

	case KindBreakout:
		if long && price < pos.Level {
			return fmt.Sprintf("Fell back below breakout level ($%.2f)", pos.Level), true
		}
		if short && price > pos.Level {
			return fmt.Sprintf("Rose back above breakdown level ($%.2f)", pos.Level), true
		}
	}
	return "", false
}
