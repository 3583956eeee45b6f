package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// MomentumSignal follows a gap from the previous close when RSI and MACD
// agree with it. It sets no target; positions leave on RSI exhaustion.
func MomentumSignal(snap indicator.Snapshot, p MomentumParams) SignalResult {
	prev, err := snap.PrevClose.Take()
	if err != nil || prev <= 0 {
		return Hold("Previous close unavailable")
	}
	rsi, errR := snap.RSI.Take()
	macd, errM := snap.MACD.Take()
	signal, errS := snap.MACDSignal.Take()
	if errR != nil || errM != nil || errS != nil {
		return Hold("Momentum indicators unavailable")
	}

	price := snap.Price
	gap := (price - prev) / prev
	ratio, confirmed := volumeConfirmed(snap, p.VolumeThreshold)
	atr := atrOrFallback(snap)

	switch {
	case gap > p.GapThreshold && rsi > p.RSILongEntry && macd > signal:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionBuy,
			fmt.Sprintf("Bullish momentum: gap +%.1f%%, RSI %.0f, MACD bullish, volume %.1fx avg", gap*100, rsi, ratio),
			optional.Some(price-p.SLMultiplier*atr),
			optional.None[float64]())
	case gap < -p.GapThreshold && rsi < p.RSIShortEntry && macd < signal:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionSell,
			fmt.Sprintf("Bearish momentum: gap %.1f%%, RSI %.0f, MACD bearish, volume %.1fx avg", gap*100, rsi, ratio),
			optional.Some(price+p.SLMultiplier*atr),
			optional.None[float64]())
	default:
		return Hold(fmt.Sprintf("No momentum setup: gap %.1f%%, RSI %.0f", gap*100, rsi))
	}
}
