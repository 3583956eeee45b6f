package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// MeanReversionSignal fades a Bollinger band touch when RSI is stretched,
// targeting the middle band.
func MeanReversionSignal(snap indicator.Snapshot, p MeanReversionParams) SignalResult {
	upper, errU := snap.BollingerUpper.Take()
	middle, errM := snap.BollingerMiddle.Take()
	lower, errL := snap.BollingerLower.Take()
	if errU != nil || errM != nil || errL != nil {
		return Hold("Bollinger bands unavailable")
	}
	rsi, err := snap.RSI.Take()
	if err != nil {
		return Hold("RSI unavailable")
	}

	price := snap.Price
	ratio, confirmed := volumeConfirmed(snap, p.VolumeThreshold)

	switch {
	case price <= lower && rsi < p.RSIOversold:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionBuy,
			fmt.Sprintf("At Bollinger lower band ($%.2f), RSI oversold (%.1f)", lower, rsi),
			optional.Some(lower-p.StopBandFraction*(middle-lower)),
			optional.Some(middle))
	case price >= upper && rsi > p.RSIOverbought:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionSell,
			fmt.Sprintf("At Bollinger upper band ($%.2f), RSI overbought (%.1f)", upper, rsi),
			optional.Some(upper+p.StopBandFraction*(upper-middle)),
			optional.Some(middle))
	default:
		return Hold(fmt.Sprintf("Price within Bollinger bands, RSI %.1f", rsi))
	}
}
