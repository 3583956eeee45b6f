package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// ORBSignal trades a break of the session's opening range.
func ORBSignal(snap indicator.Snapshot, p ORBParams) SignalResult {
	high, errH := snap.OpeningHigh.Take()
	low, errL := snap.OpeningLow.Take()
	if errH != nil || errL != nil {
		return Hold("Opening range not yet established")
	}
	if high <= low {
		return Hold("Opening range is flat")
	}

	price := snap.Price
	width := high - low
	ratio, confirmed := volumeConfirmed(snap, p.VolumeThreshold)

	switch {
	case price > high:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionBuy,
			fmt.Sprintf("Broke above opening high ($%.2f) with %.1fx volume", high, ratio),
			optional.Some(low),
			optional.Some(high+p.ProfitMultiplier*width))
	case price < low:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionSell,
			fmt.Sprintf("Broke below opening low ($%.2f) with %.1fx volume", low, ratio),
			optional.Some(high),
			optional.Some(low-p.ProfitMultiplier*width))
	default:
		return Hold(fmt.Sprintf("Price inside opening range ($%.2f - $%.2f)", low, high))
	}
}
