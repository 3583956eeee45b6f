package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// VWAPSignal buys when price sits just above VWAP and sells when it sits
// just below, both on above-average volume.
func VWAPSignal(snap indicator.Snapshot, p VWAPParams) SignalResult {
	vwap, err := snap.VWAP.Take()
	if err != nil || vwap <= 0 {
		return Hold("VWAP unavailable")
	}

	price := snap.Price
	distance := (price - vwap) / vwap
	ratio, confirmed := volumeConfirmed(snap, p.VolumeThreshold)
	atr := atrOrFallback(snap)

	switch {
	case distance > 0 && distance < p.VWAPDistance:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionBuy,
			fmt.Sprintf("Price %.2f%% above VWAP ($%.2f) with %.1fx volume", distance*100, vwap, ratio),
			optional.Some(price-p.SLMultiplier*atr),
			optional.Some(price+p.TPMultiplier*atr))
	case distance < 0 && -distance < p.VWAPDistance:
		if !confirmed {
			return volumeHold(ratio, p.VolumeThreshold)
		}
		return entry(types.DirectionSell,
			fmt.Sprintf("Price %.2f%% below VWAP ($%.2f) with %.1fx volume", -distance*100, vwap, ratio),
			optional.Some(price+p.SLMultiplier*atr),
			optional.Some(price-p.TPMultiplier*atr))
	default:
		return Hold(fmt.Sprintf("Price %.2f%% from VWAP ($%.2f), outside entry band", distance*100, vwap))
	}
}
