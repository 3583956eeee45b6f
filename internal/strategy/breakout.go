package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// BreakoutSignal trades a close beyond the prior range on a volume spike.
// With UseADX set, an available ADX reading must show a trending market;
// an unavailable or zero ADX does not block.
func BreakoutSignal(snap indicator.Snapshot, p BreakoutParams) SignalResult {
	support, errS := snap.Support.Take()
	resistance, errR := snap.Resistance.Take()
	if errS != nil || errR != nil {
		return Hold("Support/resistance unavailable")
	}

	price := snap.Price
	var (
		dir    types.Direction
		stop   float64
		target float64
		reason string
	)
	ratio, confirmed := volumeConfirmed(snap, p.VolumeThreshold)

	switch {
	case price > resistance*(1+p.BreakoutThreshold):
		dir, stop = types.DirectionBuy, resistance
		target = price + p.ProfitMultiplier*(price-resistance)
		reason = fmt.Sprintf("Breakout %.1f%% above resistance ($%.2f) with %.1fx volume",
			(price-resistance)/resistance*100, resistance, ratio)
	case price < support*(1-p.BreakoutThreshold):
		dir, stop = types.DirectionSell, support
		target = price - p.ProfitMultiplier*(support-price)
		reason = fmt.Sprintf("Breakdown %.1f%% below support ($%.2f) with %.1fx volume",
			(support-price)/support*100, support, ratio)
	default:
		return Hold(fmt.Sprintf("Price within range ($%.2f - $%.2f)", support, resistance))
	}

	if adx, err := snap.ADX.Take(); p.UseADX && err == nil && adx > 0 && adx <= p.ADXThreshold {
		return Hold(fmt.Sprintf("ADX %.1f below %.0f, trend not strong enough", adx, p.ADXThreshold))
	}
	if !bracketed(dir, price, stop, target) {
		return geometryHold(fmt.Sprintf("Breakout setup rejected: stop $%.2f and target $%.2f do not bracket price $%.2f", stop, target, price))
	}
	if !confirmed {
		return volumeHold(ratio, p.VolumeThreshold)
	}
	return entry(dir, reason, optional.Some(stop), optional.Some(target))
}
