package backtester_test

import (
	"context"
	"math"
	"time"

	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// barSeries wraps hand-built daily bars.
func barSeries(symbol string, bars []types.Bar) types.Series {
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i].Timestamp = base.AddDate(0, 0, i)
	}
	return types.Series{Symbol: symbol, Timeframe: types.Timeframe1d, Bars: bars}
}

// consolidationBreakout is 60 bars oscillating 1.5 around 100 on 5000
// volume, then a close at 108 on 30000 volume and a steady climb.
func consolidationBreakout() types.Series {
	bars := make([]types.Bar, 100)
	for i := range bars {
		if i < 60 {
			c := 100 + math.Sin(float64(i)*0.5)*1.5
			bars[i] = types.Bar{Open: c - 0.3, High: c + 0.8, Low: c - 0.8, Close: c, Volume: 5000}
			continue
		}
		c := 108 + float64(i-60)*0.5
		bars[i] = types.Bar{Open: c - 0.5, High: c + 1, Low: c - 0.5, Close: c, Volume: 30000}
	}
	return barSeries("NVDA", bars)
}

// capitulation is a slow slide with a high-volume flush to 90 at bar 40,
// a bounce to 94 and a resumed slide.
func capitulation() types.Series {
	bars := make([]types.Bar, 100)
	for i := range bars {
		c, v := 100-0.2*float64(i), 1e6
		switch {
		case i == 40:
			c, v = 90, 5e6
		case i > 40:
			c = 94 - 0.2*float64(i-41)
		}
		bars[i] = types.Bar{Open: c * 1.005, High: c * 1.01, Low: c * 0.99, Close: c, Volume: v}
	}
	return barSeries("INTC", bars)
}

// gapUp is a gentle uptrend that gaps 3% higher at bar 50 on triple volume
// and keeps rising.
func gapUp() types.Series {
	bars := make([]types.Bar, 100)
	for i := range bars {
		switch {
		case i < 50:
			c := 100 + 0.1*float64(i)
			bars[i] = types.Bar{Open: c - 0.05, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1e6}
		case i == 50:
			o := bars[i-1].Close * 1.03
			c := o * 1.005
			bars[i] = types.Bar{Open: o, High: c * 1.005, Low: o * 0.995, Close: c, Volume: 3e6}
		default:
			prev := bars[i-1].Close
			c := prev * 1.005
			bars[i] = types.Bar{Open: prev, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1e6}
		}
	}
	return barSeries("TSLA", bars)
}

// signalAt replays the indicators and evaluates kind at bar i with the
// default parameters.
func signalAt(series types.Series, kind strategy.Kind, i int) (indicator.Snapshot, strategy.SignalResult) {
	snap := indicator.Compute(series, indicator.DefaultConfig()).At(i)
	return snap, strategy.Evaluate(kind, snap, strategy.DefaultParams())
}

func (suite *BacktesterTestSuite) TestBreakoutFromConsolidation() {
	series := consolidationBreakout()
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "NVDA",
		Strategy: "breakout",
		Series:   series,
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.InDelta(60, trade.EntryIndex, 1, "entry within two bars of the breakout")

	snap, res := signalAt(series, strategy.KindBreakout, trade.EntryIndex)
	suite.Require().Equal(types.DirectionBuy, res.Direction)
	price := snap.Price
	suite.InDelta(price, trade.EntryPrice.InexactFloat64(), 1e-9)

	stop := res.StopPrice.Unwrap()
	suite.InDelta(snap.Resistance.Unwrap(), stop, 1e-9)
	suite.InDelta(102.3, stop, 0.05)
	suite.InDelta(price+2*(price-stop), res.TargetPrice.Unwrap(), 1e-9)

	suite.Equal(backtester.ExitTakeProfit, trade.ExitReason)
	suite.InDelta(res.TargetPrice.Unwrap(), trade.ExitPrice.InexactFloat64(), 1e-6)
	suite.Contains(trade.Notes, "resistance")
}

func (suite *BacktesterTestSuite) TestMeanReversionAfterCapitulation() {
	series := capitulation()
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "INTC",
		Strategy: "mean_reversion",
		Series:   series,
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.InDelta(40, trade.EntryIndex, 2)

	snap, res := signalAt(series, strategy.KindMeanReversion, trade.EntryIndex)
	suite.Require().Equal(types.DirectionBuy, res.Direction)
	suite.Less(res.StopPrice.Unwrap(), snap.BollingerLower.Unwrap())
	suite.Less(res.StopPrice.Unwrap(), snap.Price)
	suite.InDelta(snap.BollingerMiddle.Unwrap(), res.TargetPrice.Unwrap(), 1e-9)
	suite.InDelta(93.8, res.TargetPrice.Unwrap(), 1e-6)

	suite.Equal(backtester.ExitTakeProfit, trade.ExitReason)
	suite.InDelta(res.TargetPrice.Unwrap(), trade.ExitPrice.InexactFloat64(), 1e-6)
}

func (suite *BacktesterTestSuite) TestMomentumGapHasNoTarget() {
	series := gapUp()
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "TSLA",
		Strategy: "momentum",
		Series:   series,
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.Equal(50, trade.EntryIndex)
	suite.Contains(trade.Notes, "momentum")

	snap, res := signalAt(series, strategy.KindMomentum, trade.EntryIndex)
	suite.Require().Equal(types.DirectionBuy, res.Direction)
	suite.Greater(snap.RSI.Unwrap(), 60.0)
	suite.Greater(snap.MACD.Unwrap(), snap.MACDSignal.Unwrap())
	suite.True(res.TargetPrice.IsNone())
	suite.Less(res.StopPrice.Unwrap(), snap.Price)

	suite.NotEqual(backtester.ExitTakeProfit, trade.ExitReason)
	suite.Contains(trade.ExitReason, "RSI exhaustion")
}
