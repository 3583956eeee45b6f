package backtester_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/sentiment/mocks"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/internal/workers"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// dailySeries builds daily bars with open equal to close and a one dollar
// high-low range. A nil volumes slice means 1000 on every bar.
func dailySeries(symbol string, closes, volumes []float64) types.Series {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		v := 1000.0
		if volumes != nil {
			v = volumes[i]
		}
		bars[i] = types.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    v,
		}
	}
	return types.Series{Symbol: symbol, Timeframe: types.Timeframe1d, Bars: bars}
}

// ranging returns n closes alternating between 100 and 101.
func ranging(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100
		if i%2 == 1 {
			out[i] = 101
		}
	}
	return out
}

func flatVolume(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1000
	}
	return out
}

// oversoldDip is 30 ranging bars, a high-volume drop to 90 and a recovery
// through the middle band.
func oversoldDip() types.Series {
	closes := append(ranging(30), 90, 96, 101, 100, 101, 100)
	volumes := flatVolume(len(closes))
	volumes[30] = 5000
	return dailySeries("AAPL", closes, volumes)
}

// resistanceBreak is 25 ranging bars followed by a high-volume close at
// 105 and a run to 113. tail sets how many bars follow the breakout.
func resistanceBreak(tail []float64) types.Series {
	closes := append(ranging(25), 105)
	closes = append(closes, tail...)
	volumes := flatVolume(len(closes))
	volumes[25] = 5000
	return dailySeries("MSFT", closes, volumes)
}

type BacktesterTestSuite struct {
	suite.Suite
	logger  *zap.Logger
	service *backtester.Service
}

func TestBacktesterSuite(t *testing.T) {
	suite.Run(t, new(BacktesterTestSuite))
}

func (suite *BacktesterTestSuite) SetupTest() {
	suite.logger = zap.NewNop()
	suite.service = backtester.NewService(suite.logger, backtester.DefaultServiceConfig(), strategy.DefaultParams(), nil)
}

func (suite *BacktesterTestSuite) TestAccountLong() {
	account := backtester.NewAccount(decimal.NewFromInt(1000))
	suite.True(account.Open(backtester.Position{
		Side:       types.PositionSideLong,
		EntryPrice: decimal.NewFromInt(100),
		Shares:     decimal.NewFromInt(10),
	}))
	suite.True(account.Cash().IsZero())
	suite.Equal(types.PositionSideLong, account.Side())
	suite.True(account.Equity(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(1100)))

	suite.False(account.Open(backtester.Position{
		Side:       types.PositionSideLong,
		EntryPrice: decimal.NewFromInt(100),
		Shares:     decimal.NewFromInt(1),
	}), "a second position must be refused")

	_, pnl, ok := account.Close(decimal.NewFromInt(110))
	suite.True(ok)
	suite.True(pnl.Equal(decimal.NewFromInt(100)))
	suite.True(account.Cash().Equal(decimal.NewFromInt(1100)))
	suite.Equal(types.PositionSideFlat, account.Side())

	_, _, ok = account.Close(decimal.NewFromInt(110))
	suite.False(ok)
}

func (suite *BacktesterTestSuite) TestAccountShort() {
	account := backtester.NewAccount(decimal.NewFromInt(1000))
	suite.True(account.Open(backtester.Position{
		Side:       types.PositionSideShort,
		EntryPrice: decimal.NewFromInt(100),
		Shares:     decimal.NewFromInt(10),
	}))
	suite.True(account.Cash().Equal(decimal.NewFromInt(2000)))
	suite.True(account.Equity(decimal.NewFromInt(90)).Equal(decimal.NewFromInt(1100)))

	_, pnl, ok := account.Close(decimal.NewFromInt(90))
	suite.True(ok)
	suite.True(pnl.Equal(decimal.NewFromInt(100)))
	suite.True(account.TotalPnL(decimal.NewFromInt(90)).Equal(decimal.NewFromInt(100)))
}

func (suite *BacktesterTestSuite) TestAccountSharesFor() {
	account := backtester.NewAccount(decimal.NewFromInt(10_000))
	suite.True(account.SharesFor(decimal.NewFromInt(90), 0.95).Equal(decimal.NewFromInt(105)))
	suite.True(account.SharesFor(decimal.NewFromInt(20_000), 0.95).IsZero())
	suite.True(account.SharesFor(decimal.Zero, 0.95).IsZero())
}

func (suite *BacktesterTestSuite) TestMinimumBars() {
	for _, kind := range strategy.AllKinds {
		short := suite.service.Run(context.Background(), types.BacktestRequest{
			Symbol:   "AAPL",
			Strategy: kind.String(),
			Series:   dailySeries("AAPL", ranging(kind.MinBars()-1), nil),
		})
		suite.Equal(types.StatusInsufficientData, short.Status, kind)
		suite.Contains(short.Error, "needs at least", kind)
		suite.NotNil(short.Trades)
		suite.NotNil(short.EquityCurve)

		enough := suite.service.Run(context.Background(), types.BacktestRequest{
			Symbol:   "AAPL",
			Strategy: kind.String(),
			Series:   dailySeries("AAPL", ranging(kind.MinBars()), nil),
		})
		suite.Equal(types.StatusSuccess, enough.Status, kind)
		suite.Len(enough.EquityCurve, kind.MinBars(), kind)
	}
}

func (suite *BacktesterTestSuite) TestInsufficientDataMessage() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "vwap",
		Series:   dailySeries("AAPL", ranging(19), nil),
	})
	suite.Equal("strategy 'vwap' needs at least 20 bars, got 19", result.Error)
}

func (suite *BacktesterTestSuite) TestUnknownStrategy() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "martingale",
		Series:   dailySeries("AAPL", ranging(60), nil),
	})
	suite.Equal(types.StatusUnknownStrategy, result.Status)
	suite.Contains(result.Error, "martingale")
	suite.Contains(result.Error, "mean_reversion")
	suite.Empty(result.Trades)
}

func (suite *BacktesterTestSuite) TestMissingColumns() {
	frame := &types.Frame{
		Index: []time.Time{time.Now()},
		Columns: map[string][]float64{
			"open":  {1},
			"close": {1},
		},
	}
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "breakout",
		Frame:    frame,
	})
	suite.Equal(types.StatusMissingColumns, result.Status)
	suite.Contains(result.Error, "High")
	suite.Contains(result.Error, "Volume")
}

func (suite *BacktesterTestSuite) TestInvalidOverride() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "breakout",
		Series:   dailySeries("AAPL", ranging(30), nil),
		Params:   map[string]any{"no_such_knob": 1},
	})
	suite.Equal(types.StatusError, result.Status)
}

func (suite *BacktesterTestSuite) TestMeanReversionRoundTrip() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "aapl",
		Strategy: "mean_reversion",
		Series:   oversoldDip(),
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Equal("AAPL", result.Symbol)
	suite.Equal("swing_trading", result.StrategyType)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.Equal(30, trade.EntryIndex)
	suite.Equal(32, trade.ExitIndex)
	suite.Equal(backtester.ExitTakeProfit, trade.ExitReason)
	suite.True(trade.Shares.Equal(decimal.NewFromInt(105)))
	suite.InDelta(90.0, trade.EntryPrice.InexactFloat64(), 1e-9)
	suite.InDelta(100.0, trade.ExitPrice.InexactFloat64(), 1e-6)
	suite.InDelta(1050.0, trade.ProfitLoss.InexactFloat64(), 0.01)
	suite.Equal("2024-01-31", trade.EntryDate)

	suite.Len(result.EquityCurve, 36)
	suite.Equal(1, result.Metrics.TotalTrades)
	suite.Equal(1, result.Metrics.WinningTrades)
	suite.InDelta(1050.0, result.Metrics.NetProfit, 0.01)
	suite.Equal(1, result.Diagnostics.Signals)
	suite.Equal(36, result.Diagnostics.BarsProcessed)
	suite.True(result.Metrics.ReturnPct.IsSome())
	suite.InDelta(10.5, result.Metrics.ReturnPct.Unwrap(), 0.01)
}

func (suite *BacktesterTestSuite) TestBreakoutTakeProfit() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "MSFT",
		Strategy: "breakout",
		Series:   resistanceBreak([]float64{108, 113, 112, 111}),
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.Equal(25, trade.EntryIndex)
	suite.Equal(27, trade.ExitIndex)
	suite.Equal(backtester.ExitTakeProfit, trade.ExitReason)
	suite.True(trade.Shares.Equal(decimal.NewFromInt(90)))
	suite.InDelta(112.0, trade.ExitPrice.InexactFloat64(), 1e-6)
	suite.InDelta(630.0, trade.ProfitLoss.InexactFloat64(), 0.01)

	last := result.EquityCurve[len(result.EquityCurve)-1]
	suite.True(last.Balance.Equal(decimal.NewFromInt(10_630)), last.Balance.String())
}

func (suite *BacktesterTestSuite) TestBreakoutFailureExitsAtLevel() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "MSFT",
		Strategy: "breakout",
		Series:   resistanceBreak([]float64{104, 100, 101}),
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(27, trade.ExitIndex)
	suite.Equal(backtester.ExitStopLoss, trade.ExitReason)
	suite.InDelta(101.5, trade.ExitPrice.InexactFloat64(), 1e-6)
	suite.InDelta(-315.0, trade.ProfitLoss.InexactFloat64(), 0.01)
}

func (suite *BacktesterTestSuite) TestOpenPositionClosesAtEndOfData() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "MSFT",
		Strategy: "breakout",
		Series:   resistanceBreak([]float64{108}),
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(26, trade.ExitIndex)
	suite.Equal(backtester.ExitEndOfData, trade.ExitReason)
	suite.InDelta(270.0, trade.ProfitLoss.InexactFloat64(), 0.01)
}

func (suite *BacktesterTestSuite) TestNoEntryOnLastBar() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "MSFT",
		Strategy: "breakout",
		Series:   resistanceBreak(nil),
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Empty(result.Trades)
}

func (suite *BacktesterTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := suite.service.Run(ctx, types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "mean_reversion",
		Series:   oversoldDip(),
	})
	suite.Equal(types.StatusError, result.Status)
	suite.Contains(result.Error, "cancelled")
}

func (suite *BacktesterTestSuite) TestParametersEchoed() {
	result := suite.service.Run(context.Background(), types.BacktestRequest{
		Symbol:   "AAPL",
		Strategy: "mean_reversion",
		Series:   oversoldDip(),
		Cash:     25_000,
		Params:   map[string]any{"rsi_oversold": 25.0},
	})
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Equal("mean_reversion", result.Parameters["strategy_name"])
	suite.Equal(25_000.0, result.Parameters["cash"])
	suite.Equal(25.0, result.Parameters["rsi_oversold"])
	suite.Equal(false, result.Parameters["use_sentiment"])
	suite.True(result.Metrics.SentimentScore.IsNone())
	suite.Nil(result.Sentiment)
}

func (suite *BacktesterTestSuite) TestRSIMABacktest() {
	opts := backtester.DefaultRSIMAOptions()
	opts.RSIOversold = 25

	result := suite.service.RSIMABacktest(context.Background(), "AAPL", oversoldDip(), opts)
	suite.Require().Equal(types.StatusSuccess, result.Status, result.Error)
	suite.Equal(25.0, result.Parameters["rsi_oversold"])
	suite.Equal(14, result.Parameters["rsi_period"])
	suite.Equal(20, result.Parameters["ma_short"])
	suite.Equal(50, result.Parameters["ma_long"])
	suite.Equal(-0.3, result.Parameters["sentiment_threshold"])
	suite.Require().NotNil(result.Sentiment)
	suite.Equal(types.SentimentStatusNeutral, result.Sentiment.Status)

	opts.Strategy = "breakout"
	result = suite.service.RSIMABacktest(context.Background(), "MSFT", resistanceBreak([]float64{108, 113, 112, 111}), opts)
	suite.Equal(types.StatusSuccess, result.Status, result.Error)
}

func (suite *BacktesterTestSuite) TestTradeMetrics() {
	trades := []types.Trade{
		{ProfitLoss: decimal.NewFromInt(100), ReturnPct: 0.10},
		{ProfitLoss: decimal.NewFromInt(-50), ReturnPct: -0.05},
		{ProfitLoss: decimal.Zero, ReturnPct: 0},
		{ProfitLoss: decimal.NewFromInt(30), ReturnPct: 0.03},
	}
	m := backtester.NewMetricsEngine(nil).Calculate(backtester.StatisticsInput{Trades: trades})

	suite.Equal(4, m.TotalTrades)
	suite.Equal(2, m.WinningTrades)
	suite.Equal(1, m.LosingTrades)
	suite.LessOrEqual(m.WinningTrades+m.LosingTrades, m.TotalTrades)
	suite.Equal(50.0, m.WinRate)
	suite.Equal(130.0, m.GrossProfit)
	suite.Equal(-50.0, m.GrossLoss)
	suite.Equal(80.0, m.NetProfit)
	suite.Equal(2.6, m.ProfitFactor)
	suite.Equal(65.0, m.AvgWin)
	suite.Equal(-50.0, m.AvgLoss)
	suite.Equal(0.1, m.BestTrade)
	suite.Equal(-0.05, m.WorstTrade)
	suite.Equal(0.02, m.AvgReturn)
	suite.True(m.SharpeRatio.IsNone())
	suite.True(m.MaxDrawdownPct.IsNone())
}

func (suite *BacktesterTestSuite) TestProfitFactorWithoutLosses() {
	trades := []types.Trade{{ProfitLoss: decimal.NewFromInt(10), ReturnPct: 0.01}}
	m := backtester.NewMetricsEngine(nil).Calculate(backtester.StatisticsInput{Trades: trades})
	suite.Equal(0.0, m.ProfitFactor)
	suite.Equal(100.0, m.WinRate)
}

func (suite *BacktesterTestSuite) TestEquityStatistics() {
	series := dailySeries("AAPL", []float64{100, 110, 99, 121}, nil)
	curve := []types.EquityPoint{
		{Date: "2024-01-01", Balance: decimal.NewFromInt(10_000)},
		{Date: "2024-01-02", Balance: decimal.NewFromInt(11_000)},
		{Date: "2024-01-03", Balance: decimal.NewFromInt(9_900)},
		{Date: "2024-01-04", Balance: decimal.NewFromInt(12_100)},
	}
	m := backtester.NewMetricsEngine(backtester.EquityStatistics{}).Calculate(backtester.StatisticsInput{
		Series:       series,
		EquityCurve:  curve,
		InitialCash:  10_000,
		BarsInMarket: 2,
	})

	suite.InDelta(10.0, m.MaxDrawdownPct.Unwrap(), 1e-6)
	suite.InDelta(21.0, m.ReturnPct.Unwrap(), 1e-6)
	suite.InDelta(21.0, m.BuyAndHoldReturnPct.Unwrap(), 1e-6)
	suite.InDelta(50.0, m.ExposurePct.Unwrap(), 1e-6)
	suite.True(m.SharpeRatio.IsSome())
	suite.True(m.SortinoRatio.IsSome())
	suite.True(m.CalmarRatio.IsSome())
}

func (suite *BacktesterTestSuite) TestMetricsJSONRoundTrip() {
	in := types.Metrics{
		TotalTrades:    3,
		WinningTrades:  2,
		LosingTrades:   1,
		WinRate:        66.67,
		NetProfit:      123.45,
		ProfitFactor:   1.87,
		SharpeRatio:    optional.Some(1.2345),
		MaxDrawdownPct: optional.Some(4.5),
		SentimentScore: optional.None[float64](),
	}
	raw, err := json.Marshal(in)
	suite.Require().NoError(err)

	var out types.Metrics
	suite.Require().NoError(json.Unmarshal(raw, &out))
	suite.Equal(in.TotalTrades, out.TotalTrades)
	suite.InDelta(in.WinRate, out.WinRate, 1e-6)
	suite.InDelta(in.NetProfit, out.NetProfit, 1e-6)
	suite.InDelta(in.ProfitFactor, out.ProfitFactor, 1e-6)
	suite.InDelta(in.SharpeRatio.Unwrap(), out.SharpeRatio.Unwrap(), 1e-6)
	suite.InDelta(in.MaxDrawdownPct.Unwrap(), out.MaxDrawdownPct.Unwrap(), 1e-6)
	suite.True(out.SentimentScore.IsNone())
	suite.True(out.CalmarRatio.IsNone())
}

func (suite *BacktesterTestSuite) TestCompareResolvesSentimentOnce() {
	ctrl := gomock.NewController(suite.T())
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Analyze(gomock.Any(), "AAPL").
		Return(types.Sentiment{Score: 0.4, Relevance: 60, Status: types.SentimentStatusSuccess}, nil).
		Times(1)

	resolver := sentiment.NewResolver(suite.logger, provider, time.Second)
	service := backtester.NewService(suite.logger, backtester.DefaultServiceConfig(), strategy.DefaultParams(), resolver)

	pool := workers.NewPool(suite.logger, workers.DefaultPoolConfig("compare"))
	pool.Start()
	defer func() { _ = pool.Stop() }()

	var calls int
	comparator := backtester.NewComparator(suite.logger, service, pool)
	result := comparator.Compare(context.Background(), types.CompareRequest{
		Symbol:       "AAPL",
		Strategies:   []string{"mean_reversion", "fibonacci", "breakout"},
		Series:       dailySeries("AAPL", ranging(60), nil),
		UseSentiment: true,
	}, func(done, total int, _ *types.BacktestResult) {
		calls++
		suite.Equal(3, total)
		suite.LessOrEqual(done, total)
	})

	suite.Equal(3, calls)
	suite.Equal(types.StatusSuccess, result.Status)
	suite.Require().Len(result.Results, 3)
	suite.Equal(3, result.Summary.SuccessfulRuns)
	suite.Require().NotNil(result.Sentiment)
	suite.Equal(0.4, result.Sentiment.Score)
	for _, r := range result.Results {
		suite.Equal(types.StatusSuccess, r.Status, r.Error)
		suite.Require().NotNil(r.Sentiment)
		suite.Equal(0.4, r.Metrics.SentimentScore.Unwrap())
		suite.Equal(true, r.Parameters["use_sentiment"])
	}
}

func (suite *BacktesterTestSuite) TestCompareDefaultsToGranularity() {
	comparator := backtester.NewComparator(suite.logger, suite.service, nil)
	result := comparator.Compare(context.Background(), types.CompareRequest{
		Symbol: "MSFT",
		Series: resistanceBreak([]float64{108, 113, 112, 111}),
	}, nil)

	suite.Equal(types.StatusSuccess, result.Status)
	suite.Equal(3, result.Summary.TotalStrategies)
	names := make(map[string]bool)
	for _, r := range result.Results {
		names[r.Strategy] = true
	}
	suite.True(names["mean_reversion"])
	suite.True(names["fibonacci"])
	suite.True(names["breakout"])
	suite.Nil(result.Sentiment)

	// fibonacci needs 55 bars and fails, the other two rank ahead of it
	suite.Equal(2, result.Summary.SuccessfulRuns)
	suite.Equal(1, result.Summary.FailedRuns)
	suite.Equal("breakout", result.Summary.BestStrategy)
	suite.Equal(types.StatusInsufficientData, result.Results[2].Status)
}

func (suite *BacktesterTestSuite) TestCompareMissingColumns() {
	comparator := backtester.NewComparator(suite.logger, suite.service, nil)
	result := comparator.Compare(context.Background(), types.CompareRequest{
		Symbol: "MSFT",
		Frame:  &types.Frame{Columns: map[string][]float64{"close": {}}},
	}, nil)
	suite.Equal(types.StatusMissingColumns, result.Status)
	suite.NotNil(result.Results)
	suite.Empty(result.Results)
}
