package backtester

import (
	"math"
	"sort"

	"github.com/moznion/go-optional"

	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

const tradingDaysPerYear = 252

// StatisticsInput is what a statistics source may look at.
type StatisticsInput struct {
	Series       types.Series
	Trades       []types.Trade
	EquityCurve  []types.EquityPoint
	InitialCash  float64
	BarsInMarket int
}

// Statistics holds the optional risk and return statistics of a run.
type Statistics struct {
	SharpeRatio         optional.Option[float64]
	SortinoRatio        optional.Option[float64]
	CalmarRatio         optional.Option[float64]
	MaxDrawdownPct      optional.Option[float64]
	ExposurePct         optional.Option[float64]
	ReturnPct           optional.Option[float64]
	BuyAndHoldReturnPct optional.Option[float64]
}

// StatisticsSource derives the optional statistics of a run.
type StatisticsSource interface {
	Statistics(in StatisticsInput) Statistics
}

// MetricsEngine reduces a trade ledger and an equity curve into metrics.
type MetricsEngine struct {
	source StatisticsSource
}

// NewMetricsEngine creates an engine. With a nil source the optional
// statistics stay None.
func NewMetricsEngine(source StatisticsSource) *MetricsEngine {
	return &MetricsEngine{source: source}
}

// Calculate calculates all performance metrics
func (m *MetricsEngine) Calculate(in StatisticsInput) types.Metrics {
	metrics := tradeMetrics(in.Trades)
	if m.source == nil {
		return metrics
	}

	stats := m.source.Statistics(in)
	metrics.SharpeRatio = roundOption(stats.SharpeRatio, 4)
	metrics.SortinoRatio = roundOption(stats.SortinoRatio, 4)
	metrics.CalmarRatio = roundOption(stats.CalmarRatio, 4)
	metrics.MaxDrawdownPct = roundOption(stats.MaxDrawdownPct, 4)
	metrics.ExposurePct = roundOption(stats.ExposurePct, 4)
	metrics.ReturnPct = roundOption(stats.ReturnPct, 4)
	metrics.BuyAndHoldReturnPct = roundOption(stats.BuyAndHoldReturnPct, 4)
	return metrics
}

// tradeMetrics computes the ledger statistics. Winners have a positive
// PnL and losers a negative one; break-even trades count as neither.
func tradeMetrics(trades []types.Trade) types.Metrics {
	metrics := types.Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return metrics
	}

	var grossProfit, grossLoss, sumReturn float64
	best, worst := math.Inf(-1), math.Inf(1)
	for _, t := range trades {
		pnl, _ := t.ProfitLoss.Float64()
		switch {
		case pnl > 0:
			metrics.WinningTrades++
			grossProfit += pnl
		case pnl < 0:
			metrics.LosingTrades++
			grossLoss += pnl
		}
		sumReturn += t.ReturnPct
		best = math.Max(best, t.ReturnPct)
		worst = math.Min(worst, t.ReturnPct)
	}

	total := float64(metrics.TotalTrades)
	metrics.WinRate = utils.Round(float64(metrics.WinningTrades)/total*100, 2)
	metrics.AvgReturn = utils.Round(sumReturn/total, 4)
	metrics.BestTrade = utils.Round(best, 4)
	metrics.WorstTrade = utils.Round(worst, 4)
	metrics.GrossProfit = utils.Round(grossProfit, 2)
	metrics.GrossLoss = utils.Round(grossLoss, 2)
	metrics.NetProfit = utils.Round(grossProfit+grossLoss, 2)
	if grossLoss != 0 {
		metrics.ProfitFactor = utils.Round(grossProfit/math.Abs(grossLoss), 2)
	}
	if metrics.WinningTrades > 0 {
		metrics.AvgWin = utils.Round(grossProfit/float64(metrics.WinningTrades), 2)
	}
	if metrics.LosingTrades > 0 {
		metrics.AvgLoss = utils.Round(grossLoss/float64(metrics.LosingTrades), 2)
	}
	return metrics
}

func roundOption(o optional.Option[float64], places int) optional.Option[float64] {
	v, err := o.Take()
	if err != nil || !utils.IsFinite(v) {
		return optional.None[float64]()
	}
	return optional.Some(utils.Round(v, places))
}

// EquityStatistics derives the optional statistics from the equity curve.
// Per-bar returns are annualised with 252 periods for daily data and 252
// times the median session length for intraday data.
type EquityStatistics struct{}

// Statistics implements StatisticsSource.
func (EquityStatistics) Statistics(in StatisticsInput) Statistics {
	stats := Statistics{}
	equity := make([]float64, len(in.EquityCurve))
	for i, p := range in.EquityCurve {
		equity[i], _ = p.Balance.Float64()
	}

	if bars := in.Series.Bars; len(bars) > 0 {
		stats.ExposurePct = ratioPct(float64(in.BarsInMarket), float64(len(bars)))
		first, last := bars[0].Close, bars[len(bars)-1].Close
		stats.BuyAndHoldReturnPct = ratioPct(last-first, first)
	}
	if len(equity) == 0 || in.InitialCash <= 0 {
		return stats
	}

	final := equity[len(equity)-1]
	stats.ReturnPct = ratioPct(final-in.InitialCash, in.InitialCash)

	maxDD := maxDrawdown(equity)
	stats.MaxDrawdownPct = optionalOf(maxDD * 100)

	returns := periodReturns(equity)
	if len(returns) < 2 {
		return stats
	}
	periods := periodsPerYear(in.Series)
	annualFactor := math.Sqrt(periods)
	mean := utils.Mean(returns)

	if sd := utils.StdDev(returns); sd > 0 {
		stats.SharpeRatio = optionalOf(mean / sd * annualFactor)
	}
	if dd := downsideDeviation(returns); dd > 0 {
		stats.SortinoRatio = optionalOf(mean / dd * annualFactor)
	}

	years := float64(len(returns)) / periods
	if maxDD > 0 && years > 0 && final > 0 {
		annual := math.Pow(final/in.InitialCash, 1/years) - 1
		stats.CalmarRatio = optionalOf(annual / maxDD)
	}
	return stats
}

func ratioPct(num, den float64) optional.Option[float64] {
	if den == 0 {
		return optional.None[float64]()
	}
	return optionalOf(num / den * 100)
}

func periodReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	return returns
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction.
func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	maxDD := 0.0
	peak := equity[0]
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-e)/peak)
		}
	}
	return maxDD
}

// downsideDeviation is the root mean square of the negative returns over
// all periods.
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

func periodsPerYear(series types.Series) float64 {
	if series.Granularity() != types.GranularityIntraday {
		return tradingDaysPerYear
	}
	var lengths []int
	count := 0
	for i, start := range series.SessionStarts() {
		if start && i > 0 {
			lengths = append(lengths, count)
			count = 0
		}
		count++
	}
	if count > 0 {
		lengths = append(lengths, count)
	}
	if len(lengths) == 0 {
		return tradingDaysPerYear
	}
	sort.Ints(lengths)
	return tradingDaysPerYear * float64(lengths[len(lengths)/2])
}
