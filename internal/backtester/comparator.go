package backtester

import (
	"context"
	"sort"
	"sync"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/internal/workers"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// ProgressFunc is told about every finished run of a comparison.
type ProgressFunc func(done, total int, result *types.BacktestResult)

// Comparator runs several strategies over the same bars and ranks them.
type Comparator struct {
	logger  *zap.Logger
	service *Service
	pool    *workers.Pool
}

// NewComparator creates a comparator. With a nil pool the runs execute
// one after another on the calling goroutine.
func NewComparator(logger *zap.Logger, service *Service, pool *workers.Pool) *Comparator {
	return &Comparator{
		logger:  logger.Named("comparator"),
		service: service,
		pool:    pool,
	}
}

// Compare runs every requested strategy. Sentiment is resolved at most
// once and shared by all runs. Results are ranked by net profit; failed
// runs follow in request order.
func (c *Comparator) Compare(ctx context.Context, req types.CompareRequest, progress ProgressFunc) *types.ComparisonResult {
	id := utils.GenerateRunID()

	series, err := requestSeries(req.Symbol, req.Series, req.Frame, req.Start, req.End)
	if err != nil {
		return &types.ComparisonResult{
			ID:      id,
			Status:  errors.StatusOf(err),
			Error:   errors.Message(err),
			Summary: types.ComparisonSummary{Symbol: utils.FormatSymbol(req.Symbol), Ranking: []types.RankEntry{}},
			Results: []types.BacktestResult{},
		}
	}

	names := req.Strategies
	if len(names) == 0 {
		for _, k := range strategy.KindsFor(series.Granularity()) {
			names = append(names, k.String())
		}
	}

	var shared *types.Sentiment
	if req.UseSentiment {
		resolved := c.service.sentiment.Resolve(ctx, series.Symbol)
		shared = &resolved
	}

	c.logger.Info("Starting comparison",
		zap.String("id", id),
		zap.String("symbol", series.Symbol),
		zap.Strings("strategies", names),
		zap.Int("bars", series.Len()),
	)

	results := c.runAll(ctx, series, names, req.Cash, shared, progress)
	return rank(id, series.Symbol, results, shared)
}

func (c *Comparator) runAll(ctx context.Context, series types.Series, names []string, cash float64, shared *types.Sentiment, progress ProgressFunc) []types.BacktestResult {
	var (
		mu       sync.Mutex
		finished int
	)

	runOne := func(ctx context.Context, i int) (*types.BacktestResult, error) {
		r := c.service.execute(ctx, types.BacktestRequest{
			Symbol:   series.Symbol,
			Strategy: names[i],
			Series:   series,
			Cash:     cash,
		}, shared)
		if progress != nil {
			mu.Lock()
			finished++
			progress(finished, len(names), r)
			mu.Unlock()
		}
		return r, nil
	}

	out := make([]types.BacktestResult, len(names))
	if c.pool == nil {
		for i := range names {
			r, _ := runOne(ctx, i)
			out[i] = *r
		}
		return out
	}

	results, errs := workers.Map(ctx, c.pool, len(names), runOne)
	for i := range names {
		if errs[i] != nil || results[i] == nil {
			err := errs[i]
			if err == nil {
				err = errors.New(errors.ErrCodeInternal, "run produced no result")
			}
			c.logger.Warn("Comparison run failed", zap.String("strategy", names[i]), zap.Error(err))
			out[i] = *failure(utils.GenerateRunID(), names[i], series.Symbol,
				errors.Wrap(errors.ErrCodeSimulationFailed, "run failed", err))
			continue
		}
		out[i] = *results[i]
	}
	return out
}

// rank orders successful results by net profit, keeping request order on
// ties, and appends failures in request order.
func rank(id, symbol string, results []types.BacktestResult, shared *types.Sentiment) *types.ComparisonResult {
	var successful, failed []types.BacktestResult
	for _, r := range results {
		if shared != nil && r.Status == types.StatusSuccess {
			r.Sentiment = shared
			r.Metrics.SentimentScore = optional.Some(shared.Score)
		}
		if r.Status == types.StatusSuccess {
			successful = append(successful, r)
		} else {
			r.Sentiment = shared
			failed = append(failed, r)
		}
	}
	sort.SliceStable(successful, func(i, j int) bool {
		return successful[i].Metrics.NetProfit > successful[j].Metrics.NetProfit
	})

	summary := types.ComparisonSummary{
		Symbol:          symbol,
		TotalStrategies: len(results),
		SuccessfulRuns:  len(successful),
		FailedRuns:      len(failed),
		Ranking:         make([]types.RankEntry, 0, len(successful)),
	}
	if len(successful) > 0 {
		summary.BestStrategy = successful[0].Strategy
		summary.BestNetProfit = successful[0].Metrics.NetProfit
	}
	for i, r := range successful {
		summary.Ranking = append(summary.Ranking, types.RankEntry{
			Rank:         i + 1,
			Strategy:     r.Strategy,
			StrategyType: r.StrategyType,
			NetProfit:    r.Metrics.NetProfit,
			WinRate:      r.Metrics.WinRate,
			TotalTrades:  r.Metrics.TotalTrades,
			SharpeRatio:  r.Metrics.SharpeRatio,
			MaxDrawdown:  r.Metrics.MaxDrawdownPct,
		})
	}

	return &types.ComparisonResult{
		ID:        id,
		Status:    types.StatusSuccess,
		Summary:   summary,
		Results:   append(append(make([]types.BacktestResult, 0, len(results)), successful...), failed...),
		Sentiment: shared,
	}
}
