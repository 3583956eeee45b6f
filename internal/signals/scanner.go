package signals

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/workers"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Scanner scores one strategy across many symbols.
type Scanner struct {
	logger *zap.Logger
	scorer *Scorer
	pool   *workers.Pool
}

// NewScanner creates a scanner. With a nil pool symbols are scored one
// after another.
func NewScanner(logger *zap.Logger, scorer *Scorer, pool *workers.Pool) *Scanner {
	return &Scanner{
		logger: logger.Named("scanner"),
		scorer: scorer,
		pool:   pool,
	}
}

// Scan scores every series and keeps the signals at or above the minimum
// confidence, strongest first. Symbols that fail to score are logged and
// skipped.
func (s *Scanner) Scan(ctx context.Context, req types.ScanRequest) []types.LiveSignal {
	minConfidence := req.MinConfidence
	if minConfidence <= 0 {
		minConfidence = s.scorer.config.MinConfidence
	}

	out := make([]types.LiveSignal, 0)
	for _, sig := range s.scoreAll(ctx, req) {
		if sig.Confidence >= minConfidence {
			out = append(out, sig)
		}
	}
	sortByConfidence(out)

	s.logger.Info("Scan completed",
		zap.String("strategy", req.Strategy),
		zap.Int("symbols", len(req.Series)),
		zap.Int("signals", len(out)),
		zap.Float64("min_confidence", minConfidence),
	)
	return out
}

// Signals scores every series without a confidence filter, keyed by symbol.
func (s *Scanner) Signals(ctx context.Context, req types.ScanRequest) map[string]types.LiveSignal {
	out := make(map[string]types.LiveSignal, len(req.Series))
	for _, sig := range s.scoreAll(ctx, req) {
		out[sig.Symbol] = sig
	}
	return out
}

// TopOpportunities returns up to limit BUY signals at or above the
// configured minimum confidence, strongest first.
func (s *Scanner) TopOpportunities(signals []types.LiveSignal, limit int) []types.LiveSignal {
	var buys []types.LiveSignal
	for _, sig := range signals {
		if sig.Signal == types.DirectionBuy && sig.Confidence >= s.scorer.config.MinConfidence {
			buys = append(buys, sig)
		}
	}
	sortByConfidence(buys)
	if limit > 0 && len(buys) > limit {
		buys = buys[:limit]
	}
	return buys
}

func (s *Scanner) scoreAll(ctx context.Context, req types.ScanRequest) []types.LiveSignal {
	score := func(ctx context.Context, i int) (*types.LiveSignal, error) {
		series := req.Series[i]
		return s.scorer.Score(ctx, types.SignalRequest{
			Symbol:      series.Symbol,
			Strategy:    req.Strategy,
			Series:      series,
			IncludeNews: req.IncludeNews,
		})
	}

	n := len(req.Series)
	results := make([]*types.LiveSignal, n)
	errs := make([]error, n)
	if s.pool == nil {
		for i := 0; i < n; i++ {
			results[i], errs[i] = score(ctx, i)
		}
	} else {
		results, errs = workers.Map(ctx, s.pool, n, score)
	}

	out := make([]types.LiveSignal, 0, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] == nil {
			s.logger.Warn("Failed to score symbol",
				zap.String("symbol", req.Series[i].Symbol),
				zap.Error(errs[i]),
			)
			continue
		}
		out = append(out, *results[i])
	}
	return out
}

func sortByConfidence(signals []types.LiveSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].Symbol < signals[j].Symbol
	})
}
