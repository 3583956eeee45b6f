// Package sentiment supplies the optional news sentiment input used by
// backtests and live signals. Every failure degrades to a neutral reading.
package sentiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// DefaultTimeout bounds a single sentiment lookup.
const DefaultTimeout = 5 * time.Second

// Provider scores recent news for a symbol. Score is in [-1, 1] and
// Relevance in [0, 100].
type Provider interface {
	Analyze(ctx context.Context, symbol string) (types.Sentiment, error)
}

// Resolver wraps a provider with a timeout and the neutral fallback.
type Resolver struct {
	logger   *zap.Logger
	provider Provider
	timeout  time.Duration
}

// NewResolver creates a resolver. A nil provider always yields neutral
// sentiment; a non-positive timeout uses DefaultTimeout.
func NewResolver(logger *zap.Logger, provider Provider, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		logger:   logger.Named("sentiment"),
		provider: provider,
		timeout:  timeout,
	}
}

// Resolve returns the provider's reading or a neutral one. It never fails.
func (r *Resolver) Resolve(ctx context.Context, symbol string) types.Sentiment {
	if r == nil || r.provider == nil {
		return types.NeutralSentiment(types.SentimentStatusNeutral)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	s, err := r.provider.Analyze(ctx, symbol)
	if err != nil {
		r.logger.Warn("Sentiment unavailable, using neutral",
			zap.String("symbol", symbol),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return types.NeutralSentiment(types.SentimentStatusError)
	}
	return clamp(s)
}

func clamp(s types.Sentiment) types.Sentiment {
	switch {
	case s.Score > 1:
		s.Score = 1
	case s.Score < -1:
		s.Score = -1
	}
	switch {
	case s.Relevance > 100:
		s.Relevance = 100
	case s.Relevance < 0:
		s.Relevance = 0
	}
	return s
}

// Static is a provider that always returns the same reading.
type Static types.Sentiment

// Analyze implements Provider.
func (s Static) Analyze(context.Context, string) (types.Sentiment, error) {
	return types.Sentiment(s), nil
}
