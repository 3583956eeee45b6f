package backtester

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// ServiceConfig configures the backtest service.
type ServiceConfig struct {
	DefaultCash    float64         `mapstructure:"cash" validate:"gt=0"`
	RichStatistics bool            `mapstructure:"rich_statistics"`
	Simulator      SimulatorConfig `mapstructure:"simulator"`
}

// DefaultServiceConfig returns the service defaults: $10,000 per run and
// equity-curve statistics enabled.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultCash:    10_000,
		RichStatistics: true,
		Simulator:      DefaultSimulatorConfig(),
	}
}

// Service is the public backtest boundary. It validates requests, runs
// the simulator and always answers with a structured result.
type Service struct {
	logger    *zap.Logger
	config    ServiceConfig
	params    strategy.Params
	simulator *Simulator
	metrics   *MetricsEngine
	sentiment *sentiment.Resolver
	quality   *data.QualityValidator
}

// NewService creates a backtest service. resolver may be nil, in which
// case sentiment is always neutral.
func NewService(logger *zap.Logger, config ServiceConfig, params strategy.Params, resolver *sentiment.Resolver) *Service {
	if config.DefaultCash <= 0 {
		config.DefaultCash = 10_000
	}
	var source StatisticsSource
	if config.RichStatistics {
		source = EquityStatistics{}
	}
	return &Service{
		logger:    logger.Named("backtester"),
		config:    config,
		params:    params,
		simulator: NewSimulator(logger, config.Simulator),
		metrics:   NewMetricsEngine(source),
		sentiment: resolver,
		quality:   data.NewQualityValidator(logger),
	}
}

// Params returns the default strategy parameters of the service.
func (s *Service) Params() strategy.Params {
	return s.params
}

// Run executes one backtest. It never panics and never returns nil.
func (s *Service) Run(ctx context.Context, req types.BacktestRequest) *types.BacktestResult {
	return s.execute(ctx, req, nil)
}

// execute runs a request. A non-nil shared sentiment is used as is instead
// of resolving one.
func (s *Service) execute(ctx context.Context, req types.BacktestRequest, shared *types.Sentiment) (result *types.BacktestResult) {
	start := time.Now()
	id := utils.GenerateRunID()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Backtest panicked",
				zap.String("strategy", req.Strategy),
				zap.Any("panic", r),
			)
			result = failure(id, req.Strategy, req.Symbol, errors.Newf(errors.ErrCodePanic, "backtest failed: %v", r))
		}
	}()

	kind, err := strategy.ParseKind(req.Strategy)
	if err != nil {
		return failure(id, req.Strategy, req.Symbol, err)
	}

	series, err := requestSeries(req.Symbol, req.Series, req.Frame, req.Start, req.End)
	if err != nil {
		return failure(id, kind.String(), req.Symbol, err)
	}
	symbol := series.Symbol

	if n := series.Len(); n < kind.MinBars() {
		return failure(id, kind.String(), symbol, errors.Newf(errors.ErrCodeInsufficientData,
			"strategy '%s' needs at least %d bars, got %d", kind, kind.MinBars(), n))
	}

	params, err := s.params.WithOverrides(kind, req.Params)
	if err != nil {
		return failure(id, kind.String(), symbol, err)
	}

	cashValue := req.Cash
	if cashValue <= 0 {
		cashValue = s.config.DefaultCash
	}
	cash := decimal.NewFromFloat(cashValue)

	report := s.quality.Validate(series)

	var sent *types.Sentiment
	switch {
	case shared != nil:
		sent = shared
	case req.UseSentiment:
		resolved := s.sentiment.Resolve(ctx, symbol)
		sent = &resolved
	}

	sim, err := s.simulator.Run(ctx, series, kind, params, cash)
	if err != nil {
		return failure(id, kind.String(), symbol, err)
	}

	metrics := s.metrics.Calculate(StatisticsInput{
		Series:       series,
		Trades:       sim.Trades,
		EquityCurve:  sim.EquityCurve,
		InitialCash:  cashValue,
		BarsInMarket: sim.BarsInMarket,
	})

	score := 0.0
	if sent != nil {
		score = sent.Score
		metrics.SentimentScore = optional.Some(score)
		for i := range sim.Trades {
			sim.Trades[i].SentimentScore = score
		}
	}

	parameters := map[string]any{
		"strategy_name":   kind.String(),
		"cash":            cashValue,
		"use_sentiment":   req.UseSentiment || shared != nil,
		"sentiment_score": score,
	}
	for k, v := range params.Map(kind) {
		parameters[k] = v
	}

	diagnostics := sim.Diagnostics
	diagnostics.QualityIssues = report.Messages()

	result = &types.BacktestResult{
		ID:           id,
		Status:       types.StatusSuccess,
		Strategy:     kind.String(),
		StrategyType: string(kind.Category()),
		Symbol:       symbol,
		Trades:       sim.Trades,
		EquityCurve:  sim.EquityCurve,
		Metrics:      metrics,
		Sentiment:    sent,
		Parameters:   parameters,
		Diagnostics:  diagnostics,
		Duration:     time.Since(start),
	}

	s.logger.Info("Backtest completed",
		zap.String("id", id),
		zap.String("symbol", symbol),
		zap.String("strategy", kind.String()),
		zap.Int("bars", series.Len()),
		zap.Int("trades", metrics.TotalTrades),
		zap.Float64("net_profit", metrics.NetProfit),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// requestSeries resolves the bars of a request: column input first, then
// the series, restricted to [start, end].
func requestSeries(symbol string, series types.Series, frame *types.Frame, start, end time.Time) (types.Series, error) {
	symbol = utils.FormatSymbol(symbol)
	if symbol == "" {
		symbol = utils.FormatSymbol(series.Symbol)
	}
	if frame != nil {
		converted, err := data.ToSeries(symbol, series.Timeframe, *frame)
		if err != nil {
			return types.Series{}, err
		}
		series = converted
	}
	series.Symbol = symbol
	return series.Between(start, end), nil
}

func failure(id, strategyName, symbol string, err error) *types.BacktestResult {
	return &types.BacktestResult{
		ID:          id,
		Status:      errors.StatusOf(err),
		Error:       errors.Message(err),
		Strategy:    strategyName,
		Symbol:      utils.FormatSymbol(symbol),
		Trades:      []types.Trade{},
		EquityCurve: []types.EquityPoint{},
	}
}

// RSIMAOptions are the knobs of the RSI/moving-average compatibility
// entry point.
type RSIMAOptions struct {
	Strategy           string
	RSIPeriod          int
	RSIOversold        float64
	RSIOverbought      float64
	MAShort            int
	MALong             int
	UseSentiment       bool
	SentimentThreshold float64
}

// DefaultRSIMAOptions returns the historical defaults.
func DefaultRSIMAOptions() RSIMAOptions {
	return RSIMAOptions{
		Strategy:           string(strategy.KindMeanReversion),
		RSIPeriod:          14,
		RSIOversold:        30,
		RSIOverbought:      70,
		MAShort:            20,
		MALong:             50,
		UseSentiment:       true,
		SentimentThreshold: -0.3,
	}
}

// RSIMABacktest runs a backtest with RSI threshold overrides. The
// thresholds are only forwarded to strategies that declare them, and the
// result parameters are extended with every option for older callers.
func (s *Service) RSIMABacktest(ctx context.Context, symbol string, series types.Series, opts RSIMAOptions) *types.BacktestResult {
	overrides := map[string]any{}
	if kind, err := strategy.ParseKind(opts.Strategy); err == nil {
		declared := make(map[string]bool)
		for _, key := range s.params.Keys(kind) {
			declared[key] = true
		}
		if declared["rsi_oversold"] {
			overrides["rsi_oversold"] = opts.RSIOversold
		}
		if declared["rsi_overbought"] {
			overrides["rsi_overbought"] = opts.RSIOverbought
		}
	}

	result := s.Run(ctx, types.BacktestRequest{
		Symbol:       symbol,
		Strategy:     opts.Strategy,
		Series:       series,
		UseSentiment: opts.UseSentiment,
		Params:       overrides,
	})
	if result.Parameters != nil {
		result.Parameters["rsi_period"] = opts.RSIPeriod
		result.Parameters["rsi_oversold"] = opts.RSIOversold
		result.Parameters["rsi_overbought"] = opts.RSIOverbought
		result.Parameters["ma_short"] = opts.MAShort
		result.Parameters["ma_long"] = opts.MALong
		result.Parameters["sentiment_threshold"] = opts.SentimentThreshold
	}
	return result
}
