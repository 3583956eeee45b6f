// Package signals turns the latest bar of a series into a live trading
// recommendation and scans many symbols for the strongest ones.
package signals

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// Holding periods reported on live signals.
const (
	HoldingIntraday = "Intraday"
	HoldingMultiDay = "3-7 days"
)

// ScoringConfig holds the vote weights and thresholds of the live scorer.
// The weights were tuned by hand and have not been calibrated against
// outcomes.
type ScoringConfig struct {
	RSIOversold   float64 `mapstructure:"rsi_oversold" validate:"gte=0,lte=100"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" validate:"lte=100,gtfield=RSIOversold"`
	RSIVotes      int     `mapstructure:"rsi_votes" validate:"min=0"`
	MACDVotes     int     `mapstructure:"macd_votes" validate:"min=0"`
	TrendVotes    int     `mapstructure:"trend_votes" validate:"min=0"`

	// Momentum scoring falls back to RSI and volume when the gap rule holds.
	MomentumFallbackRSIHigh float64 `mapstructure:"momentum_fallback_rsi_high" validate:"gte=0,lte=100"`
	MomentumFallbackRSILow  float64 `mapstructure:"momentum_fallback_rsi_low" validate:"gte=0,lte=100"`
	MomentumFallbackVolume  float64 `mapstructure:"momentum_fallback_volume" validate:"gt=0"`
	MomentumFallbackVotes   int     `mapstructure:"momentum_fallback_votes" validate:"min=0"`

	SentimentThreshold  float64 `mapstructure:"sentiment_threshold" validate:"gte=0,lte=1"`
	SentimentVotes      float64 `mapstructure:"sentiment_votes" validate:"gte=0"`
	HighRelevance       float64 `mapstructure:"high_relevance" validate:"gte=0,lte=100"`
	HighRelevanceWeight float64 `mapstructure:"high_relevance_weight" validate:"gte=1"`
	ContrarianThreshold float64 `mapstructure:"contrarian_threshold" validate:"gte=-1,lte=0"`
	ContrarianVotes     int     `mapstructure:"contrarian_votes" validate:"min=0"`

	MaxConfidence float64 `mapstructure:"max_confidence" validate:"gt=50,lt=100"`
	MinConfidence float64 `mapstructure:"min_confidence" validate:"gte=0,lt=100"`

	ATRFallback       float64 `mapstructure:"atr_fallback" validate:"gt=0,lt=1"`
	IntradayTargetATR float64 `mapstructure:"intraday_target_atr" validate:"gt=0"`
	IntradayStopATR   float64 `mapstructure:"intraday_stop_atr" validate:"gt=0"`
	MultiDayTargetATR float64 `mapstructure:"multi_day_target_atr" validate:"gt=0"`
	MultiDayStopATR   float64 `mapstructure:"multi_day_stop_atr" validate:"gt=0"`

	ReasonLimit int `mapstructure:"reason_limit" validate:"min=1"`
}

// DefaultScoringConfig returns the standard weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RSIOversold:   30,
		RSIOverbought: 70,
		RSIVotes:      2,
		MACDVotes:     1,
		TrendVotes:    1,

		MomentumFallbackRSIHigh: 65,
		MomentumFallbackRSILow:  35,
		MomentumFallbackVolume:  1.5,
		MomentumFallbackVotes:   2,

		SentimentThreshold:  0.4,
		SentimentVotes:      2,
		HighRelevance:       80,
		HighRelevanceWeight: 2,
		ContrarianThreshold: -0.7,
		ContrarianVotes:     1,

		MaxConfidence: 98,
		MinConfidence: 60,

		ATRFallback:       0.02,
		IntradayTargetATR: 1.5,
		IntradayStopATR:   1.0,
		MultiDayTargetATR: 3.0,
		MultiDayStopATR:   1.5,

		ReasonLimit: 3,
	}
}

// Decision is the outcome of a vote tally.
type Decision struct {
	Direction  types.Direction
	Confidence float64
	Reasoning  string
	BuyVotes   int
	SellVotes  int
	Reasons    []string
}

type tally struct {
	buy, sell int
	reasons   []string
}

func (t *tally) add(dir types.Direction, votes int, reason string) {
	if votes <= 0 {
		return
	}
	switch dir {
	case types.DirectionBuy:
		t.buy += votes
	case types.DirectionSell:
		t.sell += votes
	default:
		return
	}
	t.reasons = append(t.reasons, reason)
}

// Tally counts buy and sell votes for the latest bar. Sources are read in a
// fixed order: RSI, MACD, the strategy, trend for multi-day strategies,
// then sentiment. sent may be nil.
func (c ScoringConfig) Tally(kind strategy.Kind, snap indicator.Snapshot, result strategy.SignalResult, sent *types.Sentiment, changePct float64) Decision {
	t := &tally{}

	if rsi, err := snap.RSI.Take(); err == nil {
		switch {
		case rsi < c.RSIOversold:
			t.add(types.DirectionBuy, c.RSIVotes, fmt.Sprintf("RSI oversold (%.1f)", rsi))
		case rsi > c.RSIOverbought:
			t.add(types.DirectionSell, c.RSIVotes, fmt.Sprintf("RSI overbought (%.1f)", rsi))
		}
	}

	macd, errM := snap.MACD.Take()
	signal, errS := snap.MACDSignal.Take()
	if errM == nil && errS == nil {
		if macd > signal {
			t.add(types.DirectionBuy, c.MACDVotes, "MACD bullish crossover")
		} else {
			t.add(types.DirectionSell, c.MACDVotes, "MACD bearish crossover")
		}
	}

	if result.IsEntry() {
		t.add(result.Direction, result.VoteWeight, result.Reason)
	} else if kind == strategy.KindMomentum {
		c.momentumFallback(t, snap)
	}

	if !kind.Intraday() {
		switch snap.Trend {
		case indicator.TrendUp:
			t.add(types.DirectionBuy, c.TrendVotes, "In daily uptrend")
		case indicator.TrendDown:
			t.add(types.DirectionSell, c.TrendVotes, "In daily downtrend")
		}
	}

	if sent != nil {
		c.sentimentVotes(t, *sent, changePct)
	}
	return c.decide(t)
}

func (c ScoringConfig) momentumFallback(t *tally, snap indicator.Snapshot) {
	rsi, err := snap.RSI.Take()
	if err != nil {
		return
	}
	ratio := snap.VolumeRatio.TakeOr(1)
	switch {
	case rsi > c.MomentumFallbackRSIHigh && ratio > c.MomentumFallbackVolume:
		t.add(types.DirectionBuy, c.MomentumFallbackVotes,
			fmt.Sprintf("Bullish momentum: RSI %.0f, volume %.1fx avg", rsi, ratio))
	case rsi < c.MomentumFallbackRSILow && ratio > c.MomentumFallbackVolume:
		t.add(types.DirectionSell, c.MomentumFallbackVotes,
			fmt.Sprintf("Bearish momentum: RSI %.0f, volume %.1fx avg", rsi, ratio))
	}
}

func (c ScoringConfig) sentimentVotes(t *tally, sent types.Sentiment, changePct float64) {
	weight := 1.0
	if sent.Relevance > c.HighRelevance {
		weight = c.HighRelevanceWeight
		if sent.Headline != "" {
			t.reasons = append(t.reasons, "High impact news")
		}
	}

	votes := int(c.SentimentVotes * weight)
	switch {
	case sent.Score > c.SentimentThreshold:
		t.add(types.DirectionBuy, votes, fmt.Sprintf("Positive sentiment (+%.2f)", sent.Score))
	case sent.Score < -c.SentimentThreshold:
		t.add(types.DirectionSell, votes, fmt.Sprintf("Negative sentiment (%.2f)", sent.Score))
	}

	if sent.Score < c.ContrarianThreshold && changePct > 0 {
		t.add(types.DirectionBuy, c.ContrarianVotes, "Sentiment/Price divergence (contrarian)")
	}
}

func (c ScoringConfig) decide(t *tally) Decision {
	d := Decision{BuyVotes: t.buy, SellVotes: t.sell, Reasons: t.reasons}
	total := t.buy + t.sell

	switch {
	case total == 0:
		d.Direction, d.Confidence, d.Reasoning = types.DirectionHold, 50, "No clear technical signals"
		return d
	case t.buy == t.sell:
		d.Direction, d.Confidence, d.Reasoning = types.DirectionHold, 50, "Conflicting signals"
		return d
	}

	votesFor := t.buy
	d.Direction = types.DirectionBuy
	if t.sell > t.buy {
		votesFor = t.sell
		d.Direction = types.DirectionSell
	}
	confidence := 50 + float64(votesFor)/float64(total+1)*50
	d.Confidence = utils.Round(math.Min(c.MaxConfidence, confidence), 1)

	reasons := t.reasons
	if len(reasons) > c.ReasonLimit {
		reasons = reasons[:c.ReasonLimit]
	}
	d.Reasoning = strings.Join(reasons, "; ")
	return d
}

// Levels returns entry, target and stop prices for a decision. The ATR
// multiples depend on the strategy horizon. A level supplied by the
// strategy replaces the ATR level when the strategy agrees with the
// decision and the level sits on the right side of the entry.
func (c ScoringConfig) Levels(kind strategy.Kind, snap indicator.Snapshot, d Decision, result strategy.SignalResult) (entry, target, stop float64) {
	entry = snap.Price
	atr, err := snap.ATR.Take()
	if err != nil || atr <= 0 {
		atr = entry * c.ATRFallback
	}
	targetMult, stopMult := c.MultiDayTargetATR, c.MultiDayStopATR
	if kind.Intraday() {
		targetMult, stopMult = c.IntradayTargetATR, c.IntradayStopATR
	}

	switch d.Direction {
	case types.DirectionBuy:
		target, stop = entry+atr*targetMult, entry-atr*stopMult
	case types.DirectionSell:
		target, stop = entry-atr*targetMult, entry+atr*stopMult
	default:
		return entry, entry, entry - atr*stopMult
	}

	if result.Direction != d.Direction {
		return entry, target, stop
	}
	long := d.Direction == types.DirectionBuy
	if t, err := result.TargetPrice.Take(); err == nil && (long && t > entry || !long && t < entry) {
		target = t
	}
	if s, err := result.StopPrice.Take(); err == nil && (long && s < entry || !long && s > entry) {
		stop = s
	}
	return entry, target, stop
}

// Scorer produces live signals.
type Scorer struct {
	logger     *zap.Logger
	config     ScoringConfig
	params     strategy.Params
	indicators indicator.Config
	sentiment  *sentiment.Resolver
}

// NewScorer creates a scorer. resolver may be nil, in which case requests
// that ask for news get a neutral reading.
func NewScorer(logger *zap.Logger, config ScoringConfig, params strategy.Params, indicators indicator.Config, resolver *sentiment.Resolver) *Scorer {
	return &Scorer{
		logger:     logger.Named("signals"),
		config:     config,
		params:     params,
		indicators: indicators,
		sentiment:  resolver,
	}
}

// Config returns the scoring configuration.
func (s *Scorer) Config() ScoringConfig {
	return s.config
}

// Score evaluates the most recent bar of the request's series. Panics are
// recovered into ErrCodePanic errors.
func (s *Scorer) Score(ctx context.Context, req types.SignalRequest) (signal *types.LiveSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Signal scoring panicked",
				zap.String("symbol", req.Symbol),
				zap.Any("panic", r),
			)
			signal, err = nil, errors.Newf(errors.ErrCodePanic, "signal scoring failed: %v", r)
		}
	}()

	name := req.Strategy
	if name == "" {
		name = string(strategy.KindMeanReversion)
	}
	kind, err := strategy.ParseKind(name)
	if err != nil {
		return nil, err
	}

	series := req.Series
	symbol := utils.FormatSymbol(req.Symbol)
	if symbol == "" {
		symbol = utils.FormatSymbol(series.Symbol)
	}
	if req.Frame != nil {
		series, err = data.ToSeries(symbol, series.Timeframe, *req.Frame)
		if err != nil {
			return nil, err
		}
	}
	series.Symbol = symbol
	if series.Len() == 0 {
		return nil, errors.Newf(errors.ErrCodeInsufficientData, "no bars for %s", symbol)
	}

	snap := indicator.Compute(series, s.indicators).Latest()
	result := strategy.Evaluate(kind, snap, s.params)

	var sent *types.Sentiment
	if req.IncludeNews {
		resolved := s.sentiment.Resolve(ctx, symbol)
		sent = &resolved
	}

	change := series.ChangePercent()
	if req.ChangePercent != nil {
		change = *req.ChangePercent
	}

	decision := s.config.Tally(kind, snap, result, sent, change)
	entry, target, stop := s.config.Levels(kind, snap, decision, result)

	timeframe := series.Timeframe
	if timeframe == "" {
		timeframe = kind.PreferredTimeframe()
	}
	holding := HoldingMultiDay
	if kind.Intraday() {
		holding = HoldingIntraday
	}

	signal = &types.LiveSignal{
		ID:            utils.GenerateSignalID(),
		Symbol:        symbol,
		Strategy:      kind.String(),
		Signal:        decision.Direction,
		Confidence:    decision.Confidence,
		EntryPrice:    utils.Round(entry, 2),
		TargetPrice:   utils.Round(target, 2),
		StopLoss:      utils.Round(stop, 2),
		HoldingPeriod: holding,
		Reasoning:     decision.Reasoning,
		Indicators:    snap.Map(timeframe),
		Sentiment:     sent,
		BuyVotes:      decision.BuyVotes,
		SellVotes:     decision.SellVotes,
		GeneratedAt:   time.Now().UTC(),
	}

	s.logger.Debug("Scored signal",
		zap.String("symbol", symbol),
		zap.String("strategy", kind.String()),
		zap.String("signal", string(decision.Direction)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("buy_votes", decision.BuyVotes),
		zap.Int("sell_votes", decision.SellVotes),
	)
	return signal, nil
}
