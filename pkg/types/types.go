// Package types provides shared type definitions for the signal engine.
package types

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Direction is the recommendation carried by a signal
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// PositionSide represents the simulator position state
type PositionSide string

const (
	PositionSideFlat  PositionSide = "FLAT"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Status is the outcome reported on every public result
type Status string

const (
	StatusSuccess          Status = "SUCCESS"
	StatusUnknownStrategy  Status = "UNKNOWN_STRATEGY"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
	StatusMissingColumns   Status = "MISSING_COLUMNS"
	StatusError            Status = "ERROR"
)

// Granularity describes the bar spacing of a series
type Granularity string

const (
	GranularityIntraday Granularity = "intraday"
	GranularityDaily    Granularity = "daily"
)

// Timeframe represents bar timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar spacing for the timeframe, zero when unknown.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Bar represents a single candlestick
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TypicalPrice returns (high + low + close) / 3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Series is an ordered bar sequence for one symbol.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
	Bars      []Bar     `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int {
	return len(s.Bars)
}

// Last returns the most recent bar.
func (s Series) Last() Bar {
	if len(s.Bars) == 0 {
		return Bar{}
	}
	return s.Bars[len(s.Bars)-1]
}

// Granularity returns the declared granularity, or infers it from the
// median spacing between bars when no timeframe is set.
func (s Series) Granularity() Granularity {
	if d := s.Timeframe.Duration(); d > 0 {
		if d < 24*time.Hour {
			return GranularityIntraday
		}
		return GranularityDaily
	}
	if len(s.Bars) < 2 {
		return GranularityDaily
	}
	gaps := make([]time.Duration, 0, len(s.Bars)-1)
	for i := 1; i < len(s.Bars); i++ {
		gaps = append(gaps, s.Bars[i].Timestamp.Sub(s.Bars[i-1].Timestamp))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	if gaps[len(gaps)/2] < 24*time.Hour {
		return GranularityIntraday
	}
	return GranularityDaily
}

// SessionStarts flags the first bar of every trading session. Intraday
// series start a session on each new calendar date; any other series is a
// single session.
func (s Series) SessionStarts() []bool {
	starts := make([]bool, len(s.Bars))
	if len(s.Bars) == 0 {
		return starts
	}
	starts[0] = true
	if s.Granularity() != GranularityIntraday {
		return starts
	}
	for i := 1; i < len(s.Bars); i++ {
		y1, m1, d1 := s.Bars[i-1].Timestamp.Date()
		y2, m2, d2 := s.Bars[i].Timestamp.Date()
		starts[i] = y1 != y2 || m1 != m2 || d1 != d2
	}
	return starts
}

// Between returns the bars whose timestamp falls in [start, end]. A zero
// bound is open.
func (s Series) Between(start, end time.Time) Series {
	out := Series{Symbol: s.Symbol, Timeframe: s.Timeframe}
	for _, b := range s.Bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return out
}

// ChangePercent returns the last close change versus the previous close.
func (s Series) ChangePercent() float64 {
	n := len(s.Bars)
	if n < 2 || s.Bars[n-2].Close == 0 {
		return 0
	}
	return (s.Bars[n-1].Close - s.Bars[n-2].Close) / s.Bars[n-2].Close * 100
}

// FormatDate renders a bar time for ledgers and curves.
func (s Series) FormatDate(t time.Time) string {
	if s.Granularity() == GranularityIntraday {
		return t.Format(time.RFC3339)
	}
	return t.Format("2006-01-02")
}

// Trade is a closed position
type Trade struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           PositionSide    `json:"side"`
	EntryDate      string          `json:"entry_date"`
	ExitDate       string          `json:"exit_date"`
	EntryIndex     int             `json:"entry_index"`
	ExitIndex      int             `json:"exit_index"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price"`
	Shares         decimal.Decimal `json:"shares"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	ReturnPct      float64         `json:"return_pct"`
	SentimentScore float64         `json:"sentiment_score"`
	ExitReason     string          `json:"exit_reason"`
	Notes          string          `json:"notes"`
}

// EquityPoint is the account value at one bar
type EquityPoint struct {
	Date    string          `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

// Metrics is the performance summary of a backtest run. The optional
// fields are only populated when a statistics source was supplied.
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgReturn     float64 `json:"avg_return"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"`
	NetProfit     float64 `json:"net_profit"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`

	SharpeRatio         optional.Option[float64] `json:"sharpe_ratio"`
	SortinoRatio        optional.Option[float64] `json:"sortino_ratio"`
	CalmarRatio         optional.Option[float64] `json:"calmar_ratio"`
	MaxDrawdownPct      optional.Option[float64] `json:"max_drawdown_pct"`
	ExposurePct         optional.Option[float64] `json:"exposure_pct"`
	ReturnPct           optional.Option[float64] `json:"return_pct"`
	BuyAndHoldReturnPct optional.Option[float64] `json:"buy_and_hold_return_pct"`
	SentimentScore      optional.Option[float64] `json:"sentiment_score"`
}

// SentimentStatus reports where a sentiment value came from
type SentimentStatus string

const (
	SentimentStatusSuccess  SentimentStatus = "SUCCESS"
	SentimentStatusNoAPIKey SentimentStatus = "NO_API_KEY"
	SentimentStatusNoNews   SentimentStatus = "NO_NEWS"
	SentimentStatusError    SentimentStatus = "ERROR"
	SentimentStatusNeutral  SentimentStatus = "NEUTRAL"
)

// Sentiment is the external news sentiment input
type Sentiment struct {
	Score        float64         `json:"sentiment_score"`
	Relevance    float64         `json:"relevance"`
	MacroImpact  bool            `json:"macro_impact"`
	Headline     string          `json:"headline,omitempty"`
	Source       string          `json:"source,omitempty"`
	ArticleCount int             `json:"article_count"`
	Status       SentimentStatus `json:"status"`
}

// NeutralSentiment is the degraded input used when no provider answers.
func NeutralSentiment(status SentimentStatus) Sentiment {
	return Sentiment{Status: status}
}

// Diagnostics carries per-run counters that are not part of the metrics.
type Diagnostics struct {
	BarsProcessed      int      `json:"bars_processed"`
	Signals            int      `json:"signals"`
	GeometryRejections int      `json:"geometry_rejections"`
	VolumeRejections   int      `json:"volume_rejections"`
	QualityIssues      []string `json:"quality_issues,omitempty"`
}

// BacktestResult is the outcome of a single strategy run
type BacktestResult struct {
	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Error        string         `json:"error,omitempty"`
	Strategy     string         `json:"strategy"`
	StrategyType string         `json:"strategy_type"`
	Symbol       string         `json:"symbol"`
	Trades       []Trade        `json:"trades"`
	EquityCurve  []EquityPoint  `json:"equity_curve"`
	Metrics      Metrics        `json:"metrics"`
	Sentiment    *Sentiment     `json:"sentiment"`
	Parameters   map[string]any `json:"parameters"`
	Diagnostics  Diagnostics    `json:"diagnostics"`
	Duration     time.Duration  `json:"duration_ns"`
}

// RankEntry is one line of a comparison ranking
type RankEntry struct {
	Rank         int                      `json:"rank"`
	Strategy     string                   `json:"strategy"`
	StrategyType string                   `json:"strategy_type"`
	NetProfit    float64                  `json:"net_profit"`
	WinRate      float64                  `json:"win_rate"`
	TotalTrades  int                      `json:"total_trades"`
	SharpeRatio  optional.Option[float64] `json:"sharpe_ratio"`
	MaxDrawdown  optional.Option[float64] `json:"max_drawdown"`
}

// ComparisonSummary aggregates a multi-strategy comparison
type ComparisonSummary struct {
	Symbol          string      `json:"symbol"`
	TotalStrategies int         `json:"total_strategies"`
	SuccessfulRuns  int         `json:"successful_runs"`
	FailedRuns      int         `json:"failed_runs"`
	BestStrategy    string      `json:"best_strategy,omitempty"`
	BestNetProfit   float64     `json:"best_net_profit"`
	Ranking         []RankEntry `json:"ranking"`
}

// ComparisonResult is the ranked outcome of a comparison
type ComparisonResult struct {
	ID        string            `json:"id"`
	Status    Status            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Summary   ComparisonSummary `json:"summary"`
	Results   []BacktestResult  `json:"results"`
	Sentiment *Sentiment        `json:"sentiment"`
}

// LiveSignal is the present-moment recommendation for a symbol
type LiveSignal struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Strategy      string         `json:"strategy"`
	Signal        Direction      `json:"signal"`
	Confidence    float64        `json:"confidence"`
	EntryPrice    float64        `json:"entry_price"`
	TargetPrice   float64        `json:"target_price"`
	StopLoss      float64        `json:"stop_loss"`
	HoldingPeriod string         `json:"holding_period"`
	Reasoning     string         `json:"reasoning"`
	Indicators    map[string]any `json:"indicators"`
	Sentiment     *Sentiment     `json:"sentiment,omitempty"`
	BuyVotes      int            `json:"buy_votes"`
	SellVotes     int            `json:"sell_votes"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
