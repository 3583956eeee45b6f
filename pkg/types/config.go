package types

import (
	"time"
)

// Frame is column-oriented bar input. Column names are matched
// case-insensitively against Open, High, Low, Close and Volume.
type Frame struct {
	Index   []time.Time          `json:"index"`
	Columns map[string][]float64 `json:"columns"`
}

// BacktestRequest describes one strategy run over one series. When Frame
// is set it takes precedence over Series.
type BacktestRequest struct {
	Symbol       string         `json:"symbol"`
	Strategy     string         `json:"strategy"`
	Series       Series         `json:"series"`
	Frame        *Frame         `json:"frame,omitempty"`
	Start        time.Time      `json:"start,omitempty"`
	End          time.Time      `json:"end,omitempty"`
	Cash         float64        `json:"cash"`
	UseSentiment bool           `json:"use_sentiment"`
	Params       map[string]any `json:"params,omitempty"`
}

// CompareRequest describes a side by side run of several strategies.
// An empty Strategies list selects every strategy that fits the series
// granularity.
type CompareRequest struct {
	Symbol       string    `json:"symbol"`
	Strategies   []string  `json:"strategies,omitempty"`
	Series       Series    `json:"series"`
	Frame        *Frame    `json:"frame,omitempty"`
	Start        time.Time `json:"start,omitempty"`
	End          time.Time `json:"end,omitempty"`
	Cash         float64   `json:"cash"`
	UseSentiment bool      `json:"use_sentiment"`
}

// SignalRequest describes a live scoring request
type SignalRequest struct {
	Symbol      string `json:"symbol"`
	Strategy    string `json:"strategy"`
	Series      Series `json:"series"`
	Frame       *Frame `json:"frame,omitempty"`
	IncludeNews bool   `json:"include_news"`
	// ChangePercent overrides the day change used by the contrarian rule.
	// When nil the change of the last two closes is used.
	ChangePercent *float64 `json:"price_change_pct,omitempty"`
}

// ScanRequest scores one strategy over several symbols. A zero
// MinConfidence uses the configured minimum.
type ScanRequest struct {
	Strategy      string   `json:"strategy"`
	Series        []Series `json:"series"`
	IncludeNews   bool     `json:"include_news"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
}
