// Package data loads bar series and checks their quality before they are
// fed to the backtester.
package data

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Issue types reported by the quality validator.
const (
	IssueNoData           = "NO_DATA"
	IssueNonPositivePrice = "NON_POSITIVE_PRICE"
	IssueExtremeMove      = "EXTREME_MOVE"
	IssueGapMove          = "GAP_MOVE"
	IssueNegativeVolume   = "NEGATIVE_VOLUME"
	IssueZeroVolume       = "ZERO_VOLUME"
	IssueVolumeSpike      = "VOLUME_SPIKE"
	IssueHighBelowLow     = "HIGH_BELOW_LOW"
	IssueOHLCInconsistent = "OHLC_INCONSISTENT"
	IssueDuplicate        = "DUPLICATE_TIMESTAMP"
	IssueOutOfOrder       = "OUT_OF_ORDER"
)

// QualityValidator checks a bar series for data errors. It never rejects a
// series; the report is informational.
type QualityValidator struct {
	logger *zap.Logger

	MaxIntradayMove   float64 // Max high/low range as a fraction of low
	MaxGapMove        float64 // Max open vs previous close move
	MaxVolumeMultiple float64 // Volume above this multiple of the mean is a spike
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // "critical", "high", "medium", "low"
	Message  string `json:"message"`
	BarIndex int    `json:"bar_index"`
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	Symbol          string      `json:"symbol"`
	TotalBars       int         `json:"total_bars"`
	Issues          []DataIssue `json:"issues"`
	QualityScore    int         `json:"quality_score"` // 0-100
	IsUsable        bool        `json:"is_usable"`
	Recommendations []string    `json:"recommendations"`
}

// Messages returns one line per issue, suitable for run diagnostics.
func (r *QualityReport) Messages() []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, fmt.Sprintf("bar %d: %s", issue.BarIndex, issue.Message))
	}
	return out
}

// NewQualityValidator creates a validator with stock market defaults.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:            logger.Named("quality"),
		MaxIntradayMove:   0.20,
		MaxGapMove:        0.15,
		MaxVolumeMultiple: 10.0,
	}
}

// Validate runs all quality checks on a series.
func (v *QualityValidator) Validate(series types.Series) *QualityReport {
	bars := series.Bars
	if len(bars) == 0 {
		return &QualityReport{
			Symbol:          series.Symbol,
			Issues:          []DataIssue{{Type: IssueNoData, Severity: "critical", Message: "No data provided"}},
			Recommendations: []string{"Provide at least one bar"},
		}
	}

	var issues []DataIssue
	issues = append(issues, v.checkPrices(bars)...)
	issues = append(issues, v.checkVolume(bars)...)
	issues = append(issues, v.checkOHLC(bars)...)
	issues = append(issues, v.checkOrder(bars)...)

	score := qualityScore(len(bars), issues)
	report := &QualityReport{
		Symbol:          series.Symbol,
		TotalBars:       len(bars),
		Issues:          issues,
		QualityScore:    score,
		IsUsable:        score >= 70 && !hasCritical(issues),
		Recommendations: recommendations(issues, len(bars)),
	}

	if len(issues) > 0 {
		v.logger.Warn("Data quality issues found",
			zap.String("symbol", series.Symbol),
			zap.Int("issues", len(issues)),
			zap.Int("score", score),
		)
	}
	return report
}

func (v *QualityValidator) checkPrices(bars []types.Bar) []DataIssue {
	var issues []DataIssue
	for i, bar := range bars {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			issues = append(issues, DataIssue{
				Type:     IssueNonPositivePrice,
				Severity: "critical",
				Message:  fmt.Sprintf("Non-positive price (O:%g H:%g L:%g C:%g)", bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex: i,
			})
			continue
		}

		if move := (bar.High - bar.Low) / bar.Low; move > v.MaxIntradayMove {
			issues = append(issues, DataIssue{
				Type:     IssueExtremeMove,
				Severity: "high",
				Message:  fmt.Sprintf("Extreme intraday move: %.2f%%", move*100),
				BarIndex: i,
			})
		}

		if i > 0 && bars[i-1].Close > 0 {
			if gap := math.Abs(bar.Open-bars[i-1].Close) / bars[i-1].Close; gap > v.MaxGapMove {
				issues = append(issues, DataIssue{
					Type:     IssueGapMove,
					Severity: "medium",
					Message:  fmt.Sprintf("Large price gap: %.2f%%", gap*100),
					BarIndex: i,
				})
			}
		}
	}
	return issues
}

func (v *QualityValidator) checkVolume(bars []types.Bar) []DataIssue {
	var issues []DataIssue
	total, positive := 0.0, 0
	for _, bar := range bars {
		if bar.Volume > 0 {
			total += bar.Volume
			positive++
		}
	}
	avg := 0.0
	if positive > 0 {
		avg = total / float64(positive)
	}

	for i, bar := range bars {
		switch {
		case bar.Volume < 0:
			issues = append(issues, DataIssue{
				Type:     IssueNegativeVolume,
				Severity: "critical",
				Message:  fmt.Sprintf("Negative volume: %g", bar.Volume),
				BarIndex: i,
			})
		case bar.Volume == 0:
			issues = append(issues, DataIssue{
				Type:     IssueZeroVolume,
				Severity: "low",
				Message:  "Zero volume bar",
				BarIndex: i,
			})
		case avg > 0 && bar.Volume > avg*v.MaxVolumeMultiple:
			issues = append(issues, DataIssue{
				Type:     IssueVolumeSpike,
				Severity: "low",
				Message:  fmt.Sprintf("Volume spike: %.1fx average", bar.Volume/avg),
				BarIndex: i,
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkOHLC(bars []types.Bar) []DataIssue {
	var issues []DataIssue
	for i, bar := range bars {
		if bar.High < bar.Low {
			issues = append(issues, DataIssue{
				Type:     IssueHighBelowLow,
				Severity: "critical",
				Message:  fmt.Sprintf("High %g below low %g", bar.High, bar.Low),
				BarIndex: i,
			})
			continue
		}
		if bar.High < math.Max(bar.Open, bar.Close) || bar.Low > math.Min(bar.Open, bar.Close) {
			issues = append(issues, DataIssue{
				Type:     IssueOHLCInconsistent,
				Severity: "high",
				Message:  fmt.Sprintf("Open/close outside high/low range (O:%g H:%g L:%g C:%g)", bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex: i,
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkOrder(bars []types.Bar) []DataIssue {
	var issues []DataIssue
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Timestamp, bars[i].Timestamp
		switch {
		case cur.Equal(prev):
			issues = append(issues, DataIssue{
				Type:     IssueDuplicate,
				Severity: "high",
				Message:  "Duplicate timestamp " + cur.Format("2006-01-02T15:04:05Z07:00"),
				BarIndex: i,
			})
		case cur.Before(prev):
			issues = append(issues, DataIssue{
				Type:     IssueOutOfOrder,
				Severity: "critical",
				Message:  "Bar is out of chronological order",
				BarIndex: i,
			})
		}
	}
	return issues
}

// qualityScore returns a 0-100 score
func qualityScore(totalBars int, issues []DataIssue) int {
	if totalBars == 0 {
		return 0
	}

	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penalty += 10.0
		case "high":
			penalty += 5.0
		case "medium":
			penalty += 2.0
		case "low":
			penalty += 0.5
		}
	}

	// More data means more tolerance for small issues
	normalized := penalty / math.Max(1, float64(totalBars)/100) * 10
	score := 100.0 - math.Min(normalized, 100)
	return int(math.Max(0, math.Min(100, score)))
}

func hasCritical(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}

func recommendations(issues []DataIssue, totalBars int) []string {
	var recs []string
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[issue.Type]++
	}

	if counts[IssueHighBelowLow]+counts[IssueOHLCInconsistent] > 0 {
		recs = append(recs, "OHLC inconsistencies detected, verify data source integrity")
	}
	if counts[IssueNonPositivePrice] > 0 {
		recs = append(recs, "Remove bars with zero or negative prices")
	}
	if counts[IssueExtremeMove] > totalBars/100 {
		recs = append(recs, "Many extreme price moves detected, consider filtering outliers")
	}
	if counts[IssueZeroVolume] > totalBars/10 {
		recs = append(recs, "High proportion of zero volume bars, volume-confirmed strategies will rarely trade")
	}
	if counts[IssueDuplicate] > 0 {
		recs = append(recs, "Remove duplicate timestamps before backtesting")
	}
	if counts[IssueOutOfOrder] > 0 {
		recs = append(recs, "Sort data by timestamp before use")
	}
	if len(recs) == 0 {
		recs = append(recs, "Data quality is acceptable for backtesting")
	}
	return recs
}
