package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/moznion/go-optional"
	"github.com/olekukonko/tablewriter"

	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

func opt(o optional.Option[float64], format string) string {
	if o.IsNone() {
		return "-"
	}
	return fmt.Sprintf(format, o.Unwrap())
}

func printStrategies(out io.Writer, infos []strategy.Info) {
	table := tablewriter.NewWriter(out)
	table.Header("Name", "Type", "Min bars", "Timeframe", "Parameters")
	for _, info := range infos {
		keys := make([]string, 0, len(info.Parameters))
		for k := range info.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params := make([]string, len(keys))
		for i, k := range keys {
			params[i] = fmt.Sprintf("%s=%v", k, info.Parameters[k])
		}
		table.Append(
			info.Name,
			string(info.Type),
			fmt.Sprintf("%d", info.MinBars),
			string(info.PreferredTimeframe),
			strings.Join(params, " "),
		)
	}
	table.Render()
}

func printBacktest(out io.Writer, r *types.BacktestResult) {
	m := r.Metrics
	fmt.Fprintf(out, "%s on %s (%s)\n", r.Strategy, r.Symbol, r.StrategyType)

	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	rows := [][2]string{
		{"Trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Net profit", fmt.Sprintf("$%.2f", m.NetProfit)},
		{"Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Avg return", fmt.Sprintf("%.2f%%", m.AvgReturn)},
		{"Best / worst", fmt.Sprintf("%.2f%% / %.2f%%", m.BestTrade, m.WorstTrade)},
		{"Return", opt(m.ReturnPct, "%.2f%%")},
		{"Buy & hold", opt(m.BuyAndHoldReturnPct, "%.2f%%")},
		{"Sharpe", opt(m.SharpeRatio, "%.2f")},
		{"Sortino", opt(m.SortinoRatio, "%.2f")},
		{"Max drawdown", opt(m.MaxDrawdownPct, "%.2f%%")},
		{"Exposure", opt(m.ExposurePct, "%.1f%%")},
		{"Bars", fmt.Sprintf("%d", r.Diagnostics.BarsProcessed)},
	}
	for _, row := range rows {
		table.Append(row[0], row[1])
	}
	table.Render()

	for _, issue := range r.Diagnostics.QualityIssues {
		fmt.Fprintf(out, "  data: %s\n", issue)
	}
}

func printTrades(out io.Writer, trades []types.Trade) {
	table := tablewriter.NewWriter(out)
	table.Header("#", "Side", "Entry", "Exit", "Entry $", "Exit $", "Shares", "PnL", "Return", "Reason")
	for i, t := range trades {
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(t.Side),
			t.EntryDate,
			t.ExitDate,
			t.EntryPrice.StringFixed(2),
			t.ExitPrice.StringFixed(2),
			t.Shares.String(),
			t.ProfitLoss.StringFixed(2),
			fmt.Sprintf("%.2f%%", t.ReturnPct),
			t.ExitReason,
		)
	}
	table.Render()
}

func printComparison(out io.Writer, c *types.ComparisonResult) {
	s := c.Summary
	fmt.Fprintf(out, "%s: %d strategies, %d succeeded", s.Symbol, s.TotalStrategies, s.SuccessfulRuns)
	if s.BestStrategy != "" {
		fmt.Fprintf(out, ", best %s ($%.2f)", s.BestStrategy, s.BestNetProfit)
	}
	fmt.Fprintln(out)

	table := tablewriter.NewWriter(out)
	table.Header("Rank", "Strategy", "Type", "Net profit", "Win rate", "Trades", "Sharpe", "Max DD")
	for _, r := range s.Ranking {
		table.Append(
			fmt.Sprintf("%d", r.Rank),
			r.Strategy,
			r.StrategyType,
			fmt.Sprintf("$%.2f", r.NetProfit),
			fmt.Sprintf("%.1f%%", r.WinRate),
			fmt.Sprintf("%d", r.TotalTrades),
			opt(r.SharpeRatio, "%.2f"),
			opt(r.MaxDrawdown, "%.2f%%"),
		)
	}
	table.Render()

	for _, r := range c.Results {
		if r.Status != types.StatusSuccess {
			fmt.Fprintf(out, "  %s: %s %s\n", r.Strategy, r.Status, r.Error)
		}
	}
}

func printSignal(out io.Writer, sig *types.LiveSignal) {
	fmt.Fprintf(out, "%s %s %s  confidence %.0f  (buy %d / sell %d)\n",
		sig.Symbol, sig.Strategy, sig.Signal, sig.Confidence, sig.BuyVotes, sig.SellVotes)
	fmt.Fprintf(out, "  entry %.2f  target %.2f  stop %.2f  hold %s\n",
		sig.EntryPrice, sig.TargetPrice, sig.StopLoss, sig.HoldingPeriod)
	if sig.Sentiment != nil {
		fmt.Fprintf(out, "  sentiment %.2f (%s, relevance %.0f)\n",
			sig.Sentiment.Score, sig.Sentiment.Status, sig.Sentiment.Relevance)
	}
	fmt.Fprintf(out, "  %s\n", sig.Reasoning)
}

func printSignals(out io.Writer, signals []types.LiveSignal) {
	if len(signals) == 0 {
		fmt.Fprintln(out, "no signals above the confidence threshold")
		return
	}
	table := tablewriter.NewWriter(out)
	table.Header("Symbol", "Signal", "Confidence", "Entry", "Target", "Stop", "Hold")
	for _, sig := range signals {
		table.Append(
			sig.Symbol,
			string(sig.Signal),
			fmt.Sprintf("%.0f", sig.Confidence),
			fmt.Sprintf("%.2f", sig.EntryPrice),
			fmt.Sprintf("%.2f", sig.TargetPrice),
			fmt.Sprintf("%.2f", sig.StopLoss),
			sig.HoldingPeriod,
		)
	}
	table.Render()
}
