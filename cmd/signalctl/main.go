// Command signalctl runs backtests, comparisons and live signals from the
// terminal against CSV files or the local bar store, and downloads bars
// from Polygon into that store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var (
	sourceFlags = []cli.Flag{
		&cli.StringFlag{
			Name:    "symbol",
			Aliases: []string{"s"},
			Usage:   "Ticker symbol; bars come from the store unless --csv is set",
		},
		&cli.StringFlag{
			Name:  "csv",
			Usage: "Read bars from a CSV file with a timestamp/date column and OHLCV columns",
		},
		&cli.StringFlag{
			Name:    "timeframe",
			Aliases: []string{"tf"},
			Usage:   "Bar timeframe (1m, 5m, 15m, 30m, 1h, 1d)",
		},
	}

	strategyFlag = &cli.StringFlag{
		Name:     "strategy",
		Aliases:  []string{"k"},
		Usage:    "Strategy name (see `signalctl strategies`)",
		Required: true,
	}
)

func withSource(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, sourceFlags...), flags...)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "signalctl",
		Usage: "Backtest strategies and score live signals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log engine activity to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "strategies",
				Usage:  "List the available strategies and their parameters",
				Action: strategiesAction,
			},
			{
				Name:  "backtest",
				Usage: "Replay one strategy over historical bars",
				Flags: withSource(
					strategyFlag,
					&cli.FloatFlag{Name: "cash", Usage: "Starting cash (defaults to the configured amount)"},
					&cli.BoolFlag{Name: "sentiment", Usage: "Gate entries on news sentiment"},
					&cli.BoolFlag{Name: "trades", Usage: "Print the trade ledger"},
				),
				Action: backtestAction,
			},
			{
				Name:  "compare",
				Usage: "Run several strategies over the same bars and rank them",
				Flags: withSource(
					&cli.StringSliceFlag{Name: "strategies", Usage: "Strategies to compare (defaults to every one fitting the bars)"},
					&cli.FloatFlag{Name: "cash", Usage: "Starting cash per run"},
					&cli.BoolFlag{Name: "sentiment", Usage: "Gate entries on news sentiment"},
				),
				Action: compareAction,
			},
			{
				Name:  "signal",
				Usage: "Score the present moment for one symbol",
				Flags: withSource(
					strategyFlag,
					&cli.BoolFlag{Name: "news", Usage: "Include news sentiment votes"},
				),
				Action: signalAction,
			},
			{
				Name:  "scan",
				Usage: "Score one strategy over stored bars for many symbols",
				Flags: []cli.Flag{
					strategyFlag,
					&cli.StringSliceFlag{Name: "symbols", Usage: "Symbols to scan (defaults to the configured tickers)"},
					&cli.StringFlag{Name: "timeframe", Aliases: []string{"tf"}, Value: "1d", Usage: "Bar timeframe"},
					&cli.FloatFlag{Name: "min-confidence", Usage: "Minimum confidence of reported signals"},
					&cli.BoolFlag{Name: "news", Usage: "Include news sentiment votes"},
				},
				Action: scanAction,
			},
			{
				Name:  "download",
				Usage: "Download bars from Polygon into the local store",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "symbols", Usage: "Symbols to download (defaults to the configured tickers)"},
					&cli.StringFlag{Name: "timeframe", Aliases: []string{"tf"}, Value: "1d", Usage: "Bar timeframe"},
					&cli.TimestampFlag{
						Name:     "start",
						Usage:    "Start date in `YYYY-MM-DD` format",
						Required: true,
						Config:   cli.TimestampConfig{Layouts: []string{"2006-01-02"}},
					},
					&cli.TimestampFlag{
						Name:   "end",
						Usage:  "End date in `YYYY-MM-DD` format. Defaults to today.",
						Value:  time.Now(),
						Config: cli.TimestampConfig{Layouts: []string{"2006-01-02"}},
					},
				},
				Action: downloadAction,
			},
		},
	}
}
