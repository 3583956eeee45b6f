package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/config"
	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/signals"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/internal/workers"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// engine is the set of components a command works with.
type engine struct {
	logger     *zap.Logger
	config     *config.Config
	store      *data.Store
	pool       *workers.Pool
	service    *backtester.Service
	comparator *backtester.Comparator
	scorer     *signals.Scorer
	scanner    *signals.Scanner
}

func newEngine(cmd *cli.Command) (*engine, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if cmd.Bool("verbose") {
		zc := zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{"stderr"}
		if logger, err = zc.Build(); err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	store, err := data.NewStore(logger, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}

	var provider sentiment.Provider
	if cfg.Sentiment.Provider == "newsapi" && cfg.Sentiment.NewsAPI.APIKey != "" {
		provider = sentiment.NewNewsAPI(logger, cfg.Sentiment.NewsAPI)
	}
	resolver := sentiment.NewResolver(logger, provider, cfg.Sentiment.ResolveTimeout)

	poolConfig := workers.DefaultPoolConfig("signalctl")
	poolConfig.NumWorkers = cfg.Engine.Workers
	pool := workers.NewPool(logger, poolConfig)
	pool.Start()

	service := backtester.NewService(logger, cfg.Engine.Backtest, cfg.Strategies, resolver)
	scorer := signals.NewScorer(logger, cfg.Scoring, cfg.Strategies, cfg.Engine.Backtest.Simulator.Indicators, resolver)
	return &engine{
		logger:     logger,
		config:     cfg,
		store:      store,
		pool:       pool,
		service:    service,
		comparator: backtester.NewComparator(logger, service, pool),
		scorer:     scorer,
		scanner:    signals.NewScanner(logger, scorer, pool),
	}, nil
}

func (e *engine) close() {
	_ = e.pool.Stop()
	_ = e.logger.Sync()
}

// series loads bars from --csv, or from the store for --symbol.
func (e *engine) series(ctx context.Context, cmd *cli.Command) (types.Series, error) {
	symbol := utils.FormatSymbol(cmd.String("symbol"))
	timeframe := types.Timeframe(cmd.String("timeframe"))

	if path := cmd.String("csv"); path != "" {
		if symbol == "" {
			symbol = utils.FormatSymbol(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		f, err := os.Open(path)
		if err != nil {
			return types.Series{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		frame, err := data.ReadCSV(f)
		if err != nil {
			return types.Series{}, err
		}
		return data.ToSeries(symbol, timeframe, frame)
	}

	if symbol == "" {
		return types.Series{}, fmt.Errorf("either --symbol or --csv is required")
	}
	if timeframe == "" {
		timeframe = types.Timeframe1d
	}
	return e.store.Fetch(ctx, symbol, timeframe, time.Time{}, time.Time{})
}

func (e *engine) symbols(cmd *cli.Command) []string {
	symbols := cmd.StringSlice("symbols")
	if len(symbols) == 0 {
		symbols = e.config.MarketData.DefaultTickers
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = utils.FormatSymbol(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func strategiesAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	printStrategies(os.Stdout, strategy.List(cfg.Strategies))
	return nil
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	e, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	series, err := e.series(ctx, cmd)
	if err != nil {
		return err
	}

	result := e.service.Run(ctx, types.BacktestRequest{
		Symbol:       series.Symbol,
		Strategy:     cmd.String("strategy"),
		Series:       series,
		Cash:         cmd.Float("cash"),
		UseSentiment: cmd.Bool("sentiment"),
	})
	if result.Status != types.StatusSuccess {
		return fmt.Errorf("backtest %s: %s", result.Status, result.Error)
	}

	printBacktest(os.Stdout, result)
	if cmd.Bool("trades") {
		printTrades(os.Stdout, result.Trades)
	}
	return nil
}

func compareAction(ctx context.Context, cmd *cli.Command) error {
	e, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	series, err := e.series(ctx, cmd)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	progress := func(done, total int, r *types.BacktestResult) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(fmt.Sprintf("Comparing strategies on %s", series.Symbol)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
			)
		}
		bar.Describe(fmt.Sprintf("%s %s", r.Strategy, r.Status))
		_ = bar.Set(done)
	}

	result := e.comparator.Compare(ctx, types.CompareRequest{
		Symbol:       series.Symbol,
		Strategies:   cmd.StringSlice("strategies"),
		Series:       series,
		Cash:         cmd.Float("cash"),
		UseSentiment: cmd.Bool("sentiment"),
	}, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if result.Status != types.StatusSuccess {
		return fmt.Errorf("comparison %s: %s", result.Status, result.Error)
	}

	printComparison(os.Stdout, result)
	return nil
}

func signalAction(ctx context.Context, cmd *cli.Command) error {
	e, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	series, err := e.series(ctx, cmd)
	if err != nil {
		return err
	}

	sig, err := e.scorer.Score(ctx, types.SignalRequest{
		Symbol:      series.Symbol,
		Strategy:    cmd.String("strategy"),
		Series:      series,
		IncludeNews: cmd.Bool("news"),
	})
	if err != nil {
		return err
	}
	printSignal(os.Stdout, sig)
	return nil
}

func scanAction(ctx context.Context, cmd *cli.Command) error {
	e, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	symbols := e.symbols(cmd)
	timeframe := types.Timeframe(cmd.String("timeframe"))

	bar := progressbar.NewOptions(len(symbols),
		progressbar.OptionSetDescription("Loading bars"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	req := types.ScanRequest{
		Strategy:      cmd.String("strategy"),
		IncludeNews:   cmd.Bool("news"),
		MinConfidence: cmd.Float("min-confidence"),
	}
	for _, symbol := range symbols {
		series, err := e.store.Fetch(ctx, symbol, timeframe, time.Time{}, time.Time{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nskipping %s: %v\n", symbol, err)
		} else {
			req.Series = append(req.Series, series)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	hits := e.scanner.Scan(ctx, req)
	printSignals(os.Stdout, hits)
	return nil
}

func downloadAction(ctx context.Context, cmd *cli.Command) error {
	e, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	source, err := data.NewPolygonSource(e.logger, e.config.MarketData.PolygonAPIKey)
	if err != nil {
		return err
	}

	timeframe := types.Timeframe(cmd.String("timeframe"))
	start, end := cmd.Timestamp("start"), cmd.Timestamp("end")

	for _, symbol := range e.symbols(cmd) {
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", symbol)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
		)
		source.OnBar = func(types.Bar) { _ = bar.Add(1) }

		series, err := source.Fetch(ctx, symbol, timeframe, start, end)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", symbol, err)
		}
		if err := e.store.Save(series); err != nil {
			return fmt.Errorf("failed to store %s: %w", symbol, err)
		}
		fmt.Fprintf(os.Stdout, "%s: %d %s bars saved\n", symbol, series.Len(), timeframe)
	}
	return nil
}
