package data

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// PolygonSource downloads aggregate bars from Polygon.io.
type PolygonSource struct {
	logger *zap.Logger
	client *polygon.Client

	// OnBar, when set, is called after each bar is received.
	OnBar func(types.Bar)
}

// NewPolygonSource creates a source authenticated with apiKey.
func NewPolygonSource(logger *zap.Logger, apiKey string) (*PolygonSource, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon API key is not set")
	}
	return &PolygonSource{
		logger: logger.Named("polygon"),
		client: polygon.New(apiKey),
	}, nil
}

// aggregation maps a timeframe onto Polygon's multiplier and timespan.
func aggregation(tf types.Timeframe) (int, models.Timespan, bool) {
	switch tf {
	case types.Timeframe1m:
		return 1, models.Minute, true
	case types.Timeframe5m:
		return 5, models.Minute, true
	case types.Timeframe15m:
		return 15, models.Minute, true
	case types.Timeframe30m:
		return 30, models.Minute, true
	case types.Timeframe1h:
		return 1, models.Hour, true
	case types.Timeframe1d:
		return 1, models.Day, true
	default:
		return 0, "", false
	}
}

// Fetch implements Source.
func (p *PolygonSource) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) (types.Series, error) {
	multiplier, timespan, ok := aggregation(timeframe)
	if !ok {
		return types.Series{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported timeframe %q", timeframe)
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}

	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	series := types.Series{Symbol: symbol, Timeframe: timeframe}
	iter := p.client.ListAggs(ctx, params)
	for iter.Next() {
		agg := iter.Item()
		bar := types.Bar{
			Timestamp: time.Time(agg.Timestamp).UTC(),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
		}
		series.Bars = append(series.Bars, bar)
		if p.OnBar != nil {
			p.OnBar(bar)
		}
	}
	if err := iter.Err(); err != nil {
		return types.Series{}, errors.Wrapf(errors.ErrCodeMarketDataFailed, err, "failed to download %s bars for %s", timeframe, symbol)
	}

	p.logger.Info("Downloaded bars",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("bars", series.Len()),
	)
	return series, nil
}
