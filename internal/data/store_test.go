// Package data_test provides tests for the data store and loaders.
package data_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

func hourlyBars(base time.Time, n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      float64(100 + i),
			High:      float64(105 + i),
			Low:       float64(95 + i),
			Close:     float64(102 + i),
			Volume:    float64(1000 * (i + 1)),
		}
	}
	return bars
}

func TestBarStorageAndRetrieval(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	series := types.Series{Symbol: "AAPL", Timeframe: types.Timeframe1h, Bars: hourlyBars(base, 3)}
	if err := store.Save(series); err != nil {
		t.Fatalf("Failed to save series: %v", err)
	}

	symbols := store.Symbols()
	if len(symbols) != 1 || symbols[0] != "AAPL" {
		t.Errorf("Expected [AAPL], got %v", symbols)
	}

	retrieved, err := store.Fetch(context.Background(), "AAPL", types.Timeframe1h, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if retrieved.Len() != 3 {
		t.Fatalf("Retrieved %d bars, expected 3", retrieved.Len())
	}
	for i, bar := range retrieved.Bars {
		if bar.Close != series.Bars[i].Close {
			t.Errorf("Bar %d close mismatch: expected %v, got %v", i, series.Bars[i].Close, bar.Close)
		}
	}
}

func TestTimeRangeFiltering(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Save(types.Series{Symbol: "RANGE", Timeframe: types.Timeframe1h, Bars: hourlyBars(base, 10)}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	start := base.Add(3 * time.Hour)
	end := base.Add(6 * time.Hour)
	retrieved, err := store.Fetch(context.Background(), "RANGE", types.Timeframe1h, start, end)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if retrieved.Len() != 4 {
		t.Errorf("Expected 4 bars in range, got %d", retrieved.Len())
	}
	if !retrieved.Bars[0].Timestamp.Equal(start) {
		t.Errorf("First bar timestamp mismatch: expected %v, got %v", start, retrieved.Bars[0].Timestamp)
	}
}

func TestSaveMergesBars(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(base, 6)
	if err := store.Save(types.Series{Symbol: "MERGE", Timeframe: types.Timeframe1h, Bars: bars[:4]}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	updated := bars[3]
	updated.Close = 999
	if err := store.Save(types.Series{Symbol: "MERGE", Timeframe: types.Timeframe1h, Bars: []types.Bar{updated, bars[4], bars[5]}}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	retrieved, err := store.Fetch(context.Background(), "MERGE", types.Timeframe1h, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if retrieved.Len() != 6 {
		t.Fatalf("Expected 6 bars, got %d", retrieved.Len())
	}
	if retrieved.Bars[3].Close != 999 {
		t.Errorf("Expected replaced bar close 999, got %v", retrieved.Bars[3].Close)
	}

	start, end, err := store.Range("MERGE", types.Timeframe1h)
	if err != nil {
		t.Fatalf("Failed to get range: %v", err)
	}
	if !start.Equal(base) || !end.Equal(base.Add(5*time.Hour)) {
		t.Errorf("Unexpected range %v - %v", start, end)
	}
}

func TestMissingData(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	_, err = store.Fetch(context.Background(), "NONEXISTENT", types.Timeframe1h, time.Time{}, time.Time{})
	if !errors.HasCode(err, errors.ErrCodeDataNotFound) {
		t.Fatalf("Expected data not found, got %v", err)
	}
}

func TestDataPersistence(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	store1, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store 1: %v", err)
	}
	if err := store1.Save(types.Series{Symbol: "BRK/B", Timeframe: types.Timeframe1d, Bars: hourlyBars(base, 2)}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	store2, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store 2: %v", err)
	}
	if store2.CacheSize() != 0 {
		t.Errorf("Expected empty cache, got %d", store2.CacheSize())
	}

	retrieved, err := store2.Fetch(context.Background(), "BRK/B", types.Timeframe1d, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if retrieved.Len() != 2 {
		t.Fatalf("Expected 2 persisted bars, got %d", retrieved.Len())
	}
	if got := store2.Symbols(); len(got) != 1 || got[0] != "BRK/B" {
		t.Errorf("Expected persisted metadata for BRK/B, got %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Save(types.Series{Symbol: "CONC", Timeframe: types.Timeframe1h, Bars: hourlyBars(base, 1)}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := store.Fetch(context.Background(), "CONC", types.Timeframe1h, time.Time{}, time.Time{}); err != nil {
					t.Errorf("Fetch failed: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bar := hourlyBars(base.Add(time.Duration(id*20+j+1)*time.Hour), 1)
				if err := store.Save(types.Series{Symbol: "CONC", Timeframe: types.Timeframe1h, Bars: bar}); err != nil {
					t.Errorf("Save failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

type staticSource struct {
	series types.Series
	err    error
	calls  int
}

func (s *staticSource) Fetch(context.Context, string, types.Timeframe, time.Time, time.Time) (types.Series, error) {
	s.calls++
	return s.series, s.err
}

func TestFallback(t *testing.T) {
	failing := &staticSource{err: errors.New(errors.ErrCodeDataNotFound, "missing")}
	empty := &staticSource{}
	full := &staticSource{series: types.Series{Symbol: "X", Bars: hourlyBars(time.Now(), 2)}}

	src := data.NewFallback(zap.NewNop(), failing, empty, full)
	series, err := src.Fetch(context.Background(), "X", types.Timeframe1d, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Expected series, got %v", err)
	}
	if series.Len() != 2 {
		t.Errorf("Expected 2 bars, got %d", series.Len())
	}
	if failing.calls != 1 || empty.calls != 1 || full.calls != 1 {
		t.Errorf("Unexpected call counts %d/%d/%d", failing.calls, empty.calls, full.calls)
	}

	_, err = data.NewFallback(zap.NewNop(), failing).Fetch(context.Background(), "X", types.Timeframe1d, time.Time{}, time.Time{})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("Expected last source error, got %v", err)
	}
}
