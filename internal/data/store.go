package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Source provides bar series for a symbol.
type Source interface {
	Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) (types.Series, error)
}

// Store keeps bar series as JSON files under a directory, one file per
// symbol and timeframe.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	BarCount  int             `json:"bar_count"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger.Named("store"),
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		store.logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

func cacheKey(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}

func (s *Store) filename(symbol string, timeframe types.Timeframe) string {
	safe := strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(symbol)
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", safe, timeframe))
}

// Fetch loads the stored bars of a symbol within [start, end]. A zero bound
// is open.
func (s *Store) Fetch(_ context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) (types.Series, error) {
	bars, err := s.load(symbol, timeframe)
	if err != nil {
		return types.Series{}, err
	}
	series := types.Series{Symbol: symbol, Timeframe: timeframe, Bars: bars}
	return series.Between(start, end), nil
}

func (s *Store) load(symbol string, timeframe types.Timeframe) ([]types.Bar, error) {
	key := cacheKey(symbol, timeframe)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filename(symbol, timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeDataNotFound, "no %s data stored for %s", timeframe, symbol)
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	s.cache[key] = bars
	return bars, nil
}

// Save merges a series into the stored bars. Bars with a timestamp already
// on disk replace the stored bar.
func (s *Store) Save(series types.Series) error {
	if series.Symbol == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "series has no symbol")
	}
	existing, err := s.load(series.Symbol, series.Timeframe)
	if err != nil && !errors.HasCode(err, errors.ErrCodeDataNotFound) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := mergeBars(existing, series.Bars)
	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.filename(series.Symbol, series.Timeframe), raw, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, "failed to write data file", err)
	}

	key := cacheKey(series.Symbol, series.Timeframe)
	s.cache[key] = merged
	if len(merged) > 0 {
		s.metadata[key] = &SymbolMetadata{
			Symbol:    series.Symbol,
			Timeframe: series.Timeframe,
			StartDate: merged[0].Timestamp,
			EndDate:   merged[len(merged)-1].Timestamp,
			BarCount:  len(merged),
		}
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata", zap.Error(err))
	}
	return nil
}

func mergeBars(existing, incoming []types.Bar) []types.Bar {
	byTime := make(map[int64]types.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range incoming {
		byTime[b.Timestamp.UnixNano()] = b
	}
	out := make([]types.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Symbols returns every stored symbol in sorted order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	for _, meta := range s.metadata {
		if !seen[meta.Symbol] {
			seen[meta.Symbol] = true
			symbols = append(symbols, meta.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Range returns the stored date range of a symbol and timeframe.
func (s *Store) Range(symbol string, timeframe types.Timeframe) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[cacheKey(symbol, timeframe)]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, errors.Newf(errors.ErrCodeDataNotFound, "no data available for symbol %s", symbol)
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), raw, 0644)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Bar)
}

// CacheSize returns the number of cached datasets
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Fallback tries each source in turn and returns the first series that
// has bars. Sources answering with an error are logged and skipped.
type Fallback struct {
	logger  *zap.Logger
	sources []Source
}

// NewFallback chains sources in priority order.
func NewFallback(logger *zap.Logger, sources ...Source) *Fallback {
	return &Fallback{logger: logger.Named("fallback"), sources: sources}
}

// Fetch implements Source.
func (f *Fallback) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) (types.Series, error) {
	var lastErr error
	for _, src := range f.sources {
		series, err := src.Fetch(ctx, symbol, timeframe, start, end)
		if err != nil {
			f.logger.Debug("Source failed", zap.String("symbol", symbol), zap.Error(err))
			lastErr = err
			continue
		}
		if series.Len() > 0 {
			return series, nil
		}
	}
	if lastErr != nil {
		return types.Series{}, lastErr
	}
	return types.Series{}, errors.Newf(errors.ErrCodeDataNotFound, "no %s data found for %s", timeframe, symbol)
}
