// Package history persists served live signals in SQLite or PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    id              TEXT PRIMARY KEY,
    symbol          TEXT             NOT NULL,
    strategy        TEXT             NOT NULL,
    direction       TEXT             NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    entry_price     DOUBLE PRECISION NOT NULL,
    target_price    DOUBLE PRECISION NOT NULL,
    stop_loss       DOUBLE PRECISION NOT NULL,
    holding_period  TEXT             NOT NULL,
    reasoning       TEXT             NOT NULL,
    buy_votes       INTEGER          NOT NULL DEFAULT 0,
    sell_votes      INTEGER          NOT NULL DEFAULT 0,
    sentiment_score DOUBLE PRECISION,
    indicators      TEXT,
    generated_at    BIGINT           NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, generated_at DESC);
`

var columns = []string{
	"id", "symbol", "strategy", "direction", "confidence", "entry_price", "target_price",
	"stop_loss", "holding_period", "reasoning", "buy_votes", "sell_votes",
	"sentiment_score", "indicators", "generated_at",
}

// Config selects the database.
type Config struct {
	Driver    string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN       string        `mapstructure:"dsn" validate:"required"`
	Retention time.Duration `mapstructure:"retention"`
}

// DefaultConfig returns a local SQLite file keeping 30 days of signals.
func DefaultConfig() Config {
	return Config{
		Driver:    DriverSQLite,
		DSN:       "data/signals.db",
		Retention: 30 * 24 * time.Hour,
	}
}

// Store records live signals.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	sq     squirrel.StatementBuilderType
}

// Open connects to the configured database and applies the schema.
func Open(logger *zap.Logger, config Config) (*Store, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}
	if config.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store, err := New(logger, db, config.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database handle.
func New(logger *zap.Logger, db *sql.DB, driver string) (*Store, error) {
	var placeholder squirrel.PlaceholderFormat = squirrel.Question
	if driver == DriverPostgres {
		placeholder = squirrel.Dollar
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		logger: logger.Named("history"),
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

// Save records a signal.
func (s *Store) Save(ctx context.Context, sig *types.LiveSignal) error {
	var indicators sql.NullString
	if len(sig.Indicators) > 0 {
		raw, err := json.Marshal(sig.Indicators)
		if err != nil {
			return fmt.Errorf("failed to encode indicators: %w", err)
		}
		indicators = sql.NullString{String: string(raw), Valid: true}
	}
	var sentimentScore sql.NullFloat64
	if sig.Sentiment != nil {
		sentimentScore = sql.NullFloat64{Float64: sig.Sentiment.Score, Valid: true}
	}

	_, err := s.sq.
		Insert("signals").
		Columns(columns...).
		Values(
			sig.ID, sig.Symbol, sig.Strategy, string(sig.Signal), sig.Confidence,
			sig.EntryPrice, sig.TargetPrice, sig.StopLoss, sig.HoldingPeriod, sig.Reasoning,
			sig.BuyVotes, sig.SellVotes, sentimentScore, indicators, sig.GeneratedAt.UnixMilli(),
		).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	s.logger.Debug("Recorded signal",
		zap.String("id", sig.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("signal", string(sig.Signal)),
	)
	return nil
}

// Query filters List. An empty symbol matches every symbol; a limit of
// zero or less means 100.
type Query struct {
	Symbol string
	Limit  int
}

// List returns recorded signals, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]types.LiveSignal, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	builder := s.sq.
		Select(columns...).
		From("signals").
		OrderBy("generated_at DESC", "id ASC").
		Limit(uint64(limit))
	if q.Symbol != "" {
		builder = builder.Where(squirrel.Eq{"symbol": q.Symbol})
	}

	rows, err := builder.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	out := make([]types.LiveSignal, 0)
	for rows.Next() {
		var (
			sig            types.LiveSignal
			direction      string
			sentimentScore sql.NullFloat64
			indicators     sql.NullString
			generatedAt    int64
		)
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &sig.Strategy, &direction, &sig.Confidence,
			&sig.EntryPrice, &sig.TargetPrice, &sig.StopLoss, &sig.HoldingPeriod, &sig.Reasoning,
			&sig.BuyVotes, &sig.SellVotes, &sentimentScore, &indicators, &generatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}

		sig.Signal = types.Direction(direction)
		sig.GeneratedAt = time.UnixMilli(generatedAt).UTC()
		if sentimentScore.Valid {
			sig.Sentiment = &types.Sentiment{Score: sentimentScore.Float64}
		}
		if indicators.Valid {
			if err := json.Unmarshal([]byte(indicators.String), &sig.Indicators); err != nil {
				s.logger.Warn("Dropping unreadable indicators", zap.String("id", sig.ID), zap.Error(err))
			}
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read signals: %w", err)
	}
	return out, nil
}

// Prune deletes signals generated before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sq.
		Delete("signals").
		Where(squirrel.Lt{"generated_at": cutoff.UnixMilli()}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune signals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned signals: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned signal history", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
