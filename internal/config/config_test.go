package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/signal-engine/internal/config"
)

// chdir moves into an empty directory so no stray signal-engine.yaml or
// .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, "newsapi", cfg.Sentiment.Provider)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 10_000.0, cfg.Engine.Backtest.DefaultCash)
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "TSLA", "NVDA"}, cfg.MarketData.DefaultTickers)
	assert.Equal(t, config.Default().Strategies, cfg.Strategies)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("SIGNAL_SERVER_PORT", "9090")
	t.Setenv("SIGNAL_ENGINE_CASH", "2500")
	t.Setenv("SIGNAL_SENTIMENT_RESOLVE_TIMEOUT", "2s")
	t.Setenv("SIGNAL_STRATEGIES_BREAKOUT_ADX_THRESHOLD", "30")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2500.0, cfg.Engine.Backtest.DefaultCash)
	assert.Equal(t, 2*time.Second, cfg.Sentiment.ResolveTimeout)
	assert.Equal(t, 30.0, cfg.Strategies.Breakout.ADXThreshold)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	chdir(t)
	t.Setenv("NEWS_API_KEY", "news-key")
	t.Setenv("POLYGON_API_KEY", "poly-key")
	t.Setenv("DEFAULT_TICKERS", "AMD,INTC")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "news-key", cfg.Sentiment.NewsAPI.APIKey)
	assert.Equal(t, "poly-key", cfg.MarketData.PolygonAPIKey)
	assert.Equal(t, []string{"AMD", "INTC"}, cfg.MarketData.DefaultTickers)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
server:
  port: 7000
sentiment:
  provider: none
storage:
  history:
    driver: postgres
    dsn: postgres://localhost/signals
kafka:
  brokers: ["localhost:9092"]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "none", cfg.Sentiment.Provider)
	assert.Equal(t, "postgres", cfg.Storage.History.Driver)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "trading_signals", cfg.Kafka.Topic)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDiscoversDefaultFile(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signal-engine.yaml"), []byte("engine:\n  workers: 8\n"), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.Workers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdir(t)

	t.Run("log level", func(t *testing.T) {
		t.Setenv("SIGNAL_LOG_LEVEL", "verbose")
		_, err := config.Load("")
		assert.Error(t, err)
	})

	t.Run("history driver", func(t *testing.T) {
		t.Setenv("SIGNAL_STORAGE_HISTORY_DRIVER", "mysql")
		_, err := config.Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
