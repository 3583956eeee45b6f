package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/api"
	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/history"
	"github.com/atlas-desktop/signal-engine/internal/indicator"
	"github.com/atlas-desktop/signal-engine/internal/signals"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/types"
)

type testEnv struct {
	ts      *httptest.Server
	store   *data.Store
	history *history.Store
}

func setupTestServer(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}

	params := strategy.DefaultParams()
	service := backtester.NewService(logger, backtester.DefaultServiceConfig(), params, nil)
	scorer := signals.NewScorer(logger, signals.DefaultScoringConfig(), params, indicator.DefaultConfig(), nil)

	deps := api.Dependencies{
		Backtests:  service,
		Comparator: backtester.NewComparator(logger, service, nil),
		Scorer:     scorer,
		Scanner:    signals.NewScanner(logger, scorer, nil),
		Store:      store,
	}

	env := &testEnv{store: store}
	if withHistory {
		hist, err := history.Open(logger, history.Config{Driver: history.DriverSQLite, DSN: ":memory:"})
		if err != nil {
			t.Fatalf("Failed to open history: %v", err)
		}
		t.Cleanup(func() { hist.Close() })
		deps.History = hist
		env.history = hist
	}

	server := api.NewServer(logger, api.DefaultConfig(), deps)
	env.ts = httptest.NewServer(server.Router())
	t.Cleanup(env.ts.Close)
	return env
}

// oversoldDip is 30 bars alternating between 100 and 101 followed by a
// high-volume drop to 90.
func oversoldDip(symbol string) types.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, 31)
	for i := 0; i < 31; i++ {
		c, v := 100.0, 1000.0
		if i%2 == 1 {
			c = 101
		}
		if i == 30 {
			c, v = 90, 5000
		}
		bars = append(bars, types.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    v,
		})
	}
	return types.Series{Symbol: symbol, Timeframe: types.Timeframe1d, Bars: bars}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, false)

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	decodeBody(t, resp, &result)
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", result["status"])
	}
	if result["strategies"] != float64(6) {
		t.Errorf("Expected 6 strategies, got %v", result["strategies"])
	}
}

func TestStrategiesEndpoints(t *testing.T) {
	env := setupTestServer(t, false)

	resp, err := http.Get(env.ts.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatalf("Strategies request failed: %v", err)
	}
	var list struct {
		Strategies []strategy.Info `json:"strategies"`
	}
	decodeBody(t, resp, &list)
	if len(list.Strategies) != 6 {
		t.Fatalf("Expected 6 strategies, got %d", len(list.Strategies))
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/strategies/breakout")
	if err != nil {
		t.Fatalf("Strategy request failed: %v", err)
	}
	var info strategy.Info
	decodeBody(t, resp, &info)
	if info.Name != "breakout" || info.MinBars != 25 {
		t.Errorf("Unexpected breakout info: %+v", info)
	}
	if _, ok := info.Parameters["adx_threshold"]; !ok {
		t.Errorf("Expected adx_threshold parameter, got %v", info.Parameters)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/strategies/breakout/schema")
	if err != nil {
		t.Fatalf("Schema request failed: %v", err)
	}
	var schema map[string]any
	decodeBody(t, resp, &schema)
	if _, ok := schema["properties"]; !ok {
		t.Errorf("Schema has no properties: %v", schema)
	}
}

func TestUnknownStrategy(t *testing.T) {
	env := setupTestServer(t, false)

	resp, err := http.Get(env.ts.URL + "/api/v1/strategies/martingale")
	if err != nil {
		t.Fatalf("Strategy request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	var result map[string]string
	decodeBody(t, resp, &result)
	if !strings.Contains(result["error"], "not found") {
		t.Errorf("Unexpected error message %q", result["error"])
	}
}

func TestBacktestEndpoint(t *testing.T) {
	env := setupTestServer(t, false)
	series := oversoldDip("AAPL")

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest", api.BacktestBody{
		BarsInput: api.BarsInput{Symbol: "aapl", Timeframe: types.Timeframe1d, Bars: series.Bars},
		Strategy:  "mean_reversion",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var result types.BacktestResult
	decodeBody(t, resp, &result)
	if result.Status != types.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", result.Status, result.Error)
	}
	if result.Symbol != "AAPL" || result.Strategy != "mean_reversion" {
		t.Errorf("Unexpected result identity: %s %s", result.Symbol, result.Strategy)
	}
	if len(result.EquityCurve) == 0 {
		t.Error("Expected an equity curve")
	}
}

func TestBacktestInsufficientData(t *testing.T) {
	env := setupTestServer(t, false)
	series := oversoldDip("AAPL")

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest", api.BacktestBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", Bars: series.Bars[:10]},
		Strategy:  "momentum",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", resp.StatusCode)
	}
	var result types.BacktestResult
	decodeBody(t, resp, &result)
	if result.Status != types.StatusInsufficientData {
		t.Errorf("Expected INSUFFICIENT_DATA, got %s", result.Status)
	}
}

func TestBacktestCSVMissingColumns(t *testing.T) {
	env := setupTestServer(t, false)
	csv := "date,open,high,low,close\n2024-01-01,1,2,0.5,1.5\n"

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest", api.BacktestBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", CSV: csv},
		Strategy:  "vwap",
	})
	var result types.BacktestResult
	decodeBody(t, resp, &result)
	if result.Status != types.StatusMissingColumns {
		t.Fatalf("Expected MISSING_COLUMNS, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "Volume") {
		t.Errorf("Expected the missing column in %q", result.Error)
	}
}

func TestBacktestFromStore(t *testing.T) {
	env := setupTestServer(t, false)
	if err := env.store.Save(oversoldDip("MSFT")); err != nil {
		t.Fatalf("Failed to store bars: %v", err)
	}

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest", api.BacktestBody{
		BarsInput: api.BarsInput{Symbol: "msft"},
		Strategy:  "breakout",
	})
	var result types.BacktestResult
	decodeBody(t, resp, &result)
	if result.Status != types.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", result.Status, result.Error)
	}
	if result.Diagnostics.BarsProcessed != 31 {
		t.Errorf("Expected 31 bars processed, got %d", result.Diagnostics.BarsProcessed)
	}
}

func TestCompareEndpoint(t *testing.T) {
	env := setupTestServer(t, false)
	series := oversoldDip("AAPL")

	resp := postJSON(t, env.ts.URL+"/api/v1/compare", api.CompareBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", Timeframe: types.Timeframe1d, Bars: series.Bars},
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var result types.ComparisonResult
	decodeBody(t, resp, &result)
	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 daily strategies, got %d", len(result.Results))
	}
	if result.Summary.TotalStrategies != 3 || result.Summary.FailedRuns != 1 {
		t.Errorf("Unexpected summary: %+v", result.Summary)
	}
	last := result.Results[2]
	if last.Strategy != "fibonacci" || last.Status != types.StatusInsufficientData {
		t.Errorf("Expected fibonacci to need more bars, got %s %s", last.Strategy, last.Status)
	}
}

func TestSignalEndpointRecordsHistory(t *testing.T) {
	env := setupTestServer(t, true)
	series := oversoldDip("AAPL")

	resp := postJSON(t, env.ts.URL+"/api/v1/signal", api.SignalBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", Timeframe: types.Timeframe1d, Bars: series.Bars},
		Strategy:  "mean_reversion",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var sig types.LiveSignal
	decodeBody(t, resp, &sig)
	if sig.Signal != types.DirectionBuy || sig.Confidence != 90 {
		t.Errorf("Expected BUY at 90, got %s at %v", sig.Signal, sig.Confidence)
	}
	if sig.EntryPrice != 90 || sig.TargetPrice != 100 || sig.StopLoss != 86.68 {
		t.Errorf("Unexpected levels %v/%v/%v", sig.EntryPrice, sig.TargetPrice, sig.StopLoss)
	}

	hresp, err := http.Get(env.ts.URL + "/api/v1/signals/history?symbol=aapl&limit=5")
	if err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	var hist struct {
		Signals []types.LiveSignal `json:"signals"`
		Count   int                `json:"count"`
	}
	decodeBody(t, hresp, &hist)
	if hist.Count != 1 || hist.Signals[0].ID != sig.ID {
		t.Errorf("Expected the served signal in history, got %+v", hist)
	}
}

func TestSignalEndpointErrors(t *testing.T) {
	env := setupTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/api/v1/signal", api.SignalBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", Bars: oversoldDip("AAPL").Bars},
		Strategy:  "nope",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != string(types.StatusUnknownStrategy) {
		t.Errorf("Expected UNKNOWN_STRATEGY, got %q", body["status"])
	}

	bad, err := http.Post(env.ts.URL+"/api/v1/signal", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("Signal request failed: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", bad.StatusCode)
	}
}

func TestScanEndpoint(t *testing.T) {
	env := setupTestServer(t, false)
	series := oversoldDip("AAPL")

	resp := postJSON(t, env.ts.URL+"/api/v1/scan", api.ScanBody{
		Strategy: "mean_reversion",
		Symbols: []api.BarsInput{
			{Symbol: "aapl", Timeframe: types.Timeframe1d, Bars: series.Bars},
			{Symbol: "EMPTY"},
		},
	})
	var result api.ScanResponse
	decodeBody(t, resp, &result)
	if len(result.Signals) != 1 || result.Signals[0].Symbol != "AAPL" {
		t.Fatalf("Expected one AAPL hit, got %+v", result.Signals)
	}
	if len(result.TopOpportunities) != 1 {
		t.Errorf("Expected AAPL among the top opportunities, got %d", len(result.TopOpportunities))
	}
}

func TestSignalHistory(t *testing.T) {
	disabled := setupTestServer(t, false)
	resp, err := http.Get(disabled.ts.URL + "/api/v1/signals/history")
	if err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	enabled := setupTestServer(t, true)
	resp, err = http.Get(enabled.ts.URL + "/api/v1/signals/history?limit=abc")
	if err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestDataEndpoints(t *testing.T) {
	env := setupTestServer(t, false)
	if err := env.store.Save(oversoldDip("AAPL")); err != nil {
		t.Fatalf("Failed to store bars: %v", err)
	}

	resp, err := http.Get(env.ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("Symbols request failed: %v", err)
	}
	var symbols map[string][]string
	decodeBody(t, resp, &symbols)
	if len(symbols["symbols"]) != 1 || symbols["symbols"][0] != "AAPL" {
		t.Errorf("Expected [AAPL], got %v", symbols["symbols"])
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/data/AAPL?start=2024-01-10&end=2024-01-19")
	if err != nil {
		t.Fatalf("Bars request failed: %v", err)
	}
	var bars struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &bars)
	if bars.Count != 10 {
		t.Errorf("Expected 10 bars, got %d", bars.Count)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/data/TSLA")
	if err != nil {
		t.Fatalf("Bars request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, false)

	if resp, err := http.Get(env.ts.URL + "/api/v1/strategies"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "signal_engine_http_requests_total") {
		t.Error("Expected request counter in metrics output")
	}
}

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v (response: %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketPing(t *testing.T) {
	env := setupTestServer(t, false)
	conn := dialWS(t, env, "")

	if err := conn.WriteJSON(api.WSMessage{Type: api.MsgTypePing, ID: "test-ping-1"}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var response api.WSMessage
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}
	if response.Type != api.MsgTypePong {
		t.Errorf("Expected 'pong', got '%s'", response.Type)
	}
	if response.ID != "test-ping-1" {
		t.Errorf("Response ID mismatch: got '%s'", response.ID)
	}
}

func TestWebSocketSignalPush(t *testing.T) {
	env := setupTestServer(t, false)
	conn := dialWS(t, env, "?channels=signals:AAPL")

	// A pong means the hub has registered the connection and its channels.
	if err := conn.WriteJSON(api.WSMessage{Type: api.MsgTypePing, ID: "sync"}); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pong api.WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}

	resp := postJSON(t, env.ts.URL+"/api/v1/signal", api.SignalBody{
		BarsInput: api.BarsInput{Symbol: "AAPL", Timeframe: types.Timeframe1d, Bars: oversoldDip("AAPL").Bars},
		Strategy:  "mean_reversion",
	})
	resp.Body.Close()

	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read pushed signal: %v", err)
	}
	if msg.Type != api.MsgTypeSignal || msg.Channel != "signals:AAPL" {
		t.Fatalf("Expected a signal on signals:AAPL, got %s on %s", msg.Type, msg.Channel)
	}
	var sig types.LiveSignal
	if err := json.Unmarshal(msg.Data, &sig); err != nil {
		t.Fatalf("Failed to decode pushed signal: %v", err)
	}
	if sig.Symbol != "AAPL" || sig.Signal != types.DirectionBuy {
		t.Errorf("Unexpected pushed signal %s %s", sig.Symbol, sig.Signal)
	}
}
