package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/events"
	"github.com/atlas-desktop/signal-engine/internal/history"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// BarsInput is the bar source of a request: inline bars, a CSV document
// or, when both are empty, the bars stored for the symbol.
type BarsInput struct {
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe,omitempty"`
	Bars      []types.Bar     `json:"bars,omitempty"`
	CSV       string          `json:"csv,omitempty"`
	Start     time.Time       `json:"start,omitempty"`
	End       time.Time       `json:"end,omitempty"`
}

// BacktestBody is the body of POST /api/v1/backtest.
type BacktestBody struct {
	BarsInput
	Strategy     string         `json:"strategy"`
	Cash         float64        `json:"cash"`
	UseSentiment bool           `json:"use_sentiment"`
	Params       map[string]any `json:"params,omitempty"`
}

// CompareBody is the body of POST /api/v1/compare.
type CompareBody struct {
	BarsInput
	Strategies   []string `json:"strategies,omitempty"`
	Cash         float64  `json:"cash"`
	UseSentiment bool     `json:"use_sentiment"`
}

// SignalBody is the body of POST /api/v1/signal.
type SignalBody struct {
	BarsInput
	Strategy       string   `json:"strategy"`
	PriceChangePct *float64 `json:"price_change_pct,omitempty"`
	IncludeNews    bool     `json:"include_news"`
}

// ScanBody is the body of POST /api/v1/scan.
type ScanBody struct {
	Strategy      string      `json:"strategy"`
	Symbols       []BarsInput `json:"symbols"`
	IncludeNews   bool        `json:"include_news"`
	MinConfidence float64     `json:"min_confidence,omitempty"`
	Top           int         `json:"top,omitempty"`
}

// ScanResponse lists the scan hits and the best buys among them.
type ScanResponse struct {
	Signals          []types.LiveSignal `json:"signals"`
	TopOpportunities []types.LiveSignal `json:"top_opportunities"`
}

// resolve turns the input into a series or a frame. Missing bars are
// loaded from the data store when one is configured.
func (s *Server) resolve(ctx context.Context, in BarsInput) (types.Series, *types.Frame, error) {
	series := types.Series{Symbol: in.Symbol, Timeframe: in.Timeframe, Bars: in.Bars}
	switch {
	case in.CSV != "":
		frame, err := data.ReadCSV(strings.NewReader(in.CSV))
		if err != nil {
			return types.Series{}, nil, err
		}
		return series, &frame, nil
	case len(in.Bars) > 0 || s.deps.Store == nil:
		return series, nil, nil
	}

	timeframe := in.Timeframe
	if timeframe == "" {
		timeframe = types.Timeframe1d
	}
	stored, err := s.deps.Store.Fetch(ctx, utils.FormatSymbol(in.Symbol), timeframe, in.Start, in.End)
	if err != nil {
		return types.Series{}, nil, err
	}
	return stored, nil, nil
}

// statusCode maps a result status onto the HTTP status of the response.
func statusCode(status types.Status) int {
	switch status {
	case types.StatusSuccess:
		return http.StatusOK
	case types.StatusUnknownStrategy:
		return http.StatusNotFound
	case types.StatusInsufficientData, types.StatusMissingColumns:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":            "healthy",
		"time":              time.Now().Unix(),
		"strategies":        len(strategy.AllKinds),
		"websocket_clients": s.hub.ClientCount(),
		"history":           s.deps.History != nil,
	}
	if s.deps.Bus != nil {
		resp["events"] = s.deps.Bus.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategies": strategy.List(s.deps.Backtests.Params()),
	})
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (strategy.Kind, bool) {
	kind, err := strategy.ParseKind(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, errors.Message(err))
		return "", false
	}
	return kind, true
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	if kind, ok := s.kind(w, r); ok {
		s.writeJSON(w, http.StatusOK, strategy.Describe(kind, s.deps.Backtests.Params()))
	}
}

func (s *Server) handleStrategySchema(w http.ResponseWriter, r *http.Request) {
	if kind, ok := s.kind(w, r); ok {
		s.writeJSON(w, http.StatusOK, strategy.ParamsSchema(kind))
	}
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var body BacktestBody
	if !s.decode(w, r, &body) {
		return
	}

	var result *types.BacktestResult
	series, frame, err := s.resolve(r.Context(), body.BarsInput)
	if err != nil {
		result = &types.BacktestResult{
			ID:          utils.GenerateRunID(),
			Status:      errors.StatusOf(err),
			Error:       errors.Message(err),
			Strategy:    body.Strategy,
			Symbol:      utils.FormatSymbol(body.Symbol),
			Trades:      []types.Trade{},
			EquityCurve: []types.EquityPoint{},
		}
	} else {
		result = s.deps.Backtests.Run(r.Context(), types.BacktestRequest{
			Symbol:       body.Symbol,
			Strategy:     body.Strategy,
			Series:       series,
			Frame:        frame,
			Start:        body.Start,
			End:          body.End,
			Cash:         body.Cash,
			UseSentiment: body.UseSentiment,
			Params:       body.Params,
		})
	}

	recordBacktest(result)
	s.publish(events.EventTypeBacktest, result.Symbol, result)
	s.writeJSON(w, statusCode(result.Status), result)
}

// ComparisonProgress is pushed on the comparisons channel after each run.
type ComparisonProgress struct {
	Symbol   string       `json:"symbol"`
	Done     int          `json:"done"`
	Total    int          `json:"total"`
	Strategy string       `json:"strategy"`
	Status   types.Status `json:"status"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var body CompareBody
	if !s.decode(w, r, &body) {
		return
	}

	series, frame, err := s.resolve(r.Context(), body.BarsInput)
	if err != nil {
		s.writeJSON(w, statusCode(errors.StatusOf(err)), &types.ComparisonResult{
			ID:      utils.GenerateRunID(),
			Status:  errors.StatusOf(err),
			Error:   errors.Message(err),
			Summary: types.ComparisonSummary{Symbol: utils.FormatSymbol(body.Symbol), Ranking: []types.RankEntry{}},
			Results: []types.BacktestResult{},
		})
		return
	}

	symbol := utils.FormatSymbol(body.Symbol)
	progress := func(done, total int, result *types.BacktestResult) {
		recordBacktest(result)
		s.hub.PublishToChannel(ChannelComparisons, MsgTypeProgress, ComparisonProgress{
			Symbol:   symbol,
			Done:     done,
			Total:    total,
			Strategy: result.Strategy,
			Status:   result.Status,
		})
	}

	result := s.deps.Comparator.Compare(r.Context(), types.CompareRequest{
		Symbol:       body.Symbol,
		Strategies:   body.Strategies,
		Series:       series,
		Frame:        frame,
		Start:        body.Start,
		End:          body.End,
		Cash:         body.Cash,
		UseSentiment: body.UseSentiment,
	}, progress)

	s.publish(events.EventTypeComparison, result.Summary.Symbol, result)
	s.writeJSON(w, statusCode(result.Status), result)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var body SignalBody
	if !s.decode(w, r, &body) {
		return
	}

	series, frame, err := s.resolve(r.Context(), body.BarsInput)
	if err != nil {
		s.writeSignalError(w, err)
		return
	}

	sig, err := s.deps.Scorer.Score(r.Context(), types.SignalRequest{
		Symbol:        body.Symbol,
		Strategy:      body.Strategy,
		Series:        series,
		Frame:         frame,
		IncludeNews:   body.IncludeNews,
		ChangePercent: body.PriceChangePct,
	})
	if err != nil {
		s.writeSignalError(w, err)
		return
	}

	if s.deps.History != nil {
		if err := s.deps.History.Save(r.Context(), sig); err != nil {
			s.logger.Warn("Failed to record signal", zap.String("id", sig.ID), zap.Error(err))
		}
	}
	recordSignal(sig)
	s.publish(events.EventTypeSignal, sig.Symbol, sig)
	s.writeJSON(w, http.StatusOK, sig)
}

func (s *Server) writeSignalError(w http.ResponseWriter, err error) {
	status := errors.StatusOf(err)
	s.writeJSON(w, statusCode(status), map[string]any{
		"status": status,
		"error":  errors.Message(err),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body ScanBody
	if !s.decode(w, r, &body) {
		return
	}

	req := types.ScanRequest{
		Strategy:      body.Strategy,
		IncludeNews:   body.IncludeNews,
		MinConfidence: body.MinConfidence,
	}
	for _, in := range body.Symbols {
		series, frame, err := s.resolve(r.Context(), in)
		if err == nil && frame != nil {
			series, err = data.ToSeries(in.Symbol, in.Timeframe, *frame)
		}
		if err != nil {
			s.logger.Warn("Skipping symbol", zap.String("symbol", in.Symbol), zap.Error(err))
			continue
		}
		series.Symbol = utils.FormatSymbol(in.Symbol)
		req.Series = append(req.Series, series)
	}

	top := body.Top
	if top <= 0 {
		top = 5
	}
	hits := s.deps.Scanner.Scan(r.Context(), req)
	s.writeJSON(w, http.StatusOK, ScanResponse{
		Signals:          hits,
		TopOpportunities: s.deps.Scanner.TopOpportunities(hits, top),
	})
}

func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "signal history is disabled")
		return
	}

	query := history.Query{Symbol: utils.FormatSymbol(r.URL.Query().Get("symbol"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}

	signals, err := s.deps.History.List(r.Context(), query)
	if err != nil {
		s.logger.Error("Failed to list signals", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read signal history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// handleGetSymbols returns the symbols with stored bars
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	if s.deps.Store != nil {
		symbols = append(symbols, s.deps.Store.Symbols()...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

// handleGetBars returns stored bars for a symbol
func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no data store configured")
		return
	}

	q := r.URL.Query()
	timeframe := types.Timeframe(q.Get("timeframe"))
	if timeframe == "" {
		timeframe = types.Timeframe1d
	}
	var start, end time.Time
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		if raw := q.Get(bound.name); raw != "" {
			t, err := data.ParseTime(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid "+bound.name+": "+err.Error())
				return
			}
			*bound.dst = t
		}
	}

	symbol := utils.FormatSymbol(mux.Vars(r)["symbol"])
	series, err := s.deps.Store.Fetch(r.Context(), symbol, timeframe, start, end)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeDataNotFound) {
			s.writeError(w, http.StatusNotFound, errors.Message(err))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    series.Symbol,
		"timeframe": series.Timeframe,
		"bars":      series.Bars,
		"count":     series.Len(),
	})
}
