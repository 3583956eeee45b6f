package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atlas-desktop/signal-engine/pkg/types"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_engine_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_engine_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	backtestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_engine_backtests_total",
			Help: "Backtest runs by strategy and status",
		},
		[]string{"strategy", "status"},
	)

	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_engine_signals_total",
			Help: "Live signals served by strategy and direction",
		},
		[]string{"strategy", "direction"},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_engine_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

func recordBacktest(result *types.BacktestResult) {
	backtestsTotal.WithLabelValues(result.Strategy, string(result.Status)).Inc()
}

func recordSignal(sig *types.LiveSignal) {
	signalsTotal.WithLabelValues(sig.Strategy, string(sig.Signal)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency keyed by the route
// template, so path variables do not explode label cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
