// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/data"
	"github.com/atlas-desktop/signal-engine/internal/events"
	"github.com/atlas-desktop/signal-engine/internal/history"
	"github.com/atlas-desktop/signal-engine/internal/signals"
)

// Config configures the HTTP server.
type Config struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"min=1"`
	WebSocketPath   string        `mapstructure:"websocket_path" validate:"startswith=/"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    32 << 20,
		WebSocketPath:   "/ws",
	}
}

// Dependencies are the engine components behind the routes. Store,
// History and Bus are optional.
type Dependencies struct {
	Backtests  *backtester.Service
	Comparator *backtester.Comparator
	Scorer     *signals.Scorer
	Scanner    *signals.Scanner
	Store      *data.Store
	History    *history.Store
	Bus        *events.Bus
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     Config
	deps       Dependencies
	router     *mux.Router
	handler    http.Handler
	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server. When a bus is given the websocket
// hub subscribes to it; otherwise results are pushed to the hub directly.
func NewServer(logger *zap.Logger, config Config, deps Dependencies) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if config.WebSocketPath == "" {
		config.WebSocketPath = DefaultConfig().WebSocketPath
	}

	server := &Server{
		logger: logger.Named("api"),
		config: config,
		deps:   deps,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
	}
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(server.hub.HandleEvent)
	}

	server.setupRoutes()
	server.handler = cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(server.router)
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc(s.config.WebSocketPath, s.hub.ServeWS(&s.upgrader))

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(instrument)

	v1.HandleFunc("/strategies", s.handleListStrategies).Methods(http.MethodGet)
	v1.HandleFunc("/strategies/{name}", s.handleGetStrategy).Methods(http.MethodGet)
	v1.HandleFunc("/strategies/{name}/schema", s.handleStrategySchema).Methods(http.MethodGet)

	v1.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	v1.HandleFunc("/compare", s.handleCompare).Methods(http.MethodPost)

	v1.HandleFunc("/signal", s.handleSignal).Methods(http.MethodPost)
	v1.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	v1.HandleFunc("/signals/history", s.handleSignalHistory).Methods(http.MethodGet)

	v1.HandleFunc("/data/symbols", s.handleGetSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/data/{symbol}", s.handleGetBars).Methods(http.MethodGet)
}

// Router returns the HTTP handler with CORS applied.
func (s *Server) Router() http.Handler {
	return s.handler
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the websocket hub and serves HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run(ctx)

	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// publish fans a result out through the bus, or straight to the hub when
// no bus is configured.
func (s *Server) publish(eventType events.EventType, symbol string, payload any) {
	event := events.NewEvent(eventType, symbol, payload)
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event)
		return
	}
	_ = s.hub.HandleEvent(event)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
