// Package api hosts the thin HTTP gateway over the analytics engine: a
// chi router mapping each semantic query in spec §6 to a GET endpoint,
// uniformly enveloped as {success, data, error}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ErrNoData is returned by an Engine query when a component hasn't
// produced data yet; handlers map it to 503.
var ErrNoData = errors.New("no data available yet")

// Server hosts the chi router and holds the engine it queries.
type Server struct {
	router *chi.Mux
	engine EngineQuerier
	logger *logrus.Logger
	server *http.Server
	port   int
}

// Config configures the gateway.
type Config struct {
	Port int
}

// NewServer builds a Server with every route registered.
func NewServer(cfg Config, engine EngineQuerier, logger *logrus.Logger) *Server {
	s := &Server{router: chi.NewRouter(), engine: engine, logger: logger, port: cfg.Port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(middleware.Compress(5))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/metrics/gamma-profile", s.handleGammaProfile)
	s.router.Get("/metrics/total-gex", s.handleTotalGEX)
	s.router.Get("/metrics/gamma-flip", s.handleGammaFlip)
	s.router.Get("/metrics/walls", s.handleWalls)
	s.router.Get("/metrics/wall-zones", s.handleWallZones)

	s.router.Get("/volatility/surface", s.handleVolSurface)
	s.router.Get("/volatility/anomalies", s.handleVolAnomalies)

	s.router.Get("/options", s.handleOptions)
	s.router.Get("/options/strike/{strike}", s.handleOptionsByStrike)
	s.router.Get("/options/strikes", s.handleStrikes)
	s.router.Get("/options/expiries", s.handleExpiries)

	s.router.Get("/max-pain", s.handleMaxPain)
	s.router.Get("/sentiment", s.handleSentiment)

	s.router.Get("/liquidations/stats", s.handleLiquidationStats)
	s.router.Get("/liquidations/energy", s.handleLiquidationEnergy)
	s.router.Get("/liquidations/summary", s.handleLiquidationSummary)
	s.router.Get("/liquidations/recent", s.handleLiquidationsRecent)
	s.router.Get("/liquidations/early", s.handleLiquidationsEarly)
	s.router.Get("/liquidations/growth", s.handleLiquidationGrowth)
	s.router.Get("/liquidations/cascade", s.handleLiquidationCascade)

	s.router.Get("/orderbook/metrics", s.handleOrderBookMetrics)
	s.router.Get("/orderbook/imbalance", s.handleOrderBookImbalance)
	s.router.Get("/orderbook/depth", s.handleOrderBookDepth)
	s.router.Get("/orderbook/spread", s.handleOrderBookSpread)
	s.router.Get("/orderbook/walls", s.handleOrderBookWalls)
	s.router.Get("/orderbook/energy", s.handleOrderBookEnergy)
	s.router.Get("/orderbook/history", s.handleOrderBookHistory)

	s.router.Get("/escape/detect", s.handleEscapeDetect)
	s.router.Get("/escape/probability", s.handleEscapeProbability)
	s.router.Get("/escape/energy", s.handleEscapeEnergy)
	s.router.Get("/escape/conditions", s.handleEscapeConditions)
	s.router.Get("/escape/history", s.handleEscapeHistory)
	s.router.Get("/escape/summary", s.handleEscapeSummary)
	s.router.Get("/escape/alerts", s.handleEscapeAlerts)

	s.router.Get("/strategies", s.handleStrategies)
	s.router.Get("/strategies/{id}", s.handleStrategyByID)

	s.router.Get("/history/market", s.handleHistoryMarket)
	s.router.Get("/history/regime", s.handleHistoryRegime)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil, fmt.Errorf("no such route: %s", r.URL.Path))
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("starting HTTP gateway on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// envelope is the uniform {success, data, error} response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, data any, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	env := envelope{Success: err == nil, Data: data}
	if err != nil {
		env.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) { writeEnvelope(w, http.StatusOK, data, nil) }

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrNoData) {
		status = http.StatusServiceUnavailable
	}
	writeEnvelope(w, status, nil, err)
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "1" || v == "true"
}

func handlePathFloat(w http.ResponseWriter, r *http.Request, param string) (float64, bool) {
	raw := chi.URLParam(r, param)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeEnvelope(w, http.StatusNotFound, nil, fmt.Errorf("invalid %s %q", param, raw))
		return 0, false
	}
	return v, true
}
