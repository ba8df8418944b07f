// Package server implements serve mode: a result API over the run
// store, a trigger endpoint for new analysis runs, and a WebSocket
// feed of run lifecycle events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enrolytics/enrolytics/internal/audit"
	"github.com/enrolytics/enrolytics/internal/config"
	"github.com/enrolytics/enrolytics/internal/db"
	"github.com/enrolytics/enrolytics/internal/middleware"
	"github.com/enrolytics/enrolytics/internal/pipeline"
	"github.com/enrolytics/enrolytics/internal/version"
)

// analyzePerMinute caps how often one client can trigger a run.
const analyzePerMinute = 6

// Server serves analysis results and accepts run triggers.
type Server struct {
	log     *zap.Logger
	store   db.Store
	journal audit.Journal

	hub      *eventHub
	limiter  *middleware.RateLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State. cfg is swapped by UpdateConfig, so every read goes
	// through config().
	mu        sync.RWMutex
	cfg       *config.Config
	running   bool
	analyzing bool
}

// NewServer wires a server. The store may be nil when no result
// database is configured; store-backed endpoints then answer 503.
func NewServer(cfg *config.Config, log *zap.Logger, store db.Store, journal audit.Journal) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if journal == nil {
		journal = audit.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		journal:  journal,
		hub:      newEventHub(),
		limiter:  middleware.NewRateLimiter(analyzePerMinute),
		upgrader: newUpgrader(cfg.Server.AllowedOrigins),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// config returns the current configuration snapshot.
func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig swaps the configuration used by later analysis runs.
// The listen address, timeouts and origin allow list are fixed at
// construction and unaffected.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.config()
	mux := http.NewServeMux()
	s.registerHandlers(mux, cfg)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server: in-flight requests get the
// shutdown timeout to finish, then subscribers are disconnected.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.config().Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
	}

	s.hub.shutdown()
	s.limiter.Stop()
	s.cancel()
	s.wg.Wait()

	s.log.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers. The WebSocket route is not
// instrumented: hijacked connections bypass the status recorder.
func (s *Server) registerHandlers(mux *http.ServeMux, cfg *config.Config) {
	mux.HandleFunc("/health", middleware.Instrument("/health", s.handleHealth))
	mux.HandleFunc("/ready", middleware.Instrument("/ready", s.handleReady))
	mux.HandleFunc("/info", middleware.Instrument("/info", s.handleInfo))

	mux.HandleFunc("/api/v1/runs", middleware.Instrument("/api/v1/runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", middleware.Instrument("/api/v1/runs/{id}", s.handleRunByID))
	mux.HandleFunc("/api/v1/report", middleware.Instrument("/api/v1/report", s.handleReport))
	mux.HandleFunc("/api/v1/report/", middleware.Instrument("/api/v1/report/{subset}", s.handleReportSubset))
	mux.HandleFunc("/api/v1/events/temporal", middleware.Instrument("/api/v1/events/temporal", s.handleTemporalEvents))
	mux.HandleFunc("/api/v1/regions/", middleware.Instrument("/api/v1/regions/{region}", s.handleRegion))
	mux.HandleFunc("/api/v1/analyze", s.limiter.Wrap(middleware.Instrument("/api/v1/analyze", s.handleAnalyze)))

	mux.HandleFunc("/api/v1/ws/events", s.handleEventsWS)

	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports readiness: the server is up and the result
// store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running || s.store == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo reports build and detection configuration.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"name":       "enrolytics",
		"version":    version.Version,
		"commit":     version.Commit,
		"detectors":  []string{"density", "statistical", "temporal"},
		"store":      s.store != nil,
		"running":    s.IsRunning(),
		"thresholds": s.runParams(),
	})
}

func (s *Server) runParams() pipeline.Params {
	cfg := s.config()
	return pipeline.Params{
		ZScoreThreshold:   cfg.Detect.ZScoreThreshold,
		SpikeThresholdPct: cfg.Detect.SpikeThresholdPct,
		Contamination:     cfg.Detect.Contamination,
		ConsensusMin:      cfg.Detect.ConsensusMin,
		Seed:              cfg.Detect.Seed,
	}
}
