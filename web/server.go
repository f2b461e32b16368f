package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"isp-orchestrator/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP control and observability endpoint
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server

	hub      *EventHub
	handlers *Handlers
}

// NewServer creates a new web server for the given manager
func NewServer(cfg *config.Config, manager Controller, logger *zap.Logger) *Server {
	logger = logger.With(zap.String("component", "web"))
	hub := NewEventHub(cfg.Server.AllowedOrigins, cfg.Server.EventBuffer, manager.Status, logger)
	return &Server{
		config:   cfg,
		logger:   logger,
		hub:      hub,
		handlers: NewHandlers(cfg, manager, hub, logger),
	}
}

// Hub returns the event hub so it can be registered as an event sink
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Handler builds the routed handler with middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handlers.HandleHealth)

	mux.HandleFunc("/api/status", s.handlers.HandleAPIStatus)
	mux.HandleFunc("/api/mode", s.handlers.HandleAPIMode)
	mux.HandleFunc("/api/start", s.handlers.HandleAPIStart)
	mux.HandleFunc("/api/stop", s.handlers.HandleAPIStop)
	mux.HandleFunc("/api/orientation", s.handlers.HandleAPIOrientation)
	mux.HandleFunc("/api/calibration/reload", s.handlers.HandleAPICalibrationReload)

	mux.HandleFunc("/ws/events", s.hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	return s.addMiddleware(mux)
}

// Start starts the web server
func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.Int("port", s.config.Server.WebPort))

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started", zap.String("address", s.httpServer.Addr))
	return nil
}

// addMiddleware adds CORS and request logging
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	origin := "*"
	if len(s.config.Server.AllowedOrigins) == 1 {
		origin = s.config.Server.AllowedOrigins[0]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// the websocket upgrade needs the raw writer
		if r.URL.Path == "/ws/events" {
			handler.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(lw, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader records the status code before writing it
func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop shuts the server down and disconnects event clients
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping web server")
	s.hub.Close()

	if s.httpServer == nil {
		return nil
	}

	// Shutdown with timeout
	timeout := time.Duration(s.config.Timeouts.HTTPShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
