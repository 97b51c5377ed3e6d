package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/my6014/Dialect-Master/internal/config"
	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/gateway"
	"github.com/my6014/Dialect-Master/internal/metrics"
	"github.com/my6014/Dialect-Master/internal/recognition"
	"github.com/my6014/Dialect-Master/internal/vad"
)

// Service identity reported by /health and startup logs
const (
	ServiceName    = "dialect-master-asr"
	ServiceVersion = "1.0.0"
)

const requestIDHeader = "X-Request-ID"

// Recognizer runs one recognition batch
type Recognizer interface {
	Handle(ctx context.Context, inputs []recognition.AudioInput, lang engine.Language, keyOverrides []string) ([]recognition.Result, error)
}

// EngineStatsProvider exposes engine client statistics
type EngineStatsProvider interface {
	GetStats() engine.ClientStats
}

// Dependencies are the components served by the HTTP API. EngineStats, VAD and Gateway
// are optional.
type Dependencies struct {
	Recognizer     Recognizer
	EngineStats    EngineStatsProvider
	VAD            *vad.Processor
	Gateway        *gateway.Forwarder
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

// HTTPServer provides the recognition API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	deps     Dependencies
	metrics  *metrics.Metrics
	validate *validator.Validate

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, deps Dependencies, logger *slog.Logger) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   deps.Metrics,
		validate:  newValidator(),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = h.withRequestID(h.withCORS(h.withRecovery(mux)))

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.handler,
		ReadTimeout:  appConfig.HTTP.GetReadTimeout(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// Handler returns the fully wrapped request handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Recognition endpoint
	mux.HandleFunc("/api/v1/asr", h.withMetrics("/api/v1/asr", h.handleASR))

	// Upstream gateway endpoint
	if h.deps.Gateway != nil {
		mux.HandleFunc("/sensevoice", h.withMetrics("/sensevoice", h.handleSenseVoice))
	}

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.MetricsHandler != nil {
		mux.Handle("/metrics", h.deps.MetricsHandler)
	}

	// Landing page
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := wrapResponseWriter(w)

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}

		h.logger.Debug("HTTP request",
			slog.String("request_id", recognition.RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.statusCode),
			slog.Float64("duration_seconds", duration),
		)
	}
}

// withRequestID propagates the caller's request id or assigns a new one
func (h *HTTPServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(recognition.WithRequestID(r.Context(), id)))
	})
}

// withCORS applies the configured origin allow-list and answers preflight requests
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(h.config.HTTP.CORSOrigins))
	for _, o := range h.config.HTTP.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRecovery turns handler panics into 500 responses
func (h *HTTPServer) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := wrapResponseWriter(w)
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.Error("Panic in HTTP handler",
					slog.String("request_id", recognition.RequestIDFromContext(r.Context())),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				if !ww.wroteHeader {
					writeDetail(ww, http.StatusInternalServerError, "internal server error")
				}
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
}
