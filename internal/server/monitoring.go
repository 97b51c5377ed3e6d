package server

import (
	_ "embed"
	"net/http"
	"runtime"
	"time"

	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/vad"
)

//go:embed static/index.html
var landingPage []byte

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
	Service   string    `json:"service"`
}

// StatsResponse represents service statistics response
type StatsResponse struct {
	Server  ServerStats         `json:"server"`
	Engine  *engine.ClientStats `json:"engine,omitempty"`
	VAD     *vad.ProcessorStats `json:"vad,omitempty"`
	Runtime RuntimeStats        `json:"runtime"`
}

// ServerStats represents HTTP server statistics
type ServerStats struct {
	StartTime      time.Time `json:"start_time"`
	Uptime         string    `json:"uptime"`
	GatewayEnabled bool      `json:"gateway_enabled"`
}

// RuntimeStats represents Go runtime statistics
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// handleRoot serves the landing page
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(landingPage)
	}
}

// handleHealth handles health check requests
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   ServiceVersion,
		Service:   ServiceName,
	})
}

// handleStats handles service statistics requests
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := StatsResponse{
		Server: ServerStats{
			StartTime:      h.startTime,
			Uptime:         time.Since(h.startTime).Round(time.Second).String(),
			GatewayEnabled: h.deps.Gateway != nil,
		},
		Runtime: RuntimeStats{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  mem.HeapAlloc,
			NumGC:      mem.NumGC,
		},
	}

	if h.deps.EngineStats != nil {
		es := h.deps.EngineStats.GetStats()
		stats.Engine = &es
	}
	if h.deps.VAD != nil {
		vs := h.deps.VAD.GetStats()
		stats.VAD = &vs
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig returns the running configuration with secrets masked
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}
