package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/veridian-labs/lmt/internal/logger"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the treasury's read surface over HTTP.
type WebServer struct {
	router *mux.Router
	port   string

	handlers *Handlers
	server   *http.Server
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, handlers *Handlers) (*WebServer, error) {
	if port == "" {
		port = "8080"
	}
	if handlers == nil {
		return nil, errors.New("web server requires handlers")
	}

	ws := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		handlers: handlers,
	}

	ws.setupRoutes()
	return ws, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/positions", ws.handlers.RegisterPosition).Methods("POST")
	api.HandleFunc("/positions/{id}", ws.handlers.DeactivatePosition).Methods("DELETE")
	api.HandleFunc("/positions/{id}/fees", ws.handlers.GetPositionFees).Methods("GET")
	api.HandleFunc("/positions/{id}/reward", ws.handlers.GetPositionReward).Methods("GET")
	api.HandleFunc("/positions/{id}/value", ws.handlers.UpdatePositionValue).Methods("PUT")
	api.HandleFunc("/positions/{id}/checkpoint", ws.handlers.CheckpointPosition).Methods("POST")
	api.HandleFunc("/pool/stats", ws.handlers.GetPoolStats).Methods("GET")
	api.HandleFunc("/program/analytics", ws.handlers.GetProgramAnalytics).Methods("GET")
	api.HandleFunc("/program/summary", ws.handlers.GetProgramSummary).Methods("GET")
	api.HandleFunc("/treasury/parameters", ws.handlers.GetTreasuryParameters).Methods("GET")
	api.HandleFunc("/runs", ws.handlers.GetRecentRuns).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server and blocks until it exits.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws.server.ListenAndServe()
}

// Shutdown stops accepting new connections and drains in-flight requests.
func (ws *WebServer) Shutdown(timeout time.Duration) error {
	if ws.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ws.server.Shutdown(ctx)
}

// Router exposes the configured router, used by tests.
func (ws *WebServer) Router() http.Handler {
	return ws.router
}

// handleHealth returns server health status including runtime and cycle data
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	// Last cycle recency. A treasury that has not completed a cycle in two
	// days is stale even if the process is alive.
	cycleInfo := map[string]interface{}{
		"current_cycle":  0,
		"last_run_at":    nil,
		"last_run_state": "unknown",
	}
	runs, runErr := ws.handlers.recentRuns(1)
	if runErr == nil && len(runs) > 0 {
		run := runs[0]
		runState := "completed"
		if run.PositionsFailed > 0 {
			runState = "partial"
		}
		if time.Since(run.StartedAt) > 48*time.Hour {
			runState = "stale"
			hasErrors = true
		}
		cycleInfo = map[string]interface{}{
			"current_cycle":       run.CycleNumber,
			"last_run_at":         run.StartedAt,
			"last_run_state":      runState,
			"positions_processed": run.PositionsProcessed,
			"positions_failed":    run.PositionsFailed,
		}
	} else if runErr != nil {
		hasErrors = true
	}

	dbHealthy := true
	if err := ws.handlers.pingDB(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "lmt-liquidity-mining-treasury",
			"version": "1.0.0",
		},
		"treasury_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// parseLimit reads a bounded ?limit= query value with a default.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= max {
			limit = parsed
		}
	}
	return limit
}
