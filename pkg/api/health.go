package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/xnode/pkg/contract"
	"github.com/cuemby/xnode/pkg/engine"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/metrics"
	"github.com/rs/zerolog"
)

// ComponentName is the health component registered for the HTTP surface
const ComponentName = "api"

// NodeReporter reports node liveness and the cached engine state
type NodeReporter interface {
	NodeHealth() engine.NodeHealthResult
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	node   NodeReporter
	mux    *http.ServeMux
	server *http.Server
	logger zerolog.Logger
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(node NodeReporter) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		node:   node,
		mux:    mux,
		logger: log.WithComponent("api"),
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	hs.server = &http.Server{
		Handler:      requestLogger(hs.logger, mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return hs
}

// Start serves the health endpoints on addr until Shutdown is called.
// The api component is reported healthy while the listener is served.
// Start returns nil at once if Shutdown already ran.
func (hs *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.RegisterComponent(ComponentName, false, err.Error())
		return err
	}

	metrics.RegisterComponent(ComponentName, true, "listening on "+ln.Addr().String())
	hs.logger.Info().Str("addr", ln.Addr().String()).Msg("Health server listening")

	err = hs.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(ComponentName, false, err.Error())
		return err
	}
	metrics.UpdateComponent(ComponentName, false, "stopped")
	return nil
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(ComponentName, false, "shutting down")
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Uptime    string                      `json:"uptime,omitempty"`
	Degraded  []string                    `json:"degraded,omitempty"`
	Node      contract.NodeHealthResponse `json:"node"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 while the process serves
// requests, with the cached engine state attached. The engine is not probed.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    metrics.GetHealth().Uptime,
		Degraded:  metrics.DefaultRegistry.Unhealthy(),
	}
	if hs.node != nil {
		response.Node = hs.node.NodeHealth().Response()
	} else {
		response.Node = contract.NodeHealthResponse{IsAlive: true}
	}

	writeJSON(w, http.StatusOK, response)
}

// readyHandler reports ready once every critical component is healthy
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readiness := metrics.GetReadiness()

	status := "ready"
	statusCode := http.StatusOK
	if readiness.Status != "ready" {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: readiness.Timestamp,
		Checks:    readiness.Components,
		Message:   readiness.Message,
	})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
