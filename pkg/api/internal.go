package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/xrayconfig"
	"github.com/rs/zerolog"
)

// ConfigPath is where the engine fetches its configuration from
const ConfigPath = "/internal/get-config"

// ConfigSource returns the last configuration accepted by the node
type ConfigSource interface {
	Config() xrayconfig.Config
}

// InternalServer hands the reconciled configuration to the engine. It
// only answers loopback clients.
type InternalServer struct {
	source ConfigSource
	mux    *http.ServeMux
	server *http.Server
	logger zerolog.Logger
}

// NewInternalServer creates the server for source
func NewInternalServer(source ConfigSource) *InternalServer {
	is := &InternalServer{
		source: source,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("internal"),
	}
	is.mux.HandleFunc(ConfigPath, is.configHandler)
	is.server = &http.Server{
		Handler:      loopbackOnly(requestLogger(is.logger, is.mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return is
}

// Start serves on addr until Shutdown is called. It returns nil at once
// if Shutdown already ran.
func (is *InternalServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	is.logger.Info().Str("addr", ln.Addr().String()).Msg("Internal server listening")

	if err := is.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (is *InternalServer) Shutdown(ctx context.Context) error {
	return is.server.Shutdown(ctx)
}

// ConfigURL is the address the engine is pointed at
func ConfigURL(port int) string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + ConfigPath
}

func (is *InternalServer) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := is.source.Config()
	if cfg == nil {
		cfg = xrayconfig.Config{}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetHandler returns the HTTP handler without the loopback guard
func (is *InternalServer) GetHandler() http.Handler {
	return is.mux
}
