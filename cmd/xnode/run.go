package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/xnode/pkg/api"
	"github.com/cuemby/xnode/pkg/config"
	"github.com/cuemby/xnode/pkg/engine"
	"github.com/cuemby/xnode/pkg/events"
	"github.com/cuemby/xnode/pkg/handler"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/metrics"
	"github.com/cuemby/xnode/pkg/state"
	"github.com/cuemby/xnode/pkg/supervisor"
	"github.com/cuemby/xnode/pkg/xtls"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node agent",
	Long: `Run the node agent in the foreground.

Configuration is read from the optional YAML file, then from the
environment (APP_PORT, XTLS_IP, XTLS_API_PORT, INTERNAL_REST_PORT,
SUPERVISOR_SOCKET, XRAY_BINARY, LOG_LEVEL), then from flags.

On SIGINT or SIGTERM the engine is stopped before the agent exits.`,
	RunE: runNode,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().Int("api-port", 0, "Port of the health and metrics server")
	cmd.Flags().Int("internal-port", 0, "Loopback port serving the engine configuration")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Emit JSON logs")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("api-port") {
		cfg.APIPort, _ = cmd.Flags().GetInt("api-port")
	}
	if cmd.Flags().Changed("internal-port") {
		cfg.InternalPort, _ = cmd.Flags().GetInt("internal-port")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stdout,
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	engineVersion, err := engine.DetectVersion(ctx, cfg.Engine.Binary)
	if err != nil {
		logger.Warn().Err(err).Str("binary", cfg.Engine.Binary).Msg("Could not detect engine version")
	}

	sup := supervisor.NewClient(cfg.Supervisor.Socket, cfg.Supervisor.Timeout)

	apiAddr := net.JoinHostPort(cfg.Engine.APIHost, strconv.Itoa(cfg.Engine.APIPort))
	admin, err := xtls.NewClient(apiAddr, cfg.Engine.CallTimeout)
	if err != nil {
		return fmt.Errorf("failed to create engine admin client: %w", err)
	}
	defer func() { _ = admin.Close() }()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	store := state.NewStore(cfg.ExtractionConcurrency)
	orch := engine.New(engine.Config{
		ProcessName:         cfg.Supervisor.ProcessName,
		APIHost:             cfg.Engine.APIHost,
		APIPort:             cfg.Engine.APIPort,
		HealthCheckAttempts: cfg.Engine.HealthCheckAttempts,
		HealthCheckDelay:    cfg.Engine.HealthCheckDelay,
		EngineVersion:       engineVersion,
		NodeVersion:         Version,
		Events:              broker,
	}, sup, admin, store)

	// The user mutator and blocker are built and wired here; no
	// control-plane transport in this binary calls them yet.
	users := handler.New(admin, store)
	users.SetPublisher(broker)
	users.SetRestarter(orch)
	blocker := handler.NewBlocker(admin)
	blocker.SetPublisher(broker)

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	internal := api.NewInternalServer(store)
	health := api.NewHealthServer(orch)

	errCh := make(chan error, 2)
	go func() {
		if err := internal.Start(net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.InternalPort))); err != nil {
			errCh <- fmt.Errorf("internal server error: %w", err)
		}
	}()
	go func() {
		if err := health.Start(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	logger.Info().
		Str("version", Version).
		Str("engine_version", engineVersion).
		Str("engine_api", apiAddr).
		Str("config_url", api.ConfigURL(cfg.InternalPort)).
		Int("api_port", cfg.APIPort).
		Msg("Node agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if res := orch.StopEngine(shutdownCtx); !res.Stopped {
		logger.Warn().Err(res.Err).Msg("Engine did not stop cleanly")
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Health server shutdown failed")
	}
	if err := internal.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Internal server shutdown failed")
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// logEvents writes every lifecycle event to the log until sub is closed
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		entry := logger.Info().
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Time("at", ev.Timestamp)
		for k, v := range ev.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(ev.Message)
	}
}
