package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/xnode/pkg/contract"
	"github.com/cuemby/xnode/pkg/events"
	"github.com/cuemby/xnode/pkg/health"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/metrics"
	"github.com/cuemby/xnode/pkg/supervisor"
	"github.com/cuemby/xnode/pkg/sysinfo"
	"github.com/cuemby/xnode/pkg/types"
	"github.com/cuemby/xnode/pkg/xrayconfig"
	"github.com/cuemby/xnode/pkg/xtls"
)

const (
	// DefaultHealthCheckAttempts is the liveness probe budget after a start
	DefaultHealthCheckAttempts = 10

	// DefaultHealthCheckDelay is the pause between liveness probes
	DefaultHealthCheckDelay = time.Second

	// ComponentName is the name of the engine in the health registry
	ComponentName = "engine"

	// SupervisorComponentName is the name of the supervisor in the health registry
	SupervisorComponentName = "supervisor"
)

// Supervisor manages the engine process
type Supervisor interface {
	GetProcessInfo(ctx context.Context, name string) (supervisor.ProcessInfo, error)
	StartProcess(ctx context.Context, name string, wait bool) error
	StopProcess(ctx context.Context, name string, wait bool) error
}

// AdminProber probes the engine admin API for liveness
type AdminProber interface {
	GetSysStats(ctx context.Context) (xtls.SysStats, error)
}

// StateStore is the part of the state store the orchestrator drives
type StateStore interface {
	AcceptConfiguration(ctx context.Context, desc *types.ChangeDescriptor, cfg xrayconfig.Config) error
	NeedsRestart(desc *types.ChangeDescriptor) bool
	Reset()
}

// Config holds orchestrator settings
type Config struct {
	// ProcessName is the supervisor program running the engine
	ProcessName string

	// APIHost and APIPort locate the admin API injected into every config
	APIHost string
	APIPort int

	HealthCheckAttempts int
	HealthCheckDelay    time.Duration

	// EngineVersion is the version detected at startup, may be empty
	EngineVersion string

	// NodeVersion is the version of this agent
	NodeVersion string

	// SystemInfo collects the host summary; defaults to sysinfo.Collect
	SystemInfo func(ctx context.Context) (types.SystemInfo, error)

	// Events receives start and stop outcomes; defaults to events.Discard
	Events events.Publisher
}

func (c *Config) setDefaults() {
	if c.ProcessName == "" {
		c.ProcessName = supervisor.DefaultProcessName
	}
	if c.APIHost == "" {
		c.APIHost = xtls.DefaultHost
	}
	if c.APIPort == 0 {
		c.APIPort = xtls.DefaultPort
	}
	if c.HealthCheckAttempts < 1 {
		c.HealthCheckAttempts = DefaultHealthCheckAttempts
	}
	if c.HealthCheckDelay <= 0 {
		c.HealthCheckDelay = DefaultHealthCheckDelay
	}
	if c.SystemInfo == nil {
		c.SystemInfo = sysinfo.Collect
	}
	if c.Events == nil {
		c.Events = events.Discard
	}
}

// StartRequest asks for the engine to run config
type StartRequest struct {
	Config       xrayconfig.Config
	ClientIP     string
	Descriptor   *types.ChangeDescriptor
	ForceRestart bool
}

// StartResult is the outcome of StartEngine
type StartResult struct {
	Started bool

	// Skipped is set when the running engine already matched the request
	Skipped bool

	Version     string
	NodeVersion string
	SystemInfo  *types.SystemInfo
	Err         error
}

// Response renders the result in its wire shape
func (r StartResult) Response() contract.StartResponse {
	return contract.StartResponse{
		IsStarted:  r.Started,
		Version:    contract.Nullable(r.Version),
		Error:      contract.ErrorString(r.Err),
		SystemInfo: r.SystemInfo,
		NodeInfo:   contract.NodeInfo{Version: contract.Nullable(r.NodeVersion)},
	}
}

// StopResult is the outcome of StopEngine
type StopResult struct {
	Stopped bool
	Err     error
}

// Response renders the result in its wire shape
func (r StopResult) Response() contract.StopResponse {
	return contract.StopResponse{IsStopped: r.Stopped}
}

// StatusResult is the outcome of GetStatus
type StatusResult struct {
	Running bool
	Version string
}

// Response renders the result in its wire shape
func (r StatusResult) Response() contract.StatusResponse {
	return contract.StatusResponse{IsRunning: r.Running, Version: contract.Nullable(r.Version)}
}

// NodeHealthResult reports node liveness without probing the engine
type NodeHealthResult struct {
	IsAlive            bool
	EngineOnlineCached bool
	EngineVersion      string
	NodeVersion        string
}

// Response renders the result in its wire shape
func (r NodeHealthResult) Response() contract.NodeHealthResponse {
	return contract.NodeHealthResponse{
		IsAlive:                  r.IsAlive,
		XrayInternalStatusCached: r.EngineOnlineCached,
		XrayVersion:              contract.Nullable(r.EngineVersion),
		NodeVersion:              r.NodeVersion,
	}
}

// Orchestrator makes the engine process match the configuration the
// control plane sends. At most one start runs at a time.
type Orchestrator struct {
	cfg        Config
	supervisor Supervisor
	admin      AdminProber
	store      StateStore

	inFlight atomic.Bool

	mu    sync.RWMutex
	state types.EngineState

	logger zerolog.Logger
}

// New creates an orchestrator. The engine is assumed offline.
func New(cfg Config, sup Supervisor, admin AdminProber, store StateStore) *Orchestrator {
	cfg.setDefaults()

	o := &Orchestrator{
		cfg:        cfg,
		supervisor: sup,
		admin:      admin,
		store:      store,
		logger:     log.WithComponent("engine"),
	}
	metrics.RegisterComponent(ComponentName, false, "engine is offline")
	o.setState(types.EngineStateOffline)
	return o
}

// State returns the current engine state
func (o *Orchestrator) State() types.EngineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Version returns the engine version detected at startup
func (o *Orchestrator) Version() string {
	return o.cfg.EngineVersion
}

func (o *Orchestrator) setState(state types.EngineState) {
	o.mu.Lock()
	prev := o.state
	o.state = state
	o.mu.Unlock()

	for _, s := range types.AllEngineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.EngineState.WithLabelValues(string(s)).Set(v)
	}

	metrics.UpdateComponent(ComponentName, state == types.EngineStateOnline, fmt.Sprintf("engine is %s", state))

	if prev != state && prev != "" {
		o.logger.Info().
			Str("from", string(prev)).
			Str("to", string(state)).
			Msg("Engine state changed")
	}
}

// StartEngine reconciles the engine with req. It never returns an error
// directly: failures are reported in the result. The reconciliation is
// detached from ctx cancellation so an abandoned caller cannot leave the
// engine half restarted.
func (o *Orchestrator) StartEngine(ctx context.Context, req StartRequest) (result StartResult) {
	result.NodeVersion = o.cfg.NodeVersion

	if err := req.Descriptor.Validate(); err != nil {
		o.logger.Warn().Err(err).Str("client_ip", req.ClientIP).Msg("Rejected start request")
		metrics.EngineStartsTotal.WithLabelValues("rejected").Inc()
		result.Err = fmt.Errorf("%w: %v", ErrProtocolVersion, err)
		return result
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Warn().Str("client_ip", req.ClientIP).Msg("Start already in progress, rejecting request")
		metrics.EngineStartsTotal.WithLabelValues("rejected").Inc()
		result.Err = ErrInProgress
		return result
	}
	defer o.inFlight.Store(false)

	attemptID := uuid.NewString()
	logger := log.WithAttempt(o.logger, attemptID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Engine start panicked")
			o.setState(types.EngineStateOffline)
			metrics.EngineStartsTotal.WithLabelValues("failed").Inc()
			result = StartResult{NodeVersion: o.cfg.NodeVersion, Err: contract.ErrInternal}
			o.publish(events.EventEngineStartFailed, attemptID, result.Err.Error())
		}
	}()

	ctx = context.WithoutCancel(ctx)
	logger.Info().
		Str("client_ip", req.ClientIP).
		Bool("force_restart", req.ForceRestart).
		Msg("Start requested")

	if o.canSkipRestart(ctx, logger, req) {
		metrics.EngineStartsTotal.WithLabelValues("skipped").Inc()
		result.Started = true
		result.Skipped = true
		result.Version = o.cfg.EngineVersion
		o.publish(events.EventEngineSkipped, attemptID, "engine already runs the requested configuration")
		return result
	}

	timer := metrics.NewTimer()
	result = o.restart(ctx, logger, req)
	timer.ObserveDuration(metrics.EngineStartDuration)

	if result.Started {
		metrics.EngineStartsTotal.WithLabelValues("started").Inc()
		o.publish(events.EventEngineStarted, attemptID, "engine restarted with new configuration")
	} else {
		metrics.EngineStartsTotal.WithLabelValues("failed").Inc()
		o.publish(events.EventEngineStartFailed, attemptID, result.Err.Error())
	}
	logger.Info().
		Bool("started", result.Started).
		Dur("took", timer.Duration()).
		Msg("Start finished")
	return result
}

func (o *Orchestrator) canSkipRestart(ctx context.Context, logger zerolog.Logger, req StartRequest) bool {
	if o.State() != types.EngineStateOnline {
		return false
	}
	if req.ForceRestart {
		logger.Info().Msg("Force restart requested")
		return false
	}
	if _, err := o.admin.GetSysStats(ctx); err != nil {
		logger.Warn().Err(err).Msg("Engine marked online but probe failed, restarting")
		return false
	}
	return !o.store.NeedsRestart(req.Descriptor)
}

func (o *Orchestrator) restart(ctx context.Context, logger zerolog.Logger, req StartRequest) StartResult {
	result := StartResult{NodeVersion: o.cfg.NodeVersion}
	name := o.cfg.ProcessName

	o.setState(types.EngineStateStarting)

	full := xrayconfig.WithAPI(req.Config, o.cfg.APIHost, o.cfg.APIPort)
	if err := o.store.AcceptConfiguration(ctx, req.Descriptor, full); err != nil {
		return o.fail(logger, result, fmt.Errorf("failed to accept configuration: %w", err))
	}

	info, err := o.supervisor.GetProcessInfo(ctx, name)
	o.noteSupervisor(err)
	switch {
	case err == nil && info.Running():
		logger.Info().Int("pid", info.PID).Msg("Stopping running engine")
		if err := o.supervisor.StopProcess(ctx, name, true); err != nil && !supervisor.IsNotRunning(err) {
			return o.fail(logger, result, err)
		}
	case err != nil:
		// Start below reports a missing program precisely
		logger.Warn().Err(err).Msg("Failed to query engine process")
	}

	if err := o.supervisor.StartProcess(ctx, name, true); err != nil {
		if !supervisor.IsAlreadyStarted(err) {
			return o.fail(logger, result, newSpawnError(err))
		}
		logger.Warn().Msg("Engine already started, probing")
	}

	attempts, err := o.waitHealthy(ctx, logger)
	metrics.HealthProbeAttempts.Observe(float64(attempts))
	if err != nil {
		hcErr := &HealthCheckError{Attempts: attempts, LastErr: err}
		if info, perr := o.supervisor.GetProcessInfo(ctx, name); perr == nil {
			hcErr.Process = &info
		}
		return o.fail(logger, result, hcErr)
	}

	sys, err := o.cfg.SystemInfo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to collect system info")
	}
	result.SystemInfo = &sys

	o.setState(types.EngineStateOnline)
	result.Started = true
	result.Version = o.cfg.EngineVersion

	logger.Info().
		Str("version", o.cfg.EngineVersion).
		Int("cpu_cores", sys.CPUCores).
		Str("memory_total", sys.MemoryTotal).
		Int("probe_attempts", attempts).
		Msg("Engine started")
	return result
}

func (o *Orchestrator) fail(logger zerolog.Logger, result StartResult, err error) StartResult {
	logger.Warn().Err(err).Msg("Engine start failed")
	o.setState(types.EngineStateFailed)
	o.setState(types.EngineStateOffline)
	result.Started = false
	result.Err = err
	return result
}

// noteSupervisor records supervisor reachability. A fault is an answer,
// so only transport errors mark it unhealthy.
func (o *Orchestrator) noteSupervisor(err error) {
	var fault *supervisor.Fault
	if err == nil || errors.As(err, &fault) {
		metrics.UpdateComponent(SupervisorComponentName, true, "supervisor reachable")
		return
	}
	metrics.UpdateComponent(SupervisorComponentName, false, err.Error())
}

// waitHealthy probes the admin API until it answers or the budget is
// spent. It returns the number of attempts made.
func (o *Orchestrator) waitHealthy(ctx context.Context, logger zerolog.Logger) (int, error) {
	status := health.Probe(ctx, health.NewAdminChecker(o.admin), health.Config{
		Attempts: o.cfg.HealthCheckAttempts,
		Delay:    o.cfg.HealthCheckDelay,
	}, func(s health.Status) {
		if !s.Healthy {
			logger.Debug().Err(s.LastResult.Err).Int("attempt", s.Attempts).Msg("Engine not healthy yet")
		}
	})
	if !status.Healthy {
		return status.Attempts, status.LastResult.Err
	}
	return status.Attempts, nil
}

// StopEngine stops the engine process and forgets all tracked state. A
// program that is unknown or not running counts as stopped.
func (o *Orchestrator) StopEngine(ctx context.Context) StopResult {
	err := o.supervisor.StopProcess(ctx, o.cfg.ProcessName, true)
	o.noteSupervisor(err)
	if err != nil && !supervisor.IsBadName(err) && !supervisor.IsNotRunning(err) {
		o.logger.Error().Err(err).Msg("Failed to stop engine")
		return StopResult{Err: err}
	}

	o.setState(types.EngineStateOffline)
	o.store.Reset()
	o.logger.Info().Msg("Engine stopped")
	o.publish(events.EventEngineStopped, "", "engine stopped")
	return StopResult{Stopped: true}
}

func (o *Orchestrator) publish(t events.EventType, attemptID, message string) {
	ev := &events.Event{
		Type:     t,
		Message:  message,
		Metadata: map[string]string{"engine_version": o.cfg.EngineVersion},
	}
	if attemptID != "" {
		ev.Metadata["attempt_id"] = attemptID
	}
	o.cfg.Events.Publish(ev)
}

// GetStatus returns the cached version and a fresh liveness probe
func (o *Orchestrator) GetStatus(ctx context.Context) StatusResult {
	_, err := o.admin.GetSysStats(ctx)
	if err != nil {
		o.logger.Debug().Err(err).Msg("Engine probe failed")
	}
	return StatusResult{Running: err == nil, Version: o.cfg.EngineVersion}
}

// NodeHealth reports that the node is alive along with the cached engine
// state. It does not probe the engine.
func (o *Orchestrator) NodeHealth() NodeHealthResult {
	return NodeHealthResult{
		IsAlive:            true,
		EngineOnlineCached: o.State() == types.EngineStateOnline,
		EngineVersion:      o.cfg.EngineVersion,
		NodeVersion:        o.cfg.NodeVersion,
	}
}
