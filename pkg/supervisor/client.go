package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/rs/zerolog"

	"github.com/cuemby/xnode/pkg/log"
)

const (
	// DefaultSocketPath is the default supervisord control socket
	DefaultSocketPath = "/run/supervisord.sock"

	// DefaultProcessName is the supervised engine program
	DefaultProcessName = "xray"

	// DefaultTimeout bounds a single RPC round trip
	DefaultTimeout = 10 * time.Second

	// endpoint is the XML-RPC path; the host is ignored when dialing the socket
	endpoint = "http://localhost/RPC2"
)

// supervisord fault codes
const (
	FaultBadName        = 10
	FaultSpawnError     = 50
	FaultAlreadyStarted = 60
	FaultNotRunning     = 70
)

// supervisord process state codes
const (
	StateStopped  = 0
	StateStarting = 10
	StateRunning  = 20
	StateBackoff  = 30
	StateStopping = 40
	StateExited   = 100
	StateFatal    = 200
	StateUnknown  = 1000
)

// ProcessInfo is the supervisor's view of one program
type ProcessInfo struct {
	Name        string `xmlrpc:"name"`
	Group       string `xmlrpc:"group"`
	State       int    `xmlrpc:"state"`
	StateName   string `xmlrpc:"statename"`
	SpawnErr    string `xmlrpc:"spawnerr"`
	ExitStatus  int    `xmlrpc:"exitstatus"`
	PID         int    `xmlrpc:"pid"`
	Description string `xmlrpc:"description"`
}

// Running reports whether the process is in the RUNNING state
func (p ProcessInfo) Running() bool {
	return p.State == StateRunning
}

// Fault is an XML-RPC fault returned by supervisord
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("supervisor fault %d: %s", f.Code, f.Message)
}

func faultCode(err error) (int, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code, true
	}
	return 0, false
}

// IsBadName reports whether err is a BAD_NAME fault
func IsBadName(err error) bool {
	code, ok := faultCode(err)
	return ok && code == FaultBadName
}

// IsSpawnError reports whether err is a SPAWN_ERROR fault
func IsSpawnError(err error) bool {
	code, ok := faultCode(err)
	return ok && code == FaultSpawnError
}

// IsAlreadyStarted reports whether err is an ALREADY_STARTED fault
func IsAlreadyStarted(err error) bool {
	code, ok := faultCode(err)
	return ok && code == FaultAlreadyStarted
}

// IsNotRunning reports whether err is a NOT_RUNNING fault
func IsNotRunning(err error) bool {
	code, ok := faultCode(err)
	return ok && code == FaultNotRunning
}

// Client talks to supervisord over its XML-RPC interface
type Client struct {
	url    string
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client for the supervisord unix socket at socketPath
func NewClient(socketPath string, timeout time.Duration) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return newClient(endpoint, &http.Client{Transport: transport, Timeout: timeout})
}

func newClient(url string, httpClient *http.Client) *Client {
	return &Client{
		url:    url,
		http:   httpClient,
		logger: log.WithComponent("supervisor"),
	}
}

// GetProcessInfo returns the state of the named program
func (c *Client) GetProcessInfo(ctx context.Context, name string) (ProcessInfo, error) {
	var info ProcessInfo
	if err := c.call(ctx, "supervisor.getProcessInfo", []interface{}{name}, &info); err != nil {
		return ProcessInfo{}, fmt.Errorf("failed to get process info for %s: %w", name, err)
	}
	return info, nil
}

// StartProcess starts the named program. With wait set, supervisord
// answers once the program is RUNNING or has failed to spawn.
func (c *Client) StartProcess(ctx context.Context, name string, wait bool) error {
	var ok bool
	if err := c.call(ctx, "supervisor.startProcess", []interface{}{name, wait}, &ok); err != nil {
		return fmt.Errorf("failed to start process %s: %w", name, err)
	}
	c.logger.Debug().Str("process", name).Bool("result", ok).Msg("Start requested")
	return nil
}

// StopProcess stops the named program
func (c *Client) StopProcess(ctx context.Context, name string, wait bool) error {
	var ok bool
	if err := c.call(ctx, "supervisor.stopProcess", []interface{}{name, wait}, &ok); err != nil {
		return fmt.Errorf("failed to stop process %s: %w", name, err)
	}
	c.logger.Debug().Str("process", name).Bool("result", ok).Msg("Stop requested")
	return nil
}

func (c *Client) call(ctx context.Context, method string, args []interface{}, reply interface{}) error {
	body, err := xmlrpc.EncodeMethodCall(method, args...)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	response := xmlrpc.Response(data)
	if err := response.Err(); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return &Fault{Code: fault.Code, Message: fault.String}
		}
		return err
	}

	if err := response.Unmarshal(reply); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}
