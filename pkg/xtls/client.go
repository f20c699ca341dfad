package xtls

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	handlercmd "github.com/xtls/xray-core/app/proxyman/command"
	routercmd "github.com/xtls/xray-core/app/router/command"
	statscmd "github.com/xtls/xray-core/app/stats/command"
	"github.com/xtls/xray-core/common/protocol"
	"github.com/xtls/xray-core/common/serial"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/types"
)

const (
	// DefaultHost is the loopback address the engine admin API listens on
	DefaultHost = "127.0.0.1"

	// DefaultPort is the engine admin API port
	DefaultPort = 61000

	// DefaultCallTimeout bounds every admin RPC
	DefaultCallTimeout = 5 * time.Second
)

// SysStats is the runtime summary reported by the engine
type SysStats struct {
	NumGoroutine uint32
	NumGC        uint32
	Alloc        uint64
	Uptime       uint32
}

// Client is a gRPC client for the engine admin API
type Client struct {
	conn    *grpc.ClientConn
	handler handlercmd.HandlerServiceClient
	router  routercmd.RoutingServiceClient
	stats   statscmd.StatsServiceClient
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient creates a client for the admin API at addr. The connection is
// established lazily, so the engine does not have to be running yet.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine admin client: %w", err)
	}
	return newClient(conn, timeout), nil
}

func newClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		conn:    conn,
		handler: handlercmd.NewHandlerServiceClient(conn),
		router:  routercmd.NewRoutingServiceClient(conn),
		stats:   statscmd.NewStatsServiceClient(conn),
		timeout: timeout,
		logger:  log.WithComponent("xtls"),
	}
}

// Close closes the underlying connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// AddVlessUser adds a VLESS client to the inbound tag
func (c *Client) AddVlessUser(ctx context.Context, tag, username string, level uint32, acct types.VlessAccount) error {
	return c.addUser(ctx, tag, username, level, acct)
}

// AddTrojanUser adds a Trojan client to the inbound tag
func (c *Client) AddTrojanUser(ctx context.Context, tag, username string, level uint32, acct types.TrojanAccount) error {
	return c.addUser(ctx, tag, username, level, acct)
}

// AddShadowsocksUser adds a Shadowsocks client to the inbound tag
func (c *Client) AddShadowsocksUser(ctx context.Context, tag, username string, level uint32, acct types.ShadowsocksAccount) error {
	return c.addUser(ctx, tag, username, level, acct)
}

// AddShadowsocks2022User adds a Shadowsocks 2022 client to the inbound tag
func (c *Client) AddShadowsocks2022User(ctx context.Context, tag, username string, level uint32, acct types.Shadowsocks2022Account) error {
	return c.addUser(ctx, tag, username, level, acct)
}

// AddSocksUser adds a SOCKS account to the inbound tag
func (c *Client) AddSocksUser(ctx context.Context, tag, username string, level uint32, acct types.SocksAccount) error {
	return c.addUser(ctx, tag, username, level, acct)
}

// AddHTTPUser adds an HTTP proxy account to the inbound tag
func (c *Client) AddHTTPUser(ctx context.Context, tag, username string, level uint32, acct types.HTTPAccount) error {
	return c.addUser(ctx, tag, username, level, acct)
}

func (c *Client) addUser(ctx context.Context, tag, username string, level uint32, acct types.Account) error {
	account, err := typedAccount(acct)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = c.handler.AlterInbound(ctx, &handlercmd.AlterInboundRequest{
		Tag: tag,
		Operation: serial.ToTypedMessage(&handlercmd.AddUserOperation{
			User: &protocol.User{
				Level:   level,
				Email:   username,
				Account: account,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s user %s to %s: %w", acct.Protocol(), username, tag, err)
	}

	c.logger.Debug().
		Str("inbound_tag", tag).
		Str("username", username).
		Str("protocol", string(acct.Protocol())).
		Msg("User added")
	return nil
}

// RemoveUser removes the user identified by username from the inbound tag
func (c *Client) RemoveUser(ctx context.Context, tag, username string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.handler.AlterInbound(ctx, &handlercmd.AlterInboundRequest{
		Tag:       tag,
		Operation: serial.ToTypedMessage(&handlercmd.RemoveUserOperation{Email: username}),
	})
	if err != nil {
		return fmt.Errorf("failed to remove user %s from %s: %w", username, tag, err)
	}
	return nil
}

// GetInboundUsers lists the users the engine holds for the inbound tag
func (c *Client) GetInboundUsers(ctx context.Context, tag string) ([]types.EngineUser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.handler.GetInboundUsers(ctx, &handlercmd.GetInboundUserRequest{Tag: tag})
	if err != nil {
		return nil, fmt.Errorf("failed to get users of %s: %w", tag, err)
	}

	users := make([]types.EngineUser, 0, len(resp.GetUsers()))
	for _, u := range resp.GetUsers() {
		users = append(users, types.EngineUser{
			Username: u.GetEmail(),
			Email:    u.GetEmail(),
			Level:    u.GetLevel(),
		})
	}
	return users, nil
}

// GetInboundUsersCount returns the number of users of the inbound tag
func (c *Client) GetInboundUsersCount(ctx context.Context, tag string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.handler.GetInboundUsersCount(ctx, &handlercmd.GetInboundUserRequest{Tag: tag})
	if err != nil {
		return 0, fmt.Errorf("failed to count users of %s: %w", tag, err)
	}
	return resp.GetCount(), nil
}

// GetSysStats queries the engine runtime statistics. A successful call is
// the liveness signal for the engine.
func (c *Client) GetSysStats(ctx context.Context) (SysStats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.stats.GetSysStats(ctx, &statscmd.SysStatsRequest{})
	if err != nil {
		return SysStats{}, fmt.Errorf("failed to get engine stats: %w", err)
	}
	return SysStats{
		NumGoroutine: resp.GetNumGoroutine(),
		NumGC:        resp.GetNumGC(),
		Alloc:        resp.GetAlloc(),
		Uptime:       resp.GetUptime(),
	}, nil
}
