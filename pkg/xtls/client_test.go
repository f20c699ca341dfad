package xtls

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	handlercmd "github.com/xtls/xray-core/app/proxyman/command"
	routercmd "github.com/xtls/xray-core/app/router/command"
	statscmd "github.com/xtls/xray-core/app/stats/command"
	"github.com/xtls/xray-core/common/protocol"
	"github.com/xtls/xray-core/proxy/trojan"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/xnode/pkg/types"
)

type fakeHandler struct {
	handlercmd.UnimplementedHandlerServiceServer

	mu       sync.Mutex
	requests []*handlercmd.AlterInboundRequest
	users    map[string][]*protocol.User
	fail     error
}

func (f *fakeHandler) AlterInbound(_ context.Context, req *handlercmd.AlterInboundRequest) (*handlercmd.AlterInboundResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.requests = append(f.requests, req)
	return &handlercmd.AlterInboundResponse{}, nil
}

func (f *fakeHandler) GetInboundUsers(_ context.Context, req *handlercmd.GetInboundUserRequest) (*handlercmd.GetInboundUserResponse, error) {
	return &handlercmd.GetInboundUserResponse{Users: f.users[req.GetTag()]}, nil
}

func (f *fakeHandler) GetInboundUsersCount(_ context.Context, req *handlercmd.GetInboundUserRequest) (*handlercmd.GetInboundUsersCountResponse, error) {
	return &handlercmd.GetInboundUsersCountResponse{Count: int64(len(f.users[req.GetTag()]))}, nil
}

type fakeStats struct {
	statscmd.UnimplementedStatsServiceServer
}

func (fakeStats) GetSysStats(context.Context, *statscmd.SysStatsRequest) (*statscmd.SysStatsResponse, error) {
	return &statscmd.SysStatsResponse{NumGoroutine: 12, Uptime: 30}, nil
}

func startFakeEngine(t *testing.T, handler *fakeHandler) *Client {
	t.Helper()
	return startFakeEngineWithRouter(t, handler, &fakeRouter{})
}

func startFakeEngineWithRouter(t *testing.T, handler *fakeHandler, rt *fakeRouter) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	handlercmd.RegisterHandlerServiceServer(srv, handler)
	statscmd.RegisterStatsServiceServer(srv, fakeStats{})
	routercmd.RegisterRoutingServiceServer(srv, rt)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	c := newClient(conn, 2*time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAddTrojanUser(t *testing.T) {
	handler := &fakeHandler{}
	c := startFakeEngine(t, handler)

	err := c.AddTrojanUser(context.Background(), "trojan-in", "alice", 0, types.TrojanAccount{Password: "pw"})
	require.NoError(t, err)

	require.Len(t, handler.requests, 1)
	req := handler.requests[0]
	assert.Equal(t, "trojan-in", req.GetTag())

	inst, err := req.GetOperation().GetInstance()
	require.NoError(t, err)
	op, ok := inst.(*handlercmd.AddUserOperation)
	require.True(t, ok, "expected AddUserOperation, got %T", inst)
	assert.Equal(t, "alice", op.GetUser().GetEmail())

	acct, err := op.GetUser().GetAccount().GetInstance()
	require.NoError(t, err)
	assert.Equal(t, "pw", acct.(*trojan.Account).GetPassword())
}

func TestRemoveUser(t *testing.T) {
	handler := &fakeHandler{}
	c := startFakeEngine(t, handler)

	require.NoError(t, c.RemoveUser(context.Background(), "vless-in", "alice"))

	require.Len(t, handler.requests, 1)
	inst, err := handler.requests[0].GetOperation().GetInstance()
	require.NoError(t, err)
	op, ok := inst.(*handlercmd.RemoveUserOperation)
	require.True(t, ok)
	assert.Equal(t, "alice", op.GetEmail())
}

func TestAlterInboundError(t *testing.T) {
	handler := &fakeHandler{fail: errors.New("handler not found")}
	c := startFakeEngine(t, handler)

	err := c.RemoveUser(context.Background(), "missing", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler not found")
}

func TestGetInboundUsers(t *testing.T) {
	handler := &fakeHandler{users: map[string][]*protocol.User{
		"vless-in": {
			{Email: "alice", Level: 0},
			{Email: "bob", Level: 1},
		},
	}}
	c := startFakeEngine(t, handler)

	users, err := c.GetInboundUsers(context.Background(), "vless-in")
	require.NoError(t, err)
	assert.Equal(t, []types.EngineUser{
		{Username: "alice", Email: "alice", Level: 0},
		{Username: "bob", Email: "bob", Level: 1},
	}, users)

	count, err := c.GetInboundUsersCount(context.Background(), "vless-in")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = c.GetInboundUsersCount(context.Background(), "other")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetSysStats(t *testing.T) {
	c := startFakeEngine(t, &fakeHandler{})

	stats, err := c.GetSysStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(12), stats.NumGoroutine)
	assert.Equal(t, uint32(30), stats.Uptime)
}

func TestGetSysStatsUnreachable(t *testing.T) {
	c, err := NewClient("127.0.0.1:1", 200*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetSysStats(context.Background())
	assert.Error(t, err)
}
