package state

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/xnode/pkg/hashset"
	"github.com/cuemby/xnode/pkg/types"
	"github.com/cuemby/xnode/pkg/xrayconfig"
)

func inbound(tag string, ids ...string) map[string]any {
	clients := make([]any, 0, len(ids))
	for _, id := range ids {
		clients = append(clients, map[string]any{"id": id, "email": id})
	}
	return map[string]any{
		"tag":      tag,
		"protocol": "vless",
		"settings": map[string]any{"clients": clients},
	}
}

func engineConfig(inbounds ...map[string]any) xrayconfig.Config {
	list := make([]any, 0, len(inbounds))
	for _, in := range inbounds {
		list = append(list, in)
	}
	return xrayconfig.Config{"inbounds": list}
}

func descriptor(shape string, inbounds ...types.InboundDigest) *types.ChangeDescriptor {
	return &types.ChangeDescriptor{ShapeDigest: shape, Inbounds: inbounds}
}

func digestOf(tag string, ids ...string) types.InboundDigest {
	return types.InboundDigest{Tag: tag, Hash: hashset.Digest(ids...), UserCount: len(ids)}
}

func acceptedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(0)
	desc := descriptor("S1", digestOf("A", "u1", "u2"), digestOf("B", "u3"))
	cfg := engineConfig(inbound("A", "u1", "u2"), inbound("B", "u3"))
	require.NoError(t, s.AcceptConfiguration(context.Background(), desc, cfg))
	return s
}

func TestNewStoreIsEmpty(t *testing.T) {
	s := NewStore(0)

	assert.Equal(t, DefaultConcurrency, s.concurrency)
	assert.Empty(t, s.InboundTags())
	assert.Equal(t, xrayconfig.Config{}, s.Config())
	assert.Empty(t, s.ShapeDigest())
}

func TestAcceptConfiguration(t *testing.T) {
	s := NewStore(2)
	desc := descriptor("S1", digestOf("A", "u1", "u2"), digestOf("B", "u3"))
	cfg := engineConfig(
		inbound("A", "u1", "u2"),
		inbound("B", "u3"),
		inbound("C", "u9"), // not in the descriptor
	)

	err := s.AcceptConfiguration(context.Background(), desc, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, s.InboundTags())
	assert.Equal(t, "S1", s.ShapeDigest())
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, s.UserCounts())
	assert.Equal(t, hashset.Digest("u1", "u2"), s.Digests()["A"])
	assert.Equal(t, cfg, s.Config())
}

func TestConfigReturnsCopy(t *testing.T) {
	s := acceptedStore(t)

	cfg := s.Config()
	cfg["log"] = map[string]any{"loglevel": "debug"}
	first := cfg["inbounds"].([]any)[0].(map[string]any)
	first["tag"] = "changed"

	assert.NotContains(t, s.Config(), "log")
	assert.Equal(t, "A", s.Config()["inbounds"].([]any)[0].(map[string]any)["tag"])
}

func TestAcceptConfigurationKeepsOwnCopy(t *testing.T) {
	s := NewStore(0)
	cfg := engineConfig(inbound("A", "u1"))
	require.NoError(t, s.AcceptConfiguration(context.Background(), descriptor("S1", digestOf("A", "u1")), cfg))

	cfg["inbounds"].([]any)[0].(map[string]any)["tag"] = "changed"

	assert.Equal(t, "A", xrayconfig.Inbounds(s.Config())[0].Tag)
}

func TestAddAndRemoveClient(t *testing.T) {
	s := acceptedStore(t)

	require.NoError(t, s.AddClient("A", map[string]any{"id": "u7", "email": "u7"}))
	assert.Equal(t, []string{"u1", "u2", "u7"}, xrayconfig.Inbounds(s.Config())[0].ClientIDs())

	require.NoError(t, s.RemoveClient("A", "u1"))
	assert.Equal(t, []string{"u2", "u7"}, xrayconfig.Inbounds(s.Config())[0].ClientIDs())

	assert.Error(t, s.AddClient("missing", map[string]any{"id": "x"}))
	assert.Error(t, NewStore(0).AddClient("A", map[string]any{"id": "x"}))
	assert.Error(t, NewStore(0).RemoveClient("A", "x"))
}

func TestDescribeConfig(t *testing.T) {
	cfg := engineConfig(inbound("A", "u1", "u2"), inbound("B", "u3"), inbound("C", "u9"))

	desc := DescribeConfig("S1", cfg, []string{"B", "A", "gone"})

	assert.Equal(t, descriptor("S1", digestOf("A", "u1", "u2"), digestOf("B", "u3")), desc)

	s := NewStore(0)
	require.NoError(t, s.AcceptConfiguration(context.Background(), desc, cfg))
	assert.False(t, s.NeedsRestart(desc))
}

func TestAcceptConfigurationReplacesPriorState(t *testing.T) {
	s := acceptedStore(t)
	s.AddUserToInbound("Z", "zz")

	desc := descriptor("S2", digestOf("B", "u4"))
	err := s.AcceptConfiguration(context.Background(), desc, engineConfig(inbound("B", "u4")))
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, s.InboundTags())
	assert.Equal(t, "S2", s.ShapeDigest())
	assert.Equal(t, hashset.Digest("u4"), s.Digests()["B"])
}

func TestAcceptConfigurationSkipsClientsWithoutID(t *testing.T) {
	s := NewStore(0)
	in := inbound("A", "u1")
	clients := in["settings"].(map[string]any)["clients"].([]any)
	in["settings"].(map[string]any)["clients"] = append(clients, map[string]any{"password": "p"})

	err := s.AcceptConfiguration(context.Background(), descriptor("S1", digestOf("A", "u1")), engineConfig(in))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"A": 1}, s.UserCounts())
}

func TestAcceptConfigurationNilDescriptor(t *testing.T) {
	s := NewStore(0)

	err := s.AcceptConfiguration(context.Background(), nil, engineConfig())
	assert.Error(t, err)
}

func TestNeedsRestart(t *testing.T) {
	tests := []struct {
		name     string
		incoming *types.ChangeDescriptor
		want     bool
	}{
		{
			name:     "identical descriptor",
			incoming: descriptor("S1", digestOf("A", "u1", "u2"), digestOf("B", "u3")),
			want:     false,
		},
		{
			name:     "inbound order does not matter",
			incoming: descriptor("S1", digestOf("B", "u3"), digestOf("A", "u2", "u1")),
			want:     false,
		},
		{
			name:     "shape digest changed",
			incoming: descriptor("S2", digestOf("A", "u1", "u2"), digestOf("B", "u3")),
			want:     true,
		},
		{
			name:     "inbound count changed",
			incoming: descriptor("S1", digestOf("A", "u1", "u2")),
			want:     true,
		},
		{
			name:     "inbound renamed",
			incoming: descriptor("S1", digestOf("A", "u1", "u2"), digestOf("C", "u3")),
			want:     true,
		},
		{
			name:     "user set changed",
			incoming: descriptor("S1", digestOf("A", "u1"), digestOf("B", "u3")),
			want:     true,
		},
		{
			name:     "nil descriptor",
			incoming: nil,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := acceptedStore(t)
			assert.Equal(t, tt.want, s.NeedsRestart(tt.incoming))
		})
	}
}

func TestNeedsRestartBeforeAccept(t *testing.T) {
	s := NewStore(0)
	assert.True(t, s.NeedsRestart(descriptor("S1")))
}

// TestIncrementalDriftIsDetected covers a node that receives a user
// incrementally and then a descriptor computed without that user.
func TestIncrementalDriftIsDetected(t *testing.T) {
	s := NewStore(0)
	desc := descriptor("S1", digestOf("A", "u1"))
	require.NoError(t, s.AcceptConfiguration(context.Background(), desc, engineConfig(inbound("A", "u1"))))

	s.AddUserToInbound("A", "u2")
	assert.True(t, s.NeedsRestart(desc))

	// The control plane catches up
	assert.False(t, s.NeedsRestart(descriptor("S1", digestOf("A", "u1", "u2"))))

	// Removing the user again makes the original descriptor current
	s.RemoveUserFromInbound("A", "u2")
	assert.False(t, s.NeedsRestart(desc))
}

func TestAddUserToInboundCreatesTracking(t *testing.T) {
	s := NewStore(0)

	s.AddUserToInbound("A", "u1")
	s.AddUserToInbound("A", "u1")

	assert.Equal(t, []string{"A"}, s.InboundTags())
	assert.Equal(t, map[string]int{"A": 1}, s.UserCounts())
	assert.Equal(t, hashset.Digest("u1"), s.Digests()["A"])
}

func TestRemoveUserFromInbound(t *testing.T) {
	s := acceptedStore(t)

	// Unknown tag and unknown user are no-ops
	s.RemoveUserFromInbound("missing", "u1")
	s.RemoveUserFromInbound("A", "nobody")
	assert.Equal(t, []string{"A", "B"}, s.InboundTags())

	s.RemoveUserFromInbound("A", "u1")
	assert.Equal(t, hashset.Digest("u2"), s.Digests()["A"])

	// Draining the last member drops the tag
	s.RemoveUserFromInbound("B", "u3")
	assert.Equal(t, []string{"A"}, s.InboundTags())
}

func TestEnsureInbound(t *testing.T) {
	s := NewStore(0)

	assert.True(t, s.EnsureInbound("A"))
	assert.False(t, s.EnsureInbound("A"))

	assert.Equal(t, []string{"A"}, s.InboundTags())
	assert.Equal(t, hashset.EmptyDigest, s.Digests()["A"])

	// An ensured empty inbound survives a no-op removal
	s.RemoveUserFromInbound("A", "u1")
	assert.Equal(t, []string{"A"}, s.InboundTags())
}

func TestReset(t *testing.T) {
	s := acceptedStore(t)

	s.Reset()

	assert.Empty(t, s.InboundTags())
	assert.Empty(t, s.ShapeDigest())
	assert.Equal(t, xrayconfig.Config{}, s.Config())
	assert.True(t, s.NeedsRestart(descriptor("S1", digestOf("A", "u1", "u2"), digestOf("B", "u3"))))
}

func TestConcurrentMutations(t *testing.T) {
	s := NewStore(0)
	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("user-%d-%d", w, i)
				s.AddUserToInbound("A", id)
				_ = s.NeedsRestart(descriptor("S1"))
				_ = s.Digests()
			}
		}(w)
	}
	wg.Wait()

	ids := make([]string, 0, workers*perWorker)
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			ids = append(ids, fmt.Sprintf("user-%d-%d", w, i))
		}
	}

	assert.Equal(t, workers*perWorker, s.UserCounts()["A"])
	assert.Equal(t, hashset.Digest(ids...), s.Digests()["A"])
}

func BenchmarkAcceptConfiguration(b *testing.B) {
	var inbounds []map[string]any
	var digests []types.InboundDigest
	for i := 0; i < 8; i++ {
		ids := make([]string, 2000)
		for j := range ids {
			ids[j] = fmt.Sprintf("%d-%d", i, j)
		}
		tag := fmt.Sprintf("in-%d", i)
		inbounds = append(inbounds, inbound(tag, ids...))
		digests = append(digests, types.InboundDigest{Tag: tag})
	}
	cfg := engineConfig(inbounds...)
	desc := descriptor("S1", digests...)
	s := NewStore(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.AcceptConfiguration(context.Background(), desc, cfg)
	}
}
