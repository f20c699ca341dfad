package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/xnode/pkg/engine"
	"github.com/cuemby/xnode/pkg/state"
	"github.com/cuemby/xnode/pkg/types"
	"github.com/cuemby/xnode/pkg/xrayconfig"
)

// ErrNoConfigEntry is returned for accounts the engine configuration
// keeps outside settings.clients
var ErrNoConfigEntry = errors.New("account has no clients entry")

// Restarter restarts the engine with a full configuration
type Restarter interface {
	StartEngine(ctx context.Context, req engine.StartRequest) engine.StartResult
}

// SetRestarter enables the restart fallback. Mutations the engine cannot
// apply live are written into a copy of the accepted configuration and
// the engine is restarted with it through r.
func (m *Mutator) SetRestarter(r Restarter) {
	m.restarter = r
}

// configEdit changes one inbound of a configuration in place
type configEdit func(cfg xrayconfig.Config) error

// liveUnavailable reports whether err means the engine has no live path
// for a user mutation: the RPC is not implemented or the inbound's proxy
// does not manage users.
func liveUnavailable(err error) bool {
	if err == nil {
		return false
	}
	st, _ := status.FromError(err)
	if st.Code() == codes.Unimplemented {
		return true
	}
	return strings.Contains(err.Error(), "not a UserManager")
}

// deferAdd returns the edit that adds u to the configuration when the
// live add failed with err and the fallback can take over
func (m *Mutator) deferAdd(err error, u types.InboundUser, identity string) (configEdit, bool) {
	if m.restarter == nil || !liveUnavailable(err) {
		return nil, false
	}
	client, cerr := clientEntry(u, identity)
	if cerr != nil {
		return nil, false
	}
	return func(cfg xrayconfig.Config) error {
		return xrayconfig.AddClient(cfg, u.Tag, client)
	}, true
}

// deferRemove returns the edit that drops the user matching keys from
// tag when the live remove failed with err
func (m *Mutator) deferRemove(err error, tag string, keys ...string) (configEdit, bool) {
	if m.restarter == nil || !liveUnavailable(err) {
		return nil, false
	}
	return func(cfg xrayconfig.Config) error {
		return xrayconfig.RemoveClient(cfg, tag, keys...)
	}, true
}

// flush applies the deferred edits through one restart and records the
// outcome once per edit
func (m *Mutator) flush(ctx context.Context, out *outcome, edits []configEdit) {
	if len(edits) == 0 {
		return
	}
	err := m.rebuild(ctx, out.op, edits)
	for range edits {
		out.record(err)
	}
}

// rebuild applies edits to a copy of the accepted configuration and
// force-restarts the engine with it. The descriptor is derived from the
// edited configuration, so the store ends up tracking exactly what the
// engine runs.
func (m *Mutator) rebuild(ctx context.Context, op string, edits []configEdit) error {
	shape := m.store.ShapeDigest()
	if shape == "" {
		return fmt.Errorf("cannot rebuild engine config: no configuration accepted")
	}

	cfg := m.store.Config()
	for _, edit := range edits {
		if err := edit(cfg); err != nil {
			return fmt.Errorf("cannot rebuild engine config: %w", err)
		}
	}
	desc := state.DescribeConfig(shape, cfg, m.store.InboundTags())

	m.logger.Warn().
		Str("operation", op).
		Int("changes", len(edits)).
		Msg("Engine cannot apply changes live, restarting with updated configuration")

	result := m.restarter.StartEngine(ctx, engine.StartRequest{
		Config:       cfg,
		ClientIP:     "local",
		Descriptor:   desc,
		ForceRestart: true,
	})
	if result.Err != nil {
		return fmt.Errorf("restart with updated configuration failed: %w", result.Err)
	}
	return nil
}

// track records a live-added user in the store's sets and configuration
func (m *Mutator) track(u types.InboundUser, identity string) {
	m.store.AddUserToInbound(u.Tag, identity)

	client, err := clientEntry(u, identity)
	if err != nil {
		return
	}
	if err := m.store.AddClient(u.Tag, client); err != nil {
		m.logger.Debug().Err(err).Str("inbound_tag", u.Tag).Msg("User not recorded in stored configuration")
	}
}

// untrack drops a user from the store's sets and configuration
func (m *Mutator) untrack(tag, username, identity string) {
	m.store.RemoveUserFromInbound(tag, identity)
	if err := m.store.RemoveClient(tag, username, identity); err != nil {
		m.logger.Debug().Err(err).Str("inbound_tag", tag).Msg("User not removed from stored configuration")
	}
}

// clientEntry renders u as an element of settings.clients. The id is the
// value the store tracks for the user: the UUID for VLESS and the
// identity hash otherwise.
func clientEntry(u types.InboundUser, identity string) (map[string]any, error) {
	client := map[string]any{
		"email": u.Username,
		"level": u.Level,
		"id":    identity,
	}

	switch acct := u.Account.(type) {
	case types.VlessAccount:
		client["id"] = acct.UUID
		if acct.Flow != types.VlessFlowNone {
			client["flow"] = string(acct.Flow)
		}
	case types.TrojanAccount:
		client["password"] = acct.Password
	case types.ShadowsocksAccount:
		client["password"] = acct.Password
		client["method"] = acct.Cipher.Method()
		client["ivCheck"] = acct.IVCheck
	case types.Shadowsocks2022Account:
		client["password"] = acct.Key
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoConfigEntry, protocolOf(u.Account))
	}

	if id, _ := client["id"].(string); id == "" {
		return nil, fmt.Errorf("user %s has no identity", u.Username)
	}
	return client, nil
}
