package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/xnode/pkg/contract"
	"github.com/cuemby/xnode/pkg/events"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/metrics"
	"github.com/cuemby/xnode/pkg/types"
	"github.com/cuemby/xnode/pkg/xrayconfig"
)

// ErrNoUsers is returned for an add request without users
var ErrNoUsers = errors.New("no users to add")

// MutationError reports that every dispatch of a mutation failed. It
// carries the first failure.
type MutationError struct {
	Operation string
	Failed    int
	First     error
}

func (e *MutationError) Error() string {
	return e.First.Error()
}

func (e *MutationError) Unwrap() error {
	return e.First
}

// EngineAdmin is the part of the engine admin API that mutates users
type EngineAdmin interface {
	AddVlessUser(ctx context.Context, tag, username string, level uint32, acct types.VlessAccount) error
	AddTrojanUser(ctx context.Context, tag, username string, level uint32, acct types.TrojanAccount) error
	AddShadowsocksUser(ctx context.Context, tag, username string, level uint32, acct types.ShadowsocksAccount) error
	AddShadowsocks2022User(ctx context.Context, tag, username string, level uint32, acct types.Shadowsocks2022Account) error
	AddSocksUser(ctx context.Context, tag, username string, level uint32, acct types.SocksAccount) error
	AddHTTPUser(ctx context.Context, tag, username string, level uint32, acct types.HTTPAccount) error
	RemoveUser(ctx context.Context, tag, username string) error
	GetInboundUsers(ctx context.Context, tag string) ([]types.EngineUser, error)
	GetInboundUsersCount(ctx context.Context, tag string) (int64, error)
}

// StateStore is the part of the state store the mutator keeps in sync
type StateStore interface {
	EnsureInbound(tag string) bool
	AddUserToInbound(tag, id string)
	RemoveUserFromInbound(tag, id string)
	InboundTags() []string
	AddClient(tag string, client map[string]any) error
	RemoveClient(tag string, keys ...string) error
	Config() xrayconfig.Config
	ShapeDigest() string
}

// MutationResult is the outcome of a user mutation
type MutationResult struct {
	Success bool
	Err     error
}

// Response renders the result in its wire shape
func (r MutationResult) Response() contract.MutationResponse {
	return contract.MutationResponse{Success: r.Success, Error: contract.ErrorString(r.Err)}
}

// Mutator adds and removes users on the running engine without a
// restart, keeping the state store digests in step. With a Restarter
// set, changes the engine refuses live are applied by a restart.
type Mutator struct {
	admin     EngineAdmin
	store     StateStore
	restarter Restarter
	events    events.Publisher
	logger    zerolog.Logger
}

// New creates a mutator
func New(admin EngineAdmin, store StateStore) *Mutator {
	return &Mutator{
		admin:  admin,
		store:  store,
		events: events.Discard,
		logger: log.WithComponent("handler"),
	}
}

// SetPublisher sends one event per finished mutation to p
func (m *Mutator) SetPublisher(p events.Publisher) {
	m.events = p
}

// outcome collects per-item results of one mutation
type outcome struct {
	op        string
	succeeded int
	failed    int
	first     error
}

func (o *outcome) record(err error) {
	if err == nil {
		o.succeeded++
		return
	}
	o.failed++
	if o.first == nil {
		o.first = err
	}
}

// result aggregates the outcome: success unless every item failed
func (o *outcome) result(logger zerolog.Logger) MutationResult {
	if o.failed > 0 && o.succeeded == 0 {
		logger.Error().
			Err(o.first).
			Str("operation", o.op).
			Int("failed", o.failed).
			Msg("All dispatches failed")
		metrics.UserMutationsTotal.WithLabelValues(o.op, "failed").Inc()
		return MutationResult{Err: &MutationError{Operation: o.op, Failed: o.failed, First: o.first}}
	}

	if o.failed > 0 {
		logger.Warn().
			Err(o.first).
			Str("operation", o.op).
			Int("succeeded", o.succeeded).
			Int("failed", o.failed).
			Msg("Some dispatches failed")
		metrics.UserMutationsTotal.WithLabelValues(o.op, "partial").Inc()
	} else {
		metrics.UserMutationsTotal.WithLabelValues(o.op, "succeeded").Inc()
	}
	return MutationResult{Success: true}
}

// finish aggregates out and publishes the matching event
func (m *Mutator) finish(out *outcome) MutationResult {
	result := out.result(m.logger)

	event := &events.Event{
		Metadata: map[string]string{
			"operation": out.op,
			"succeeded": strconv.Itoa(out.succeeded),
			"failed":    strconv.Itoa(out.failed),
		},
	}
	switch {
	case !result.Success:
		event.Type = events.EventUsersFailed
		event.Message = result.Err.Error()
	case strings.HasPrefix(out.op, "remove"):
		event.Type = events.EventUsersRemoved
		event.Message = out.op + " applied"
	default:
		event.Type = events.EventUsersAdded
		event.Message = out.op + " applied"
	}
	m.events.Publish(event)

	return result
}

func (m *Mutator) recoverInternal(op string, result *MutationResult) {
	if r := recover(); r != nil {
		m.logger.Error().Interface("panic", r).Str("operation", op).Msg("User mutation panicked")
		metrics.UserMutationsTotal.WithLabelValues(op, "failed").Inc()
		*result = MutationResult{Err: contract.ErrInternal}
	}
}

// dispatch adds one user to one inbound through the protocol's RPC
func (m *Mutator) dispatch(ctx context.Context, u types.InboundUser) error {
	switch acct := u.Account.(type) {
	case types.VlessAccount:
		return m.admin.AddVlessUser(ctx, u.Tag, u.Username, u.Level, acct)
	case types.TrojanAccount:
		return m.admin.AddTrojanUser(ctx, u.Tag, u.Username, u.Level, acct)
	case types.ShadowsocksAccount:
		return m.admin.AddShadowsocksUser(ctx, u.Tag, u.Username, u.Level, acct)
	case types.Shadowsocks2022Account:
		return m.admin.AddShadowsocks2022User(ctx, u.Tag, u.Username, u.Level, acct)
	case types.SocksAccount:
		return m.admin.AddSocksUser(ctx, u.Tag, u.Username, u.Level, acct)
	case types.HTTPAccount:
		return m.admin.AddHTTPUser(ctx, u.Tag, u.Username, u.Level, acct)
	default:
		return fmt.Errorf("unsupported account type %T for user %s", u.Account, u.Username)
	}
}

// evict removes username from every tracked inbound and drops identity
// from the tracked sets. RPC failures are ignored: the user may simply
// not exist yet.
func (m *Mutator) evict(ctx context.Context, username, identity string) {
	for _, tag := range m.store.InboundTags() {
		logger := log.WithInbound(m.logger, tag)
		logger.Debug().Str("username", username).Msg("Removing user before add")
		if err := m.admin.RemoveUser(ctx, tag, username); err != nil {
			logger.Debug().Err(err).Str("username", username).Msg("User not present")
		}
		m.untrack(tag, username, identity)
	}
}

// AddUser adds one logical user to the inbounds listed in req. Any
// previous registration of the same user is removed first.
func (m *Mutator) AddUser(ctx context.Context, req contract.AddUserRequest) (result MutationResult) {
	const op = "add_user"
	defer m.recoverInternal(op, &result)

	if len(req.Users) == 0 {
		metrics.UserMutationsTotal.WithLabelValues(op, "failed").Inc()
		return MutationResult{Err: ErrNoUsers}
	}

	for _, u := range req.Users {
		if m.store.EnsureInbound(u.Tag) {
			logger := log.WithInbound(m.logger, u.Tag)
			logger.Debug().Msg("Tracking new inbound")
		}
	}

	m.evict(ctx, req.Users[0].Username, req.Identity.Stale())

	out := &outcome{op: op}
	var deferred []configEdit
	for _, u := range req.Users {
		logger := log.WithInbound(m.logger, u.Tag)
		logger.Debug().
			Str("username", u.Username).
			Str("protocol", protocolOf(u.Account)).
			Msg("Adding user")

		err := m.dispatch(ctx, u)
		if err == nil {
			m.track(u, req.Identity.Current)
		} else if edit, ok := m.deferAdd(err, u, req.Identity.Current); ok {
			logger.Info().Err(err).Str("username", u.Username).Msg("Live add unavailable, deferring to restart")
			deferred = append(deferred, edit)
			continue
		} else {
			logger.Warn().Err(err).Str("username", u.Username).Msg("Failed to add user")
		}
		out.record(err)
	}
	m.flush(ctx, out, deferred)

	return m.finish(out)
}

// RemoveUser removes username from every tracked inbound. With nothing
// tracked there is nothing to remove and no RPC is made.
func (m *Mutator) RemoveUser(ctx context.Context, req contract.RemoveUserRequest) (result MutationResult) {
	const op = "remove_user"
	defer m.recoverInternal(op, &result)

	tags := m.store.InboundTags()
	if len(tags) == 0 {
		metrics.UserMutationsTotal.WithLabelValues(op, "succeeded").Inc()
		return MutationResult{Success: true}
	}

	out := &outcome{op: op}
	var deferred []configEdit
	for _, tag := range tags {
		logger := log.WithInbound(m.logger, tag)
		logger.Debug().Str("username", req.Username).Msg("Removing user")

		err := m.admin.RemoveUser(ctx, tag, req.Username)
		if edit, ok := m.deferRemove(err, tag, req.Username, req.Identity.Current); ok {
			logger.Info().Err(err).Str("username", req.Username).Msg("Live remove unavailable, deferring to restart")
			deferred = append(deferred, edit)
			continue
		}
		m.untrack(tag, req.Username, req.Identity.Current)
		out.record(err)
	}
	m.flush(ctx, out, deferred)

	return m.finish(out)
}

// AddUsers adds a batch of users. Each user is first removed from every
// tracked inbound, then added to the inbounds listed for it.
func (m *Mutator) AddUsers(ctx context.Context, req contract.AddUsersRequest) (result MutationResult) {
	const op = "add_users"
	defer m.recoverInternal(op, &result)

	if len(req.Users) == 0 {
		metrics.UserMutationsTotal.WithLabelValues(op, "failed").Inc()
		return MutationResult{Err: ErrNoUsers}
	}

	for _, tag := range req.AffectedTags {
		m.store.EnsureInbound(tag)
	}

	m.logger.Info().
		Int("users", len(req.Users)).
		Strs("affected_tags", req.AffectedTags).
		Msg("Adding users in batch")

	out := &outcome{op: op}
	var deferred []configEdit
	items := 0
	for _, bu := range req.Users {
		username := bu.UserData.UserID
		identity := bu.UserData.VlessUUID

		m.evict(ctx, username, identity)

		for _, in := range bu.Inbounds {
			items++
			m.store.EnsureInbound(in.Tag)

			acct, err := batchAccount(in, bu.UserData)
			if err != nil {
				logger := log.WithInbound(m.logger, in.Tag)
				logger.Warn().Err(err).Str("username", username).Msg("Failed to add user")
				out.record(err)
				continue
			}
			u := types.InboundUser{Tag: in.Tag, Username: username, Account: acct}
			err = m.dispatch(ctx, u)
			if err == nil {
				m.track(u, identity)
			} else if edit, ok := m.deferAdd(err, u, identity); ok {
				deferred = append(deferred, edit)
				continue
			} else {
				logger := log.WithInbound(m.logger, in.Tag)
				logger.Warn().Err(err).Str("username", username).Msg("Failed to add user")
			}
			out.record(err)
		}
	}
	m.flush(ctx, out, deferred)

	m.logger.Info().
		Int("users", len(req.Users)).
		Int("items", items).
		Int("failed", out.failed).
		Msg("Batch add finished")

	if items == 0 {
		metrics.UserMutationsTotal.WithLabelValues(op, "succeeded").Inc()
		return MutationResult{Success: true}
	}
	return m.finish(out)
}

// RemoveUsers removes a batch of users from every tracked inbound
func (m *Mutator) RemoveUsers(ctx context.Context, req contract.RemoveUsersRequest) (result MutationResult) {
	const op = "remove_users"
	defer m.recoverInternal(op, &result)

	tags := m.store.InboundTags()
	m.logger.Info().
		Int("users", len(req.Users)).
		Int("inbounds", len(tags)).
		Msg("Removing users in batch")

	if len(tags) == 0 || len(req.Users) == 0 {
		metrics.UserMutationsTotal.WithLabelValues(op, "succeeded").Inc()
		return MutationResult{Success: true}
	}

	out := &outcome{op: op}
	var deferred []configEdit
	for _, u := range req.Users {
		for _, tag := range tags {
			err := m.admin.RemoveUser(ctx, tag, u.UserID)
			if edit, ok := m.deferRemove(err, tag, u.UserID, u.HashUUID); ok {
				deferred = append(deferred, edit)
				continue
			}
			m.untrack(tag, u.UserID, u.HashUUID)
			out.record(err)
		}
	}
	m.flush(ctx, out, deferred)

	m.logger.Info().
		Int("users", len(req.Users)).
		Int("failed", out.failed).
		Msg("Batch remove finished")

	return m.finish(out)
}

// GetInboundUsers lists the users the engine holds for tag
func (m *Mutator) GetInboundUsers(ctx context.Context, tag string) ([]types.EngineUser, error) {
	users, err := m.admin.GetInboundUsers(ctx, tag)
	if err != nil {
		logger := log.WithInbound(m.logger, tag)
		logger.Warn().Err(err).Msg("Failed to list inbound users")
		return nil, err
	}
	return users, nil
}

// GetInboundUsersCount counts the users the engine holds for tag
func (m *Mutator) GetInboundUsersCount(ctx context.Context, tag string) (int64, error) {
	count, err := m.admin.GetInboundUsersCount(ctx, tag)
	if err != nil {
		logger := log.WithInbound(m.logger, tag)
		logger.Warn().Err(err).Msg("Failed to count inbound users")
		return 0, err
	}
	return count, nil
}

// batchAccount derives the account for one inbound of a batch user
func batchAccount(in contract.BatchInbound, data contract.BatchUserData) (types.Account, error) {
	switch in.Protocol {
	case types.ProtocolVless:
		return types.VlessAccount{UUID: data.VlessUUID, Flow: in.Flow}, nil
	case types.ProtocolTrojan:
		return types.TrojanAccount{Password: data.TrojanPassword}, nil
	case types.ProtocolShadowsocks:
		return types.ShadowsocksAccount{
			Password: data.SSPassword,
			Cipher:   types.CipherChaCha20Poly1305,
			IVCheck:  false,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported batch inbound type %q", in.Protocol)
	}
}

func protocolOf(acct types.Account) string {
	if acct == nil {
		return ""
	}
	return string(acct.Protocol())
}
