package handler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/xnode/pkg/contract"
	"github.com/cuemby/xnode/pkg/events"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/metrics"
)

// RouteBlocker installs and removes source address block rules on the
// running engine
type RouteBlocker interface {
	BlockIP(ctx context.Context, ip string) error
	UnblockIP(ctx context.Context, ip string) error
}

// Blocker blocks and unblocks client addresses. Rules live only in the
// running engine and are gone after a restart.
type Blocker struct {
	router RouteBlocker
	events events.Publisher
	logger zerolog.Logger
}

// NewBlocker creates a blocker
func NewBlocker(router RouteBlocker) *Blocker {
	return &Blocker{
		router: router,
		events: events.Discard,
		logger: log.WithComponent("vision"),
	}
}

// SetPublisher sends one event per finished request to p
func (b *Blocker) SetPublisher(p events.Publisher) {
	b.events = p
}

// BlockIP routes all traffic from req.IP to the block outbound
func (b *Blocker) BlockIP(ctx context.Context, req contract.IPRequest) MutationResult {
	return b.apply(ctx, "block_ip", req, b.router.BlockIP, events.EventIPBlocked)
}

// UnblockIP removes the block rule of req.IP
func (b *Blocker) UnblockIP(ctx context.Context, req contract.IPRequest) MutationResult {
	return b.apply(ctx, "unblock_ip", req, b.router.UnblockIP, events.EventIPUnblocked)
}

func (b *Blocker) apply(ctx context.Context, op string, req contract.IPRequest,
	call func(context.Context, string) error, done events.EventType) MutationResult {
	err := req.Validate()
	if err == nil {
		err = call(ctx, req.IP)
	}

	event := &events.Event{
		Type:     done,
		Message:  op + " applied",
		Metadata: map[string]string{"ip": req.IP, "username": req.Username},
	}
	if err != nil {
		b.logger.Error().Err(err).Str("operation", op).Str("ip", req.IP).Str("username", req.Username).Msg("IP rule failed")
		metrics.IPRulesTotal.WithLabelValues(op, "failed").Inc()
		event.Type = events.EventIPRuleFailed
		event.Message = err.Error()
		b.events.Publish(event)
		return MutationResult{Err: err}
	}

	b.logger.Info().Str("operation", op).Str("ip", req.IP).Str("username", req.Username).Msg("IP rule applied")
	metrics.IPRulesTotal.WithLabelValues(op, "succeeded").Inc()
	b.events.Publish(event)
	return MutationResult{Success: true}
}
