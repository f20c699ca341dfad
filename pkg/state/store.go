package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/xnode/pkg/hashset"
	"github.com/cuemby/xnode/pkg/log"
	"github.com/cuemby/xnode/pkg/types"
	"github.com/cuemby/xnode/pkg/xrayconfig"
)

// DefaultConcurrency bounds the number of inbounds extracted in parallel
const DefaultConcurrency = 4

// Store is the single source of truth for what the engine currently
// holds: the last accepted configuration, its shape digest, and one
// hashed user set per inbound.
//
// Every mutation runs under mu. The lock is never held across an RPC.
type Store struct {
	mu          sync.RWMutex
	config      xrayconfig.Config
	shapeDigest string
	inbounds    map[string]*hashset.Set

	concurrency int
	logger      zerolog.Logger
}

// NewStore creates an empty store. concurrency bounds the extraction
// fan-out of AcceptConfiguration; values below 1 use DefaultConcurrency.
func NewStore(concurrency int) *Store {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Store{
		inbounds:    make(map[string]*hashset.Set),
		concurrency: concurrency,
		logger:      log.WithComponent("state"),
	}
}

// AcceptConfiguration replaces all tracked state with cfg. For every
// inbound named in both the descriptor and cfg, a fresh user set is built
// from the inbound's client ids.
func (s *Store) AcceptConfiguration(ctx context.Context, desc *types.ChangeDescriptor, cfg xrayconfig.Config) error {
	if desc == nil {
		return fmt.Errorf("accept configuration: change descriptor is missing")
	}

	start := time.Now()
	wanted := desc.Tags()

	var targets []xrayconfig.Inbound
	for _, in := range xrayconfig.Inbounds(cfg) {
		if _, ok := wanted[in.Tag]; ok {
			targets = append(targets, in)
		}
	}

	// Each inbound is independent, so the sets are built by a bounded
	// pool and merged afterwards.
	sets := make([]*hashset.Set, len(targets))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, in := range targets {
		g.Go(func() error {
			sets[i] = hashset.New(in.ClientIDs()...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to extract users: %w", err)
	}

	inbounds := make(map[string]*hashset.Set, len(targets))
	for i, in := range targets {
		if existing, dup := inbounds[in.Tag]; dup {
			// Duplicate tags in one config merge into one set
			for _, id := range sets[i].Members() {
				existing.Add(id)
			}
			continue
		}
		inbounds[in.Tag] = sets[i]
	}

	s.mu.Lock()
	s.config = xrayconfig.Clone(cfg)
	s.shapeDigest = desc.ShapeDigest
	s.inbounds = inbounds
	s.mu.Unlock()

	for tag, set := range inbounds {
		s.logger.Info().
			Str("inbound_tag", tag).
			Int("users", set.Size()).
			Msg("Inbound users extracted")
	}
	s.logger.Info().
		Int("inbounds", len(inbounds)).
		Dur("took", time.Since(start)).
		Msg("User extraction completed")

	return nil
}

// NeedsRestart reports whether desc differs from the tracked state in a
// way that requires restarting the engine. It stops at the first
// mismatch.
func (s *Store) NeedsRestart(desc *types.ChangeDescriptor) bool {
	start := time.Now()
	defer func() {
		s.logger.Debug().Dur("took", time.Since(start)).Msg("Configuration hash check completed")
	}()

	if desc == nil {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shapeDigest == "" {
		s.logger.Info().Msg("No configuration accepted yet")
		return true
	}

	if desc.ShapeDigest != s.shapeDigest {
		s.logger.Info().Msg("Detected changes in base configuration")
		return true
	}

	if len(desc.Inbounds) != len(s.inbounds) {
		s.logger.Info().
			Int("tracked", len(s.inbounds)).
			Int("incoming", len(desc.Inbounds)).
			Msg("Number of inbounds has changed")
		return true
	}

	for _, incoming := range desc.Inbounds {
		set, ok := s.inbounds[incoming.Tag]
		if !ok {
			s.logger.Info().Str("inbound_tag", incoming.Tag).Msg("Inbound is not tracked")
			return true
		}
		if set.Digest() != incoming.Hash {
			s.logger.Info().
				Str("inbound_tag", incoming.Tag).
				Str("local", set.Digest()).
				Str("incoming", incoming.Hash).
				Msg("User set changed for inbound")
			return true
		}
	}

	s.logger.Info().Msg("Configuration is up-to-date, no restart required")
	return false
}

// EnsureInbound starts tracking tag with an empty set if it is unseen.
// It reports whether a new entry was created.
func (s *Store) EnsureInbound(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbounds[tag]; ok {
		return false
	}
	s.inbounds[tag] = hashset.New()
	return true
}

// AddUserToInbound adds id to the set of tag, creating the set if the
// tag is not tracked yet.
func (s *Store) AddUserToInbound(tag, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.inbounds[tag]
	if !ok {
		s.logger.Warn().Str("inbound_tag", tag).Msg("Inbound not tracked, creating new entry")
		set = hashset.New()
		s.inbounds[tag] = set
	}
	set.Add(id)
}

// RemoveUserFromInbound removes id from the set of tag. A set drained to
// zero members by this call stops being tracked.
func (s *Store) RemoveUserFromInbound(tag, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.inbounds[tag]
	if !ok {
		return
	}
	if set.Remove(id) && set.Size() == 0 {
		delete(s.inbounds, tag)
		s.logger.Info().Str("inbound_tag", tag).Msg("Inbound has no users left, dropped from tracking")
	}
}

// AddClient records client in settings.clients of the accepted
// configuration so a later rebuild from Config carries it. It fails when
// nothing is accepted or the configuration has no inbound tagged tag.
func (s *Store) AddClient(tag string, client map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return fmt.Errorf("no configuration accepted")
	}
	return xrayconfig.AddClient(s.config, tag, client)
}

// RemoveClient drops the clients matching any of keys by id or email
// from the accepted configuration of tag
func (s *Store) RemoveClient(tag string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return fmt.Errorf("no configuration accepted")
	}
	return xrayconfig.RemoveClient(s.config, tag, keys...)
}

// InboundTags returns the tracked inbound tags in sorted order
func (s *Store) InboundTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]string, 0, len(s.inbounds))
	for tag := range s.inbounds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Digests returns the current digest of every tracked inbound
func (s *Store) Digests() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.inbounds))
	for tag, set := range s.inbounds {
		out[tag] = set.Digest()
	}
	return out
}

// UserCounts returns the number of users tracked per inbound
func (s *Store) UserCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.inbounds))
	for tag, set := range s.inbounds {
		out[tag] = set.Size()
	}
	return out
}

// Config returns a deep copy of the last accepted configuration, or an
// empty object. Callers may modify the result freely.
func (s *Store) Config() xrayconfig.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return xrayconfig.Config{}
	}
	return xrayconfig.Clone(s.config)
}

// ShapeDigest returns the shape digest of the accepted configuration
func (s *Store) ShapeDigest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shapeDigest
}

// Reset clears all tracked state and the stored configuration
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = nil
	s.shapeDigest = ""
	s.inbounds = make(map[string]*hashset.Set)
	s.logger.Info().Msg("State store reset")
}

// DescribeConfig builds the change descriptor of cfg under shape for the
// inbounds named in tags. Tags cfg does not declare are left out, so
// accepting cfg under the result and checking NeedsRestart with the same
// descriptor reports false.
func DescribeConfig(shape string, cfg xrayconfig.Config, tags []string) *types.ChangeDescriptor {
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}

	sets := make(map[string]*hashset.Set)
	for _, in := range xrayconfig.Inbounds(cfg) {
		if _, ok := wanted[in.Tag]; !ok {
			continue
		}
		set, ok := sets[in.Tag]
		if !ok {
			set = hashset.New()
			sets[in.Tag] = set
		}
		for _, id := range in.ClientIDs() {
			set.Add(id)
		}
	}

	desc := &types.ChangeDescriptor{
		ShapeDigest: shape,
		Inbounds:    make([]types.InboundDigest, 0, len(sets)),
	}
	for tag, set := range sets {
		desc.Inbounds = append(desc.Inbounds, types.InboundDigest{
			Tag:       tag,
			Hash:      set.Digest(),
			UserCount: set.Size(),
		})
	}
	sort.Slice(desc.Inbounds, func(i, j int) bool {
		return desc.Inbounds[i].Tag < desc.Inbounds[j].Tag
	})
	return desc
}
