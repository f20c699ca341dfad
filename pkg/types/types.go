package types

import (
	"errors"
	"fmt"
)

// InboundDigest is the control plane's view of one inbound's user set
type InboundDigest struct {
	Tag       string `json:"tag"`
	Hash      string `json:"hash"`
	UserCount int    `json:"usersCount"`
}

// ChangeDescriptor summarizes a configuration without its user lists.
// It travels with every start request.
type ChangeDescriptor struct {
	// ShapeDigest hashes the configuration with all user data stripped
	ShapeDigest string `json:"emptyConfig"`

	// Inbounds holds one digest per inbound that carries users
	Inbounds []InboundDigest `json:"inbounds"`
}

// Validate checks that the descriptor is usable for restart decisions
func (d *ChangeDescriptor) Validate() error {
	if d == nil {
		return errors.New("change descriptor is missing")
	}
	if d.ShapeDigest == "" {
		return errors.New("change descriptor has no shape digest")
	}

	seen := make(map[string]struct{}, len(d.Inbounds))
	for i, in := range d.Inbounds {
		if in.Tag == "" {
			return fmt.Errorf("change descriptor inbound %d has no tag", i)
		}
		if _, dup := seen[in.Tag]; dup {
			return fmt.Errorf("change descriptor inbound %q listed twice", in.Tag)
		}
		seen[in.Tag] = struct{}{}
	}

	return nil
}

// Lookup returns the digest reported for tag
func (d *ChangeDescriptor) Lookup(tag string) (InboundDigest, bool) {
	for _, in := range d.Inbounds {
		if in.Tag == tag {
			return in, true
		}
	}
	return InboundDigest{}, false
}

// Tags returns the inbound tags named by the descriptor
func (d *ChangeDescriptor) Tags() map[string]struct{} {
	tags := make(map[string]struct{}, len(d.Inbounds))
	for _, in := range d.Inbounds {
		tags[in.Tag] = struct{}{}
	}
	return tags
}

// EngineState represents the lifecycle state of the engine process
type EngineState string

const (
	EngineStateOffline  EngineState = "offline"
	EngineStateStarting EngineState = "starting"
	EngineStateOnline   EngineState = "online"
	EngineStateFailed   EngineState = "failed"
)

// AllEngineStates lists every state, used to reset state gauges
var AllEngineStates = []EngineState{
	EngineStateOffline,
	EngineStateStarting,
	EngineStateOnline,
	EngineStateFailed,
}

// SystemInfo describes the host the node runs on
type SystemInfo struct {
	CPUCores    int    `json:"cpuCores"`
	CPUModel    string `json:"cpuModel"`
	MemoryTotal string `json:"memoryTotal"`
}

// IdentityHashes identifies a logical user in the state store.
// Previous is set when the user's credential was rotated.
type IdentityHashes struct {
	Current  string `json:"vlessUuid"`
	Previous string `json:"prevVlessUuid,omitempty"`
}

// Stale returns the identity that must be removed before re-adding
func (h IdentityHashes) Stale() string {
	if h.Previous != "" {
		return h.Previous
	}
	return h.Current
}

// InboundUser is one user to add to one inbound
type InboundUser struct {
	Tag      string
	Username string
	Level    uint32
	Account  Account
}

// EngineUser is a user as reported back by the engine
type EngineUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Level    uint32 `json:"level"`
}
