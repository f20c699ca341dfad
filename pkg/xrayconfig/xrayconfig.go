package xrayconfig

import (
	"encoding/json"
	"fmt"
)

// Config is an engine configuration as received from the control plane
type Config = map[string]any

const (
	// APITag is the tag of the injected admin inbound, outbound and routing rule
	APITag = "api"

	// APIServiceTag names the api section of the engine
	APIServiceTag = "XNODE_API"
)

// Inbound is the subset of an inbound definition the node inspects
type Inbound struct {
	Tag      string
	Protocol string
	Raw      map[string]any
}

// WithAPI returns a copy of cfg with the admin API, stats and policy
// sections installed. The api inbound listens on apiHost:apiPort, is
// prepended to the inbounds, and a routing rule sending it to the api
// outbound is prepended to the routing rules. cfg itself is not modified.
//
// An api inbound or api routing rule already present in cfg is replaced,
// so a configuration read back from the store can be fed in again.
func WithAPI(cfg Config, apiHost string, apiPort int) Config {
	out := make(Config, len(cfg)+4)
	for k, v := range cfg {
		out[k] = v
	}

	out["stats"] = map[string]any{}
	out["policy"] = map[string]any{
		"levels": map[string]any{
			"0": map[string]any{
				"statsUserUplink":   true,
				"statsUserDownlink": true,
				"statsUserOnline":   false,
			},
		},
		"system": map[string]any{
			"statsInboundDownlink":  true,
			"statsInboundUplink":    true,
			"statsOutboundDownlink": true,
			"statsOutboundUplink":   true,
		},
	}
	out["api"] = map[string]any{
		"services": []any{"HandlerService", "StatsService", "RoutingService"},
		"listen":   fmt.Sprintf("%s:%d", apiHost, apiPort),
		"tag":      APIServiceTag,
	}

	routing := map[string]any{}
	if r, ok := cfg["routing"].(map[string]any); ok {
		for k, v := range r {
			routing[k] = v
		}
	}
	rules := []any{map[string]any{
		"type":        "field",
		"inboundTag":  []any{APITag},
		"outboundTag": APITag,
	}}
	if existing, ok := routing["rules"].([]any); ok {
		for _, r := range existing {
			if !isAPIRule(r) {
				rules = append(rules, r)
			}
		}
	}
	routing["rules"] = rules
	out["routing"] = routing

	inbounds := []any{map[string]any{
		"tag":      APITag,
		"port":     apiPort,
		"listen":   apiHost,
		"protocol": "dokodemo-door",
		"settings": map[string]any{"address": apiHost},
	}}
	if existing, ok := cfg["inbounds"].([]any); ok {
		for _, in := range existing {
			if m, ok := in.(map[string]any); ok && m["tag"] == APITag {
				continue
			}
			inbounds = append(inbounds, in)
		}
	}
	out["inbounds"] = inbounds

	return out
}

func isAPIRule(r any) bool {
	m, ok := r.(map[string]any)
	if !ok || m["outboundTag"] != APITag {
		return false
	}
	tags, ok := m["inboundTag"].([]any)
	return ok && len(tags) == 1 && tags[0] == APITag
}

// Clone returns a deep copy of cfg. Nested objects and arrays are copied,
// scalars are shared.
func Clone(cfg Config) Config {
	if cfg == nil {
		return nil
	}
	return cloneValue(cfg).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// AddClient appends client to settings.clients of every inbound tagged
// tag, replacing a client with the same id. cfg is modified in place.
// It fails when no inbound carries tag.
func AddClient(cfg Config, tag string, client map[string]any) error {
	id, _ := client["id"].(string)
	return editClients(cfg, tag, func(clients []any) []any {
		return append(withoutClient(clients, id), client)
	})
}

// RemoveClient drops every client whose id or email equals one of keys
// from settings.clients of the inbounds tagged tag. cfg is modified in
// place. It fails when no inbound carries tag.
func RemoveClient(cfg Config, tag string, keys ...string) error {
	return editClients(cfg, tag, func(clients []any) []any {
		return withoutClient(clients, keys...)
	})
}

func editClients(cfg Config, tag string, edit func([]any) []any) error {
	found := false
	for _, in := range Inbounds(cfg) {
		if in.Tag != tag {
			continue
		}
		found = true
		settings, ok := in.Raw["settings"].(map[string]any)
		if !ok {
			settings = map[string]any{}
			in.Raw["settings"] = settings
		}
		clients, _ := settings["clients"].([]any)
		settings["clients"] = edit(clients)
	}
	if !found {
		return fmt.Errorf("inbound %q not found in engine config", tag)
	}
	return nil
}

func withoutClient(clients []any, keys ...string) []any {
	out := make([]any, 0, len(clients))
	for _, c := range clients {
		if m, ok := c.(map[string]any); ok && matchesAny(m, keys) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchesAny(client map[string]any, keys []string) bool {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if client["id"] == k || client["email"] == k {
			return true
		}
	}
	return false
}

// Inbounds returns the tagged inbounds of cfg in declaration order.
// Entries that are not objects or have no tag are skipped.
func Inbounds(cfg Config) []Inbound {
	raw, ok := cfg["inbounds"].([]any)
	if !ok {
		return nil
	}

	out := make([]Inbound, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tag, _ := m["tag"].(string)
		if tag == "" {
			continue
		}
		protocol, _ := m["protocol"].(string)
		out = append(out, Inbound{Tag: tag, Protocol: protocol, Raw: m})
	}
	return out
}

// ClientIDs returns the identity of every client declared in the
// inbound's settings.clients. Clients without a string id are skipped.
func (in Inbound) ClientIDs() []string {
	settings, ok := in.Raw["settings"].(map[string]any)
	if !ok {
		return nil
	}
	clients, ok := settings["clients"].([]any)
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		client, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := client["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Parse decodes a JSON configuration object
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("engine config must be a JSON object")
	}
	return cfg, nil
}
