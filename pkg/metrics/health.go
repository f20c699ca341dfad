package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is a point-in-time view of the registered components
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// CriticalComponents must be registered and healthy for the node to be ready
var CriticalComponents = []string{"engine", "supervisor", "api"}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// Registry holds the last reported health of each component
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewRegistry creates a registry that is ready once every critical
// component reports healthy
func NewRegistry(critical ...string) *Registry {
	return &Registry{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

// DefaultRegistry is the registry behind the package-level functions
var DefaultRegistry = NewRegistry(CriticalComponents...)

// SetVersion sets the version reported with every status
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Set records the health of name, registering it if needed
func (r *Registry) Set(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Component returns the last report for name
func (r *Registry) Component(name string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Uptime returns the time since the registry was created
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Health reports every registered component. The status is unhealthy
// if any component is.
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(r.components)),
		Version:    r.version,
		Uptime:     r.Uptime().String(),
	}
	for name, comp := range r.components {
		if comp.Healthy {
			status.Components[name] = "healthy"
			continue
		}
		status.Status = "unhealthy"
		status.Components[name] = "unhealthy: " + comp.Message
	}
	return status
}

// Readiness reports the critical components only. Message names the
// first one, in critical order, that is missing or unhealthy.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Status:     "ready",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(r.critical)),
		Version:    r.version,
		Uptime:     r.Uptime().String(),
	}
	for _, name := range r.critical {
		comp, ok := r.components[name]
		switch {
		case !ok:
			status.Components[name] = "not registered"
			r.notReady(&status, "waiting for "+name+" initialization")
		case !comp.Healthy:
			status.Components[name] = "not ready: " + comp.Message
			r.notReady(&status, "waiting for "+name)
		default:
			status.Components[name] = "ready"
		}
	}
	return status
}

func (r *Registry) notReady(status *HealthStatus, message string) {
	if status.Status == "ready" {
		status.Message = message
	}
	status.Status = "not_ready"
}

// Unhealthy returns the sorted names of unhealthy components
func (r *Registry) Unhealthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, comp := range r.components {
		if !comp.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SetVersion sets the version on the default registry
func SetVersion(version string) {
	DefaultRegistry.SetVersion(version)
}

// RegisterComponent records a component on the default registry
func RegisterComponent(name string, healthy bool, message string) {
	DefaultRegistry.Set(name, healthy, message)
}

// UpdateComponent updates a component on the default registry
func UpdateComponent(name string, healthy bool, message string) {
	DefaultRegistry.Set(name, healthy, message)
}

// GetHealth returns the default registry's health
func GetHealth() HealthStatus {
	return DefaultRegistry.Health()
}

// GetReadiness returns the default registry's readiness
func GetReadiness() HealthStatus {
	return DefaultRegistry.Readiness()
}

// LivenessHandler answers 200 for as long as the process serves requests
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": DefaultRegistry.Uptime().String(),
		})
	}
}
