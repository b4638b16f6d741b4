package routing

import (
	"sort"
	"sync"

	"github.com/jbctechsolutions/mizan/config"
)

// Registry is the single source of truth for backend profiles, health, and
// rolling latency. All readers receive snapshots; mutation happens only
// through the Update/Record methods. Updates for one backend are serialized
// by that backend's own lock, so unrelated backends never contend.
type Registry struct {
	alpha            float64
	failureThreshold int

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu            sync.Mutex
	profile       BackendProfile
	failureStreak int
}

// NewRegistry returns an empty Registry. alpha is the exponential-moving-
// average weight for latency samples; failureThreshold is the number of
// consecutive failures that flips a backend unavailable.
func NewRegistry(alpha float64, failureThreshold int) *Registry {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Registry{
		alpha:            alpha,
		failureThreshold: failureThreshold,
		entries:          make(map[string]*registryEntry),
	}
}

// NewRegistryFromConfig builds a Registry pre-populated with every backend
// in the configuration catalogue, all marked available.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	r := NewRegistry(cfg.Defaults.LatencyAlpha, cfg.Defaults.FailureThreshold)
	for id, b := range cfg.Backends {
		r.Register(BackendProfile{
			ID:             id,
			Strengths:      b.Strengths,
			MaxInputTokens: b.MaxInputTokens,
			AvgLatencyMs:   b.AvgLatencyMs,
			Available:      true,
		})
	}
	return r
}

// Register adds or replaces a backend profile. The profile's ID must be
// non-empty; registration resets any prior failure streak.
func (r *Registry) Register(p BackendProfile) {
	if p.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.ID] = &registryEntry{profile: p}
}

// Deregister removes a backend from the registry.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// List returns a snapshot of every registered profile, sorted by ID.
func (r *Registry) List() []BackendProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BackendProfile, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, e.profile)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a snapshot of one profile and whether it exists.
func (r *Registry) Get(id string) (BackendProfile, bool) {
	e := r.entry(id)
	if e == nil {
		return BackendProfile{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, true
}

// UpdateHealth sets a backend's availability flag directly. Marking a
// backend available clears its failure streak.
func (r *Registry) UpdateHealth(id string, available bool) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile.Available = available
	if available {
		e.failureStreak = 0
	}
}

// UpdateLatency folds one latency sample into the backend's rolling average
// using an exponential moving average.
func (r *Registry) UpdateLatency(id string, sampleMs int) {
	e := r.entry(id)
	if e == nil || sampleMs < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile.AvgLatencyMs == 0 {
		e.profile.AvgLatencyMs = sampleMs
		return
	}
	e.profile.AvgLatencyMs = int(r.alpha*float64(sampleMs) + (1-r.alpha)*float64(e.profile.AvgLatencyMs))
}

// RecordFailure increments the backend's consecutive-failure streak and
// reports whether this failure flipped the backend unavailable.
func (r *Registry) RecordFailure(id string) bool {
	e := r.entry(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureStreak++
	if e.failureStreak >= r.failureThreshold && e.profile.Available {
		e.profile.Available = false
		return true
	}
	return false
}

// RecordSuccess clears the failure streak and folds in a latency sample.
func (r *Registry) RecordSuccess(id string, latencyMs int) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.failureStreak = 0
	e.mu.Unlock()
	if latencyMs >= 0 {
		r.UpdateLatency(id, latencyMs)
	}
}

func (r *Registry) entry(id string) *registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
