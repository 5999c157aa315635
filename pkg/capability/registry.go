package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wispchat/wisp/pkg/storage"
)

// enabledKey is the KV key under which the enabled capability id set
// persists across restarts.
const enabledKey = "enabled_capabilities"

var (
	capabilityToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_capability_toggles_total",
			Help: "Total capability enable/disable toggles",
		},
		[]string{"capability", "state"},
	)

	registeredCapabilities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wisp_capabilities_registered",
			Help: "Capabilities currently registered, by source",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(capabilityToggles, registeredCapabilities)
}

// Source supplies a batch of capabilities, e.g. the builtin set or one
// MCP server connection.
type Source interface {
	Name() string
	Capabilities() []*Capability
	Close() error
}

// Registry aggregates Sources and tracks the enabled id set. Capability
// ids are resolved first-come, first-served across sources; a duplicate
// id from a later source is dropped with a warning.
//
// The enabled set survives restarts via the KV store. Toggling persists
// immediately; reads serve from the in-memory copy.
type Registry struct {
	mu sync.RWMutex

	kv      storage.KV
	logger  *slog.Logger
	sources []Source

	capabilities map[string]*Capability
	sourceOf     map[string]string
	enabled      map[string]bool
}

// NewRegistry creates a Registry persisting toggles to kv. A previously
// stored enabled set is loaded; capabilities registered later fall back
// to their own Enabled default when absent from it.
func NewRegistry(ctx context.Context, kv storage.KV, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		kv:           kv,
		logger:       logger,
		capabilities: make(map[string]*Capability),
		sourceOf:     make(map[string]string),
		enabled:      make(map[string]bool),
	}

	var stored []string
	err := kv.Get(ctx, enabledKey, &stored)
	switch {
	case err == nil:
		r.enabled = make(map[string]bool, len(stored))
		for _, id := range stored {
			r.enabled[id] = true
		}
	case errors.Is(err, storage.ErrNotFound):
		r.enabled = nil // no persisted state yet, use per-capability defaults
	default:
		return nil, fmt.Errorf("loading enabled capabilities: %w", err)
	}
	return r, nil
}

// Register adds all capabilities from src.
func (r *Registry) Register(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = append(r.sources, src)

	added := 0
	for _, c := range src.Capabilities() {
		if existing, ok := r.sourceOf[c.ID]; ok {
			r.logger.Warn("capability id conflict, keeping first source",
				"capability", c.ID,
				"winner", existing,
				"loser", src.Name(),
			)
			continue
		}
		r.capabilities[c.ID] = c
		r.sourceOf[c.ID] = src.Name()
		added++
	}
	registeredCapabilities.WithLabelValues(src.Name()).Set(float64(added))

	r.logger.Info("registered capability source",
		"source", src.Name(),
		"capabilities", added,
	)
}

// isEnabled reports the effective state of id under r.mu.
func (r *Registry) isEnabled(id string) bool {
	if r.enabled == nil {
		c, ok := r.capabilities[id]
		return ok && c.Enabled
	}
	return r.enabled[id]
}

// Entry pairs a capability with its effective state for listings.
type Entry struct {
	Capability *Capability
	Source     string
	Enabled    bool
}

// List returns every registered capability with its source and effective
// enabled state, ordered by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.capabilities))
	for id, c := range r.capabilities {
		entries = append(entries, Entry{
			Capability: c,
			Source:     r.sourceOf[id],
			Enabled:    r.isEnabled(id),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Capability.ID < entries[j].Capability.ID
	})
	return entries
}

// Enabled returns the currently enabled capabilities, ordered by id.
// The slice is a fresh snapshot; callers may hold it across a whole run.
func (r *Registry) Enabled() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Capability
	for id, c := range r.capabilities {
		if r.isEnabled(id) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the capability with the given id.
func (r *Registry) Get(id string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[id]
	return c, ok
}

// SetEnabled toggles one capability and persists the new enabled set.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.capabilities[id]; !ok {
		return fmt.Errorf("capability %q: %w", id, storage.ErrNotFound)
	}
	r.materializeEnabled()
	r.enabled[id] = enabled

	if err := r.persistEnabled(ctx); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	capabilityToggles.WithLabelValues(id, state).Inc()
	r.logger.Info("capability toggled", "capability", id, "enabled", enabled)
	return nil
}

// SetSourceEnabled toggles every capability owned by the named source.
func (r *Registry) SetSourceEnabled(ctx context.Context, source string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.materializeEnabled()
	touched := 0
	for id, owner := range r.sourceOf {
		if owner != source {
			continue
		}
		r.enabled[id] = enabled
		touched++
	}
	if touched == 0 {
		return fmt.Errorf("capability source %q: %w", source, storage.ErrNotFound)
	}
	if err := r.persistEnabled(ctx); err != nil {
		return err
	}
	r.logger.Info("capability source toggled",
		"source", source,
		"enabled", enabled,
		"capabilities", touched,
	)
	return nil
}

// materializeEnabled converts the defaults-based state into an explicit
// map before the first toggle. Caller holds r.mu.
func (r *Registry) materializeEnabled() {
	if r.enabled != nil {
		return
	}
	r.enabled = make(map[string]bool, len(r.capabilities))
	for id, c := range r.capabilities {
		r.enabled[id] = c.Enabled
	}
}

// persistEnabled writes the enabled id set to the KV store. Caller holds r.mu.
func (r *Registry) persistEnabled(ctx context.Context) error {
	ids := make([]string, 0, len(r.enabled))
	for id, on := range r.enabled {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if err := r.kv.Set(ctx, enabledKey, ids); err != nil {
		return fmt.Errorf("persisting enabled capabilities: %w", err)
	}
	return nil
}

// Close closes all sources, returning the last error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			r.logger.Warn("failed to close capability source", "source", src.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// StaticSource is a fixed, in-process capability batch.
type StaticSource struct {
	name string
	caps []*Capability
}

// NewStaticSource wraps a fixed capability list as a Source.
func NewStaticSource(name string, caps ...*Capability) *StaticSource {
	return &StaticSource{name: name, caps: caps}
}

func (s *StaticSource) Name() string                { return s.name }
func (s *StaticSource) Capabilities() []*Capability { return s.caps }
func (s *StaticSource) Close() error                { return nil }
