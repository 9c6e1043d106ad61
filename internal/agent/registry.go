package agent

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/core"
)

// Registry is the in-memory AgentRegistry implementation: a concurrency-safe
// map from configured agent id to its ShellAdapter instance, plus a cache of
// each adapter's Detect result for Available.
type Registry struct {
	mu sync.RWMutex
	adapters map[string]core.AgentAdapter
}

var _ core.AgentRegistry = (*Registry)(nil)

// NewRegistry returns an empty registry. Use BuildRegistry to populate one
// from a loaded Config.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]core.AgentAdapter)}
}

// Register adds an adapter to the registry under id, replacing any existing
// registration.
func (r *Registry) Register(id string, adapter core.AgentAdapter) error {
	if id == "" {
		return core.ErrPermanent(core.CodeInvalidConfig, "agent id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = adapter
	return nil
}

// Get retrieves an adapter by id.
func (r *Registry) Get(id string) (core.AgentAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, core.ErrPermanent(core.CodeUnknownPlugin, fmt.Sprintf("agent %q is not registered", id))
	}
	return a, nil
}

// List returns all registered adapter ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// Available returns the ids of adapters whose Detect succeeds, probed
// concurrently since each Detect shells out to the underlying CLI.
func (r *Registry) Available(ctx context.Context) []string {
	r.mu.RLock()
	snapshot := make(map[string]core.AgentAdapter, len(r.adapters))
	for id, a := range r.adapters {
		snapshot[id] = a
	}
	r.mu.RUnlock()

	type probe struct {
		id string
		ok bool
	}
	results := make(chan probe, len(snapshot))
	g, gctx := errgroup.WithContext(ctx)
	for id, a := range snapshot {
		id, a := id, a
		g.Go(func() error {
			det, err := a.Detect(gctx)
			results <- probe{id: id, ok: err == nil && det != nil && det.Available}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	available := make([]string, 0, len(snapshot))
	for p := range results {
		if p.ok {
			available = append(available, p.id)
		}
	}
	return available
}

// BuildRegistry constructs a Registry with one ShellAdapter per enabled
// entry in cfg.Agents, named for whichever invocation this session uses
// (operators configure agents by id, not by vendor Go type).
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	for id, ac := range cfg.Agents {
		if !ac.Enabled {
			continue
		}
		if ac.Path == "" {
			return nil, core.ErrPermanent(core.CodeInvalidConfig, fmt.Sprintf("agent %q is enabled but has no path configured", id))
		}
		meta := core.AgentMeta{
			ID: id,
			Name: id,
			DefaultCommand: ac.Path,
			SupportsStreaming: true,
			SupportsInterrupt: true,
			SupportsFileContext: true,
			StructuredOutputFormat: core.StructuredOutputJSONL,
		}
		sandbox := core.SandboxRequirements{
			AuthPaths: defaultAuthPaths(),
		}
		adapter := NewShellAdapter(meta, ac.Path, ac.Model, "", nil, sandbox)
		if err := r.Register(id, adapter); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// defaultAuthPaths lists the home-directory locations agent CLIs commonly
// store credentials in, exposed into worktree sandboxes so a worker copy of
// an adapter authenticates the same way the main checkout does.
func defaultAuthPaths() []string {
	return []string{
		"~/.config",
		"~/.netrc",
	}
}
