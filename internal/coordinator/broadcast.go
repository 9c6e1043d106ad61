// Package coordinator implements the optional cross-worker discovery
// pub/sub. It is pure observability and hinting: nothing
// in the Parallel Executor's merge path reads from it, and a run with no
// Coordinator wired in behaves identically.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/events"
	"github.com/ralph-tui/ralph-tui/internal/logging"
)

// TypeWorkerBroadcast is the events.Bus type string a Coordinator
// publishes under, alongside its own typed delivery channels, so a UI
// subscribed only to the shared bus still sees worker discoveries.
const TypeWorkerBroadcast = "worker:broadcast"

// Config configures a Coordinator.
type Config struct {
	// TTL bounds how long a Broadcast stays in History before Prune (or
	// the background cleanup loop) discards it. Default 10 minutes.
	TTL time.Duration
	// MaxHistory caps retained broadcasts regardless of TTL, oldest
	// dropped first. Default 200.
	MaxHistory int
	// Bus, if set, receives a BroadcastEvent for every Publish so a UI
	// can render worker discoveries without subscribing per-worker.
	Bus *events.Bus
	Log *logging.Logger
}

// Coordinator is the in-process pub/sub hub for worker-to-worker
// broadcasts. Safe for concurrent use.
type Coordinator struct {
	ttl time.Duration
	maxHistory int
	bus *events.Bus
	log *logging.Logger

	mu sync.Mutex
	history []core.Broadcast
	subs map[string]*subscription

	cleanupCancel context.CancelFunc
}

type subscription struct {
	workerID string
	categories map[string]bool // empty means all categories
	minPriority int // see priorityRank
	files map[string]bool
	ch chan core.BroadcastDelivery
}

// SubscribeOptions narrows what a worker receives.
type SubscribeOptions struct {
	// Categories restricts delivery to these Broadcast.Category values.
	// Empty means every category.
	Categories []string
	// MinPriority drops anything ranked below it, unless AffectedFiles
	// overlaps Files (a file-relevant low-priority note still gets
	// through to the worker touching that file).
	MinPriority core.BroadcastPriority
	// Files are the paths this worker's task touches.
	Files []string
}

// New builds a Coordinator. cfg zero-values fall back to defaults.
func New(cfg Config) *Coordinator {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 200
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	return &Coordinator{
		ttl: cfg.TTL,
		maxHistory: cfg.MaxHistory,
		bus: cfg.Bus,
		log: cfg.Log,
		subs: make(map[string]*subscription),
	}
}

// Subscribe registers workerID to receive BroadcastDelivery values
// matching opts. A worker already subscribed is re-subscribed with the
// new options; its old channel is closed.
func (c *Coordinator) Subscribe(workerID string, opts SubscribeOptions) <-chan core.BroadcastDelivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.subs[workerID]; ok {
		close(existing.ch)
	}

	sub := &subscription{
		workerID: workerID,
		categories: make(map[string]bool, len(opts.Categories)),
		minPriority: priorityRank(opts.MinPriority),
		files: make(map[string]bool, len(opts.Files)),
		ch: make(chan core.BroadcastDelivery, 32),
	}
	for _, cat := range opts.Categories {
		sub.categories[cat] = true
	}
	for _, f := range opts.Files {
		sub.files[f] = true
	}
	c.subs[workerID] = sub
	return sub.ch
}

// Unsubscribe removes workerID's subscription and closes its channel.
func (c *Coordinator) Unsubscribe(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[workerID]; ok {
		close(sub.ch)
		delete(c.subs, workerID)
	}
}

// Publish stamps b with an ID and CreatedAt, records it in history, and
// delivers a scored BroadcastDelivery to every subscriber other than the
// publishing worker. Delivery never blocks: a subscriber whose buffer is
// full simply misses this one.
func (c *Coordinator) Publish(b core.Broadcast) core.Broadcast {
	c.mu.Lock()
	b.CreatedAt = time.Now()
	b.ID = fmt.Sprintf("bc-%d", b.CreatedAt.UnixNano())

	c.history = append(c.history, b)
	c.pruneLocked()

	for _, sub := range c.subs {
		if sub.workerID == b.WorkerID {
			continue
		}
		score, action := relevance(b, sub)
		if score <= 0 {
			continue
		}
		delivery := core.BroadcastDelivery{Broadcast: b, RelevanceScore: score, SuggestedAction: action}
		select {
		case sub.ch <- delivery:
		default:
			c.log.Warn("dropped broadcast delivery, subscriber buffer full",
				"worker_id", sub.workerID, "broadcast_id", b.ID)
		}
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(NewBroadcastEvent(b))
	}
	return b
}

// History returns a copy of every non-expired broadcast, oldest first.
func (c *Coordinator) History() []core.Broadcast {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return append([]core.Broadcast(nil), c.history...)
}

// pruneLocked drops expired entries and enforces MaxHistory. Callers
// must hold c.mu.
func (c *Coordinator) pruneLocked() {
	cutoff := time.Now().Add(-c.ttl)
	live := c.history[:0]
	for _, b := range c.history {
		if b.CreatedAt.After(cutoff) {
			live = append(live, b)
		}
	}
	c.history = live

	if len(c.history) > c.maxHistory {
		c.history = append([]core.Broadcast(nil), c.history[len(c.history)-c.maxHistory:]...)
	}
}

// StartCleanup launches a background loop that prunes expired history
// every interval until ctx is cancelled or Stop is called. interval <= 0
// defaults to a quarter of the TTL.
func (c *Coordinator) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 4
		if interval <= 0 {
			interval = time.Minute
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cleanupCancel != nil {
		c.cleanupCancel()
	}
	c.cleanupCancel = cancel
	c.mu.Unlock()

	go c.cleanupLoop(ctx, interval)
}

func (c *Coordinator) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pruneLocked()
			c.mu.Unlock()
		}
	}
}

// Stop ends the cleanup loop (if running) and closes every subscriber
// channel.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanupCancel != nil {
		c.cleanupCancel()
		c.cleanupCancel = nil
	}
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
}
