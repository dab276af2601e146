// internal/lineage/watch.go
package lineage

import (
	"context"
	"reflect"
	"time"
)

const watchBuffer = 10

// Update is one observable lineage state for a project: which patch sets
// still await a decision.
type Update struct {
	ProjectID          string    `json:"project_id"`
	PendingPatchSetIDs []string  `json:"pending_patch_set_ids"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Watcher delivers lineage updates for one project. The push and polling
// implementations are interchangeable: same channel contract, same initial
// snapshot, duplicates suppressed.
type Watcher interface {
	Watch(ctx context.Context, projectID string) (<-chan Update, func())
}

// Subscribe registers a live subscriber for a project. The current state is
// delivered immediately; afterwards every recorded transform triggers a
// broadcast. The returned cancel is idempotent.
func (g *Graph) Subscribe(projectID string) (<-chan Update, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan Update, watchBuffer)
	if g.subscribers[projectID] == nil {
		g.subscribers[projectID] = make(map[chan Update]bool)
	}
	g.subscribers[projectID][ch] = true

	ch <- Update{
		ProjectID:          projectID,
		PendingPatchSetIDs: g.pendingLocked(projectID),
		UpdatedAt:          time.Now(),
	}

	cancel := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if subs := g.subscribers[projectID]; subs[ch] {
			delete(subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Broadcast pushes the project's current lineage state to its subscribers
// when it changed since the last broadcast. Sends never block; a slow
// consumer skips intermediate states.
func (g *Graph) Broadcast(projectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs := g.subscribers[projectID]
	if len(subs) == 0 {
		return
	}

	pending := g.pendingLocked(projectID)
	if reflect.DeepEqual(pending, g.lastPending[projectID]) {
		return
	}
	g.lastPending[projectID] = pending

	update := Update{
		ProjectID:          projectID,
		PendingPatchSetIDs: pending,
		UpdatedAt:          time.Now(),
	}
	for ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Watch adapts Subscribe to the Watcher contract; cancellation through the
// context and through the cancel func are equivalent.
func (g *Graph) Watch(ctx context.Context, projectID string) (<-chan Update, func()) {
	ch, cancel := g.Subscribe(projectID)
	if ctx == nil || ctx.Done() == nil {
		return ch, cancel
	}

	out := make(chan Update, watchBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case update, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- update:
				default:
				}
			}
		}
	}()
	return out, cancel
}

// PendingSource is the query the polling watcher runs each tick. *Graph
// satisfies it; so does any service layered over it.
type PendingSource interface {
	PendingPatchSetIDs(projectID string) []string
}

// PollWatcher is the fallback for consumers that cannot hold a live
// subscription: it re-reads pending state on an interval and emits only on
// change.
type PollWatcher struct {
	source   PendingSource
	interval time.Duration
}

// NewPollWatcher creates a polling watcher. Non-positive intervals fall back
// to 5 seconds.
func NewPollWatcher(source PendingSource, interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollWatcher{source: source, interval: interval}
}

// Watch polls until the context ends or cancel is called. The first read is
// immediate so consumers start from the current state, matching the live
// watcher.
func (w *PollWatcher) Watch(ctx context.Context, projectID string) (<-chan Update, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := context.WithCancel(ctx)
	ch := make(chan Update, watchBuffer)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		last := w.source.PendingPatchSetIDs(projectID)
		ch <- Update{ProjectID: projectID, PendingPatchSetIDs: last, UpdatedAt: time.Now()}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := w.source.PendingPatchSetIDs(projectID)
				if reflect.DeepEqual(current, last) {
					continue
				}
				last = current
				select {
				case ch <- Update{ProjectID: projectID, PendingPatchSetIDs: current, UpdatedAt: time.Now()}:
				default:
				}
			}
		}
	}()

	return ch, stop
}
