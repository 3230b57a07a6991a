// Package registry tracks in-flight runs and a bounded history of
// completed ones.
//
// The registry is the only mutable shared state in gated. All mutation
// goes through its synchronized methods; the scheduler and gateway never
// touch the underlying maps directly. State is process-lifetime only:
// nothing here survives a restart.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
)

// ErrBusy is returned by Admit when the concurrency cap is reached.
// Callers surface it as a retryable rejection (HTTP 429, non-zero CLI
// exit), never by blocking.
var ErrBusy = errors.New("orchestrator busy: max concurrent runs reached")

// Registry holds the in-flight run set and the completed-run ring buffer.
type Registry struct {
	mu     sync.Mutex
	max    int
	active map[string]time.Time

	// history is a fixed-capacity ring: next points at the slot the next
	// completed run overwrites, size counts filled slots.
	history []*pipeline.RunReport
	next    int
	size    int
}

// New creates a registry with the given concurrency cap and history
// capacity.
func New(maxConcurrentRuns, historySize int) *Registry {
	if maxConcurrentRuns < 1 {
		maxConcurrentRuns = 1
	}
	if historySize < 1 {
		historySize = 1
	}
	return &Registry{
		max:     maxConcurrentRuns,
		active:  make(map[string]time.Time),
		history: make([]*pipeline.RunReport, historySize),
	}
}

// Admit reserves a concurrency slot and returns a new run id, or ErrBusy
// when the cap is reached. Run ids are trigger-timestamp-random so audit
// files sort naturally.
func (r *Registry) Admit(trigger classify.Trigger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.max {
		return "", fmt.Errorf("%w (%d active)", ErrBusy, len(r.active))
	}

	id := fmt.Sprintf("%s-%d-%s", trigger, time.Now().Unix(), uuid.NewString()[:8])
	r.active[id] = time.Now()
	return id, nil
}

// Complete releases the run's slot and stores its report in history,
// evicting the oldest entry when full.
func (r *Registry) Complete(id string, report *pipeline.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)

	r.history[r.next] = report
	r.next = (r.next + 1) % len(r.history)
	if r.size < len(r.history) {
		r.size++
	}
}

// Get returns the completed report for id. In-flight runs have no report
// yet and evicted runs are gone.
func (r *Registry) Get(id string) (*pipeline.RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, report := range r.history {
		if report != nil && report.ID == id {
			return report, true
		}
	}
	return nil, false
}

// Recent returns up to n completed reports, newest first.
func (r *Registry) Recent(n int) []*pipeline.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	out := make([]*pipeline.RunReport, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.history)) % len(r.history)
		out = append(out, r.history[idx])
	}
	return out
}

// Active returns the ids of in-flight runs.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of in-flight runs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Drain blocks until no runs are in flight or ctx expires. Used at
// shutdown so active runs get a bounded grace window to finish.
func (r *Registry) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain aborted with %d active runs: %w", r.ActiveCount(), ctx.Err())
		case <-ticker.C:
		}
	}
}
