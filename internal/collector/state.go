package collector

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model/enum"
)

// State is a read-only snapshot of a collector's connection status,
// exposed to the orchestrator for observability.
type State struct {
	Source    enum.Source
	Status    enum.CollectorStatus
	Failures  int
	NextRetry time.Time
}

// stateTracker owns the mutable state behind State snapshots. Only the
// owning collector mutates it; every status change is logged and pushed
// to the optional observer.
type stateTracker struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

func newStateTracker(source enum.Source, onChange func(State)) *stateTracker {
	return &stateTracker{
		state:    State{Source: source, Status: enum.CollectorDisconnected},
		onChange: onChange,
	}
}

func (t *stateTracker) snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *stateTracker) setStatus(status enum.CollectorStatus) {
	t.mu.Lock()
	if t.state.Status == status {
		t.mu.Unlock()
		return
	}
	t.state.Status = status
	if status != enum.CollectorBackoff {
		t.state.NextRetry = time.Time{}
	}
	snapshot := t.state
	onChange := t.onChange
	t.mu.Unlock()

	logs.Infof("collector %s: %s (failures=%d)", snapshot.Source, snapshot.Status, snapshot.Failures)
	if onChange != nil {
		onChange(snapshot)
	}
}

// fail increments the consecutive failure count and enters Backoff
// until the given retry deadline. Returns the new failure count.
func (t *stateTracker) fail(nextRetry time.Time) int {
	t.mu.Lock()
	t.state.Failures++
	t.state.Status = enum.CollectorBackoff
	t.state.NextRetry = nextRetry
	snapshot := t.state
	onChange := t.onChange
	t.mu.Unlock()

	logs.Warnf("collector %s: backoff until %s (failures=%d)",
		snapshot.Source, snapshot.NextRetry.Format(time.RFC3339), snapshot.Failures)
	if onChange != nil {
		onChange(snapshot)
	}
	return snapshot.Failures
}

// tickFailure counts a failed polling interval without entering
// Backoff: a missed tick is logged, not escalated.
func (t *stateTracker) tickFailure() {
	t.mu.Lock()
	t.state.Failures++
	t.mu.Unlock()
}

func (t *stateTracker) resetFailures() {
	t.mu.Lock()
	t.state.Failures = 0
	t.mu.Unlock()
}

func (t *stateTracker) failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Failures
}
