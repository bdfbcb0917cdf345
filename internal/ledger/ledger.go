// Package ledger records the start and end of every worker action into the
// shared store, computing per-worker inter-action gaps along the way. Each
// worker owns its own event stream, so writes here are independent
// single-row inserts needing no cross-worker coordination.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sorrel-systems/fleet/internal/storage"
)

// pendingAction is the in-memory context between RecordStart and RecordEnd.
type pendingAction struct {
	module     string
	actionType string
	target     string
	startedAt  time.Time
	ip         string
	device     string
}

// networkContext is sticky per-worker metadata stamped onto every event.
type networkContext struct {
	ip     string
	device string
}

// Ledger is the append-only action ledger. One pending action per worker at
// a time: workers are single-threaded browser sessions, so starting a second
// action before ending the first overwrites the pending context.
type Ledger struct {
	db *storage.DB

	mu      sync.Mutex
	pending map[string]pendingAction
	network map[string]networkContext

	now func() time.Time // injectable for tests
}

// New creates a Ledger over the shared store.
func New(db *storage.DB) *Ledger {
	return &Ledger{
		db:      db,
		pending: make(map[string]pendingAction),
		network: make(map[string]networkContext),
		now:     time.Now,
	}
}

// SetNetworkContext attaches an IP address and device fingerprint to a
// worker; subsequent events carry them until changed.
func (l *Ledger) SetNetworkContext(workerID, ip, device string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.network[workerID] = networkContext{ip: ip, device: device}
}

// RecordStart opens a pending action context for the worker, creating the
// worker row on first contact.
func (l *Ledger) RecordStart(workerID, module, actionType, target string) error {
	now := l.now()
	if err := l.db.EnsureWorker(workerID, now.Unix()); err != nil {
		return fmt.Errorf("record start: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	net := l.network[workerID]
	l.pending[workerID] = pendingAction{
		module:     module,
		actionType: actionType,
		target:     target,
		startedAt:  now,
		ip:         net.ip,
		device:     net.device,
	}
	return nil
}

// RecordEnd closes the worker's pending action and persists the full event
// row. The call is a no-op when no pending context exists, so an
// out-of-order end cannot corrupt the ledger.
func (l *Ledger) RecordEnd(workerID, result, content string) error {
	l.mu.Lock()
	p, ok := l.pending[workerID]
	if ok {
		delete(l.pending, workerID)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}

	now := l.now()
	ev := &storage.ActionEvent{
		ID:         uuid.New().String(),
		WorkerID:   workerID,
		Module:     p.module,
		ActionType: p.actionType,
		Target:     p.target,
		StartedAt:  p.startedAt.Unix(),
		Duration:   now.Sub(p.startedAt).Seconds(),
		Result:     result,
		Content:    content,
		IPAddress:  p.ip,
		Device:     p.device,
	}

	// Gap since this worker's previous persisted event; nil for the first.
	last, hasLast, err := l.db.LastActionEvent(workerID)
	if err != nil {
		return fmt.Errorf("record end: %w", err)
	}
	if hasLast {
		gap := float64(p.startedAt.Unix() - last.StartedAt)
		ev.IntervalFromLast = &gap
	}

	if err := l.db.InsertActionEvent(ev); err != nil {
		return fmt.Errorf("record end: %w", err)
	}

	likes, comments := 0, 0
	switch p.actionType {
	case "like":
		likes = 1
	case "comment":
		comments = 1
	}
	if likes > 0 || comments > 0 {
		if err := l.db.BumpWorkerCounters(workerID, 0, likes, comments); err != nil {
			return fmt.Errorf("record end: %w", err)
		}
	}
	return nil
}

// HasPending reports whether the worker has an open action context.
func (l *Ledger) HasPending(workerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[workerID]
	return ok
}

// CountSince counts the worker's events in the trailing sinceHours window.
// An empty actionType counts all action types.
func (l *Ledger) CountSince(workerID, actionType string, sinceHours int) (int, error) {
	since := l.now().Add(-time.Duration(sinceHours) * time.Hour).Unix()
	return l.db.CountEvents(workerID, actionType, since)
}
