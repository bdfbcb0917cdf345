// Package dispatch runs registered tasks against worker sessions. It owns
// session lifecycle around each execution, resolves task bodies by name on
// every call (so hot-swapped implementations take effect immediately), and
// normalizes whatever a task body returns or throws into a TaskResult.
package dispatch

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sorrel-systems/fleet/internal/ledger"
	"github.com/sorrel-systems/fleet/internal/ratelimit"
	"github.com/sorrel-systems/fleet/internal/risk"
	"github.com/sorrel-systems/fleet/internal/session"
	"github.com/sorrel-systems/fleet/internal/storage"
	"github.com/sorrel-systems/fleet/internal/threshold"
)

// TaskResult is the normalized outcome of one task execution.
type TaskResult struct {
	Success  bool
	Message  string
	Data     map[string]any
	Error    string
	Duration time.Duration
}

// TaskFunc is a task body. It receives an execution context and returns an
// arbitrary value that the dispatcher normalizes, or an error.
type TaskFunc func(*Context) (any, error)

// Registry resolves task names to bodies. Implementations may swap bodies at
// runtime; the dispatcher re-resolves on every execution and never caches.
type Registry interface {
	Resolve(name string) (TaskFunc, bool)
}

// Context is what a task body sees: the worker it runs as, its session, the
// call parameters, and coordination callbacks into the shared store.
type Context struct {
	WorkerID string
	Session  *session.Handle
	Params   map[string]string

	d *Dispatcher
}

// Claim requests exclusivity on (targetKey, actionType) for this worker.
func (c *Context) Claim(targetKey, actionType string) (storage.ClaimOutcome, error) {
	return c.d.db.ClaimTarget(targetKey, actionType, c.WorkerID)
}

// RecordStart opens a ledger context for the action about to run.
func (c *Context) RecordStart(module, actionType, target string) error {
	return c.d.ledger.RecordStart(c.WorkerID, module, actionType, target)
}

// RecordEnd closes the ledger context and persists the event.
func (c *Context) RecordEnd(result, content string) error {
	return c.d.ledger.RecordEnd(c.WorkerID, result, content)
}

// CheckSafety asks the threshold analyzer whether this worker still has
// budget for the action type in the window.
func (c *Context) CheckSafety(actionType, window string) (threshold.Safety, error) {
	return c.d.analyzer.CheckSafety(c.WorkerID, actionType, window)
}

// RiskLevel returns this worker's latest risk level, or "unknown" when it
// has never been scored.
func (c *Context) RiskLevel() (string, error) {
	rs, ok, err := c.d.scorer.Latest(c.WorkerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "unknown", nil
	}
	return rs.RiskLevel, nil
}

// Dispatcher executes tasks against worker sessions.
type Dispatcher struct {
	db       *storage.DB
	ledger   *ledger.Ledger
	registry Registry
	sessions session.Provider
	scorer   *risk.Scorer
	analyzer *threshold.Analyzer
	limits   *ratelimit.PerWorker

	mu   sync.Mutex
	open map[string]*session.Handle
}

// defaultBatchFanout bounds concurrent executions in BatchExecute.
const defaultBatchFanout = 8

// New creates a Dispatcher. limits may be nil to disable execution pacing.
func New(db *storage.DB, l *ledger.Ledger, reg Registry, sessions session.Provider,
	scorer *risk.Scorer, analyzer *threshold.Analyzer, limits *ratelimit.PerWorker) *Dispatcher {
	return &Dispatcher{
		db:       db,
		ledger:   l,
		registry: reg,
		sessions: sessions,
		scorer:   scorer,
		analyzer: analyzer,
		limits:   limits,
		open:     make(map[string]*session.Handle),
	}
}

// Execute runs one task for one worker: Idle -> SessionOpening -> Running ->
// Completed or Failed. Task body failures of any kind (returned errors,
// panics) are converted into a Failed result; they never propagate.
func (d *Dispatcher) Execute(workerID, taskName string, params map[string]string, autoOpen, autoClose bool) TaskResult {
	start := time.Now()

	if d.limits != nil && !d.limits.Allow(workerID) {
		return failed(start, fmt.Sprintf("worker %s is rate limited", workerID))
	}

	handle := d.liveSession(workerID)
	if handle == nil && autoOpen {
		h, err := d.sessions.Open(workerID)
		if err != nil {
			log.Printf("[dispatch] open session for %s: %v", workerID, err)
			return failed(start, "cannot open session")
		}
		d.mu.Lock()
		d.open[workerID] = h
		d.mu.Unlock()
		handle = h
	}

	// Resolve on every execution: task bodies are hot-swappable.
	body, ok := d.registry.Resolve(taskName)
	if !ok {
		return failed(start, fmt.Sprintf("unknown task %q", taskName))
	}

	tc := &Context{
		WorkerID: workerID,
		Session:  handle,
		Params:   params,
		d:        d,
	}

	out, err := d.invoke(body, tc)
	result := normalize(out, err)
	result.Duration = time.Since(start)

	if err := d.db.EnsureWorker(workerID, time.Now().Unix()); err != nil {
		log.Printf("[dispatch] ensure worker %s: %v", workerID, err)
	} else if err := d.db.BumpWorkerCounters(workerID, 1, 0, 0); err != nil {
		log.Printf("[dispatch] bump counters for %s: %v", workerID, err)
	}

	if autoClose {
		// Fire and forget: a slow remote close must not block the result.
		go d.closeSession(workerID)
	}
	return result
}

// invoke calls the task body, converting a panic into an error at the
// dispatcher boundary. Partial ledger and claim writes the body already made
// stay committed; there is no rollback across a body's own side effects.
func (d *Dispatcher) invoke(body TaskFunc, tc *Context) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return body(tc)
}

// BatchExecute runs one task across many workers and returns a result per
// worker. Sequential mode runs them in order and continues past individual
// failures; concurrent mode runs a bounded fan-out and joins on all of them.
func (d *Dispatcher) BatchExecute(workerIDs []string, taskName string, params map[string]string, sequential bool) map[string]TaskResult {
	results := make(map[string]TaskResult, len(workerIDs))

	if sequential {
		for _, id := range workerIDs {
			results[id] = d.Execute(id, taskName, params, true, true)
		}
		return results
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, defaultBatchFanout)
	)
	for _, id := range workerIDs {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r := d.Execute(workerID, taskName, params, true, true)
			mu.Lock()
			results[workerID] = r
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// CloseAll closes every session the dispatcher opened. Used at shutdown.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.open))
	for id := range d.open {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.closeSession(id)
	}
}

// liveSession returns the worker's open session handle, if any.
func (d *Dispatcher) liveSession(workerID string) *session.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[workerID]
}

func (d *Dispatcher) closeSession(workerID string) {
	d.mu.Lock()
	_, ok := d.open[workerID]
	if ok {
		delete(d.open, workerID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	if err := d.sessions.Close(workerID); err != nil {
		log.Printf("[dispatch] close session for %s: %v", workerID, err)
	}
}

// failed builds a Failed result with the elapsed duration stamped.
func failed(start time.Time, msg string) TaskResult {
	return TaskResult{Success: false, Error: msg, Duration: time.Since(start)}
}

// normalize converts whatever a task body produced into a TaskResult.
func normalize(out any, err error) TaskResult {
	if err != nil {
		return TaskResult{Success: false, Error: err.Error()}
	}
	switch v := out.(type) {
	case nil:
		return TaskResult{Success: true}
	case TaskResult:
		return v
	case *TaskResult:
		return *v
	case string:
		return TaskResult{Success: true, Message: v}
	case map[string]any:
		return TaskResult{Success: true, Data: v}
	default:
		return TaskResult{Success: true, Data: map[string]any{"result": v}}
	}
}
