// Package session abstracts the remote browser control transport behind a
// narrow open/close interface. The dispatcher only ever sees Handles; how a
// browser session actually comes to life is a provider concern.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one live browser session for one worker.
type Handle struct {
	WorkerID string
	ID       string
	OpenedAt time.Time
}

// Provider opens and closes browser sessions for workers.
type Provider interface {
	Open(workerID string) (*Handle, error)
	Close(workerID string) error
}

// MemProvider is an in-memory Provider for tests and dry runs. It tracks
// open sessions and call counts, and can be told to fail.
type MemProvider struct {
	mu       sync.Mutex
	open     map[string]*Handle
	opens    int
	closes   int
	FailOpen bool
}

// NewMemProvider creates an empty in-memory provider.
func NewMemProvider() *MemProvider {
	return &MemProvider{open: make(map[string]*Handle)}
}

// Open creates (or returns) the worker's session.
func (p *MemProvider) Open(workerID string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailOpen {
		return nil, fmt.Errorf("session transport unavailable")
	}
	if h, ok := p.open[workerID]; ok {
		return h, nil
	}
	h := &Handle{WorkerID: workerID, ID: uuid.New().String(), OpenedAt: time.Now()}
	p.open[workerID] = h
	p.opens++
	return h, nil
}

// Close tears down the worker's session. Closing an unopened session is not
// an error.
func (p *MemProvider) Close(workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.open[workerID]; ok {
		delete(p.open, workerID)
		p.closes++
	}
	return nil
}

// IsOpen reports whether the worker currently has a session.
func (p *MemProvider) IsOpen(workerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.open[workerID]
	return ok
}

// Opens returns how many sessions have been opened.
func (p *MemProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Closes returns how many sessions have been closed.
func (p *MemProvider) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}
