// Package sweep drives the periodic batch jobs: risk scoring across all
// workers and threshold mining across all action types. Sweeps run
// concurrently with live ledger writes and tolerate slightly stale reads; a
// score only needs to be fresh within one sweep interval.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/sorrel-systems/fleet/internal/risk"
	"github.com/sorrel-systems/fleet/internal/threshold"
)

// Runner owns the sweep loops.
type Runner struct {
	scorer   *risk.Scorer
	analyzer *threshold.Analyzer
	interval time.Duration
}

// New creates a Runner sweeping at the given interval.
func New(scorer *risk.Scorer, analyzer *threshold.Analyzer, interval time.Duration) *Runner {
	return &Runner{scorer: scorer, analyzer: analyzer, interval: interval}
}

// Start launches the sweep goroutines. Call with a cancellable context for
// graceful shutdown.
func (r *Runner) Start(ctx context.Context) {
	go r.runRiskSweep(ctx)
	go r.runThresholdSweep(ctx)
}

// runRiskSweep periodically recomputes every worker's risk score.
func (r *Runner) runRiskSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
			n := r.scorer.SweepAll()
			if n > 0 {
				log.Printf("[sweep] scored %d workers", n)
			}
		}
	}
}

// runThresholdSweep periodically re-mines the adaptive thresholds.
func (r *Runner) runThresholdSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
			n, err := r.analyzer.Analyze()
			if err != nil {
				log.Printf("[sweep] analyze thresholds: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[sweep] updated %d threshold rows", n)
			}
		}
	}
}
