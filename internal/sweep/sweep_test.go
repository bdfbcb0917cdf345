package sweep

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sorrel-systems/fleet/internal/risk"
	"github.com/sorrel-systems/fleet/internal/storage"
	"github.com/sorrel-systems/fleet/internal/threshold"
)

func TestRunner_ScoresWorkersPeriodically(t *testing.T) {
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.EnsureWorker("w1", time.Now().Unix()); err != nil {
		t.Fatalf("EnsureWorker: %v", err)
	}

	scorer := risk.NewScorer(db)
	r := New(scorer, threshold.NewAnalyzer(db), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, err := scorer.Latest("w1"); err == nil && ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no risk score produced within deadline")
}

func TestRunner_StopsOnCancel(t *testing.T) {
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r := New(risk.NewScorer(db), threshold.NewAnalyzer(db), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	// Give the loops a moment to observe cancellation; nothing to assert
	// beyond not hanging or panicking after the store closes.
	time.Sleep(20 * time.Millisecond)
}
