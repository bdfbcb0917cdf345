package storage

import (
	"testing"
	"time"
)

func TestEnsureWorker_Idempotent(t *testing.T) {
	db := testDB(t)
	created := time.Now().Unix() - 1000

	if err := db.EnsureWorker("w1", created); err != nil {
		t.Fatalf("EnsureWorker: %v", err)
	}
	// Second ensure must not reset the original creation time.
	if err := db.EnsureWorker("w1", time.Now().Unix()); err != nil {
		t.Fatalf("EnsureWorker again: %v", err)
	}

	w, err := db.GetWorker("w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if w.CreatedAt != created {
		t.Errorf("CreatedAt = %d, want %d (first write wins)", w.CreatedAt, created)
	}
	if w.Status != WorkerActive {
		t.Errorf("Status = %q, want active", w.Status)
	}
}

func TestSetWorkerStatus(t *testing.T) {
	db := testDB(t)
	if err := db.EnsureWorker("w1", time.Now().Unix()); err != nil {
		t.Fatalf("EnsureWorker: %v", err)
	}

	if err := db.SetWorkerStatus("w1", WorkerBanned); err != nil {
		t.Fatalf("SetWorkerStatus: %v", err)
	}
	w, err := db.GetWorker("w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if w.Status != WorkerBanned {
		t.Errorf("Status = %q, want banned", w.Status)
	}

	if err := db.SetWorkerStatus("ghost", WorkerBanned); err == nil {
		t.Error("expected error for unknown worker, got nil")
	}
}

func TestBumpWorkerCounters(t *testing.T) {
	db := testDB(t)
	if err := db.EnsureWorker("w1", time.Now().Unix()); err != nil {
		t.Fatalf("EnsureWorker: %v", err)
	}

	if err := db.BumpWorkerCounters("w1", 1, 0, 1); err != nil {
		t.Fatalf("BumpWorkerCounters: %v", err)
	}
	if err := db.BumpWorkerCounters("w1", 1, 1, 0); err != nil {
		t.Fatalf("BumpWorkerCounters: %v", err)
	}

	w, err := db.GetWorker("w1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if w.TotalTasks != 2 || w.TotalLikes != 1 || w.TotalComments != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", w.TotalTasks, w.TotalLikes, w.TotalComments)
	}
}

func TestListWorkersAndIsKnown(t *testing.T) {
	db := testDB(t)
	for i, id := range []string{"w1", "w2", "w3"} {
		if err := db.EnsureWorker(id, int64(1000+i)); err != nil {
			t.Fatalf("EnsureWorker %s: %v", id, err)
		}
	}

	workers, err := db.ListWorkers()
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 3 {
		t.Fatalf("len = %d, want 3", len(workers))
	}
	if workers[0].ID != "w1" {
		t.Errorf("workers[0] = %q, want w1 (ordered by creation)", workers[0].ID)
	}

	known, err := db.IsKnownWorker("w2")
	if err != nil {
		t.Fatalf("IsKnownWorker: %v", err)
	}
	if !known {
		t.Error("IsKnownWorker(w2) = false, want true")
	}
	known, err = db.IsKnownWorker("ghost")
	if err != nil {
		t.Fatalf("IsKnownWorker ghost: %v", err)
	}
	if known {
		t.Error("IsKnownWorker(ghost) = true, want false")
	}
}
