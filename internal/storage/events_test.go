package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// seedEvent inserts an action event with sensible defaults, applying any
// mutators first.
func seedEvent(t *testing.T, db *DB, workerID string, startedAt int64, mutate ...func(*ActionEvent)) *ActionEvent {
	t.Helper()
	ev := &ActionEvent{
		ID:         uuid.New().String(),
		WorkerID:   workerID,
		Module:     "feed",
		ActionType: "like",
		Target:     "post-1",
		StartedAt:  startedAt,
		Duration:   1.5,
		Result:     ResultSuccess,
	}
	for _, m := range mutate {
		m(ev)
	}
	if err := db.InsertActionEvent(ev); err != nil {
		t.Fatalf("seedEvent: %v", err)
	}
	return ev
}

func TestInsertAndLastActionEvent(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	seedEvent(t, db, "w1", now-100)
	interval := 50.0
	seedEvent(t, db, "w1", now-50, func(ev *ActionEvent) {
		ev.ActionType = "comment"
		ev.Content = "nice post"
		ev.IntervalFromLast = &interval
		ev.IPAddress = "10.0.0.1"
		ev.Device = "fp-abc"
	})

	ev, ok, err := db.LastActionEvent("w1")
	if err != nil {
		t.Fatalf("LastActionEvent: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if ev.ActionType != "comment" {
		t.Errorf("ActionType = %q, want comment", ev.ActionType)
	}
	if ev.Content != "nice post" {
		t.Errorf("Content = %q, want %q", ev.Content, "nice post")
	}
	if ev.IntervalFromLast == nil || *ev.IntervalFromLast != 50.0 {
		t.Errorf("IntervalFromLast = %v, want 50", ev.IntervalFromLast)
	}
	if ev.IPAddress != "10.0.0.1" {
		t.Errorf("IPAddress = %q, want 10.0.0.1", ev.IPAddress)
	}
}

func TestLastActionEvent_NoEvents(t *testing.T) {
	db := testDB(t)

	_, ok, err := db.LastActionEvent("w1")
	if err != nil {
		t.Fatalf("LastActionEvent: %v", err)
	}
	if ok {
		t.Fatal("ok = true for worker with no events, want false")
	}
}

func TestCountEvents(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	for i := 0; i < 5; i++ {
		seedEvent(t, db, "w1", now-int64(i)*3600)
	}
	seedEvent(t, db, "w1", now-300, func(ev *ActionEvent) { ev.ActionType = "comment" })
	seedEvent(t, db, "w2", now-300)

	n, err := db.CountEvents("w1", "", 0)
	if err != nil {
		t.Fatalf("CountEvents all: %v", err)
	}
	if n != 6 {
		t.Errorf("all events = %d, want 6", n)
	}

	n, err = db.CountEvents("w1", "like", 0)
	if err != nil {
		t.Fatalf("CountEvents like: %v", err)
	}
	if n != 5 {
		t.Errorf("like events = %d, want 5", n)
	}

	n, err = db.CountEvents("w1", "like", now-7200)
	if err != nil {
		t.Fatalf("CountEvents since: %v", err)
	}
	if n != 3 {
		t.Errorf("likes in last 2h = %d, want 3", n)
	}
}

func TestCountEventsInWindow(t *testing.T) {
	db := testDB(t)
	base := time.Now().Unix() - 10000

	for i := 0; i < 4; i++ {
		seedEvent(t, db, "w1", base+int64(i)*100)
	}

	// [base+100, base+300) covers the events at +100 and +200 only.
	n, err := db.CountEventsInWindow("w1", "like", base+100, base+300)
	if err != nil {
		t.Fatalf("CountEventsInWindow: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestRecentIntervals(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	// First event has no interval (NULL) and must be excluded.
	seedEvent(t, db, "w1", now-400)
	for i, v := range []float64{30, 40, 50} {
		iv := v
		seedEvent(t, db, "w1", now-300+int64(i)*100, func(ev *ActionEvent) {
			ev.IntervalFromLast = &iv
		})
	}

	got, err := db.RecentIntervals("w1", 2)
	if err != nil {
		t.Fatalf("RecentIntervals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0] != 50 || got[1] != 40 {
		t.Errorf("intervals = %v, want [50 40]", got)
	}
}

func TestRecentComments(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	seedEvent(t, db, "w1", now-500) // a like, not a comment
	for i := 0; i < 3; i++ {
		text := fmt.Sprintf("comment %d", i)
		seedEvent(t, db, "w1", now-400+int64(i)*100, func(ev *ActionEvent) {
			ev.ActionType = "comment"
			ev.Content = text
		})
	}

	got, err := db.RecentComments("w1", 10)
	if err != nil {
		t.Fatalf("RecentComments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != "comment 2" {
		t.Errorf("got[0] = %q, want %q (newest first)", got[0], "comment 2")
	}
}

func TestLatestIPAndWorkersByIP(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	seedEvent(t, db, "w1", now-300, func(ev *ActionEvent) { ev.IPAddress = "10.0.0.1" })
	seedEvent(t, db, "w1", now-200, func(ev *ActionEvent) { ev.IPAddress = "10.0.0.2" })
	seedEvent(t, db, "w1", now-100) // no IP recorded
	seedEvent(t, db, "w2", now-100, func(ev *ActionEvent) { ev.IPAddress = "10.0.0.2" })

	ip, ok, err := db.LatestIP("w1")
	if err != nil {
		t.Fatalf("LatestIP: %v", err)
	}
	if !ok || ip != "10.0.0.2" {
		t.Errorf("LatestIP = %q ok=%v, want 10.0.0.2 (most recent non-null)", ip, ok)
	}

	_, ok, err = db.LatestIP("w3")
	if err != nil {
		t.Fatalf("LatestIP w3: %v", err)
	}
	if ok {
		t.Error("ok = true for worker with no IP on record, want false")
	}

	sharing, err := db.WorkersByIP("10.0.0.2")
	if err != nil {
		t.Fatalf("WorkersByIP: %v", err)
	}
	if len(sharing) != 2 {
		t.Errorf("workers sharing IP = %d, want 2", len(sharing))
	}
}

func TestEventTimesAndDistinctActionTypes(t *testing.T) {
	db := testDB(t)
	now := time.Now().Unix()

	seedEvent(t, db, "w1", now-300)
	seedEvent(t, db, "w1", now-200)
	seedEvent(t, db, "w1", now-100, func(ev *ActionEvent) { ev.ActionType = "join_group" })

	times, err := db.EventTimes("w1", "like", now-3600)
	if err != nil {
		t.Fatalf("EventTimes: %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("len(times) = %d, want 2", len(times))
	}
	if times[0] > times[1] {
		t.Error("times not ordered oldest first")
	}

	types, err := db.DistinctActionTypes()
	if err != nil {
		t.Fatalf("DistinctActionTypes: %v", err)
	}
	if len(types) != 2 {
		t.Errorf("types = %v, want 2 distinct", types)
	}
}
