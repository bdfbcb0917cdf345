// Package bans records ban events with a snapshot of the worker's activity
// at ban time, and serves aggregate ban statistics for threshold mining and
// operator triage.
package bans

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sorrel-systems/fleet/internal/storage"
)

// Tracker records and aggregates ban events.
type Tracker struct {
	db  *storage.DB
	now func() time.Time // injectable for tests
}

// NewTracker creates a Tracker over the shared store.
func NewTracker(db *storage.DB) *Tracker {
	return &Tracker{db: db, now: time.Now}
}

// RecordBan inserts one ban event for the worker, snapshotting its activity
// at ban time, and marks the worker banned. accountCreated overrides the
// worker row's creation time when the real account age is known; pass nil to
// fall back to the row.
//
// Releasing the worker's claims is deliberately NOT done here: the caller
// performs ReleaseAllClaims as a second explicit step, so a failure of
// either write is visible rather than silently swallowed by the other.
func (t *Tracker) RecordBan(workerID, banType string, accountCreated *time.Time) (*storage.BanEvent, error) {
	now := t.now()

	total, err := t.db.CountEvents(workerID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}
	last24, err := t.db.CountEvents(workerID, "", now.Add(-24*time.Hour).Unix())
	if err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}
	last72, err := t.db.CountEvents(workerID, "", now.Add(-72*time.Hour).Unix())
	if err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}

	b := &storage.BanEvent{
		ID:             uuid.New().String(),
		WorkerID:       workerID,
		BanDate:        now.Unix(),
		BanType:        banType,
		AccountAgeDays: -1,
		BanDelayHours:  -1,
		TotalActions:   total,
		ActionsLast24h: last24,
		ActionsLast72h: last72,
	}

	if accountCreated != nil {
		b.AccountAgeDays = int(now.Sub(*accountCreated).Hours() / 24)
	} else if w, err := t.db.GetWorker(workerID); err == nil {
		b.AccountAgeDays = int(now.Unix()-w.CreatedAt) / 86400
	}

	lastEv, ok, err := t.db.LastActionEvent(workerID)
	if err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}
	if ok {
		b.LastModule = lastEv.Module
		b.LastAction = lastEv.ActionType
		b.BanDelayHours = float64(now.Unix()-lastEv.StartedAt) / 3600
	}

	if err := t.db.InsertBanEvent(b); err != nil {
		return nil, fmt.Errorf("record ban: %w", err)
	}
	// Best effort: the worker row may not exist for a never-seen identity.
	if known, err := t.db.IsKnownWorker(workerID); err == nil && known {
		if err := t.db.SetWorkerStatus(workerID, storage.WorkerBanned); err != nil {
			return nil, fmt.Errorf("record ban: %w", err)
		}
	}
	return b, nil
}

// Stats are aggregate ban statistics over a trailing window.
type Stats struct {
	TotalBans         int
	ByType            map[string]int
	AvgAccountAgeDays float64
	AvgBanDelayHours  float64
}

// Stats aggregates ban events from the trailing withinDays window. Zero or
// negative withinDays aggregates the full history.
func (t *Tracker) Stats(withinDays int) (*Stats, error) {
	var since int64
	if withinDays > 0 {
		since = t.now().AddDate(0, 0, -withinDays).Unix()
	}
	bans, err := t.db.ListBanEvents(since)
	if err != nil {
		return nil, fmt.Errorf("ban stats: %w", err)
	}

	stats := &Stats{ByType: make(map[string]int)}
	var ageSum, delaySum float64
	var ageN, delayN int
	for _, b := range bans {
		stats.TotalBans++
		stats.ByType[b.BanType]++
		if b.AccountAgeDays >= 0 {
			ageSum += float64(b.AccountAgeDays)
			ageN++
		}
		if b.BanDelayHours >= 0 {
			delaySum += b.BanDelayHours
			delayN++
		}
	}
	if ageN > 0 {
		stats.AvgAccountAgeDays = ageSum / float64(ageN)
	}
	if delayN > 0 {
		stats.AvgBanDelayHours = delaySum / float64(delayN)
	}
	return stats, nil
}
