// Package threshold mines the action ledger and ban history into adaptive
// per-action-type activity limits. The safe population (never-banned
// workers) sets the safe/warning/danger percentile thresholds; pre-ban
// activity of banned workers calibrates the ban threshold.
package threshold

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/sorrel-systems/fleet/internal/storage"
)

// Window is one analysis time window.
type Window struct {
	Name  string
	Hours int
}

// Windows are the three windows thresholds are computed for.
var Windows = []Window{
	{Name: "daily", Hours: 24},
	{Name: "three_days", Hours: 72},
	{Name: "weekly", Hours: 168},
}

// WindowByName resolves a window name, ok=false when unknown.
func WindowByName(name string) (Window, bool) {
	for _, w := range Windows {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// Safety levels returned by CheckSafety, loosest to tightest.
const (
	LevelUnknown  = "unknown"
	LevelSafe     = "safe"
	LevelWarning  = "warning"
	LevelDanger   = "danger"
	LevelCritical = "critical"
)

// minSafeSamples is the smallest safe-population sample an (action type,
// window) pair needs before thresholds are computed for it.
const minSafeSamples = 10

// safeLookbackDays is how far back the safe population's daily counts reach.
const safeLookbackDays = 30

// Analyzer computes and upserts threshold rows.
type Analyzer struct {
	db  *storage.DB
	now func() time.Time // injectable for tests
}

// NewAnalyzer creates an Analyzer over the shared store.
func NewAnalyzer(db *storage.DB) *Analyzer {
	return &Analyzer{db: db, now: time.Now}
}

// Analyze recomputes thresholds for every observed action type and window.
// Pairs with insufficient safe data are skipped silently; persistence
// failures are logged and the sweep continues. Returns the number of rows
// upserted.
func (a *Analyzer) Analyze() (int, error) {
	types, err := a.db.DistinctActionTypes()
	if err != nil {
		return 0, fmt.Errorf("analyze: %w", err)
	}
	workers, err := a.db.ListWorkers()
	if err != nil {
		return 0, fmt.Errorf("analyze: %w", err)
	}
	banned, err := a.db.BannedWorkerIDs()
	if err != nil {
		return 0, fmt.Errorf("analyze: %w", err)
	}
	bans, err := a.db.ListBanEvents(0)
	if err != nil {
		return 0, fmt.Errorf("analyze: %w", err)
	}

	updated := 0
	for _, actionType := range types {
		safeCounts, err := a.safeCounts(actionType, workers, banned)
		if err != nil {
			log.Printf("[threshold] safe counts for %s: %v", actionType, err)
			continue
		}
		if len(safeCounts) < minSafeSamples {
			continue
		}

		for _, window := range Windows {
			bannedCounts, err := a.bannedCounts(actionType, window, bans)
			if err != nil {
				log.Printf("[threshold] banned counts for %s/%s: %v", actionType, window.Name, err)
				continue
			}

			row := buildRow(actionType, window.Name, safeCounts, bannedCounts, a.now().Unix())
			if err := a.db.UpsertThreshold(row); err != nil {
				log.Printf("[threshold] upsert %s/%s: %v", actionType, window.Name, err)
				continue
			}
			updated++
		}
	}
	return updated, nil
}

// safeCounts collects, for every never-banned worker, its non-zero
// per-calendar-day counts of actionType over the lookback period.
func (a *Analyzer) safeCounts(actionType string, workers []storage.Worker, banned map[string]bool) ([]int, error) {
	since := a.now().AddDate(0, 0, -safeLookbackDays).Unix()

	var counts []int
	for _, w := range workers {
		if banned[w.ID] {
			continue
		}
		times, err := a.db.EventTimes(w.ID, actionType, since)
		if err != nil {
			return nil, err
		}
		perDay := make(map[string]int)
		for _, ts := range times {
			perDay[time.Unix(ts, 0).UTC().Format("2006-01-02")]++
		}
		for _, n := range perDay {
			counts = append(counts, n)
		}
	}
	return counts, nil
}

// bannedCounts collects each banned worker's non-zero actionType count in
// the window immediately preceding its ban.
func (a *Analyzer) bannedCounts(actionType string, window Window, bans []storage.BanEvent) ([]int, error) {
	var counts []int
	for _, b := range bans {
		from := b.BanDate - int64(window.Hours)*3600
		n, err := a.db.CountEventsInWindow(b.WorkerID, actionType, from, b.BanDate)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts = append(counts, n)
		}
	}
	return counts, nil
}

// buildRow derives one threshold row from the two populations. By
// construction safe <= warning <= danger.
func buildRow(actionType, windowName string, safeCounts, bannedCounts []int, now int64) *storage.ThresholdRow {
	safe := percentile(safeCounts, 50)
	warning := percentile(safeCounts, 75)
	danger := percentile(safeCounts, 90)

	ban := danger + 10
	if len(bannedCounts) > 0 {
		sum := 0
		for _, n := range bannedCounts {
			sum += n
		}
		ban = int(math.Round(float64(sum) / float64(len(bannedCounts))))
	}

	return &storage.ThresholdRow{
		ActionType:       actionType,
		TimeWindow:       windowName,
		SafeThreshold:    safe,
		WarningThreshold: warning,
		DangerThreshold:  danger,
		BanThreshold:     ban,
		SampleSize:       len(safeCounts),
		LastUpdated:      now,
	}
}

// percentile returns the nearest-rank percentile of data:
// sorted(data)[min(floor(len*p/100), len-1)].
func percentile(data []int, p int) int {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]int, len(data))
	copy(sorted, data)
	sort.Ints(sorted)

	idx := len(sorted) * p / 100
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Safety is the outcome of a CheckSafety call. Remaining is the budget left
// before the danger threshold (0 at or above danger, -1 when unknown).
type Safety struct {
	Level     string
	Remaining int
	Count     int
}

// CheckSafety compares the worker's activity in the window against the
// stored thresholds for the action type. With no threshold row on record the
// answer is unknown with a -1 budget.
func (a *Analyzer) CheckSafety(workerID, actionType, windowName string) (Safety, error) {
	window, ok := WindowByName(windowName)
	if !ok {
		return Safety{}, fmt.Errorf("check safety: unknown window %q", windowName)
	}

	row, found, err := a.db.GetThreshold(actionType, windowName)
	if err != nil {
		return Safety{}, fmt.Errorf("check safety: %w", err)
	}
	if !found {
		return Safety{Level: LevelUnknown, Remaining: -1}, nil
	}

	since := a.now().Add(-time.Duration(window.Hours) * time.Hour).Unix()
	count, err := a.db.CountEvents(workerID, actionType, since)
	if err != nil {
		return Safety{}, fmt.Errorf("check safety: %w", err)
	}

	remaining := row.DangerThreshold - count
	if remaining < 0 {
		remaining = 0
	}

	var level string
	switch {
	case count < row.SafeThreshold:
		level = LevelSafe
	case count < row.WarningThreshold:
		level = LevelWarning
	case count < row.DangerThreshold:
		level = LevelDanger
	default:
		level = LevelCritical
	}
	return Safety{Level: level, Remaining: remaining, Count: count}, nil
}
