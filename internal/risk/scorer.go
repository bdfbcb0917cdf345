// Package risk derives a live per-worker risk estimate from the action
// ledger and ban history. Scores are composites of five banded components;
// each computation appends a new row so the history stays auditable.
package risk

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sorrel-systems/fleet/internal/storage"
)

// Component weights. They sum to 1.
const (
	weightAge       = 0.15
	weightFrequency = 0.30
	weightPattern   = 0.25
	weightContent   = 0.20
	weightIP        = 0.10
)

// neutralScore is the default when a component has no data to judge.
const neutralScore = 50

// Scorer computes and persists risk scores over the shared store.
type Scorer struct {
	db  *storage.DB
	now func() time.Time // injectable for tests
}

// NewScorer creates a Scorer over the shared store.
func NewScorer(db *storage.DB) *Scorer {
	return &Scorer{db: db, now: time.Now}
}

// ComputeScore computes the worker's current risk score and appends it to
// the score history.
func (s *Scorer) ComputeScore(workerID string) (*storage.RiskScore, error) {
	now := s.now()

	age, err := s.scoreAge(workerID, now)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}
	freq, err := s.scoreFrequency(workerID, now)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}
	pattern, err := s.scorePattern(workerID)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}
	content, err := s.scoreContent(workerID)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}
	ip, err := s.scoreIP(workerID)
	if err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}

	total := int(math.Round(
		weightAge*float64(age) +
			weightFrequency*float64(freq) +
			weightPattern*float64(pattern) +
			weightContent*float64(content) +
			weightIP*float64(ip)))

	rs := &storage.RiskScore{
		ID:             uuid.New().String(),
		WorkerID:       workerID,
		ScoreDate:      now.Unix(),
		AgeScore:       age,
		FrequencyScore: freq,
		PatternScore:   pattern,
		ContentScore:   content,
		IPScore:        ip,
		TotalScore:     total,
		RiskLevel:      levelFor(total),
	}
	if err := s.db.InsertRiskScore(rs); err != nil {
		return nil, fmt.Errorf("compute score: %w", err)
	}
	return rs, nil
}

// Latest returns the worker's most recent score, or ok=false when the worker
// has never been scored.
func (s *Scorer) Latest(workerID string) (*storage.RiskScore, bool, error) {
	return s.db.LatestRiskScore(workerID)
}

// ListByLevel returns the most recent score per worker, filtered to one risk
// level, among scores computed in the trailing withinHours window.
func (s *Scorer) ListByLevel(level string, withinHours int) ([]storage.RiskScore, error) {
	since := s.now().Add(-time.Duration(withinHours) * time.Hour).Unix()
	latest, err := s.db.LatestRiskScores(since)
	if err != nil {
		return nil, err
	}
	var filtered []storage.RiskScore
	for _, rs := range latest {
		if rs.RiskLevel == level {
			filtered = append(filtered, rs)
		}
	}
	return filtered, nil
}

// SweepAll recomputes scores for every known worker, continuing past
// individual failures. Returns the number of workers scored.
func (s *Scorer) SweepAll() int {
	workers, err := s.db.ListWorkers()
	if err != nil {
		log.Printf("[risk] list workers: %v", err)
		return 0
	}
	scored := 0
	for _, w := range workers {
		if _, err := s.ComputeScore(w.ID); err != nil {
			log.Printf("[risk] score worker %s: %v", w.ID, err)
			continue
		}
		scored++
	}
	return scored
}

// --- Components ---

// scoreAge: younger accounts score higher risk. Unknown creation date is
// scored neutral.
func (s *Scorer) scoreAge(workerID string, now time.Time) (int, error) {
	w, err := s.db.GetWorker(workerID)
	if err != nil {
		// Unknown worker: no creation date on record.
		return neutralScore, nil
	}
	days := int(now.Unix()-w.CreatedAt) / 86400
	return ageBand(days), nil
}

// ageBand maps account age in days to a risk band.
func ageBand(days int) int {
	switch {
	case days <= 7:
		return 90
	case days <= 30:
		return 70
	case days <= 90:
		return 50
	case days <= 180:
		return 30
	default:
		return 10
	}
}

// scoreFrequency: activity volume in the last 24 hours.
func (s *Scorer) scoreFrequency(workerID string, now time.Time) (int, error) {
	n, err := s.db.CountEvents(workerID, "", now.Add(-24*time.Hour).Unix())
	if err != nil {
		return 0, err
	}
	return frequencyBand(n), nil
}

// frequencyBand maps a 24h action count to a risk band.
func frequencyBand(count int) int {
	switch {
	case count == 0:
		return 0
	case count <= 20:
		return 20
	case count <= 50:
		return 40
	case count <= 100:
		return 60
	case count <= 200:
		return 80
	default:
		return 100
	}
}

// patternSampleSize is how many recent intervals feed the timing analysis.
const patternSampleSize = 20

// scorePattern: mechanically regular timing between actions is bot-like.
func (s *Scorer) scorePattern(workerID string) (int, error) {
	intervals, err := s.db.RecentIntervals(workerID, patternSampleSize)
	if err != nil {
		return 0, err
	}
	return patternBand(intervals), nil
}

// patternBand scores the coefficient of variation of the interval sample.
// Lower CV means more regular timing and scores higher risk. Fewer than 5
// samples is not enough signal and scores neutral.
func patternBand(intervals []float64) int {
	if len(intervals) < 5 {
		return neutralScore
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))

	var sq float64
	for _, v := range intervals {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(intervals)))

	cv := 0.0
	if mean != 0 {
		cv = stddev / mean
	}

	switch {
	case cv < 0.2:
		return 90
	case cv < 0.4:
		return 70
	case cv < 0.6:
		return 40
	default:
		return 20
	}
}

// contentSampleSize is how many recent comments feed the repetition check.
const contentSampleSize = 10

// scoreContent: repetitive comment text is bot-like.
func (s *Scorer) scoreContent(workerID string) (int, error) {
	comments, err := s.db.RecentComments(workerID, contentSampleSize)
	if err != nil {
		return 0, err
	}
	return contentBand(comments), nil
}

// contentBand scores comment repetition: 100 x (1 - distinct/total).
// A worker with no comments scores 30.
func contentBand(comments []string) int {
	if len(comments) == 0 {
		return 30
	}
	distinct := make(map[string]bool, len(comments))
	for _, c := range comments {
		distinct[c] = true
	}
	return int(math.Round(100 * (1 - float64(len(distinct))/float64(len(comments)))))
}

// scoreIP: a worker is riskier when it shares its latest IP with many other
// workers, especially banned ones. No IP on record scores neutral.
func (s *Scorer) scoreIP(workerID string) (int, error) {
	ip, ok, err := s.db.LatestIP(workerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return neutralScore, nil
	}

	sharing, err := s.db.WorkersByIP(ip)
	if err != nil {
		return 0, err
	}
	banned, err := s.db.BannedWorkerIDs()
	if err != nil {
		return 0, err
	}
	bannedOnIP := 0
	for _, w := range sharing {
		if banned[w] {
			bannedOnIP++
		}
	}

	banRate := 0.0
	if len(sharing) > 0 {
		banRate = float64(bannedOnIP) / float64(len(sharing))
	}
	return ipBand(banRate, len(sharing)), nil
}

// ipBand combines the ban rate among IP-sharing workers with a crowding
// band: ban_rate x 100 x 0.7 + count_risk x 0.3.
func ipBand(banRate float64, sharing int) int {
	var countRisk int
	switch {
	case sharing >= 10:
		countRisk = 80
	case sharing >= 5:
		countRisk = 60
	case sharing >= 3:
		countRisk = 40
	default:
		countRisk = 20
	}
	return int(math.Round(banRate*100*0.7 + float64(countRisk)*0.3))
}

// levelFor maps a total score to a risk level band.
func levelFor(total int) string {
	switch {
	case total < 30:
		return storage.RiskLow
	case total < 50:
		return storage.RiskMedium
	case total < 70:
		return storage.RiskHigh
	default:
		return storage.RiskCritical
	}
}
