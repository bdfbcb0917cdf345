package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertRiskScore appends one risk score row. Scores are append-only so the
// history of a worker's risk stays auditable; readers wanting the current
// score use LatestRiskScore.
func (d *DB) InsertRiskScore(rs *RiskScore) error {
	_, err := d.db.Exec(
		`INSERT INTO risk_scores
		 (id, worker_id, score_date, age_score, frequency_score, pattern_score,
		  content_score, ip_score, total_score, risk_level)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.ID, rs.WorkerID, rs.ScoreDate, rs.AgeScore, rs.FrequencyScore,
		rs.PatternScore, rs.ContentScore, rs.IPScore, rs.TotalScore, rs.RiskLevel,
	)
	if err != nil {
		return fmt.Errorf("insert risk score: %w", err)
	}
	return nil
}

// LatestRiskScore returns the most recent score for a worker, or ok=false
// when the worker has never been scored.
func (d *DB) LatestRiskScore(workerID string) (*RiskScore, bool, error) {
	rs := &RiskScore{}
	err := d.db.QueryRow(
		`SELECT id, worker_id, score_date, age_score, frequency_score, pattern_score,
		        content_score, ip_score, total_score, risk_level
		 FROM risk_scores WHERE worker_id = ?
		 ORDER BY score_date DESC, id DESC LIMIT 1`, workerID,
	).Scan(&rs.ID, &rs.WorkerID, &rs.ScoreDate, &rs.AgeScore, &rs.FrequencyScore,
		&rs.PatternScore, &rs.ContentScore, &rs.IPScore, &rs.TotalScore, &rs.RiskLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest risk score: %w", err)
	}
	return rs, true, nil
}

// LatestRiskScores returns the most recent score per worker with score_date
// >= since, newest first.
func (d *DB) LatestRiskScores(since int64) ([]RiskScore, error) {
	rows, err := d.db.Query(
		`SELECT id, worker_id, score_date, age_score, frequency_score, pattern_score,
		        content_score, ip_score, total_score, risk_level
		 FROM risk_scores WHERE score_date >= ?
		 ORDER BY score_date DESC, id DESC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("latest risk scores: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var scores []RiskScore
	for rows.Next() {
		var rs RiskScore
		if err := rows.Scan(&rs.ID, &rs.WorkerID, &rs.ScoreDate, &rs.AgeScore,
			&rs.FrequencyScore, &rs.PatternScore, &rs.ContentScore, &rs.IPScore,
			&rs.TotalScore, &rs.RiskLevel); err != nil {
			return nil, fmt.Errorf("scan risk score: %w", err)
		}
		// Rows arrive newest first, so the first row per worker is its latest.
		if seen[rs.WorkerID] {
			continue
		}
		seen[rs.WorkerID] = true
		scores = append(scores, rs)
	}
	return scores, rows.Err()
}
