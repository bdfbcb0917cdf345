package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertActionEvent appends one ledger row. Events are immutable once
// written; there is no update or delete path.
func (d *DB) InsertActionEvent(ev *ActionEvent) error {
	var interval sql.NullFloat64
	if ev.IntervalFromLast != nil {
		interval = sql.NullFloat64{Float64: *ev.IntervalFromLast, Valid: true}
	}
	_, err := d.db.Exec(
		`INSERT INTO action_events
		 (id, worker_id, module, action_type, target, started_at, duration,
		  interval_from_last, result, content, ip_address, device)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkerID, ev.Module, ev.ActionType, nullString(ev.Target),
		ev.StartedAt, ev.Duration, interval, ev.Result, nullString(ev.Content),
		nullString(ev.IPAddress), nullString(ev.Device),
	)
	if err != nil {
		return fmt.Errorf("insert action event: %w", err)
	}
	return nil
}

// LastActionEvent returns the most recent event for a worker, or ok=false if
// the worker has none.
func (d *DB) LastActionEvent(workerID string) (*ActionEvent, bool, error) {
	row := d.db.QueryRow(
		`SELECT id, worker_id, module, action_type, target, started_at, duration,
		        interval_from_last, result, content, ip_address, device
		 FROM action_events WHERE worker_id = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`, workerID,
	)
	ev, err := scanActionEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("last action event: %w", err)
	}
	return ev, true, nil
}

// CountEvents counts a worker's events since a unix timestamp. actionType
// narrows the count when non-empty; since <= 0 counts the full history.
func (d *DB) CountEvents(workerID, actionType string, since int64) (int, error) {
	query := `SELECT COUNT(*) FROM action_events WHERE worker_id = ?`
	args := []any{workerID}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	if since > 0 {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}
	var n int
	if err := d.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountEventsInWindow counts a worker's events of one action type with
// started_at in [from, to).
func (d *DB) CountEventsInWindow(workerID, actionType string, from, to int64) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM action_events
		 WHERE worker_id = ? AND action_type = ? AND started_at >= ? AND started_at < ?`,
		workerID, actionType, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events in window: %w", err)
	}
	return n, nil
}

// EventTimes returns started_at timestamps for a worker's events of one
// action type since a unix timestamp, oldest first.
func (d *DB) EventTimes(workerID, actionType string, since int64) ([]int64, error) {
	rows, err := d.db.Query(
		`SELECT started_at FROM action_events
		 WHERE worker_id = ? AND action_type = ? AND started_at >= ?
		 ORDER BY started_at`,
		workerID, actionType, since,
	)
	if err != nil {
		return nil, fmt.Errorf("event times: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan event time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// RecentIntervals returns up to n of the worker's most recent non-null
// interval_from_last values, newest first.
func (d *DB) RecentIntervals(workerID string, n int) ([]float64, error) {
	rows, err := d.db.Query(
		`SELECT interval_from_last FROM action_events
		 WHERE worker_id = ? AND interval_from_last IS NOT NULL
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		workerID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent intervals: %w", err)
	}
	defer rows.Close()

	var intervals []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		intervals = append(intervals, v)
	}
	return intervals, rows.Err()
}

// RecentComments returns up to n of the worker's most recent non-null
// comment contents, newest first.
func (d *DB) RecentComments(workerID string, n int) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT content FROM action_events
		 WHERE worker_id = ? AND action_type = 'comment' AND content IS NOT NULL
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		workerID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent comments: %w", err)
	}
	defer rows.Close()

	var comments []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// LatestIP returns the most recent non-null IP address a worker acted from,
// or ok=false when none is on record.
func (d *DB) LatestIP(workerID string) (string, bool, error) {
	var ip string
	err := d.db.QueryRow(
		`SELECT ip_address FROM action_events
		 WHERE worker_id = ? AND ip_address IS NOT NULL
		 ORDER BY started_at DESC, id DESC LIMIT 1`, workerID,
	).Scan(&ip)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest ip: %w", err)
	}
	return ip, true, nil
}

// WorkersByIP returns the distinct workers that have ever acted from ip.
func (d *DB) WorkersByIP(ip string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT DISTINCT worker_id FROM action_events WHERE ip_address = ?`, ip,
	)
	if err != nil {
		return nil, fmt.Errorf("workers by ip: %w", err)
	}
	defer rows.Close()

	var workers []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan worker by ip: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// DistinctActionTypes returns every action type observed in the ledger.
func (d *DB) DistinctActionTypes() ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT action_type FROM action_events ORDER BY action_type`)
	if err != nil {
		return nil, fmt.Errorf("distinct action types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan action type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanActionEvent(s scanner) (*ActionEvent, error) {
	ev := &ActionEvent{}
	var target, content, ip, device sql.NullString
	var interval sql.NullFloat64
	err := s.Scan(&ev.ID, &ev.WorkerID, &ev.Module, &ev.ActionType, &target,
		&ev.StartedAt, &ev.Duration, &interval, &ev.Result, &content, &ip, &device)
	if err != nil {
		return nil, err
	}
	ev.Target = target.String
	ev.Content = content.String
	ev.IPAddress = ip.String
	ev.Device = device.String
	if interval.Valid {
		v := interval.Float64
		ev.IntervalFromLast = &v
	}
	return ev, nil
}
