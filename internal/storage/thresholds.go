package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertThreshold writes a threshold row, replacing any previous values for
// the same (action_type, time_window). Only the latest thresholds matter, so
// this table is overwritten in place rather than appended.
func (d *DB) UpsertThreshold(tr *ThresholdRow) error {
	_, err := d.db.Exec(
		`INSERT INTO threshold_rows
		 (action_type, time_window, safe_threshold, warning_threshold,
		  danger_threshold, ban_threshold, sample_size, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(action_type, time_window) DO UPDATE SET
		    safe_threshold = excluded.safe_threshold,
		    warning_threshold = excluded.warning_threshold,
		    danger_threshold = excluded.danger_threshold,
		    ban_threshold = excluded.ban_threshold,
		    sample_size = excluded.sample_size,
		    last_updated = excluded.last_updated`,
		tr.ActionType, tr.TimeWindow, tr.SafeThreshold, tr.WarningThreshold,
		tr.DangerThreshold, tr.BanThreshold, tr.SampleSize, tr.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}

// GetThreshold returns the threshold row for (actionType, timeWindow), or
// ok=false when none has been computed yet.
func (d *DB) GetThreshold(actionType, timeWindow string) (*ThresholdRow, bool, error) {
	tr := &ThresholdRow{}
	err := d.db.QueryRow(
		`SELECT action_type, time_window, safe_threshold, warning_threshold,
		        danger_threshold, ban_threshold, sample_size, last_updated
		 FROM threshold_rows WHERE action_type = ? AND time_window = ?`,
		actionType, timeWindow,
	).Scan(&tr.ActionType, &tr.TimeWindow, &tr.SafeThreshold, &tr.WarningThreshold,
		&tr.DangerThreshold, &tr.BanThreshold, &tr.SampleSize, &tr.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get threshold: %w", err)
	}
	return tr, true, nil
}

// ListThresholds returns threshold rows, narrowed to one action type when
// actionType is non-empty.
func (d *DB) ListThresholds(actionType string) ([]ThresholdRow, error) {
	query := `SELECT action_type, time_window, safe_threshold, warning_threshold,
	                 danger_threshold, ban_threshold, sample_size, last_updated
	          FROM threshold_rows`
	args := []any{}
	if actionType != "" {
		query += ` WHERE action_type = ?`
		args = append(args, actionType)
	}
	query += ` ORDER BY action_type, time_window`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []ThresholdRow
	for rows.Next() {
		var tr ThresholdRow
		if err := rows.Scan(&tr.ActionType, &tr.TimeWindow, &tr.SafeThreshold,
			&tr.WarningThreshold, &tr.DangerThreshold, &tr.BanThreshold,
			&tr.SampleSize, &tr.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		thresholds = append(thresholds, tr)
	}
	return thresholds, rows.Err()
}
