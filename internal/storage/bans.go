package storage

import (
	"fmt"
)

// InsertBanEvent appends one ban record. Multiple bans per worker are
// permitted (re-ban after manual reinstatement).
func (d *DB) InsertBanEvent(b *BanEvent) error {
	_, err := d.db.Exec(
		`INSERT INTO ban_events
		 (id, worker_id, ban_date, ban_type, account_age_days, ban_delay_hours,
		  total_actions, actions_last_24h, actions_last_72h, last_module, last_action)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkerID, b.BanDate, b.BanType, b.AccountAgeDays, b.BanDelayHours,
		b.TotalActions, b.ActionsLast24h, b.ActionsLast72h,
		nullString(b.LastModule), nullString(b.LastAction),
	)
	if err != nil {
		return fmt.Errorf("insert ban event: %w", err)
	}
	return nil
}

// ListBanEvents returns ban events with ban_date >= since (all when since
// <= 0), newest first.
func (d *DB) ListBanEvents(since int64) ([]BanEvent, error) {
	query := `SELECT id, worker_id, ban_date, ban_type, account_age_days, ban_delay_hours,
	                 total_actions, actions_last_24h, actions_last_72h,
	                 COALESCE(last_module, ''), COALESCE(last_action, '')
	          FROM ban_events`
	args := []any{}
	if since > 0 {
		query += ` WHERE ban_date >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY ban_date DESC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ban events: %w", err)
	}
	defer rows.Close()

	var bans []BanEvent
	for rows.Next() {
		var b BanEvent
		if err := rows.Scan(&b.ID, &b.WorkerID, &b.BanDate, &b.BanType,
			&b.AccountAgeDays, &b.BanDelayHours, &b.TotalActions,
			&b.ActionsLast24h, &b.ActionsLast72h, &b.LastModule, &b.LastAction); err != nil {
			return nil, fmt.Errorf("scan ban event: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// BannedWorkerIDs returns the distinct set of workers with at least one ban.
func (d *DB) BannedWorkerIDs() (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT DISTINCT worker_id FROM ban_events`)
	if err != nil {
		return nil, fmt.Errorf("banned worker ids: %w", err)
	}
	defer rows.Close()

	banned := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan banned worker id: %w", err)
		}
		banned[id] = true
	}
	return banned, rows.Err()
}
