package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClaimTarget attempts to grant workerID exclusivity on (targetKey,
// actionType). The read-then-insert runs inside one immediate transaction
// (Begin takes the write lock via the DSN's _txlock=immediate); if two
// workers race past the read, the loser's insert trips the partial unique
// index and is translated into a denial, so at most one active claim can
// ever exist per pair. Re-claiming by the current owner is an idempotent
// grant, not a new row.
func (d *DB) ClaimTarget(targetKey, actionType, workerID string) (ClaimOutcome, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("claim begin: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow(
		`SELECT worker_id FROM claims
		 WHERE target_key = ? AND action_type = ? AND status = ?`,
		targetKey, actionType, ClaimActive,
	).Scan(&owner)
	switch {
	case err == nil:
		if owner == workerID {
			return ClaimOutcome{Granted: true, Owner: workerID}, nil
		}
		return ClaimOutcome{Granted: false, Owner: owner}, nil
	case errors.Is(err, sql.ErrNoRows):
		// No active claim: try to take it.
	default:
		return ClaimOutcome{}, fmt.Errorf("claim lookup: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO claims (id, target_key, action_type, worker_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), targetKey, actionType, workerID, ClaimActive, time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race. Report whoever won.
			owner, _, _, serr := d.ClaimStatus(targetKey, actionType)
			if serr != nil {
				return ClaimOutcome{Granted: false}, nil
			}
			return ClaimOutcome{Granted: false, Owner: owner}, nil
		}
		return ClaimOutcome{}, fmt.Errorf("claim insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			owner, _, _, serr := d.ClaimStatus(targetKey, actionType)
			if serr != nil {
				return ClaimOutcome{Granted: false}, nil
			}
			return ClaimOutcome{Granted: false, Owner: owner}, nil
		}
		return ClaimOutcome{}, fmt.Errorf("claim commit: %w", err)
	}
	return ClaimOutcome{Granted: true, Owner: workerID}, nil
}

// ReleaseAllClaims transitions every active claim held by workerID to
// released and returns how many were released. One atomic UPDATE, not a
// per-row loop, so a crash cannot leave a partial release.
func (d *DB) ReleaseAllClaims(workerID string) (int, error) {
	res, err := d.db.Exec(
		`UPDATE claims SET status = ?, released_at = ?
		 WHERE worker_id = ? AND status = ?`,
		ClaimReleased, time.Now().Unix(), workerID, ClaimActive,
	)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release claims rows affected: %w", err)
	}
	return int(n), nil
}

// ClaimStatus reports the active claim on (targetKey, actionType), if any.
// ok is false when the pair is unclaimed.
func (d *DB) ClaimStatus(targetKey, actionType string) (owner string, since int64, ok bool, err error) {
	err = d.db.QueryRow(
		`SELECT worker_id, created_at FROM claims
		 WHERE target_key = ? AND action_type = ? AND status = ?`,
		targetKey, actionType, ClaimActive,
	).Scan(&owner, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("claim status: %w", err)
	}
	return owner, since, true, nil
}

// CountActiveClaims returns the number of active claims held by workerID.
func (d *DB) CountActiveClaims(workerID string) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM claims WHERE worker_id = ? AND status = ?`,
		workerID, ClaimActive,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active claims: %w", err)
	}
	return n, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. The modernc driver surfaces these as plain errors, so the message
// text is the only discriminator available.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
