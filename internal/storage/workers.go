package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// EnsureWorker creates a worker row if one does not already exist. Workers
// come into existence on their first ledger write or via explicit
// registration; either path lands here.
func (d *DB) EnsureWorker(id string, createdAt int64) error {
	_, err := d.db.Exec(
		`INSERT INTO workers (id, created_at, status) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, createdAt, WorkerActive,
	)
	if err != nil {
		return fmt.Errorf("ensure worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by ID. Returns sql.ErrNoRows (wrapped) when
// the worker is unknown.
func (d *DB) GetWorker(id string) (*Worker, error) {
	w := &Worker{}
	err := d.db.QueryRow(
		`SELECT id, created_at, status, total_tasks, total_likes, total_comments
		 FROM workers WHERE id = ?`, id,
	).Scan(&w.ID, &w.CreatedAt, &w.Status, &w.TotalTasks, &w.TotalLikes, &w.TotalComments)
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all workers ordered by creation time.
func (d *DB) ListWorkers() ([]Worker, error) {
	rows, err := d.db.Query(
		`SELECT id, created_at, status, total_tasks, total_likes, total_comments
		 FROM workers ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		var w Worker
		if err := rows.Scan(&w.ID, &w.CreatedAt, &w.Status, &w.TotalTasks,
			&w.TotalLikes, &w.TotalComments); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// SetWorkerStatus transitions a worker to the given status. The banned
// transition is only ever issued by the ban tracker.
func (d *DB) SetWorkerStatus(id, status string) error {
	res, err := d.db.Exec(`UPDATE workers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set worker status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set worker status rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set worker status: %w", sql.ErrNoRows)
	}
	return nil
}

// BumpWorkerCounters adds to a worker's lifetime counters.
func (d *DB) BumpWorkerCounters(id string, tasks, likes, comments int) error {
	_, err := d.db.Exec(
		`UPDATE workers SET total_tasks = total_tasks + ?,
		        total_likes = total_likes + ?,
		        total_comments = total_comments + ?
		 WHERE id = ?`,
		tasks, likes, comments, id,
	)
	if err != nil {
		return fmt.Errorf("bump worker counters: %w", err)
	}
	return nil
}

// IsKnownWorker reports whether a worker row exists.
func (d *DB) IsKnownWorker(id string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM workers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is known worker: %w", err)
	}
	return true, nil
}
