// Package store persists finished job results in a local SQLite
// database so results survive process restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ormasoftchile/fleetcheck/pkg/report"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS job_results (
	job_id      TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	not_ok      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	result_json TEXT NOT NULL
);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the results database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init results schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJobResult upserts one finished job result.
func (s *Store) SaveJobResult(jr *report.JobResult) error {
	blob, err := json.Marshal(jr)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO job_results (job_id, started_at, finished_at, total, ok, not_ok, skipped, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			total = excluded.total,
			ok = excluded.ok,
			not_ok = excluded.not_ok,
			skipped = excluded.skipped,
			result_json = excluded.result_json`,
		jr.JobID,
		jr.StartedAt.Format(time.RFC3339Nano),
		jr.FinishedAt.Format(time.RFC3339Nano),
		jr.Summary.Total, jr.Summary.OK, jr.Summary.NotOK, jr.Summary.Skipped,
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("save job result: %w", err)
	}
	return nil
}

// LoadJobResult fetches one persisted job result by id.
func (s *Store) LoadJobResult(jobID string) (*report.JobResult, error) {
	var blob string
	err := s.db.QueryRow(`SELECT result_json FROM job_results WHERE job_id = ?`, jobID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %q not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job result: %w", err)
	}
	var jr report.JobResult
	if err := json.Unmarshal([]byte(blob), &jr); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &jr, nil
}

// ListJobs returns persisted job ids, most recent first.
func (s *Store) ListJobs() ([]string, error) {
	rows, err := s.db.Query(`SELECT job_id FROM job_results ORDER BY finished_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
