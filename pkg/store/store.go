// Package store archives finished runs in SQLite so the status API
// and the report subcommand can read them without the original report
// files on hand.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/score"
)

// Run archive statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusHalted    = "halted"
)

// Per-unit archive statuses, derived from the report row.
const (
	UnitStatusOK      = "ok"
	UnitStatusError   = "error"
	UnitStatusTimeout = "timeout"
)

// Busy retry tuning. The busy_timeout pragma handles short lock
// contention; the retry loop covers writers that exceed it.
const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id     TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    agent      TEXT NOT NULL,
    status     TEXT NOT NULL,
    config     TEXT NOT NULL,
    aggregate  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_results (
    run_id  TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL,
    ord     INTEGER NOT NULL,
    status  TEXT NOT NULL,
    result  TEXT NOT NULL,
    PRIMARY KEY (run_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_unit_results_run_ord ON unit_results(run_id, ord);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// New opens or creates the archive. On-disk databases are created with
// owner-only permissions before SQLite touches them.
func New(dbPath string) (*Store, error) {
	filePath, onDisk := sqliteFilePathFromDSN(dbPath)
	if onDisk {
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create archive directory").
					WithContext("dir", dir)
			}
		}
		if err := ensurePrivateFile(filePath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to open archive database").
			WithContext("path", dbPath)
	}

	// One writer at a time, many readers under WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to configure archive database").
				WithContext("pragma", pragma)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to apply archive schema")
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun archives a report under the given status, replacing any
// prior archive of the same run id. Unit rows keep their report order.
func (s *Store) SaveRun(r *report.Report, status string) error {
	if r == nil {
		return errors.New(errors.ErrCodeInvalidInput, "archive report is nil")
	}
	if r.RunID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "archive report has no run id")
	}
	if status == "" {
		status = RunStatusCompleted
	}

	header := *r
	header.Aggregate = score.Aggregate{}
	header.Packages = nil
	header.Checksum = ""
	configJSON, err := json.Marshal(&header)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to encode run header")
	}
	aggJSON, err := json.Marshal(r.Aggregate)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to encode run aggregate")
	}

	createdAt := time.Unix(r.StartedAtUnixSeconds, 0).UTC()
	if r.StartedAtUnixSeconds == 0 {
		createdAt = time.Now().UTC()
	}

	for attempt := 0; ; attempt++ {
		err = s.saveRun(r, status, createdAt, configJSON, aggJSON)
		if err == nil {
			return nil
		}
		if !isBusyError(err) || attempt >= busyRetries {
			break
		}
		time.Sleep(busyBaseDelay * time.Duration(1<<uint(attempt)))
	}
	return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to archive run").
		WithContext("run_id", r.RunID)
}

func (s *Store) saveRun(r *report.Report, status string, createdAt time.Time, configJSON, aggJSON []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (run_id, created_at, agent, status, config, aggregate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at = excluded.created_at,
			agent      = excluded.agent,
			status     = excluded.status,
			config     = excluded.config,
			aggregate  = excluded.aggregate
	`, r.RunID, createdAt, r.Agent, status, string(configJSON), string(aggJSON))
	if err != nil {
		return err
	}

	for i, row := range r.Packages {
		resultJSON, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO unit_results (run_id, unit_id, ord, status, result)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, unit_id) DO UPDATE SET
				ord    = excluded.ord,
				status = excluded.status,
				result = excluded.result
		`, r.RunID, row.PackageID, i, unitStatus(row), string(resultJSON))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun reconstructs an archived report. Returns nil when the run is
// unknown.
func (s *Store) GetRun(runID string) (*report.Report, error) {
	var configJSON, aggJSON string
	err := s.db.QueryRow(
		`SELECT config, aggregate FROM runs WHERE run_id = ?`, runID,
	).Scan(&configJSON, &aggJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read archived run").
			WithContext("run_id", runID)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(configJSON), &r); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to decode archived run header").
			WithContext("run_id", runID)
	}
	if err := json.Unmarshal([]byte(aggJSON), &r.Aggregate); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to decode archived run aggregate").
			WithContext("run_id", runID)
	}

	rows, err := s.db.Query(
		`SELECT result FROM unit_results WHERE run_id = ? ORDER BY ord`, runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read archived unit results").
			WithContext("run_id", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to scan archived unit result")
		}
		var row report.UnitResult
		if err := json.Unmarshal([]byte(resultJSON), &row); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to decode archived unit result").
				WithContext("run_id", runID)
		}
		r.Packages = append(r.Packages, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read archived unit results").
			WithContext("run_id", runID)
	}

	return &r, nil
}

// RunSummary is one archive listing entry.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	Agent      string    `json:"agent"`
	Status     string    `json:"status"`
	Packages   int       `json:"packages"`
	Hits       int       `json:"hits"`
	AvgHitRate float64   `json:"avg_hit_rate"`
}

// ListRuns returns archived runs, newest first. A non-positive limit
// returns up to 50.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, created_at, agent, status, aggregate
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list archived runs")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var aggJSON string
		if err := rows.Scan(&sum.RunID, &sum.CreatedAt, &sum.Agent, &sum.Status, &aggJSON); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to scan archived run")
		}
		var agg score.Aggregate
		if err := json.Unmarshal([]byte(aggJSON), &agg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to decode archived run aggregate").
				WithContext("run_id", sum.RunID)
		}
		sum.Packages = agg.Packages
		sum.Hits = agg.Hits
		sum.AvgHitRate = agg.AvgHitRate
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list archived runs")
	}
	return out, nil
}

// DeleteRun removes a run and its unit rows. Deleting an unknown run
// is not an error.
func (s *Store) DeleteRun(runID string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to delete archived run").
			WithContext("run_id", runID)
	}
	return nil
}

func unitStatus(row report.UnitResult) string {
	switch {
	case row.TimedOut:
		return UnitStatusTimeout
	case row.Error != "":
		return UnitStatusError
	default:
		return UnitStatusOK
	}
}

// sqliteFilePathFromDSN extracts the on-disk path from a DSN. The
// second return is false for in-memory databases and URI forms that
// name no file.
func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil || !strings.EqualFold(strings.TrimSpace(u.Scheme), "file") {
			return "", false
		}
		path := strings.TrimSpace(u.Path)
		if path == "" {
			path = strings.TrimSpace(u.Opaque)
		}
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	}
	if strings.Contains(dsn, "://") {
		return "", false
	}
	return dsn, true
}

// ensurePrivateFile creates the database file with owner-only
// permissions when it does not exist yet.
func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to stat archive file").
			WithContext("path", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create archive file").
			WithContext("path", path)
	}
	return f.Close()
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if sqliteErr, ok := err.(*sqlite.Error); ok {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
