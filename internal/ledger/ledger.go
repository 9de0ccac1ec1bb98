// Package ledger keeps a sqlite history of batches, exports and failures.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/satindergrewal/surroundmix/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	input_dir TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	hardware TEXT NOT NULL,
	channel_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	jobs INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS exports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	job TEXT NOT NULL,
	path TEXT NOT NULL,
	channel_count INTEGER NOT NULL,
	exported_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	job TEXT NOT NULL,
	stage TEXT NOT NULL,
	detail TEXT NOT NULL,
	failed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);
CREATE INDEX IF NOT EXISTS idx_exports_batch ON exports(batch_id);
CREATE INDEX IF NOT EXISTS idx_failures_batch ON failures(batch_id);
`

// Ledger is a session.Recorder backed by sqlite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Recorder = (*Ledger)(nil)

// Open creates or opens the database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// sqlite allows one writer; the session records from several goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) BatchStarted(b session.Batch) error {
	_, err := l.db.Exec(`INSERT INTO batches (id, input_dir, output_dir, hardware, channel_count, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.InputDir, b.OutputDir, b.Hardware, b.ChannelCount, string(session.StatusProcessing), l.now().Unix())
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.ID, err)
	}
	return nil
}

func (l *Ledger) BatchFinished(id string, status session.Status, jobs, failures int) error {
	_, err := l.db.Exec(`UPDATE batches SET status = ?, jobs = ?, failures = ?, finished_at = ? WHERE id = ?`,
		string(status), jobs, failures, l.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) JobExported(batchID, job, path string, channelCount int) error {
	_, err := l.db.Exec(`INSERT INTO exports (batch_id, job, path, channel_count, exported_at) VALUES (?, ?, ?, ?, ?)`,
		batchID, job, path, channelCount, l.now().Unix())
	if err != nil {
		return fmt.Errorf("insert export %s: %w", job, err)
	}
	return nil
}

func (l *Ledger) JobFailed(batchID, job, stage, detail string) error {
	_, err := l.db.Exec(`INSERT INTO failures (batch_id, job, stage, detail, failed_at) VALUES (?, ?, ?, ?, ?)`,
		batchID, job, stage, detail, l.now().Unix())
	if err != nil {
		return fmt.Errorf("insert failure %s: %w", job, err)
	}
	return nil
}

// BatchRecord is one row of batch history.
type BatchRecord struct {
	ID           string     `json:"id"`
	InputDir     string     `json:"input_dir"`
	OutputDir    string     `json:"output_dir"`
	Hardware     string     `json:"hardware"`
	ChannelCount int        `json:"channel_count"`
	Status       string     `json:"status"`
	Jobs         int        `json:"jobs"`
	Failures     int        `json:"failures"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ExportRecord is one exported file.
type ExportRecord struct {
	BatchID      string    `json:"batch_id"`
	Job          string    `json:"job"`
	Path         string    `json:"path"`
	ChannelCount int       `json:"channel_count"`
	ExportedAt   time.Time `json:"exported_at"`
}

// FailureRecord is one separation or export failure.
type FailureRecord struct {
	BatchID  string    `json:"batch_id"`
	Job      string    `json:"job"`
	Stage    string    `json:"stage"`
	Detail   string    `json:"detail"`
	FailedAt time.Time `json:"failed_at"`
}

// History returns the most recent batches, newest first.
func (l *Ledger) History(limit int) ([]BatchRecord, error) {
	rows, err := l.db.Query(`SELECT id, input_dir, output_dir, hardware, channel_count, status, jobs, failures, started_at, finished_at
		FROM batches ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var r BatchRecord
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.InputDir, &r.OutputDir, &r.Hardware, &r.ChannelCount, &r.Status,
			&r.Jobs, &r.Failures, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Exports returns the exports of one batch in the order they happened.
func (l *Ledger) Exports(batchID string) ([]ExportRecord, error) {
	rows, err := l.db.Query(`SELECT batch_id, job, path, channel_count, exported_at FROM exports
		WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var r ExportRecord
		var at int64
		if err := rows.Scan(&r.BatchID, &r.Job, &r.Path, &r.ChannelCount, &at); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		r.ExportedAt = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failures returns the failures of one batch in the order they happened.
func (l *Ledger) Failures(batchID string) ([]FailureRecord, error) {
	rows, err := l.db.Query(`SELECT batch_id, job, stage, detail, failed_at FROM failures
		WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var r FailureRecord
		var at int64
		if err := rows.Scan(&r.BatchID, &r.Job, &r.Stage, &r.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		r.FailedAt = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
