// Package results persists per-run outcomes in a SQLite database. The store
// is the durable side of the sweep: every terminal outcome is written as one
// atomic row, so a crashed or cancelled sweep resumes without repeating
// completed work and a report can be rebuilt long after the process exited.
package results

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/bench"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
)

// Run statuses persisted in the runs table.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sweep_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	session_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	model TEXT NOT NULL,
	load_kind TEXT NOT NULL,
	total_runs INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	run_id INTEGER PRIMARY KEY,
	status TEXT NOT NULL,
	model TEXT NOT NULL,
	load_kind TEXT NOT NULL,
	load_value REAL NOT NULL,
	input_len INTEGER NOT NULL,
	output_len INTEGER NOT NULL,
	num_prompts INTEGER NOT NULL,
	dataset_name TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	ttft_median_ms REAL,
	ttft_p99_ms REAL,
	itl_median_ms REAL,
	itl_p99_ms REAL,
	throughput_tokens_per_s REAL,
	total_requests INTEGER,
	duration_s REAL,
	completed_at TEXT NOT NULL
);
`

// Meta identifies the sweep a store belongs to. The fingerprint binds the
// store to one matrix declaration; resuming against a store with a different
// fingerprint would silently mix incompatible matrices.
type Meta struct {
	SessionID   string
	Fingerprint string
	Model       string
	LoadKind    string
	TotalRuns   int
	CreatedAt   time.Time
}

// StoredRun is one persisted terminal outcome with its experiment config.
type StoredRun struct {
	Config   matrix.ExperimentConfig
	Outcome  bench.RunOutcome
	Recorded time.Time
}

// Store wraps the SQLite database holding a sweep's outcomes.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the store at path, creating parent directories and
// the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// The sweep is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the underlying database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Meta reads the sweep meta row. The second return is false when the store
// is fresh and no sweep has claimed it yet.
func (s *Store) Meta() (Meta, bool, error) {
	row := s.db.QueryRow(
		`SELECT session_id, fingerprint, model, load_kind, total_runs, created_at FROM sweep_meta WHERE id = 1`)

	var m Meta
	var createdAt string
	err := row.Scan(&m.SessionID, &m.Fingerprint, &m.Model, &m.LoadKind, &m.TotalRuns, &createdAt)
	if err == sql.ErrNoRows {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("read sweep meta: %w", err)
	}
	m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Meta{}, false, fmt.Errorf("parse sweep meta timestamp: %w", err)
	}
	return m, true, nil
}

// SetMeta claims a fresh store for a sweep.
func (s *Store) SetMeta(m Meta) error {
	_, err := s.db.Exec(
		`INSERT INTO sweep_meta (id, session_id, fingerprint, model, load_kind, total_runs, created_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Fingerprint, m.Model, m.LoadKind, m.TotalRuns,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write sweep meta: %w", err)
	}
	return nil
}

// Record writes one terminal outcome. A re-run of the same run_id (for
// example retrying a previously failed run) replaces the old row; the write
// is a single statement so a crash never leaves a partial row behind.
func (s *Store) Record(ec matrix.ExperimentConfig, outcome bench.RunOutcome) error {
	var (
		status     = StatusFailed
		reason     = string(outcome.Reason)
		ttftMedian sql.NullFloat64
		ttftP99    sql.NullFloat64
		itlMedian  sql.NullFloat64
		itlP99     sql.NullFloat64
		throughput sql.NullFloat64
		totalReqs  sql.NullInt64
		durationS  sql.NullFloat64
	)
	if outcome.Succeeded() {
		m := outcome.Metrics
		status = StatusSuccess
		reason = ""
		ttftMedian = sql.NullFloat64{Float64: m.TTFTMedianMS, Valid: true}
		ttftP99 = sql.NullFloat64{Float64: m.TTFTP99MS, Valid: true}
		itlMedian = sql.NullFloat64{Float64: m.ITLMedianMS, Valid: true}
		itlP99 = sql.NullFloat64{Float64: m.ITLP99MS, Valid: true}
		throughput = sql.NullFloat64{Float64: m.ThroughputTokensPS, Valid: true}
		totalReqs = sql.NullInt64{Int64: m.TotalRequests, Valid: true}
		durationS = sql.NullFloat64{Float64: m.DurationS, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (
			run_id, status, model, load_kind, load_value, input_len, output_len,
			num_prompts, dataset_name, attempts, reason,
			ttft_median_ms, ttft_p99_ms, itl_median_ms, itl_p99_ms,
			throughput_tokens_per_s, total_requests, duration_s, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ec.RunID, status, ec.Model, string(ec.LoadKind), ec.LoadValue,
		ec.InputLen, ec.OutputLen, ec.NumPrompts, ec.DatasetName,
		outcome.Attempts, reason,
		ttftMedian, ttftP99, itlMedian, itlP99, throughput, totalReqs, durationS,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run %d: %w", ec.RunID, err)
	}
	return nil
}

// CompletedIDs returns every run_id with a terminal outcome, successful or
// exhausted.
func (s *Store) CompletedIDs() (map[int]bool, error) {
	return s.idSet(`SELECT run_id FROM runs`)
}

// SuccessIDs returns run_ids that produced metrics.
func (s *Store) SuccessIDs() (map[int]bool, error) {
	return s.idSet(`SELECT run_id FROM runs WHERE status = 'success'`)
}

func (s *Store) idSet(query string) (map[int]bool, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return out, nil
}

// Runs returns every persisted outcome ordered by run_id.
func (s *Store) Runs() ([]StoredRun, error) {
	rows, err := s.db.Query(
		`SELECT run_id, status, model, load_kind, load_value, input_len, output_len,
			num_prompts, dataset_name, attempts, reason,
			ttft_median_ms, ttft_p99_ms, itl_median_ms, itl_p99_ms,
			throughput_tokens_per_s, total_requests, duration_s, completed_at
		 FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []StoredRun
	for rows.Next() {
		var (
			sr          StoredRun
			status      string
			loadKind    string
			reason      string
			ttftMedian  sql.NullFloat64
			ttftP99     sql.NullFloat64
			itlMedian   sql.NullFloat64
			itlP99      sql.NullFloat64
			throughput  sql.NullFloat64
			totalReqs   sql.NullInt64
			durationS   sql.NullFloat64
			completedAt string
		)
		err := rows.Scan(
			&sr.Config.RunID, &status, &sr.Config.Model, &loadKind, &sr.Config.LoadValue,
			&sr.Config.InputLen, &sr.Config.OutputLen, &sr.Config.NumPrompts,
			&sr.Config.DatasetName, &sr.Outcome.Attempts, &reason,
			&ttftMedian, &ttftP99, &itlMedian, &itlP99, &throughput, &totalReqs, &durationS,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		sr.Config.LoadKind = matrix.LoadKind(loadKind)
		sr.Outcome.RunID = sr.Config.RunID
		if status == StatusSuccess {
			sr.Outcome.Metrics = &bench.MetricSample{
				TTFTMedianMS:       ttftMedian.Float64,
				TTFTP99MS:          ttftP99.Float64,
				ITLMedianMS:        itlMedian.Float64,
				ITLP99MS:           itlP99.Float64,
				ThroughputTokensPS: throughput.Float64,
				TotalRequests:      totalReqs.Int64,
				DurationS:          durationS.Float64,
			}
		} else {
			sr.Outcome.Reason = bench.ErrorKind(reason)
		}
		if sr.Recorded, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
			return nil, fmt.Errorf("parse run timestamp: %w", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
