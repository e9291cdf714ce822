package report

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/lockerbench/internal/outcome"
)

//go:embed archive.sql
var archiveSchema string

// Archive keeps result documents of past runs in a local sqlite database so
// runs can be listed and compared.
type Archive struct {
	db *sql.DB
}

// RunRecord is the summary row of an archived run.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Throughput float64       `json:"throughput_rps"`
	P95        time.Duration `json:"p95_ns"`
	Verdict    string        `json:"verdict,omitempty"`
}

// OpenArchive opens (creating if needed) the archive at path.
func OpenArchive(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON", archiveSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}
	return &Archive{db: db}, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores doc and its outcomes. Saving the same run id twice replaces
// the earlier copy.
func (a *Archive) Save(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	verdict := ""
	if doc.Race != nil {
		verdict = string(doc.Race.Verdict)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM outcomes WHERE run_id = ?`, `DELETE FROM runs WHERE run_id = ?`} {
		if _, err := tx.ExecContext(ctx, q, doc.RunID); err != nil {
			return fmt.Errorf("replace run %s: %w", doc.RunID, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, started_at, duration_ns, total, succeeded, throughput, p95_ns, verdict, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.RunID, doc.Mode, doc.StartedAt.UTC(), int64(doc.Duration), doc.Summary.Total, doc.Summary.Succeeded,
		doc.Throughput, int64(doc.Summary.Latency.P95), verdict, string(body))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", doc.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (run_id, seq, endpoint, actor, resource_id, success, status_code, latency_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range doc.Outcomes {
		if _, err := stmt.ExecContext(ctx, doc.RunID, o.Seq, o.Endpoint, o.Actor, o.ResourceID,
			o.Success, o.StatusCode, int64(o.Latency), o.Error); err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Runs lists archived runs, newest first.
func (a *Archive) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, mode, started_at, duration_ns, total, succeeded, throughput, p95_ns, verdict
		FROM runs ORDER BY started_at DESC, run_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r             RunRecord
			duration, p95 int64
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &duration, &r.Total, &r.Succeeded,
			&r.Throughput, &p95, &r.Verdict); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		r.Duration = time.Duration(duration)
		r.P95 = time.Duration(p95)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Document loads the full document of runID.
func (a *Archive) Document(ctx context.Context, runID string) (*Document, error) {
	var body string
	err := a.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &doc, nil
}

// Outcomes returns the archived outcomes of runID in sequence order.
func (a *Archive) Outcomes(ctx context.Context, runID string) ([]outcome.Outcome, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT seq, endpoint, actor, resource_id, success, status_code, latency_ns, error
		FROM outcomes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []outcome.Outcome
	for rows.Next() {
		var (
			o       outcome.Outcome
			latency int64
		)
		if err := rows.Scan(&o.Seq, &o.Endpoint, &o.Actor, &o.ResourceID, &o.Success,
			&o.StatusCode, &latency, &o.Error); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Latency = time.Duration(latency)
		out = append(out, o)
	}
	return out, rows.Err()
}
