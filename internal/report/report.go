// Package report assembles the result document of a run and renders or
// archives it.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/schedule"
	"github.com/roach88/lockerbench/internal/snapshot"
)

// Run modes.
const (
	ModeLoad = "load"
	ModeRace = "race"
)

// Teardown records how state was returned after the run.
type Teardown struct {
	// Errors lists every teardown failure in the order it happened.
	Errors []string `json:"errors,omitempty"`

	// ForcedAll is set when restore failed and every assignment, ownership
	// and credential was cleared instead.
	ForcedAll bool `json:"forced_all"`

	Residue snapshot.Residue `json:"residue"`
}

// Clean reports whether teardown left nothing behind.
func (t Teardown) Clean() bool {
	return len(t.Errors) == 0 && t.Residue.Empty()
}

// Document is the archived result of one run.
type Document struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Throughput float64       `json:"throughput_rps"`

	Config   config.Config    `json:"config"`
	Snapshot *snapshot.Counts `json:"snapshot,omitempty"`
	Summary  outcome.Summary  `json:"summary"`

	Batches  *schedule.BatchReport `json:"batches,omitempty"`
	Race     *schedule.RaceResult  `json:"race,omitempty"`
	Teardown Teardown              `json:"teardown"`

	// Outcomes is the full ordered outcome stream, omitted unless detailed
	// output is enabled.
	Outcomes []outcome.Outcome `json:"outcomes,omitempty"`
}

// Throughput returns requests per second, or 0 for an empty run.
func Throughput(total int, elapsed time.Duration) float64 {
	if total == 0 || elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed.Seconds()
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteFile writes doc to path, replacing any existing file only once the
// new content is fully written.
func WriteFile(path string, doc *Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lockerbench-*.json")
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode result document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}
	return nil
}

// ReadFile loads a document written by WriteFile.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode result document %s: %w", path, err)
	}
	return &doc, nil
}
