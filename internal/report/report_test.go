package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/scenario"
	"github.com/roach88/lockerbench/internal/schedule"
	"github.com/roach88/lockerbench/internal/snapshot"
)

var started = time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func loadDocument() *Document {
	outcomes := []outcome.Outcome{
		{Seq: 1, Endpoint: "POST /auth/login", Actor: "TEST0001", Success: true, StatusCode: 200, Latency: ms(10)},
		{Seq: 2, Endpoint: "GET /lockers", Actor: "TEST0001", Success: true, StatusCode: 200, Latency: ms(20)},
		{Seq: 3, Endpoint: "POST /lockers/{id}/hold", Actor: "TEST0001", ResourceID: 9001, Success: true, StatusCode: 201, Latency: ms(30)},
		{Seq: 4, Endpoint: "POST /lockers/{id}/hold", Actor: "TEST0002", ResourceID: 9001, StatusCode: 409, Latency: ms(5), Error: "POST /lockers/{id}/hold returned 409"},
	}
	counts := outcome.Counts{
		HoldAttempts: 2, HoldSuccesses: 1,
		ConfirmAttempts: 1, ConfirmSuccesses: 1,
		VerifyCorrect: 1, OwnershipVerified: 1,
	}
	return &Document{
		RunID:      "test-run-default",
		Mode:       ModeLoad,
		StartedAt:  started,
		Duration:   2 * time.Second,
		Throughput: Throughput(len(outcomes), 2*time.Second),
		Config:     config.Default(),
		Snapshot:   &snapshot.Counts{Assignments: 1, OwnedResources: 1, Credentials: 2},
		Summary:    outcome.Summarize(outcomes, counts),
		Batches: &schedule.BatchReport{
			Planned: 1, Completed: 1, Actors: 2,
			States: map[scenario.State]int{scenario.StateConfirmed: 1, scenario.StateConflict: 1},
		},
		Outcomes: outcomes,
	}
}

func raceDocument() *Document {
	return &Document{
		RunID:     "test-run-race",
		Mode:      ModeRace,
		StartedAt: started,
		Duration:  ms(1500),
		Config:    config.Default(),
		Summary:   outcome.Summarize(nil, outcome.Counts{}),
		Race: &schedule.RaceResult{
			ResourceID: 9002, Contenders: 3, Winners: 2, Failures: 1,
			Verdict: schedule.VerdictViolation,
		},
		Teardown: Teardown{
			Errors:    []string{"RESTORE_FAILED: snapshot.restore: database is locked"},
			ForcedAll: true,
			Residue:   snapshot.Residue{Actors: 1},
		},
	}
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderText_Load(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, loadDocument()))
	golden(t).Assert(t, "load_text", buf.Bytes())
}

func TestRenderText_RaceViolation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, raceDocument()))
	golden(t).Assert(t, "race_text", buf.Bytes())
}

func TestThroughput(t *testing.T) {
	assert.Zero(t, Throughput(0, time.Second))
	assert.Zero(t, Throughput(10, 0))
	assert.Equal(t, 2.0, Throughput(4, 2*time.Second))
}

func TestTeardownClean(t *testing.T) {
	assert.True(t, Teardown{}.Clean())
	assert.False(t, Teardown{Errors: []string{"x"}}.Clean())
	assert.False(t, Teardown{Residue: snapshot.Residue{Resources: 1}}.Clean())
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	doc := loadDocument()

	require.NoError(t, WriteFile(path, doc))
	got, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, doc.RunID, got.RunID)
	assert.Equal(t, doc.Summary.Total, got.Summary.Total)
	assert.Equal(t, doc.Outcomes, got.Outcomes)
	assert.Empty(t, got.Config.Store.Password, "secrets are not written")

	// overwriting keeps a single valid document
	doc.RunID = "second"
	require.NoError(t, WriteFile(path, doc))
	got, err = ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", got.RunID)
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "results.json"), loadDocument())
	assert.Error(t, err)
}

func TestArchive_SaveAndList(t *testing.T) {
	ctx := context.Background()
	a, err := OpenArchive(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	load := loadDocument()
	race := raceDocument()
	race.StartedAt = started.Add(time.Hour)
	require.NoError(t, a.Save(ctx, load))
	require.NoError(t, a.Save(ctx, race))

	runs, err := a.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "test-run-race", runs[0].RunID, "newest first")
	assert.Equal(t, "violation", runs[0].Verdict)
	assert.Equal(t, "test-run-default", runs[1].RunID)
	assert.Equal(t, started, runs[1].StartedAt)
	assert.Equal(t, 2*time.Second, runs[1].Duration)
	assert.Equal(t, 4, runs[1].Total)
	assert.Equal(t, ms(30), runs[1].P95)

	outcomes, err := a.Outcomes(ctx, load.RunID)
	require.NoError(t, err)
	assert.Equal(t, load.Outcomes, outcomes)

	doc, err := a.Document(ctx, race.RunID)
	require.NoError(t, err)
	require.NotNil(t, doc.Race)
	assert.Equal(t, 2, doc.Race.Winners)
}

func TestArchive_SaveReplacesSameRun(t *testing.T) {
	ctx := context.Background()
	a, err := OpenArchive(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	doc := loadDocument()
	require.NoError(t, a.Save(ctx, doc))
	doc.Outcomes = doc.Outcomes[:1]
	require.NoError(t, a.Save(ctx, doc))

	runs, err := a.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	outcomes, err := a.Outcomes(ctx, doc.RunID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestArchive_UnknownRun(t *testing.T) {
	ctx := context.Background()
	a, err := OpenArchive(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.Document(ctx, "nope")
	assert.Error(t, err)
}
