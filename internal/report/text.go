package report

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/roach88/lockerbench/internal/scenario"
	"github.com/roach88/lockerbench/internal/schedule"
)

// RenderText writes a human-readable summary of doc.
func RenderText(w io.Writer, doc *Document) error {
	var b strings.Builder

	fmt.Fprintf(&b, "lockerbench %s run %s\n", doc.Mode, doc.RunID)
	fmt.Fprintf(&b, "started: %s  duration: %s  throughput: %.2f req/s\n",
		doc.StartedAt.UTC().Format(time.RFC3339), doc.Duration, doc.Throughput)
	if doc.Snapshot != nil {
		fmt.Fprintf(&b, "snapshot: %d assignments, %d owned resources, %d credentials\n",
			doc.Snapshot.Assignments, doc.Snapshot.OwnedResources, doc.Snapshot.Credentials)
	}
	if doc.Batches != nil {
		writeBatches(&b, doc.Batches)
	}

	s := doc.Summary
	b.WriteString("\n")
	if s.NoData {
		b.WriteString("no data: no requests were recorded\n")
	} else {
		fmt.Fprintf(&b, "requests: %d total, %d succeeded, %d failed (%s success)\n",
			s.Total, s.Succeeded, s.Failed, pct(s.SuccessRate))
		l := s.Latency
		fmt.Fprintf(&b, "latency (successful calls): mean %s, median %s, min %s, max %s, p95 %s\n",
			l.Mean, l.Median, l.Min, l.Max, l.P95)

		b.WriteString("\nendpoints:\n")
		for _, e := range s.Endpoints {
			fmt.Fprintf(&b, "  %-28s %5d calls  %6s ok  median %s  p95 %s\n",
				e.Endpoint, e.Total, pct(e.SuccessRate), e.Latency.Median, e.Latency.P95)
		}
		if len(s.Failures) > 0 {
			b.WriteString("\nfailures:\n")
			for _, f := range s.Failures {
				fmt.Fprintf(&b, "  %-28s status %3d  x%d\n", f.Endpoint, f.Status, f.Count)
			}
		}
	}

	c := s.Competition
	b.WriteString("\ncompetition:\n")
	fmt.Fprintf(&b, "  holds: %d/%d (%s)\n", c.HoldSuccesses, c.HoldAttempts, pct(c.HoldSuccessRate))
	fmt.Fprintf(&b, "  confirms: %d/%d (%s)\n", c.ConfirmSuccesses, c.ConfirmAttempts, pct(c.ConfirmSuccessRate))
	fmt.Fprintf(&b, "  ownership verified: %d\n", c.OwnershipVerified)

	v := s.Verification
	fmt.Fprintf(&b, "\nverification: %d correct, %d incorrect, %d undeterminable (%s accuracy)\n",
		v.Correct, v.Incorrect, v.Undeterminable, pct(v.Accuracy))

	if doc.Race != nil {
		writeRace(&b, doc.Race)
	}
	writeTeardown(&b, doc.Teardown)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeBatches(b *strings.Builder, r *schedule.BatchReport) {
	fmt.Fprintf(b, "batches: %d/%d completed, %d actors", r.Completed, r.Planned, r.Actors)
	if r.Interrupted {
		b.WriteString(", interrupted")
	}
	b.WriteString("\n")

	states := make([]string, 0, len(r.States))
	for st := range r.States {
		states = append(states, string(st))
	}
	if len(states) == 0 {
		return
	}
	slices.Sort(states)
	parts := make([]string, len(states))
	for i, st := range states {
		parts[i] = fmt.Sprintf("%s=%d", st, r.States[scenario.State(st)])
	}
	fmt.Fprintf(b, "states: %s\n", strings.Join(parts, " "))
}

func writeRace(b *strings.Builder, r *schedule.RaceResult) {
	fmt.Fprintf(b, "\nrace on resource %d: %d contenders, %d winners, %d conflicts, %d failures: %s\n",
		r.ResourceID, r.Contenders, r.Winners, r.Conflicts, r.Failures, r.Verdict)
	switch r.Verdict {
	case schedule.VerdictViolation:
		b.WriteString("INVARIANT VIOLATION: more than one actor won the same resource\n")
	case schedule.VerdictNoWinner:
		b.WriteString("warning: every hold was rejected\n")
	}
}

func writeTeardown(b *strings.Builder, t Teardown) {
	if t.Clean() {
		b.WriteString("\nteardown: clean, no synthetic residue\n")
		return
	}
	fmt.Fprintf(b, "\nteardown: %d problems\n", len(t.Errors))
	for _, e := range t.Errors {
		fmt.Fprintf(b, "  - %s\n", e)
	}
	if t.ForcedAll {
		b.WriteString("  all reservation state was force-cleared\n")
	}
	if !t.Residue.Empty() {
		fmt.Fprintf(b, "  synthetic residue: %d actors, %d resources\n", t.Residue.Actors, t.Residue.Resources)
	}
}

func pct(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
