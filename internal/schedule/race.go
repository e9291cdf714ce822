package schedule

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/store"
)

// Contender is the part of a scenario a race needs.
type Contender interface {
	Authenticate(ctx context.Context, actor store.Actor) (string, bool)
	Hold(ctx context.Context, actor store.Actor, token string, resourceID int) (int, bool)
}

// Verdict classifies a race.
type Verdict string

const (
	// VerdictPass means exactly one contender won.
	VerdictPass Verdict = "pass"

	// VerdictNoWinner means every hold was rejected. It is a warning, not a
	// pass.
	VerdictNoWinner Verdict = "no_winner"

	// VerdictViolation means more than one contender won the same resource.
	VerdictViolation Verdict = "violation"
)

// RaceEntry is one contender's result.
type RaceEntry struct {
	Actor      string `json:"actor"`
	Authorized bool   `json:"authorized"`
	StatusCode int    `json:"status_code"`
	Won        bool   `json:"won"`
}

// RaceResult summarizes a race for one resource.
type RaceResult struct {
	ResourceID int         `json:"resource_id"`
	Contenders int         `json:"contenders"`
	Winners    int         `json:"winners"`
	Conflicts  int         `json:"conflicts"`
	Failures   int         `json:"failures"`
	Verdict    Verdict     `json:"verdict"`
	Entries    []RaceEntry `json:"entries"`
}

// Err returns a failure.KindInvariantViolation error when the race was
// won more than once, and nil otherwise.
func (r RaceResult) Err() error {
	if r.Verdict != VerdictViolation {
		return nil
	}
	return failure.Newf(failure.KindInvariantViolation, "race",
		"%d of %d contenders hold resource %d", r.Winners, r.Contenders, r.ResourceID)
}

// Race authenticates every actor, then releases all hold attempts on
// resourceID at once and joins on the results. Nothing is batched or
// staggered. Only the hold is raced; authentication happens before the
// start barrier so login latency does not spread the burst.
func (s *Scheduler) Race(ctx context.Context, c Contender, actors []store.Actor, resourceID int) RaceResult {
	entries := make([]RaceEntry, len(actors))
	start := make(chan struct{})

	var ready, done sync.WaitGroup
	ready.Add(len(actors))
	done.Add(len(actors))
	for i, actor := range actors {
		go func() {
			defer done.Done()
			entries[i] = s.contend(ctx, c, actor, resourceID, &ready, start)
		}()
	}

	ready.Wait()
	s.logger.Info("race start", "resource", resourceID, "contenders", len(actors))
	close(start)
	done.Wait()

	res := RaceResult{
		ResourceID: resourceID,
		Contenders: len(actors),
		Entries:    entries,
	}
	for _, e := range entries {
		switch {
		case e.Won:
			res.Winners++
		case e.StatusCode == http.StatusConflict:
			res.Conflicts++
		default:
			res.Failures++
		}
	}

	switch {
	case res.Winners == 1:
		res.Verdict = VerdictPass
		s.logger.Info("race passed", "resource", resourceID, "conflicts", res.Conflicts, "failures", res.Failures)
	case res.Winners == 0:
		res.Verdict = VerdictNoWinner
		s.logger.Warn("race had no winner", "resource", resourceID, "conflicts", res.Conflicts, "failures", res.Failures)
	default:
		res.Verdict = VerdictViolation
		s.logger.Error("mutual exclusion violated", "resource", resourceID, "winners", res.Winners)
	}
	return res
}

// contend authenticates, signals readiness, waits for the start signal and
// attempts the hold. ready is signalled exactly once on every path.
func (s *Scheduler) contend(ctx context.Context, c Contender, actor store.Actor, resourceID int, ready *sync.WaitGroup, start <-chan struct{}) (entry RaceEntry) {
	entry.Actor = actor.ID
	signalled := false
	defer func() {
		if !signalled {
			ready.Done()
		}
		if p := recover(); p != nil {
			s.logger.Error("race contender panicked", "actor", actor.ID, "panic", p)
			s.collector.Record(outcome.Outcome{
				Endpoint:   EndpointScenario,
				Actor:      actor.ID,
				ResourceID: resourceID,
				Error:      fmt.Sprintf("panic: %v", p),
			})
			entry = RaceEntry{Actor: actor.ID}
		}
	}()

	token, ok := c.Authenticate(ctx, actor)
	signalled = true
	ready.Done()
	if !ok {
		return entry
	}
	entry.Authorized = true

	select {
	case <-start:
	case <-ctx.Done():
		return entry
	}

	entry.StatusCode, entry.Won = c.Hold(ctx, actor, token, resourceID)
	return entry
}
