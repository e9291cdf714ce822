// Package schedule drives scenarios with two disciplines: bounded batches
// for load, and a synchronized burst for the mutual-exclusion check.
//
// Both run the same scenario primitives; they differ only in when each
// actor is released.
package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/scenario"
	"github.com/roach88/lockerbench/internal/store"
)

// EndpointScenario labels the outcome recorded when a scenario panics.
const EndpointScenario = "scenario"

// ScenarioRunner runs one actor's full flow.
type ScenarioRunner interface {
	Run(ctx context.Context, actor store.Actor) scenario.Result
}

// Scheduler launches scenarios and captures per-actor crashes as outcomes.
type Scheduler struct {
	collector *outcome.Collector
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSleep replaces the inter-batch pause.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// NewScheduler creates a Scheduler recording crashes into collector.
func NewScheduler(collector *outcome.Collector, opts ...Option) *Scheduler {
	s := &Scheduler{
		collector: collector,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:     pause,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "schedule")
	return s
}

// BatchReport describes a batched run.
type BatchReport struct {
	Planned     int                    `json:"planned_batches"`
	Completed   int                    `json:"completed_batches"`
	Actors      int                    `json:"actors"`
	Interrupted bool                   `json:"interrupted"`
	States      map[scenario.State]int `json:"states"`
	Results     []scenario.Result      `json:"-"`
}

// Batches partitions actors into consecutive groups of size, runs every
// scenario of a group concurrently and waits for all of them before the
// next group starts. pause is applied between groups but not after the
// last. A cancelled ctx stops further groups from starting.
func (s *Scheduler) Batches(ctx context.Context, r ScenarioRunner, actors []store.Actor, size int, pause time.Duration) BatchReport {
	if size <= 0 {
		size = len(actors)
	}
	report := BatchReport{
		Actors: len(actors),
		States: make(map[scenario.State]int),
	}
	if len(actors) == 0 {
		return report
	}
	report.Planned = (len(actors) + size - 1) / size
	report.Results = make([]scenario.Result, 0, len(actors))

	for b := 0; b < report.Planned; b++ {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		lo := b * size
		hi := min(lo+size, len(actors))
		batch := actors[lo:hi]
		started := time.Now()

		results := make([]scenario.Result, len(batch))
		var wg sync.WaitGroup
		for i, actor := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = s.runOne(ctx, r, actor)
			}()
		}
		wg.Wait()

		for _, res := range results {
			report.States[res.State]++
		}
		report.Results = append(report.Results, results...)
		report.Completed++
		s.logger.Info("batch complete",
			"batch", b+1,
			"of", report.Planned,
			"actors", len(batch),
			"elapsed", time.Since(started).Round(time.Millisecond))

		if b == report.Planned-1 {
			break
		}
		if err := s.sleep(ctx, pause); err != nil {
			report.Interrupted = true
			break
		}
	}

	if report.Interrupted {
		s.logger.Warn("batched run interrupted", "completed_batches", report.Completed, "planned", report.Planned)
	}
	return report
}

// runOne runs a scenario and turns a panic into a failed outcome so
// siblings in the batch are unaffected.
func (s *Scheduler) runOne(ctx context.Context, r ScenarioRunner, actor store.Actor) (res scenario.Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scenario panicked", "actor", actor.ID, "panic", p)
			s.collector.Record(outcome.Outcome{
				Endpoint: EndpointScenario,
				Actor:    actor.ID,
				Error:    fmt.Sprintf("panic: %v", p),
			})
			res = scenario.Result{Actor: actor.ID, State: scenario.StatePanicked}
		}
	}()
	return r.Run(ctx, actor)
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
