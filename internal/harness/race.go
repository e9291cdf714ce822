package harness

import (
	"context"

	"github.com/roach88/lockerbench/internal/report"
	"github.com/roach88/lockerbench/internal/schedule"
)

// RunRace releases the configured number of actors at one resource at
// once. The target is race.resource_id when set, provisioned first if it
// lies in the synthetic range and does not exist yet; otherwise a fresh
// synthetic resource. A double win is returned as a
// failure.KindInvariantViolation error after teardown has run.
func (h *Harness) RunRace(ctx context.Context) (doc *report.Document, err error) {
	s, err := h.prepare(ctx)
	if err != nil {
		return nil, err
	}
	doc = h.newDocument(report.ModeRace, s)
	logger := h.logger.With("run_id", doc.RunID)
	defer func() { doc.Teardown = h.teardown(ctx, s) }()

	actors, err := s.prov.CreateActors(ctx, h.cfg.Race.Actors)
	if err != nil {
		return doc, err
	}

	target := h.cfg.Race.ResourceID
	if target == 0 {
		resources, err := s.prov.CreateResources(ctx, 1)
		if err != nil {
			return doc, err
		}
		target = resources[0].ID
	} else if _, err := s.prov.CreateResourceAt(ctx, target); err != nil {
		return doc, err
	}

	runCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Total)
	defer cancel()

	sched := schedule.NewScheduler(s.collector, schedule.WithLogger(logger))
	start := h.now()
	race := sched.Race(runCtx, s.runner, actors, target)
	h.finish(doc, s, h.now().Sub(start))
	doc.Race = &race

	if h.metrics != nil {
		h.metrics.RaceWinners(target, race.Winners)
	}
	return doc, race.Err()
}
