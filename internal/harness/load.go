package harness

import (
	"context"

	"github.com/roach88/lockerbench/internal/report"
	"github.com/roach88/lockerbench/internal/schedule"
)

// RunLoad provisions the configured population and resources, drives every
// actor through the scenario in batches, and restores the store. The
// returned document is complete even when err is non-nil, as long as the
// baseline snapshot was captured.
func (h *Harness) RunLoad(ctx context.Context) (doc *report.Document, err error) {
	s, err := h.prepare(ctx)
	if err != nil {
		return nil, err
	}
	doc = h.newDocument(report.ModeLoad, s)
	logger := h.logger.With("run_id", doc.RunID)
	defer func() { doc.Teardown = h.teardown(ctx, s) }()

	load := h.cfg.Load
	actors, err := s.prov.CreateActors(ctx, load.TotalActors)
	if err != nil {
		return doc, err
	}
	if _, err := s.prov.CreateResources(ctx, load.ResourceCount); err != nil {
		return doc, err
	}

	runCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Total)
	defer cancel()

	logger.Info("load run starting",
		"actors", len(actors),
		"batch_size", load.BatchSize,
		"resources", load.ResourceCount)

	sched := schedule.NewScheduler(s.collector, schedule.WithLogger(logger))
	start := h.now()
	batches := sched.Batches(runCtx, s.runner, actors, load.BatchSize, load.BatchPause)
	h.finish(doc, s, h.now().Sub(start))
	doc.Batches = &batches

	logger.Info("load run finished",
		"requests", doc.Summary.Total,
		"success_rate", doc.Summary.SuccessRate,
		"throughput", doc.Throughput,
		"interrupted", batches.Interrupted)
	return doc, nil
}
