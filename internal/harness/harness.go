package harness

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/fixture"
	"github.com/roach88/lockerbench/internal/metrics"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/report"
	"github.com/roach88/lockerbench/internal/scenario"
	"github.com/roach88/lockerbench/internal/snapshot"
	"github.com/roach88/lockerbench/internal/store"
)

// Service is the reservation API the harness drives.
type Service interface {
	scenario.API
	Health(ctx context.Context) (int, error)
	Release(ctx context.Context, token string, id int) (int, error)
}

// Harness runs load and race tests against one service and state store.
type Harness struct {
	cfg     config.Config
	store   *store.Store
	api     Service
	cache   snapshot.HoldCache
	metrics *metrics.Recorder
	ids     RunIDGenerator
	logger  *slog.Logger
	now     func() time.Time
	seed    *uint64
}

// Option configures a Harness.
type Option func(*Harness)

// WithHoldCache flushes the service's hold cache on reset and teardown. A
// nil cache is ignored.
func WithHoldCache(c snapshot.HoldCache) Option {
	return func(h *Harness) { h.cache = c }
}

// WithMetrics feeds every outcome into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(h *Harness) { h.metrics = r }
}

// WithRunIDGenerator sets the run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(h *Harness) { h.ids = g }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithClock sets the time source for run timing and latency.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// WithSeed makes every random choice of a run reproducible.
func WithSeed(seed uint64) Option {
	return func(h *Harness) { h.seed = &seed }
}

// New creates a Harness. cfg is expected to be validated already.
func New(cfg config.Config, st *store.Store, api Service, opts ...Option) *Harness {
	h := &Harness{
		cfg:    cfg,
		store:  st,
		api:    api,
		ids:    UUIDv7Generator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// session is the state shared by prepare, execute and teardown.
type session struct {
	snap *snapshot.Manager
	prov *fixture.Provisioner
	base *snapshot.Snapshot

	collector *outcome.Collector
	tally     *outcome.Tally
	runner    *scenario.Runner
}

func (h *Harness) namespace() snapshot.Namespace {
	return snapshot.Namespace{
		ActorPrefix:  h.cfg.Fixture.ActorPrefix,
		ResourceBase: h.cfg.Fixture.ResourceBase,
	}
}

func (h *Harness) snapshots() *snapshot.Manager {
	return snapshot.NewManager(h.store, h.namespace(),
		snapshot.WithHoldCache(h.cache),
		snapshot.WithLogger(h.logger),
		snapshot.WithClock(h.now))
}

func (h *Harness) newSession() *session {
	s := &session{
		snap:      h.snapshots(),
		collector: outcome.NewCollector(),
		tally:     outcome.NewTally(),
	}

	fixtureOpts := []fixture.Option{fixture.WithLogger(h.logger), fixture.WithClock(h.now)}
	runnerOpts := []scenario.Option{scenario.WithLogger(h.logger), scenario.WithClock(h.now)}
	if h.seed != nil {
		fixtureOpts = append(fixtureOpts, fixture.WithSeed(*h.seed))
		runnerOpts = append(runnerOpts, scenario.WithSeed(*h.seed))
	}
	s.prov = fixture.NewProvisioner(h.store, h.cfg.Fixture, fixtureOpts...)

	if h.metrics != nil {
		s.collector.Observe(h.metrics.Observe)
	}
	s.runner = scenario.NewRunner(h.api, s.collector, s.tally, scenario.SettingsFromConfig(h.cfg), runnerOpts...)
	return s
}

// prepare clears synthetic leftovers of an earlier crashed run, then
// captures the baseline. A capture failure is fatal and nothing has been
// created at that point.
func (h *Harness) prepare(ctx context.Context) (*session, error) {
	s := h.newSession()

	if err := s.snap.ForceClean(ctx, snapshot.ScopeSynthetic); err != nil {
		h.logger.Warn("pre-run synthetic clean failed", "error", err)
	}
	base, err := s.snap.Capture(ctx)
	if err != nil {
		return nil, err
	}
	s.base = base

	if h.cfg.Load.ResetFirst {
		if err := s.snap.ResetToClean(ctx); err != nil {
			h.logger.Error("reset to clean failed", "error", err)
			h.teardown(ctx, s)
			return nil, err
		}
	}
	return s, nil
}

// teardown returns the store to the captured baseline. It never stops
// early: every step runs and every failure is recorded.
func (h *Harness) teardown(ctx context.Context, s *session) report.Teardown {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.Timeouts.Cleanup)
	defer cancel()

	var t report.Teardown
	fail := func(step string, err error) {
		h.logger.Error("teardown step failed", "step", step, "error", err)
		t.Errors = append(t.Errors, err.Error())
	}

	if err := s.prov.Cleanup(ctx); err != nil {
		fail("fixture cleanup", err)
	}
	if err := s.snap.Restore(ctx, s.base); err != nil {
		fail("restore", err)
		t.ForcedAll = true
		if err := s.snap.ForceClean(ctx, snapshot.ScopeAll); err != nil {
			fail("force clean all", err)
		}
	} else {
		s.snap.FlushHolds(ctx)
	}
	if err := s.snap.ForceClean(ctx, snapshot.ScopeSynthetic); err != nil {
		fail("force clean synthetic", err)
	}

	residue, err := s.snap.SyntheticResidue(ctx)
	if err != nil {
		fail("residue check", err)
	} else {
		t.Residue = residue
	}
	if t.Clean() {
		h.logger.Info("teardown complete")
	}
	return t
}

// Snapshot captures the current reservation state without changing it.
func (h *Harness) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	return h.snapshots().Capture(ctx)
}

// Reset clears all reservation state and synthetic rows.
func (h *Harness) Reset(ctx context.Context) error {
	return h.snapshots().ResetToClean(ctx)
}

// ForceClean runs the forced cleanup pass on its own.
func (h *Harness) ForceClean(ctx context.Context, scope snapshot.Scope) error {
	return h.snapshots().ForceClean(ctx, scope)
}

// Residue reports synthetic rows still present.
func (h *Harness) Residue(ctx context.Context) (snapshot.Residue, error) {
	return h.snapshots().SyntheticResidue(ctx)
}

func (h *Harness) newDocument(mode string, s *session) *report.Document {
	counts := s.base.Counts()
	return &report.Document{
		RunID:     h.ids.Generate(),
		Mode:      mode,
		StartedAt: h.now().UTC(),
		Config:    h.cfg,
		Snapshot:  &counts,
	}
}

// finish fills the document's summary from the session's outcomes.
func (h *Harness) finish(doc *report.Document, s *session, elapsed time.Duration) {
	outcomes := s.collector.Outcomes()
	doc.Duration = elapsed
	doc.Summary = outcome.Summarize(outcomes, s.tally.Counts())
	doc.Throughput = report.Throughput(len(outcomes), elapsed)
	if h.cfg.Output.Detailed {
		doc.Outcomes = outcomes
	}
}
