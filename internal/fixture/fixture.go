// Package fixture creates synthetic actors and resources for a run and
// removes them afterwards.
//
// Everything created is written to a ledger before the insert runs, and
// cleanup deletes exactly what the ledger names. Synthetic actor ids carry
// a reserved prefix and synthetic resource ids start at a reserved base, so
// nothing real can ever be caught by cleanup.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/store"
)

// Ledger lists every row a Provisioner created.
type Ledger struct {
	Actors    []string `json:"actors"`
	Resources []int    `json:"resources"`
}

// Empty reports whether nothing is tracked.
func (l Ledger) Empty() bool {
	return len(l.Actors) == 0 && len(l.Resources) == 0
}

// Provisioner creates and removes synthetic fixtures.
type Provisioner struct {
	store  *store.Store
	cfg    config.FixtureConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	ledger Ledger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// WithClock sets the source of created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// WithSeed makes generated contact numbers reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Provisioner) { p.rng = rand.New(rand.NewPCG(seed, seed+1)) }
}

// NewProvisioner creates a Provisioner writing to st.
func NewProvisioner(st *store.Store, cfg config.FixtureConfig, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:  st,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "fixture")
	return p
}

// Ledger returns a copy of what has been created so far.
func (p *Provisioner) Ledger() Ledger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Ledger{
		Actors:    slices.Clone(p.ledger.Actors),
		Resources: slices.Clone(p.ledger.Resources),
	}
}

// CreateActors returns count actors. Configured seed actors that exist in
// the store come first and are reused as is; the remainder are synthesized
// as <prefix>NNNN and inserted in one transaction. If the insert fails
// nothing is kept and the error is failure.KindProvisionFailed.
func (p *Provisioner) CreateActors(ctx context.Context, count int) ([]store.Actor, error) {
	if count <= 0 {
		return nil, nil
	}

	actors := make([]store.Actor, 0, count)
	q := p.store.Queries()
	for _, seed := range p.cfg.SeedActors {
		if len(actors) == count {
			break
		}
		existing, ok, err := q.GetActor(ctx, seed.ID)
		if err != nil {
			return nil, failure.New(failure.KindProvisionFailed, "fixture.create_actors", err)
		}
		if !ok {
			p.logger.Warn("seed actor missing from store, synthesizing instead", "actor", seed.ID)
			continue
		}
		actors = append(actors, existing)
	}
	reused := len(actors)

	now := p.now().UTC().Truncate(time.Second)
	synthetic := make([]store.Actor, 0, count-reused)
	for n := reused + 1; len(actors)+len(synthetic) < count; n++ {
		synthetic = append(synthetic, store.Actor{
			ID:        fmt.Sprintf("%s%04d", p.cfg.ActorPrefix, n),
			Name:      fmt.Sprintf("Test User %d", n),
			Phone:     p.phone(),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	p.mu.Lock()
	for _, a := range synthetic {
		p.ledger.Actors = append(p.ledger.Actors, a.ID)
	}
	p.mu.Unlock()

	err := p.store.InTx(ctx, false, func(q *store.Queries) error {
		return q.InsertActors(ctx, synthetic)
	})
	if err != nil {
		return nil, failure.New(failure.KindProvisionFailed, "fixture.create_actors", err)
	}

	p.logger.Info("actors provisioned", "reused", reused, "synthetic", len(synthetic))
	return append(actors, synthetic...), nil
}

// CreateResources inserts count resources with ids from the reserved base
// upwards, skipping any id already in use, spread round-robin across the
// known locations. It fails with failure.KindNoLocationsAvailable when
// there are no locations.
func (p *Provisioner) CreateResources(ctx context.Context, count int) ([]store.Resource, error) {
	if count <= 0 {
		return nil, nil
	}

	q := p.store.Queries()
	locations, err := q.ListLocations(ctx)
	if err != nil {
		return nil, failure.New(failure.KindProvisionFailed, "fixture.create_resources", err)
	}
	if len(locations) == 0 {
		return nil, failure.Newf(failure.KindNoLocationsAvailable, "fixture.create_resources", "no locations exist to place resources in")
	}
	existing, err := q.ResourceIDs(ctx)
	if err != nil {
		return nil, failure.New(failure.KindProvisionFailed, "fixture.create_resources", err)
	}
	taken := make(map[int]bool, len(existing))
	for _, id := range existing {
		taken[id] = true
	}

	resources := make([]store.Resource, 0, count)
	id := p.cfg.ResourceBase
	for i := 0; i < count; i++ {
		for taken[id] {
			id++
		}
		taken[id] = true
		resources = append(resources, store.Resource{
			ID:         id,
			LocationID: locations[i%len(locations)].ID,
		})
	}

	p.mu.Lock()
	for _, r := range resources {
		p.ledger.Resources = append(p.ledger.Resources, r.ID)
	}
	p.mu.Unlock()

	err = p.store.InTx(ctx, false, func(q *store.Queries) error {
		return q.InsertResources(ctx, resources)
	})
	if err != nil {
		return nil, failure.New(failure.KindProvisionFailed, "fixture.create_resources", err)
	}

	p.logger.Info("resources provisioned",
		"count", len(resources),
		"first", resources[0].ID,
		"last", resources[len(resources)-1].ID,
		"locations", len(locations))
	return resources, nil
}

// CreateResourceAt makes sure resource id exists. A missing id is created on
// the first known location and ledgered; an existing one is left as is.
// Only ids in the synthetic range may be created.
func (p *Provisioner) CreateResourceAt(ctx context.Context, id int) (store.Resource, error) {
	q := p.store.Queries()
	existing, err := q.ResourceIDs(ctx)
	if err != nil {
		return store.Resource{}, failure.New(failure.KindProvisionFailed, "fixture.create_resource_at", err)
	}
	if slices.Contains(existing, id) {
		return store.Resource{ID: id}, nil
	}
	if id < p.cfg.ResourceBase {
		return store.Resource{}, failure.Newf(failure.KindProvisionFailed, "fixture.create_resource_at",
			"resource %d does not exist and is below the synthetic base %d", id, p.cfg.ResourceBase)
	}

	locations, err := q.ListLocations(ctx)
	if err != nil {
		return store.Resource{}, failure.New(failure.KindProvisionFailed, "fixture.create_resource_at", err)
	}
	if len(locations) == 0 {
		return store.Resource{}, failure.Newf(failure.KindNoLocationsAvailable, "fixture.create_resource_at", "no locations exist to place resources in")
	}

	r := store.Resource{ID: id, LocationID: locations[0].ID}
	p.mu.Lock()
	p.ledger.Resources = append(p.ledger.Resources, id)
	p.mu.Unlock()
	if err := q.InsertResources(ctx, []store.Resource{r}); err != nil {
		return store.Resource{}, failure.New(failure.KindProvisionFailed, "fixture.create_resource_at", err)
	}
	p.logger.Info("resource provisioned", "id", id, "location", r.LocationID)
	return r, nil
}

// Cleanup deletes everything in the ledger in dependency order, then clears
// assignments and ownership still pointing at protected actors. A failing
// step does not stop later ones; all failures are returned joined. The
// ledger is emptied only when every step succeeded.
func (p *Provisioner) Cleanup(ctx context.Context) error {
	ledger := p.Ledger()
	q := p.store.Queries()
	protected := p.cfg.ProtectedActors

	steps := []struct {
		name string
		run  func() (int64, error)
	}{
		{"credentials", func() (int64, error) { return q.DeleteCredentialsFor(ctx, ledger.Actors) }},
		{"actor assignments", func() (int64, error) { return q.DeleteAssignmentsFor(ctx, ledger.Actors) }},
		{"resource assignments", func() (int64, error) { return q.DeleteAssignmentsOn(ctx, ledger.Resources) }},
		{"ownership", func() (int64, error) { return q.ClearOwnersFor(ctx, ledger.Actors) }},
		{"actors", func() (int64, error) { return q.DeleteActors(ctx, ledger.Actors) }},
		{"resources", func() (int64, error) { return q.DeleteResources(ctx, ledger.Resources) }},
		{"protected assignments", func() (int64, error) { return q.DeleteAssignmentsFor(ctx, protected) }},
		{"protected ownership", func() (int64, error) { return q.ClearOwnersFor(ctx, protected) }},
	}

	var errs []error
	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			p.logger.Warn("cleanup step failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", step.name, err))
			continue
		}
		p.logger.Debug("cleanup step", "step", step.name, "rows", n)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.mu.Lock()
	p.ledger = Ledger{}
	p.mu.Unlock()
	p.logger.Info("fixtures cleaned up", "actors", len(ledger.Actors), "resources", len(ledger.Resources))
	return nil
}

// phone returns a contact number of the form 010XXXXXXXX.
func (p *Provisioner) phone() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("010%08d", p.rng.IntN(100_000_000))
}
