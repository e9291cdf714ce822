// Package snapshot captures and restores the reservation state that a test
// run disturbs.
//
// A Snapshot covers assignments, resource ownership and credentials. Actors
// and resources themselves are never snapshotted: real ones are never
// modified, synthetic ones are removed by namespace.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/store"
)

// Snapshot is an immutable copy of reservation state.
type Snapshot struct {
	CapturedAt     time.Time          `json:"captured_at"`
	Assignments    []store.Assignment `json:"assignments"`
	OwnedResources []store.Resource   `json:"owned_resources"`
	Credentials    []store.Credential `json:"credentials"`
}

// Counts summarizes a snapshot's size.
type Counts struct {
	Assignments    int `json:"assignments"`
	OwnedResources int `json:"owned_resources"`
	Credentials    int `json:"credentials"`
}

// Counts returns the number of records in each collection.
func (s *Snapshot) Counts() Counts {
	return Counts{
		Assignments:    len(s.Assignments),
		OwnedResources: len(s.OwnedResources),
		Credentials:    len(s.Credentials),
	}
}

// Namespace identifies synthetic rows.
type Namespace struct {
	// ActorPrefix starts every synthetic actor id.
	ActorPrefix string

	// ResourceBase is the lowest synthetic resource id.
	ResourceBase int
}

// HoldCache is the optional hold-state cache capability.
type HoldCache interface {
	FlushHolds(ctx context.Context) (int, error)
}

// Scope selects what ForceClean removes.
type Scope int

const (
	// ScopeSynthetic removes only rows in the synthetic namespace.
	ScopeSynthetic Scope = iota

	// ScopeAll additionally clears every assignment, ownership and
	// credential, real ones included.
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "synthetic"
}

// Manager captures, resets and restores reservation state.
type Manager struct {
	store  *store.Store
	ns     Namespace
	cache  HoldCache
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHoldCache flushes hold entries after a reset. A nil cache is ignored.
func WithHoldCache(c HoldCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the capture-time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over st for the given synthetic namespace.
func NewManager(st *store.Store, ns Namespace, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		ns:     ns,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "snapshot")
	return m
}

// Capture reads assignments, owned resources and credentials inside one
// read transaction. Empty collections are valid.
func (m *Manager) Capture(ctx context.Context) (*Snapshot, error) {
	if err := m.store.Ping(ctx); err != nil {
		return nil, err
	}

	snap := &Snapshot{CapturedAt: m.now().UTC()}
	err := m.store.InTx(ctx, true, func(q *store.Queries) error {
		var err error
		if snap.Assignments, err = q.ListAssignments(ctx); err != nil {
			return err
		}
		if snap.OwnedResources, err = q.ListOwnedResources(ctx); err != nil {
			return err
		}
		if snap.Credentials, err = q.ListCredentials(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, failure.New(failure.KindSnapshotFailed, "snapshot.capture", err)
	}

	c := snap.Counts()
	m.logger.Info("snapshot captured",
		"assignments", c.Assignments,
		"owned_resources", c.OwnedResources,
		"credentials", c.Credentials)
	return snap, nil
}

// ResetToClean clears all assignments and ownership and removes synthetic
// credentials, actors and resources in one transaction. Idempotent. The
// hold cache is flushed afterwards; a cache failure is logged only.
func (m *Manager) ResetToClean(ctx context.Context) error {
	err := m.store.InTx(ctx, false, func(q *store.Queries) error {
		steps := []struct {
			name string
			run  func() (int64, error)
		}{
			{"assignments", func() (int64, error) { return q.DeleteAllAssignments(ctx) }},
			{"ownership", func() (int64, error) { return q.ClearAllOwners(ctx) }},
			{"synthetic credentials", func() (int64, error) { return q.DeleteCredentialsWithPrefix(ctx, m.ns.ActorPrefix) }},
			{"synthetic actors", func() (int64, error) { return q.DeleteActorsWithPrefix(ctx, m.ns.ActorPrefix) }},
			{"synthetic resources", func() (int64, error) { return q.DeleteResourcesFrom(ctx, m.ns.ResourceBase) }},
		}
		for _, step := range steps {
			n, err := step.run()
			if err != nil {
				return fmt.Errorf("reset %s: %w", step.name, err)
			}
			m.logger.Debug("reset step", "step", step.name, "rows", n)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.FlushHolds(ctx)
	m.logger.Info("state reset to clean")
	return nil
}

// Restore replaces current assignment, ownership and credential state with
// the snapshot, verbatim, in one transaction. Any failure rolls back and is
// reported as failure.KindRestoreFailed.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return failure.Newf(failure.KindRestoreFailed, "snapshot.restore", "no snapshot to restore")
	}

	err := m.store.InTx(ctx, false, func(q *store.Queries) error {
		if _, err := q.DeleteAllAssignments(ctx); err != nil {
			return err
		}
		if _, err := q.ClearAllOwners(ctx); err != nil {
			return err
		}
		if _, err := q.DeleteAllCredentials(ctx); err != nil {
			return err
		}
		for _, r := range snap.OwnedResources {
			if err := q.RestoreOwner(ctx, r); err != nil {
				return err
			}
		}
		if err := q.InsertAssignments(ctx, snap.Assignments); err != nil {
			return err
		}
		return q.InsertCredentials(ctx, snap.Credentials)
	})
	if err != nil {
		return failure.New(failure.KindRestoreFailed, "snapshot.restore", err)
	}

	c := snap.Counts()
	m.logger.Info("snapshot restored",
		"assignments", c.Assignments,
		"owned_resources", c.OwnedResources,
		"credentials", c.Credentials)
	return nil
}

// ForceClean removes state without consulting any snapshot or ledger. Each
// statement commits on its own and a failing statement does not stop the
// rest. All failures are returned joined.
func (m *Manager) ForceClean(ctx context.Context, scope Scope) error {
	q := m.store.Queries()
	prefix, base := m.ns.ActorPrefix, m.ns.ResourceBase

	type step struct {
		name string
		run  func() (int64, error)
	}
	var steps []step
	if scope == ScopeAll {
		steps = append(steps,
			step{"all credentials", func() (int64, error) { return q.DeleteAllCredentials(ctx) }},
			step{"all assignments", func() (int64, error) { return q.DeleteAllAssignments(ctx) }},
			step{"all ownership", func() (int64, error) { return q.ClearAllOwners(ctx) }},
		)
	}
	steps = append(steps,
		step{"synthetic credentials", func() (int64, error) { return q.DeleteCredentialsWithPrefix(ctx, prefix) }},
		step{"synthetic assignments", func() (int64, error) { return q.DeleteAssignmentsWithPrefix(ctx, prefix) }},
		step{"assignments on synthetic resources", func() (int64, error) { return q.DeleteAssignmentsFrom(ctx, base) }},
		step{"synthetic ownership", func() (int64, error) { return q.ClearOwnersWithPrefix(ctx, prefix) }},
		step{"synthetic actors", func() (int64, error) { return q.DeleteActorsWithPrefix(ctx, prefix) }},
		step{"synthetic resources", func() (int64, error) { return q.DeleteResourcesFrom(ctx, base) }},
	)

	var errs []error
	for _, s := range steps {
		n, err := s.run()
		if err != nil {
			m.logger.Warn("force clean step failed", "scope", scope, "step", s.name, "error", err)
			errs = append(errs, fmt.Errorf("force clean %s: %w", s.name, err))
			continue
		}
		m.logger.Debug("force clean step", "scope", scope, "step", s.name, "rows", n)
	}

	if scope == ScopeAll {
		m.FlushHolds(ctx)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	m.logger.Info("force clean complete", "scope", scope)
	return nil
}

// Residue counts synthetic rows still present.
type Residue struct {
	Actors    int `json:"actors"`
	Resources int `json:"resources"`
}

// Empty reports whether nothing synthetic remains.
func (r Residue) Empty() bool {
	return r.Actors == 0 && r.Resources == 0
}

// SyntheticResidue counts what remains in the synthetic namespace.
func (m *Manager) SyntheticResidue(ctx context.Context) (Residue, error) {
	q := m.store.Queries()
	actors, err := q.CountActorsWithPrefix(ctx, m.ns.ActorPrefix)
	if err != nil {
		return Residue{}, err
	}
	resources, err := q.CountResourcesFrom(ctx, m.ns.ResourceBase)
	if err != nil {
		return Residue{}, err
	}
	return Residue{Actors: actors, Resources: resources}, nil
}

// FlushHolds drops hold entries from the cache, when one is configured. A
// cache failure is logged only.
func (m *Manager) FlushHolds(ctx context.Context) {
	if m.cache == nil {
		return
	}
	n, err := m.cache.FlushHolds(ctx)
	if err != nil {
		m.logger.Warn("hold cache flush failed", "error", err)
		return
	}
	m.logger.Debug("hold cache flushed", "keys", n)
}
