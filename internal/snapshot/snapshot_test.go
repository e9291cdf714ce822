package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/store"
	"github.com/roach88/lockerbench/internal/testutil"
)

var ns = Namespace{ActorPrefix: "TEST", ResourceBase: 9000}

type fakeCache struct {
	calls int
	err   error
}

func (c *fakeCache) FlushHolds(context.Context) (int, error) {
	c.calls++
	return 3, c.err
}

func strPtr(s string) *string { return &s }

// dirty simulates a test run: synthetic actors and resources, a synthetic
// reservation, a real actor reserving a second resource and fresh tokens.
func dirty(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	at := testutil.SeedTime.Add(time.Hour)
	err := st.InTx(ctx, false, func(q *store.Queries) error {
		if err := q.InsertActors(ctx, []store.Actor{
			{ID: "TEST0002", Name: "Test User 2", Phone: "01000000002", CreatedAt: at, UpdatedAt: at},
			{ID: "TEST0003", Name: "Test User 3", Phone: "01000000003", CreatedAt: at, UpdatedAt: at},
		}); err != nil {
			return err
		}
		if err := q.InsertResources(ctx, []store.Resource{
			{ID: 9000, LocationID: 1},
			{ID: 9001, LocationID: 2, Owner: strPtr("TEST0002")},
		}); err != nil {
			return err
		}
		if err := q.SetOwner(ctx, 7, testutil.RealActorKim.ID); err != nil {
			return err
		}
		if err := q.InsertAssignments(ctx, []store.Assignment{
			{ActorID: "TEST0002", ResourceID: 9001, AssignedAt: at},
			{ActorID: testutil.RealActorKim.ID, ResourceID: 7, AssignedAt: at},
		}); err != nil {
			return err
		}
		return q.InsertCredentials(ctx, []store.Credential{
			{ActorID: "TEST0002", Token: "synthetic-refresh", ExpiresAt: at},
			{ActorID: testutil.RealActorKim.ID, Token: "kim-refresh-2", ExpiresAt: at},
		})
	})
	require.NoError(t, err)
}

func newManager(st *store.Store, opts ...Option) *Manager {
	clock := testutil.NewStepClock(testutil.SeedTime, time.Second)
	return NewManager(st, ns, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestCapture_ReadsSeededState(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	m := newManager(st)

	snap, err := m.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testutil.SeedTime, snap.CapturedAt)
	assert.Equal(t, Counts{Assignments: 1, OwnedResources: 1, Credentials: 2}, snap.Counts())
	require.Len(t, snap.OwnedResources, 1)
	assert.Equal(t, 3, snap.OwnedResources[0].ID)
	assert.Equal(t, testutil.RealActorHong.ID, *snap.OwnedResources[0].Owner)
	assert.Equal(t, testutil.SeedTime, snap.Assignments[0].AssignedAt)
}

func TestCapture_EmptyStoreIsValid(t *testing.T) {
	m := newManager(testutil.OpenStateStore(t))

	snap, err := m.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{}, snap.Counts())
}

func TestCapture_StoreUnavailable(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	require.NoError(t, st.Close())

	_, err := newManager(st).Capture(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrStoreUnavailable)
	assert.Equal(t, 1, strings.Count(err.Error(), "STORE_UNAVAILABLE"))
}

func TestCapture_MissingTableIsSnapshotFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	testutil.SeedRealState(t, st)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE auth_refresh_tokens`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = newManager(st).Capture(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSnapshotFailed)
	assert.NotErrorIs(t, err, failure.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "auth_refresh_tokens")
}

func TestRestore_RoundTripIsExact(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	m := newManager(st)
	ctx := context.Background()

	before, err := m.Capture(ctx)
	require.NoError(t, err)

	dirty(t, st)
	_, err = st.Queries().DeleteCredentialsFor(ctx, []string{testutil.RealActorHong.ID})
	require.NoError(t, err)

	require.NoError(t, m.Restore(ctx, before))

	after, err := m.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Assignments, after.Assignments)
	assert.Equal(t, before.OwnedResources, after.OwnedResources)
	assert.Equal(t, before.Credentials, after.Credentials)
}

func TestRestore_OfUntouchedStateIsNoOp(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	m := newManager(st)
	ctx := context.Background()

	snap, err := m.Capture(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx, snap))

	again, err := m.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Assignments, again.Assignments)
	assert.Equal(t, snap.OwnedResources, again.OwnedResources)
	assert.Equal(t, snap.Credentials, again.Credentials)
}

func TestRestore_IsAllOrNothing(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	m := newManager(st)
	ctx := context.Background()

	dirty(t, st)
	current, err := m.Capture(ctx)
	require.NoError(t, err)

	// The resource must be re-created on a location that does not exist,
	// which violates a foreign key after the deletes already ran.
	broken := &Snapshot{
		OwnedResources: []store.Resource{{ID: 4242, LocationID: 99, Owner: strPtr("ghost")}},
	}
	err = m.Restore(ctx, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrRestoreFailed)

	unchanged, err := m.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.Assignments, unchanged.Assignments)
	assert.Equal(t, current.OwnedResources, unchanged.OwnedResources)
	assert.Equal(t, current.Credentials, unchanged.Credentials)
}

func TestRestore_NilSnapshot(t *testing.T) {
	err := newManager(testutil.OpenStateStore(t)).Restore(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrRestoreFailed)
}

func TestRestore_ClosedStore(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	m := newManager(st)
	snap, err := m.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = m.Restore(context.Background(), snap)
	assert.ErrorIs(t, err, failure.ErrRestoreFailed)
}

func TestResetToClean_IsIdempotent(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	cache := &fakeCache{}
	m := newManager(st, WithHoldCache(cache))
	ctx := context.Background()
	dirty(t, st)

	require.NoError(t, m.ResetToClean(ctx))
	first, err := m.Capture(ctx)
	require.NoError(t, err)

	require.NoError(t, m.ResetToClean(ctx))
	second, err := m.Capture(ctx)
	require.NoError(t, err)

	assert.Empty(t, first.Assignments)
	assert.Empty(t, first.OwnedResources)
	assert.Equal(t, first.Credentials, second.Credentials)
	require.Len(t, first.Credentials, 3, "real credentials survive a reset")
	for _, c := range first.Credentials {
		assert.NotEqual(t, "TEST0002", c.ActorID)
	}

	residue, err := m.SyntheticResidue(ctx)
	require.NoError(t, err)
	assert.True(t, residue.Empty())
	assert.Equal(t, 2, cache.calls)
}

func TestResetToClean_CacheFailureIsNotFatal(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	cache := &fakeCache{err: errors.New("connection refused")}
	m := newManager(st, WithHoldCache(cache))

	require.NoError(t, m.ResetToClean(context.Background()))
	assert.Equal(t, 1, cache.calls)
}

func TestForceClean_SyntheticKeepsRealState(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	cache := &fakeCache{}
	m := newManager(st, WithHoldCache(cache))
	ctx := context.Background()
	dirty(t, st)

	require.NoError(t, m.ForceClean(ctx, ScopeSynthetic))

	snap, err := m.Capture(ctx)
	require.NoError(t, err)
	ownedIDs := make([]int, 0, len(snap.OwnedResources))
	for _, r := range snap.OwnedResources {
		ownedIDs = append(ownedIDs, r.ID)
	}
	assert.Equal(t, []int{3, 7}, ownedIDs, "real ownership is left alone")
	assert.Len(t, snap.Assignments, 2)
	assert.Len(t, snap.Credentials, 3)

	residue, err := m.SyntheticResidue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Residue{}, residue)
	assert.Zero(t, cache.calls, "synthetic scope does not touch the cache")
}

func TestForceClean_AllClearsEverything(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	cache := &fakeCache{}
	m := newManager(st, WithHoldCache(cache))
	ctx := context.Background()
	dirty(t, st)

	require.NoError(t, m.ForceClean(ctx, ScopeAll))

	snap, err := m.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, snap.Counts())
	assert.Equal(t, 1, cache.calls)

	actor, ok, err := st.Queries().GetActor(ctx, testutil.RealActorHong.ID)
	require.NoError(t, err)
	require.True(t, ok, "real actors are never deleted")
	assert.Equal(t, testutil.RealActorHong.Name, actor.Name)
}

func TestForceClean_ContinuesAndJoinsErrors(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	require.NoError(t, st.Close())

	err := newManager(st).ForceClean(context.Background(), ScopeSynthetic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force clean synthetic credentials")
	assert.Contains(t, err.Error(), "force clean synthetic resources")
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "synthetic", ScopeSynthetic.String())
	assert.Equal(t, "all", ScopeAll.String())
}
