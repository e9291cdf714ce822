package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lockerbench/internal/store"
)

// SeedTime stamps every row written by SeedRealState.
var SeedTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// Real actors present in a seeded store.
var (
	RealActorHong = store.Actor{ID: "20231234", Name: "홍길동", Phone: "01012345678", CreatedAt: SeedTime, UpdatedAt: SeedTime}
	RealActorKim  = store.Actor{ID: "20231235", Name: "김철수", Phone: "01087654321", CreatedAt: SeedTime, UpdatedAt: SeedTime}
)

// RealResourceCount is the number of real resources in a seeded store
// (ids 1..RealResourceCount).
const RealResourceCount = 20

// OpenStateStore opens an empty sqlite state store that is closed when the
// test ends.
func OpenStateStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// OpenSeededStateStore opens a state store holding SeedRealState.
func OpenSeededStateStore(t *testing.T) *store.Store {
	t.Helper()
	st := OpenStateStore(t)
	SeedRealState(t, st)
	return st
}

// SeedRealState writes a small realistic state: two locations, both real
// actors, RealResourceCount resources, resource 3 owned and assigned to
// RealActorHong, and one credential per real actor.
func SeedRealState(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	err := st.InTx(ctx, false, func(q *store.Queries) error {
		if err := q.InsertLocations(ctx, []store.Location{
			{ID: 1, Name: "Engineering Hall"},
			{ID: 2, Name: "Library"},
		}); err != nil {
			return err
		}
		if err := q.InsertActors(ctx, []store.Actor{RealActorHong, RealActorKim}); err != nil {
			return err
		}

		resources := make([]store.Resource, 0, RealResourceCount)
		for id := 1; id <= RealResourceCount; id++ {
			r := store.Resource{ID: id, LocationID: 1 + (id-1)%2}
			if id == 3 {
				owner := RealActorHong.ID
				r.Owner = &owner
			}
			resources = append(resources, r)
		}
		if err := q.InsertResources(ctx, resources); err != nil {
			return err
		}

		if err := q.InsertAssignments(ctx, []store.Assignment{
			{ActorID: RealActorHong.ID, ResourceID: 3, AssignedAt: SeedTime},
		}); err != nil {
			return err
		}
		return q.InsertCredentials(ctx, []store.Credential{
			{ActorID: RealActorHong.ID, Token: "real-refresh-1", ExpiresAt: SeedTime.Add(14 * 24 * time.Hour)},
			{ActorID: RealActorKim.ID, Token: "real-refresh-2", ExpiresAt: SeedTime.Add(14 * 24 * time.Hour)},
		})
	})
	require.NoError(t, err)
}
