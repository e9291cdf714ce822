package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Actor is a principal that can authenticate against the service.
type Actor struct {
	ID        string    `json:"student_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone_number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location groups resources.
type Location struct {
	ID   int    `json:"location_id"`
	Name string `json:"name"`
}

// Resource is a reservable unit. Owner is nil when unowned.
type Resource struct {
	ID         int     `json:"locker_id"`
	LocationID int     `json:"location_id"`
	Owner      *string `json:"owner,omitempty"`
}

// Assignment records an actor holding a resource.
type Assignment struct {
	ActorID    string    `json:"student_id"`
	ResourceID int       `json:"locker_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Credential is a refresh token issued to an actor.
type Credential struct {
	ActorID   string    `json:"student_id"`
	Token     string    `json:"refresh_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the statement set, bound either to the pool or to a
// transaction.
type Queries struct {
	q       querier
	dialect Dialect
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, rebind(q.dialect, query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, rebind(q.dialect, query), args...)
}

// --- reads ---

// ListAssignments returns every assignment ordered by actor then resource.
func (q *Queries) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := q.query(ctx, `
		SELECT student_id, locker_id, assigned_at
		FROM locker_assignments
		ORDER BY student_id ASC, locker_id ASC, assigned_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ActorID, &a.ResourceID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.AssignedAt = a.AssignedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListOwnedResources returns resources with a non-null owner ordered by id.
func (q *Queries) ListOwnedResources(ctx context.Context) ([]Resource, error) {
	return q.listResources(ctx, `
		SELECT locker_id, location_id, owner
		FROM locker_info
		WHERE owner IS NOT NULL
		ORDER BY locker_id ASC
	`)
}

// ListResources returns every resource ordered by id.
func (q *Queries) ListResources(ctx context.Context) ([]Resource, error) {
	return q.listResources(ctx, `
		SELECT locker_id, location_id, owner
		FROM locker_info
		ORDER BY locker_id ASC
	`)
}

func (q *Queries) listResources(ctx context.Context, query string, args ...any) ([]Resource, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var (
			r     Resource
			owner sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.LocationID, &owner); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		if owner.Valid {
			o := owner.String
			r.Owner = &o
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResourceIDs returns every existing resource id in ascending order.
func (q *Queries) ResourceIDs(ctx context.Context) ([]int, error) {
	rows, err := q.query(ctx, `SELECT locker_id FROM locker_info ORDER BY locker_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list resource ids: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resource id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FirstUnownedResource returns the lowest-id resource without an owner.
// ok is false when every resource is owned.
func (q *Queries) FirstUnownedResource(ctx context.Context) (r Resource, ok bool, err error) {
	list, err := q.listResources(ctx, `
		SELECT locker_id, location_id, owner
		FROM locker_info
		WHERE owner IS NULL
		ORDER BY locker_id ASC
		LIMIT 1
	`)
	if err != nil {
		return Resource{}, false, err
	}
	if len(list) == 0 {
		return Resource{}, false, nil
	}
	return list[0], true, nil
}

// ListCredentials returns every credential ordered by actor then token.
func (q *Queries) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := q.query(ctx, `
		SELECT student_id, refresh_token, expires_at
		FROM auth_refresh_tokens
		ORDER BY student_id ASC, refresh_token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ActorID, &c.Token, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		c.ExpiresAt = c.ExpiresAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListLocations returns every location ordered by id.
func (q *Queries) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := q.query(ctx, `SELECT location_id, name FROM locker_locations ORDER BY location_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetActor returns the actor with the given id. ok is false when absent.
func (q *Queries) GetActor(ctx context.Context, id string) (a Actor, ok bool, err error) {
	row := q.q.QueryRowContext(ctx, rebind(q.dialect, `
		SELECT student_id, name, phone_number, created_at, updated_at
		FROM users WHERE student_id = ?
	`), id)
	if err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Actor{}, false, nil
		}
		return Actor{}, false, fmt.Errorf("get actor %s: %w", id, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, true, nil
}

// CountActorsWithPrefix counts actors whose id starts with prefix.
func (q *Queries) CountActorsWithPrefix(ctx context.Context, prefix string) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM users WHERE student_id LIKE ?`, prefix+"%")
}

// CountResourcesFrom counts resources with id >= base.
func (q *Queries) CountResourcesFrom(ctx context.Context, base int) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM locker_info WHERE locker_id >= ?`, base)
}

func (q *Queries) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, rebind(q.dialect, query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// --- inserts ---

// InsertLocations inserts locations.
func (q *Queries) InsertLocations(ctx context.Context, locations []Location) error {
	for _, l := range locations {
		if _, err := q.exec(ctx, `INSERT INTO locker_locations (location_id, name) VALUES (?, ?)`, l.ID, l.Name); err != nil {
			return fmt.Errorf("insert location %d: %w", l.ID, err)
		}
	}
	return nil
}

// InsertActors inserts actors with their recorded timestamps.
func (q *Queries) InsertActors(ctx context.Context, actors []Actor) error {
	for _, a := range actors {
		_, err := q.exec(ctx, `
			INSERT INTO users (student_id, name, phone_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, a.ID, a.Name, a.Phone, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert actor %s: %w", a.ID, err)
		}
	}
	return nil
}

// InsertResources inserts resources, including their owner when set.
func (q *Queries) InsertResources(ctx context.Context, resources []Resource) error {
	for _, r := range resources {
		var owner any
		if r.Owner != nil {
			owner = *r.Owner
		}
		_, err := q.exec(ctx, `
			INSERT INTO locker_info (locker_id, location_id, owner) VALUES (?, ?, ?)
		`, r.ID, r.LocationID, owner)
		if err != nil {
			return fmt.Errorf("insert resource %d: %w", r.ID, err)
		}
	}
	return nil
}

// InsertAssignments inserts assignments verbatim.
func (q *Queries) InsertAssignments(ctx context.Context, assignments []Assignment) error {
	for _, a := range assignments {
		_, err := q.exec(ctx, `
			INSERT INTO locker_assignments (student_id, locker_id, assigned_at) VALUES (?, ?, ?)
		`, a.ActorID, a.ResourceID, a.AssignedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert assignment %s/%d: %w", a.ActorID, a.ResourceID, err)
		}
	}
	return nil
}

// InsertCredentials inserts credentials verbatim.
func (q *Queries) InsertCredentials(ctx context.Context, credentials []Credential) error {
	for _, c := range credentials {
		_, err := q.exec(ctx, `
			INSERT INTO auth_refresh_tokens (student_id, refresh_token, expires_at) VALUES (?, ?, ?)
		`, c.ActorID, c.Token, c.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("insert credential for %s: %w", c.ActorID, err)
		}
	}
	return nil
}

// SetOwner sets the owner of an existing resource and fails when the
// resource does not exist.
func (q *Queries) SetOwner(ctx context.Context, resourceID int, owner string) error {
	n, err := q.exec(ctx, `UPDATE locker_info SET owner = ? WHERE locker_id = ?`, owner, resourceID)
	if err != nil {
		return fmt.Errorf("set owner of %d: %w", resourceID, err)
	}
	if n == 0 {
		return fmt.Errorf("set owner of %d: resource not found", resourceID)
	}
	return nil
}

// RestoreOwner sets the owner recorded on r, inserting the resource when it
// no longer exists.
func (q *Queries) RestoreOwner(ctx context.Context, r Resource) error {
	if r.Owner == nil {
		return fmt.Errorf("restore owner of %d: no owner recorded", r.ID)
	}
	n, err := q.exec(ctx, `UPDATE locker_info SET owner = ? WHERE locker_id = ?`, *r.Owner, r.ID)
	if err != nil {
		return fmt.Errorf("restore owner of %d: %w", r.ID, err)
	}
	if n > 0 {
		return nil
	}
	return q.InsertResources(ctx, []Resource{r})
}

// --- unconditional deletes ---

// DeleteAllAssignments removes every assignment.
func (q *Queries) DeleteAllAssignments(ctx context.Context) (int64, error) {
	return q.exec(ctx, `DELETE FROM locker_assignments`)
}

// ClearAllOwners sets owner to NULL on every owned resource.
func (q *Queries) ClearAllOwners(ctx context.Context) (int64, error) {
	return q.exec(ctx, `UPDATE locker_info SET owner = NULL WHERE owner IS NOT NULL`)
}

// DeleteAllCredentials removes every credential.
func (q *Queries) DeleteAllCredentials(ctx context.Context) (int64, error) {
	return q.exec(ctx, `DELETE FROM auth_refresh_tokens`)
}

// --- deletes keyed by id sets ---
// An empty id set is a no-op.

// DeleteCredentialsFor removes credentials of the given actors.
func (q *Queries) DeleteCredentialsFor(ctx context.Context, actorIDs []string) (int64, error) {
	return q.execIn(ctx, `DELETE FROM auth_refresh_tokens WHERE student_id IN (%s)`, stringArgs(actorIDs))
}

// DeleteAssignmentsFor removes assignments of the given actors.
func (q *Queries) DeleteAssignmentsFor(ctx context.Context, actorIDs []string) (int64, error) {
	return q.execIn(ctx, `DELETE FROM locker_assignments WHERE student_id IN (%s)`, stringArgs(actorIDs))
}

// ClearOwnersFor clears ownership held by the given actors.
func (q *Queries) ClearOwnersFor(ctx context.Context, actorIDs []string) (int64, error) {
	return q.execIn(ctx, `UPDATE locker_info SET owner = NULL WHERE owner IN (%s)`, stringArgs(actorIDs))
}

// DeleteActors removes the given actors.
func (q *Queries) DeleteActors(ctx context.Context, actorIDs []string) (int64, error) {
	return q.execIn(ctx, `DELETE FROM users WHERE student_id IN (%s)`, stringArgs(actorIDs))
}

// DeleteAssignmentsOn removes assignments on the given resources.
func (q *Queries) DeleteAssignmentsOn(ctx context.Context, resourceIDs []int) (int64, error) {
	return q.execIn(ctx, `DELETE FROM locker_assignments WHERE locker_id IN (%s)`, intArgs(resourceIDs))
}

// DeleteResources removes the given resources.
func (q *Queries) DeleteResources(ctx context.Context, resourceIDs []int) (int64, error) {
	return q.execIn(ctx, `DELETE FROM locker_info WHERE locker_id IN (%s)`, intArgs(resourceIDs))
}

func (q *Queries) execIn(ctx context.Context, format string, args []any) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return q.exec(ctx, fmt.Sprintf(format, placeholders(len(args))), args...)
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func intArgs(ids []int) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// --- deletes keyed by the synthetic namespace ---

// DeleteCredentialsWithPrefix removes credentials of actors whose id starts
// with prefix.
func (q *Queries) DeleteCredentialsWithPrefix(ctx context.Context, prefix string) (int64, error) {
	return q.exec(ctx, `DELETE FROM auth_refresh_tokens WHERE student_id LIKE ?`, prefix+"%")
}

// DeleteAssignmentsWithPrefix removes assignments of actors whose id starts
// with prefix.
func (q *Queries) DeleteAssignmentsWithPrefix(ctx context.Context, prefix string) (int64, error) {
	return q.exec(ctx, `DELETE FROM locker_assignments WHERE student_id LIKE ?`, prefix+"%")
}

// ClearOwnersWithPrefix clears ownership held by actors whose id starts with
// prefix.
func (q *Queries) ClearOwnersWithPrefix(ctx context.Context, prefix string) (int64, error) {
	return q.exec(ctx, `UPDATE locker_info SET owner = NULL WHERE owner LIKE ?`, prefix+"%")
}

// DeleteActorsWithPrefix removes actors whose id starts with prefix.
func (q *Queries) DeleteActorsWithPrefix(ctx context.Context, prefix string) (int64, error) {
	return q.exec(ctx, `DELETE FROM users WHERE student_id LIKE ?`, prefix+"%")
}

// DeleteAssignmentsFrom removes assignments on resources with id >= base.
func (q *Queries) DeleteAssignmentsFrom(ctx context.Context, base int) (int64, error) {
	return q.exec(ctx, `DELETE FROM locker_assignments WHERE locker_id >= ?`, base)
}

// DeleteResourcesFrom removes resources with id >= base.
func (q *Queries) DeleteResourcesFrom(ctx context.Context, base int) (int64, error) {
	return q.exec(ctx, `DELETE FROM locker_info WHERE locker_id >= ?`, base)
}
