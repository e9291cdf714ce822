// Package store is the harness's client for the reservation service's state
// store.
//
// The store exposes only what snapshotting and fixture provisioning need:
// ordered reads of assignments, ownership, credentials, locations and
// resource ids, plus bulk insert/update/delete keyed by id sets or by the
// synthetic namespace (actor id prefix, resource id floor).
//
// # Dialects
//
//   - postgres: the live service database, opened through the pgx stdlib
//     driver. The schema belongs to the service and is never modified.
//   - sqlite: a local mirror opened through go-sqlite3 with the embedded
//     schema.sql applied. Used by tests and offline dry runs.
//
// Queries are written once with `?` placeholders and rebound to `$n` for
// postgres.
//
// # Determinism
//
// Every list query carries an ORDER BY so snapshots and diffs compare
// stably. Timestamps are normalised to UTC on read and write.
package store
