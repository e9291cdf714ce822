// Package harness wires the components of a run together.
//
// A run has three phases:
//
//	prepare:  force-clean leftover synthetic rows, capture a snapshot,
//	          optionally reset to clean, provision fixtures
//	execute:  batched load or synchronized race under the total timeout
//	teardown: ledger cleanup, snapshot restore, and a final forced
//	          synthetic clean that always runs
//
// Setup errors end the run before execution. Teardown runs whenever the
// snapshot was captured, including after provisioning failures and
// cancellation, and uses its own timeout detached from the run context.
// If restore fails, every assignment, ownership and credential is cleared
// so no half-restored state is left behind.
package harness
