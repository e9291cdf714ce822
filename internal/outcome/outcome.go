// Package outcome records per-call results and folds them into a summary.
//
// A run produces an append-only stream of Outcomes (one per remote call)
// plus a Tally of competition and verification counters. Both are the only
// state shared across concurrent scenarios. Summarize is a pure function
// over a finished stream.
package outcome

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the result of a single remote call. Outcomes are never
// modified after they are recorded.
type Outcome struct {
	// Seq is the append position within the run, starting at 1.
	Seq int64 `json:"seq"`

	// Endpoint is the call's label, e.g. "POST /lockers/{id}/hold".
	Endpoint string `json:"endpoint"`

	Actor      string `json:"actor,omitempty"`
	ResourceID int    `json:"resource_id,omitempty"`

	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
}

// Collector is the concurrency-safe outcome sink for a run.
type Collector struct {
	mu       sync.Mutex
	outcomes []Outcome
	observe  func(Outcome)
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Observe registers fn to be called with every recorded outcome. fn runs
// outside the collector's lock and must be safe for concurrent use.
func (c *Collector) Observe(fn func(Outcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe = fn
}

// Record appends o, stamping its sequence number.
func (c *Collector) Record(o Outcome) Outcome {
	c.mu.Lock()
	o.Seq = int64(len(c.outcomes)) + 1
	c.outcomes = append(c.outcomes, o)
	fn := c.observe
	c.mu.Unlock()

	if fn != nil {
		fn(o)
	}
	return o
}

// Outcomes returns a copy of everything recorded so far, in append order.
func (c *Collector) Outcomes() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Len returns the number of recorded outcomes.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

// Verification classifies an ownership check.
type Verification int

const (
	// VerificationUndeterminable means the check call failed or the service
	// reported no reservation.
	VerificationUndeterminable Verification = iota

	// VerificationCorrect means the reported resource and owner matched.
	VerificationCorrect

	// VerificationIncorrect means the service reported a different
	// resource or owner.
	VerificationIncorrect
)

func (v Verification) String() string {
	switch v {
	case VerificationCorrect:
		return "correct"
	case VerificationIncorrect:
		return "incorrect"
	default:
		return "undeterminable"
	}
}

// Tally holds monotonically increasing run counters.
type Tally struct {
	holdAttempts      atomic.Int64
	holdSuccesses     atomic.Int64
	ownershipVerified atomic.Int64
	confirmAttempts   atomic.Int64
	confirmSuccesses  atomic.Int64

	verifyCorrect        atomic.Int64
	verifyIncorrect      atomic.Int64
	verifyUndeterminable atomic.Int64
}

// NewTally creates a zeroed tally.
func NewTally() *Tally {
	return &Tally{}
}

// HoldAttempt counts a hold request that was sent.
func (t *Tally) HoldAttempt() { t.holdAttempts.Add(1) }

// HoldSuccess counts a hold the service accepted.
func (t *Tally) HoldSuccess() { t.holdSuccesses.Add(1) }

// ConfirmAttempt counts a confirm request that was sent.
func (t *Tally) ConfirmAttempt() { t.confirmAttempts.Add(1) }

// ConfirmSuccess counts a confirm the service accepted.
func (t *Tally) ConfirmSuccess() { t.confirmSuccesses.Add(1) }

// RecordVerification counts a verification result. A correct result also
// counts as verified ownership.
func (t *Tally) RecordVerification(v Verification) {
	switch v {
	case VerificationCorrect:
		t.verifyCorrect.Add(1)
		t.ownershipVerified.Add(1)
	case VerificationIncorrect:
		t.verifyIncorrect.Add(1)
	default:
		t.verifyUndeterminable.Add(1)
	}
}

// Counts is a point-in-time copy of a Tally.
type Counts struct {
	HoldAttempts         int64 `json:"hold_attempts"`
	HoldSuccesses        int64 `json:"hold_successes"`
	OwnershipVerified    int64 `json:"ownership_verified"`
	ConfirmAttempts      int64 `json:"confirm_attempts"`
	ConfirmSuccesses     int64 `json:"confirm_successes"`
	VerifyCorrect        int64 `json:"verify_correct"`
	VerifyIncorrect      int64 `json:"verify_incorrect"`
	VerifyUndeterminable int64 `json:"verify_undeterminable"`
}

// Counts reads every counter.
func (t *Tally) Counts() Counts {
	return Counts{
		HoldAttempts:         t.holdAttempts.Load(),
		HoldSuccesses:        t.holdSuccesses.Load(),
		OwnershipVerified:    t.ownershipVerified.Load(),
		ConfirmAttempts:      t.confirmAttempts.Load(),
		ConfirmSuccesses:     t.confirmSuccesses.Load(),
		VerifyCorrect:        t.verifyCorrect.Load(),
		VerifyIncorrect:      t.verifyIncorrect.Load(),
		VerifyUndeterminable: t.verifyUndeterminable.Load(),
	}
}
