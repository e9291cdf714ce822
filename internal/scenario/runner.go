// Package scenario runs one simulated actor through the reservation flow.
//
// Steps run in order and short-circuit on failure:
//
//	authenticate -> list -> hold -> think -> confirm or abandon -> verify
//
// Every remote call produces exactly one Outcome whose latency spans that
// call alone. Nothing is retried.
package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/lockerapi"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/store"
)

// API is the subset of the reservation service a scenario calls.
type API interface {
	Login(ctx context.Context, req lockerapi.Login) (lockerapi.Tokens, int, error)
	ListLockers(ctx context.Context, token string) ([]lockerapi.Locker, int, error)
	Hold(ctx context.Context, token string, id int) (int, error)
	Confirm(ctx context.Context, token string, id int) (int, error)
	MyLocker(ctx context.Context, token string) (*lockerapi.Locker, int, error)
}

// State is the terminal state a scenario reached.
type State string

const (
	StateAuthFailed    State = "auth_failed"
	StateListFailed    State = "list_failed"
	StateNoResource    State = "no_resource"
	StateConflict      State = "conflict"
	StateHoldFailed    State = "hold_failed"
	StateAbandoned     State = "abandoned"
	StateConfirmFailed State = "confirm_failed"
	StateConfirmed     State = "confirmed"
	StateInterrupted   State = "interrupted"
	StatePanicked      State = "panicked"
)

// Result describes how a scenario ended.
type Result struct {
	Actor        string                `json:"actor"`
	State        State                 `json:"state"`
	ResourceID   int                   `json:"resource_id,omitempty"`
	Verification *outcome.Verification `json:"verification,omitempty"`
}

// Settings shapes scenario behaviour.
type Settings struct {
	ThinkMin       time.Duration
	ThinkMax       time.Duration
	ConfirmRate    float64
	RequestTimeout time.Duration

	// VerifyMode is config.VerifyByID, VerifyByName or VerifyByBoth.
	VerifyMode string
}

// SettingsFromConfig extracts scenario settings from cfg.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		ThinkMin:       cfg.Load.ThinkMin,
		ThinkMax:       cfg.Load.ThinkMax,
		ConfirmRate:    cfg.Load.ConfirmRate,
		RequestTimeout: cfg.Timeouts.Request,
		VerifyMode:     cfg.Verify.Mode,
	}
}

// Success statuses per step. The service documents 201 for hold and 200
// for confirm but answers confirm with 204.
var (
	holdOK    = []int{http.StatusOK, http.StatusCreated}
	confirmOK = []int{http.StatusOK, http.StatusNoContent}
)

// Runner executes scenarios against one API, recording into one collector
// and tally.
type Runner struct {
	api       API
	collector *outcome.Collector
	tally     *outcome.Tally
	settings  Settings
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep replaces the think-time pause.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithSeed makes resource choice, think time and confirm decisions
// reproducible.
func WithSeed(seed uint64) Option {
	return func(r *Runner) { r.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(api API, collector *outcome.Collector, tally *outcome.Tally, settings Settings, opts ...Option) *Runner {
	r := &Runner{
		api:       api,
		collector: collector,
		tally:     tally,
		settings:  settings,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		sleep:     sleepContext,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "scenario")
	return r
}

// Collector returns the runner's outcome sink.
func (r *Runner) Collector() *outcome.Collector { return r.collector }

// Tally returns the runner's counters.
func (r *Runner) Tally() *outcome.Tally { return r.tally }

// Run drives actor through the full flow.
func (r *Runner) Run(ctx context.Context, actor store.Actor) Result {
	res := Result{Actor: actor.ID}

	token, ok := r.Authenticate(ctx, actor)
	if !ok {
		res.State = StateAuthFailed
		return res
	}

	lockers, ok := r.List(ctx, actor, token)
	if !ok {
		res.State = StateListFailed
		return res
	}
	target, ok := r.pickUnowned(lockers)
	if !ok {
		r.logger.Debug("no unowned resource", "actor", actor.ID)
		res.State = StateNoResource
		return res
	}
	res.ResourceID = target

	status, ok := r.Hold(ctx, actor, token, target)
	if !ok {
		if status == http.StatusConflict {
			res.State = StateConflict
		} else {
			res.State = StateHoldFailed
		}
		return res
	}

	if err := r.sleep(ctx, r.thinkTime()); err != nil {
		res.State = StateInterrupted
		return res
	}

	if !r.decideConfirm() {
		res.State = StateAbandoned
		return res
	}

	if !r.Confirm(ctx, actor, token, target) {
		res.State = StateConfirmFailed
		return res
	}
	res.State = StateConfirmed

	v := r.Verify(ctx, actor, token, target)
	res.Verification = &v
	return res
}

// Authenticate logs actor in and returns the bearer token.
func (r *Runner) Authenticate(ctx context.Context, actor store.Actor) (string, bool) {
	var tokens lockerapi.Tokens
	o := r.call(ctx, lockerapi.EndpointLogin, actor.ID, 0, func(ctx context.Context) (int, error) {
		var (
			status int
			err    error
		)
		tokens, status, err = r.api.Login(ctx, lockerapi.Login{
			StudentID: actor.ID,
			Name:      actor.Name,
			Phone:     actor.Phone,
		})
		return status, err
	}, func(status int) bool { return status == http.StatusOK && tokens.AccessToken != "" })
	return tokens.AccessToken, o.Success
}

// List fetches every resource.
func (r *Runner) List(ctx context.Context, actor store.Actor, token string) ([]lockerapi.Locker, bool) {
	var lockers []lockerapi.Locker
	o := r.call(ctx, lockerapi.EndpointList, actor.ID, 0, func(ctx context.Context) (int, error) {
		var (
			status int
			err    error
		)
		lockers, status, err = r.api.ListLockers(ctx, token)
		return status, err
	}, statusIs(http.StatusOK))
	return lockers, o.Success
}

// Hold attempts a hold on resourceID and returns the response status.
func (r *Runner) Hold(ctx context.Context, actor store.Actor, token string, resourceID int) (int, bool) {
	r.tally.HoldAttempt()
	o := r.call(ctx, lockerapi.EndpointHold, actor.ID, resourceID, func(ctx context.Context) (int, error) {
		return r.api.Hold(ctx, token, resourceID)
	}, statusIn(holdOK))
	if o.Success {
		r.tally.HoldSuccess()
	}
	return o.StatusCode, o.Success
}

// Confirm converts the actor's hold on resourceID into ownership.
func (r *Runner) Confirm(ctx context.Context, actor store.Actor, token string, resourceID int) bool {
	r.tally.ConfirmAttempt()
	o := r.call(ctx, lockerapi.EndpointConfirm, actor.ID, resourceID, func(ctx context.Context) (int, error) {
		return r.api.Confirm(ctx, token, resourceID)
	}, statusIn(confirmOK))
	if o.Success {
		r.tally.ConfirmSuccess()
	}
	return o.Success
}

// Verify asks the service which resource actor owns and classifies the
// answer against resourceID.
func (r *Runner) Verify(ctx context.Context, actor store.Actor, token string, resourceID int) outcome.Verification {
	var mine *lockerapi.Locker
	o := r.call(ctx, lockerapi.EndpointMine, actor.ID, resourceID, func(ctx context.Context) (int, error) {
		var (
			status int
			err    error
		)
		mine, status, err = r.api.MyLocker(ctx, token)
		return status, err
	}, statusIs(http.StatusOK))

	v := classify(o.Success, mine, actor, resourceID, r.settings.VerifyMode)
	r.tally.RecordVerification(v)
	if v == outcome.VerificationIncorrect {
		r.logger.Warn("ownership mismatch",
			"actor", actor.ID,
			"expected_resource", resourceID,
			"reported_resource", mine.ID,
			"reported_owner", mine.OwnerString())
	}
	return v
}

// call runs fn under the per-call timeout, measures it, and records exactly
// one outcome. A transport error yields status 0; otherwise ok judges the
// status.
func (r *Runner) call(ctx context.Context, endpoint, actorID string, resourceID int, fn func(context.Context) (int, error), ok func(int) bool) outcome.Outcome {
	callCtx := ctx
	if r.settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.settings.RequestTimeout)
		defer cancel()
	}

	start := r.now()
	status, err := fn(callCtx)
	latency := r.now().Sub(start)

	o := outcome.Outcome{
		Endpoint:   endpoint,
		Actor:      actorID,
		ResourceID: resourceID,
		StatusCode: status,
		Latency:    latency,
	}
	switch {
	case err != nil:
		o.StatusCode = 0
		o.Error = err.Error()
	case ok(status):
		o.Success = true
	default:
		o.Error = fmt.Sprintf("%s returned %d", endpoint, status)
	}
	return r.collector.Record(o)
}

func statusIs(want int) func(int) bool {
	return func(status int) bool { return status == want }
}

func statusIn(set []int) func(int) bool {
	return func(status int) bool { return slices.Contains(set, status) }
}

// classify compares the service's answer to what the actor confirmed.
func classify(callOK bool, mine *lockerapi.Locker, actor store.Actor, resourceID int, mode string) outcome.Verification {
	if !callOK || mine == nil {
		return outcome.VerificationUndeterminable
	}
	if mine.ID != resourceID || !OwnerMatches(mode, actor, mine.OwnerString()) {
		return outcome.VerificationIncorrect
	}
	return outcome.VerificationCorrect
}

// OwnerMatches reports whether owner identifies actor under mode. Names are
// compared after NFC normalisation so composed and decomposed Hangul match.
func OwnerMatches(mode string, actor store.Actor, owner string) bool {
	byID := owner != "" && owner == actor.ID
	byName := owner != "" && norm.NFC.String(owner) == norm.NFC.String(actor.Name)
	switch mode {
	case config.VerifyByName:
		return byName
	case config.VerifyByBoth:
		return byID || byName
	default:
		return byID
	}
}

func (r *Runner) pickUnowned(lockers []lockerapi.Locker) (int, bool) {
	var free []int
	for _, l := range lockers {
		if l.Unowned() {
			free = append(free, l.ID)
		}
	}
	if len(free) == 0 {
		return 0, false
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return free[r.rng.IntN(len(free))], true
}

func (r *Runner) thinkTime() time.Duration {
	lo, hi := r.settings.ThinkMin, r.settings.ThinkMax
	if hi <= lo {
		return lo
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return lo + time.Duration(r.rng.Int64N(int64(hi-lo)+1))
}

func (r *Runner) decideConfirm() bool {
	rate := r.settings.ConfirmRate
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64() < rate
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
