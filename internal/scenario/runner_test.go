package scenario

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/lockerapi"
	"github.com/roach88/lockerbench/internal/outcome"
	"github.com/roach88/lockerbench/internal/store"
	"github.com/roach88/lockerbench/internal/testutil"
)

var epoch = time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

// stubAPI answers every call from its function fields; nil fields succeed.
type stubAPI struct {
	login   func(ctx context.Context, req lockerapi.Login) (lockerapi.Tokens, int, error)
	list    func(ctx context.Context) ([]lockerapi.Locker, int, error)
	hold    func(ctx context.Context, id int) (int, error)
	confirm func(ctx context.Context, id int) (int, error)
	mine    func(ctx context.Context) (*lockerapi.Locker, int, error)
}

func owner(s string) *string { return &s }

func (s *stubAPI) Login(ctx context.Context, req lockerapi.Login) (lockerapi.Tokens, int, error) {
	if s.login != nil {
		return s.login(ctx, req)
	}
	return lockerapi.Tokens{AccessToken: "tok-" + req.StudentID}, http.StatusOK, nil
}

func (s *stubAPI) ListLockers(ctx context.Context, _ string) ([]lockerapi.Locker, int, error) {
	if s.list != nil {
		return s.list(ctx)
	}
	return []lockerapi.Locker{{ID: 9001}}, http.StatusOK, nil
}

func (s *stubAPI) Hold(ctx context.Context, _ string, id int) (int, error) {
	if s.hold != nil {
		return s.hold(ctx, id)
	}
	return http.StatusCreated, nil
}

func (s *stubAPI) Confirm(ctx context.Context, _ string, id int) (int, error) {
	if s.confirm != nil {
		return s.confirm(ctx, id)
	}
	return http.StatusOK, nil
}

func (s *stubAPI) MyLocker(ctx context.Context, _ string) (*lockerapi.Locker, int, error) {
	if s.mine != nil {
		return s.mine(ctx)
	}
	return &lockerapi.Locker{ID: 9001, Owner: owner("TEST0001")}, http.StatusOK, nil
}

var synthActor = store.Actor{ID: "TEST0001", Name: "Test User 1", Phone: "01000000001"}

func quickSettings() Settings {
	return Settings{ConfirmRate: 1, RequestTimeout: time.Second, VerifyMode: config.VerifyByID}
}

func newTestRunner(api API, settings Settings, opts ...Option) *Runner {
	clock := testutil.NewStepClock(epoch, 10*time.Millisecond)
	opts = append([]Option{WithClock(clock.Now), WithSeed(7)}, opts...)
	return NewRunner(api, outcome.NewCollector(), outcome.NewTally(), settings, opts...)
}

func endpoints(outcomes []outcome.Outcome) []string {
	var out []string
	for _, o := range outcomes {
		out = append(out, o.Endpoint)
	}
	return out
}

func TestRun_FullFlowAgainstFakeService(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	fake := testutil.NewFakeLocker(t, st)
	api := lockerapi.New(fake.URL(), lockerapi.Options{RequestTimeout: 2 * time.Second})

	r := newTestRunner(api, quickSettings())
	res := r.Run(context.Background(), testutil.RealActorKim)

	require.Equal(t, StateConfirmed, res.State)
	require.NotNil(t, res.Verification)
	assert.Equal(t, outcome.VerificationCorrect, *res.Verification)
	assert.NotEqual(t, 3, res.ResourceID, "owned resource is never chosen")

	outcomes := r.Collector().Outcomes()
	assert.Equal(t, []string{
		lockerapi.EndpointLogin,
		lockerapi.EndpointList,
		lockerapi.EndpointHold,
		lockerapi.EndpointConfirm,
		lockerapi.EndpointMine,
	}, endpoints(outcomes))
	for _, o := range outcomes {
		assert.True(t, o.Success, o.Endpoint)
		assert.Equal(t, 10*time.Millisecond, o.Latency, "latency spans one call")
	}

	counts := r.Tally().Counts()
	assert.Equal(t, int64(1), counts.HoldAttempts)
	assert.Equal(t, int64(1), counts.HoldSuccesses)
	assert.Equal(t, int64(1), counts.ConfirmSuccesses)
	assert.Equal(t, int64(1), counts.OwnershipVerified)
}

func TestRun_AuthFailureShortCircuits(t *testing.T) {
	api := &stubAPI{login: func(context.Context, lockerapi.Login) (lockerapi.Tokens, int, error) {
		return lockerapi.Tokens{}, http.StatusUnauthorized, nil
	}}
	r := newTestRunner(api, quickSettings())

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateAuthFailed, res.State)
	outcomes := r.Collector().Outcomes()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, http.StatusUnauthorized, outcomes[0].StatusCode)
	assert.Contains(t, outcomes[0].Error, "401")
}

func TestRun_NoUnownedResource(t *testing.T) {
	api := &stubAPI{list: func(context.Context) ([]lockerapi.Locker, int, error) {
		return []lockerapi.Locker{{ID: 1, Owner: owner("20231234")}}, http.StatusOK, nil
	}}
	r := newTestRunner(api, quickSettings())

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateNoResource, res.State)
	assert.Equal(t, []string{lockerapi.EndpointLogin, lockerapi.EndpointList}, endpoints(r.Collector().Outcomes()))
	assert.Zero(t, r.Tally().Counts().HoldAttempts)
}

func TestRun_HoldConflict(t *testing.T) {
	api := &stubAPI{hold: func(context.Context, int) (int, error) { return http.StatusConflict, nil }}
	r := newTestRunner(api, quickSettings())

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateConflict, res.State)
	assert.Equal(t, 9001, res.ResourceID)
	outcomes := r.Collector().Outcomes()
	require.Len(t, outcomes, 3)
	assert.Equal(t, http.StatusConflict, outcomes[2].StatusCode)
	assert.Equal(t, 9001, outcomes[2].ResourceID)

	counts := r.Tally().Counts()
	assert.Equal(t, int64(1), counts.HoldAttempts)
	assert.Zero(t, counts.HoldSuccesses)
}

func TestRun_HoldAcceptsOK(t *testing.T) {
	api := &stubAPI{hold: func(context.Context, int) (int, error) { return http.StatusOK, nil }}
	r := newTestRunner(api, quickSettings())

	res := r.Run(context.Background(), synthActor)
	assert.Equal(t, StateConfirmed, res.State)
}

func TestRun_AbandonWhenNotConfirming(t *testing.T) {
	settings := quickSettings()
	settings.ConfirmRate = 0
	r := newTestRunner(&stubAPI{}, settings)

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateAbandoned, res.State)
	assert.Len(t, r.Collector().Outcomes(), 3)
	assert.Zero(t, r.Tally().Counts().ConfirmAttempts)
}

func TestRun_ConfirmFailure(t *testing.T) {
	api := &stubAPI{confirm: func(context.Context, int) (int, error) { return http.StatusConflict, nil }}
	r := newTestRunner(api, quickSettings())

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateConfirmFailed, res.State)
	counts := r.Tally().Counts()
	assert.Equal(t, int64(1), counts.ConfirmAttempts)
	assert.Zero(t, counts.ConfirmSuccesses)
	assert.Nil(t, res.Verification)
}

func TestRun_TimeoutIsFailedOutcomeWithStatusZero(t *testing.T) {
	api := &stubAPI{hold: func(ctx context.Context, _ int) (int, error) {
		<-ctx.Done()
		return 0, failure.New(failure.KindRequestFailed, "hold", ctx.Err())
	}}
	settings := quickSettings()
	settings.RequestTimeout = 20 * time.Millisecond
	r := newTestRunner(api, settings)

	res := r.Run(context.Background(), synthActor)

	assert.Equal(t, StateHoldFailed, res.State)
	outcomes := r.Collector().Outcomes()
	require.Len(t, outcomes, 3)
	assert.False(t, outcomes[2].Success)
	assert.Zero(t, outcomes[2].StatusCode)
	assert.Contains(t, outcomes[2].Error, "deadline exceeded")
}

func TestRun_InterruptedDuringThink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	settings := quickSettings()
	settings.ThinkMin = time.Hour
	settings.ThinkMax = time.Hour
	r := newTestRunner(&stubAPI{}, settings, WithSleep(func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, time.Hour, d)
		cancel()
		return ctx.Err()
	}))

	res := r.Run(ctx, synthActor)

	assert.Equal(t, StateInterrupted, res.State)
	assert.Len(t, r.Collector().Outcomes(), 3, "no outcome for the pause itself")
}

func TestRun_ThinkTimeWithinWindow(t *testing.T) {
	settings := quickSettings()
	settings.ThinkMin = 100 * time.Millisecond
	settings.ThinkMax = 500 * time.Millisecond

	var slept []time.Duration
	r := newTestRunner(&stubAPI{}, settings, WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	for i := 0; i < 50; i++ {
		r.Run(context.Background(), synthActor)
	}

	require.Len(t, slept, 50)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, settings.ThinkMin)
		assert.LessOrEqual(t, d, settings.ThinkMax)
	}
}

func TestVerify_Classification(t *testing.T) {
	tests := []struct {
		name string
		mine func(context.Context) (*lockerapi.Locker, int, error)
		want outcome.Verification
	}{
		{"match", nil, outcome.VerificationCorrect},
		{"other resource", func(context.Context) (*lockerapi.Locker, int, error) {
			return &lockerapi.Locker{ID: 9002, Owner: owner("TEST0001")}, http.StatusOK, nil
		}, outcome.VerificationIncorrect},
		{"other owner", func(context.Context) (*lockerapi.Locker, int, error) {
			return &lockerapi.Locker{ID: 9001, Owner: owner("TEST0002")}, http.StatusOK, nil
		}, outcome.VerificationIncorrect},
		{"no reservation", func(context.Context) (*lockerapi.Locker, int, error) {
			return nil, http.StatusOK, nil
		}, outcome.VerificationUndeterminable},
		{"server error", func(context.Context) (*lockerapi.Locker, int, error) {
			return nil, http.StatusInternalServerError, nil
		}, outcome.VerificationUndeterminable},
		{"transport error", func(context.Context) (*lockerapi.Locker, int, error) {
			return nil, 0, errors.New("connection reset")
		}, outcome.VerificationUndeterminable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(&stubAPI{mine: tt.mine}, quickSettings())
			res := r.Run(context.Background(), synthActor)

			require.Equal(t, StateConfirmed, res.State)
			require.NotNil(t, res.Verification)
			assert.Equal(t, tt.want, *res.Verification)
		})
	}
}

func TestOwnerMatches(t *testing.T) {
	hong := testutil.RealActorHong
	decomposed := norm.NFD.String(hong.Name)
	require.NotEqual(t, hong.Name, decomposed)

	tests := []struct {
		mode  string
		owner string
		want  bool
	}{
		{config.VerifyByID, hong.ID, true},
		{config.VerifyByID, hong.Name, false},
		{config.VerifyByName, hong.Name, true},
		{config.VerifyByName, decomposed, true},
		{config.VerifyByName, hong.ID, false},
		{config.VerifyByBoth, hong.ID, true},
		{config.VerifyByBoth, decomposed, true},
		{config.VerifyByBoth, "someone", false},
		{config.VerifyByBoth, "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OwnerMatches(tt.mode, hong, tt.owner), "mode=%s owner=%q", tt.mode, tt.owner)
	}
}

func TestRun_OwnerReportedByName(t *testing.T) {
	st := testutil.OpenSeededStateStore(t)
	fake := testutil.NewFakeLocker(t, st, testutil.WithOwnerAsName())
	api := lockerapi.New(fake.URL(), lockerapi.Options{RequestTimeout: 2 * time.Second})

	byName := quickSettings()
	byName.VerifyMode = config.VerifyByName
	r := newTestRunner(api, byName)
	res := r.Run(context.Background(), testutil.RealActorKim)
	require.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, outcome.VerificationCorrect, *res.Verification)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	s := SettingsFromConfig(cfg)
	assert.Equal(t, cfg.Load.ThinkMin, s.ThinkMin)
	assert.Equal(t, cfg.Load.ThinkMax, s.ThinkMax)
	assert.Equal(t, cfg.Timeouts.Request, s.RequestTimeout)
	assert.Equal(t, config.VerifyByID, s.VerifyMode)
}
