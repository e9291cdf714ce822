package harness

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/roach88/lockerbench/internal/lockerapi"
)

// maxCheckCandidates bounds how many unowned resources the smoke check
// tries to hold before giving up.
const maxCheckCandidates = 6

// CheckStep is one call of the smoke check.
type CheckStep struct {
	Name       string        `json:"name"`
	ResourceID int           `json:"resource_id,omitempty"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency_ns"`
	OK         bool          `json:"ok"`
	Detail     string        `json:"detail,omitempty"`
}

// CheckReport is the result of a smoke check.
type CheckReport struct {
	OK    bool        `json:"ok"`
	Steps []CheckStep `json:"steps"`
}

func (r *CheckReport) add(step CheckStep) CheckStep {
	r.Steps = append(r.Steps, step)
	return step
}

// Check verifies the service end to end without touching the store: health,
// login as the first seed actor, list, then hold and immediately release an
// unowned resource. A conflicting hold moves on to the next candidate.
func (h *Harness) Check(ctx context.Context) (*CheckReport, error) {
	rep := &CheckReport{}
	if len(h.cfg.Fixture.SeedActors) == 0 {
		return nil, fmt.Errorf("check requires at least one fixture.seed_actors entry to log in with")
	}
	seed := h.cfg.Fixture.SeedActors[0]

	timed := func(name string, resourceID int, fn func(ctx context.Context) (int, error), ok func(int) bool) CheckStep {
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Request)
		defer cancel()
		start := h.now()
		status, err := fn(callCtx)
		step := CheckStep{Name: name, ResourceID: resourceID, StatusCode: status, Latency: h.now().Sub(start)}
		switch {
		case err != nil:
			step.StatusCode = 0
			step.Detail = err.Error()
		case ok(status):
			step.OK = true
		default:
			step.Detail = fmt.Sprintf("unexpected status %d", status)
		}
		h.logger.Debug("check step", "step", name, "status", step.StatusCode, "ok", step.OK)
		return rep.add(step)
	}
	is := func(want ...int) func(int) bool {
		return func(status int) bool { return slices.Contains(want, status) }
	}

	if !timed("health", 0, h.api.Health, is(http.StatusOK)).OK {
		return rep, nil
	}

	var tokens lockerapi.Tokens
	login := timed("login", 0, func(ctx context.Context) (int, error) {
		var (
			status int
			err    error
		)
		tokens, status, err = h.api.Login(ctx, lockerapi.Login{StudentID: seed.ID, Name: seed.Name, Phone: seed.Phone})
		return status, err
	}, is(http.StatusOK))
	if !login.OK {
		return rep, nil
	}

	var lockers []lockerapi.Locker
	if !timed("list", 0, func(ctx context.Context) (int, error) {
		var (
			status int
			err    error
		)
		lockers, status, err = h.api.ListLockers(ctx, tokens.AccessToken)
		return status, err
	}, is(http.StatusOK)).OK {
		return rep, nil
	}

	tried := 0
	for _, l := range lockers {
		if !l.Unowned() {
			continue
		}
		if tried == maxCheckCandidates {
			break
		}
		tried++

		id := l.ID
		hold := timed("hold", id, func(ctx context.Context) (int, error) {
			return h.api.Hold(ctx, tokens.AccessToken, id)
		}, is(http.StatusOK, http.StatusCreated))
		if hold.StatusCode == http.StatusConflict {
			continue
		}
		if !hold.OK {
			return rep, nil
		}

		release := timed("release", id, func(ctx context.Context) (int, error) {
			return h.api.Release(ctx, tokens.AccessToken, id)
		}, is(http.StatusOK, http.StatusCreated, http.StatusNoContent))
		rep.OK = release.OK
		return rep, nil
	}

	rep.add(CheckStep{Name: "hold", Detail: fmt.Sprintf("no holdable resource among %d candidates", tried)})
	return rep, nil
}
