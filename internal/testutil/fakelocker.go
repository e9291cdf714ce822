package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roach88/lockerbench/internal/store"
)

// FakeLocker is an in-process reservation service backed by a state store.
//
// It mirrors the real service closely enough for end-to-end runs: login
// checks the actor row and issues a refresh token, hold state lives in
// memory (the real service keeps it in its cache), and confirm writes
// ownership and an assignment to the store. Holds are mutually exclusive
// unless the double-hold bug is enabled.
type FakeLocker struct {
	server *httptest.Server
	st     *store.Store

	mu       sync.Mutex
	holds    map[int]string // resource id -> holder actor id
	tokens   map[string]string
	issued   int
	calls    map[string]int
	failures map[string]int

	doubleHold    bool
	ownerAsName   bool
	wrapList      bool
	latency       time.Duration
	confirmStatus int
}

// FakeOption configures a FakeLocker.
type FakeOption func(*FakeLocker)

// WithDoubleHold makes every hold succeed, breaking mutual exclusion.
func WithDoubleHold() FakeOption {
	return func(f *FakeLocker) { f.doubleHold = true }
}

// WithOwnerAsName stores and reports the actor's display name as owner.
func WithOwnerAsName() FakeOption {
	return func(f *FakeLocker) { f.ownerAsName = true }
}

// WithWrappedList returns the locker list as {"lockers": [...]}.
func WithWrappedList() FakeOption {
	return func(f *FakeLocker) { f.wrapList = true }
}

// WithLatency delays every response by d.
func WithLatency(d time.Duration) FakeOption {
	return func(f *FakeLocker) { f.latency = d }
}

// WithConfirmStatus sets the status a successful confirm returns.
func WithConfirmStatus(status int) FakeOption {
	return func(f *FakeLocker) { f.confirmStatus = status }
}

// WithFailure makes every call to endpoint (e.g. "POST /auth/login") answer
// with status.
func WithFailure(endpoint string, status int) FakeOption {
	return func(f *FakeLocker) { f.failures[endpoint] = status }
}

// NewFakeLocker starts a fake service over st. It is shut down when the
// test ends.
func NewFakeLocker(t *testing.T, st *store.Store, opts ...FakeOption) *FakeLocker {
	t.Helper()
	f := &FakeLocker{
		st:            st,
		holds:         make(map[int]string),
		tokens:        make(map[string]string),
		calls:         make(map[string]int),
		failures:      make(map[string]int),
		confirmStatus: http.StatusNoContent,
	}
	for _, opt := range opts {
		opt(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", f.wrap("GET /health", false, f.health))
	mux.HandleFunc("POST /api/v1/auth/login", f.wrap("POST /auth/login", false, f.login))
	mux.HandleFunc("GET /api/v1/lockers", f.wrap("GET /lockers", true, f.list))
	mux.HandleFunc("GET /api/v1/lockers/me", f.wrap("GET /lockers/me", true, f.me))
	mux.HandleFunc("POST /api/v1/lockers/{id}/hold", f.wrap("POST /lockers/{id}/hold", true, f.hold))
	mux.HandleFunc("POST /api/v1/lockers/{id}/confirm", f.wrap("POST /lockers/{id}/confirm", true, f.confirm))
	mux.HandleFunc("POST /api/v1/lockers/{id}/release", f.wrap("POST /lockers/{id}/release", true, f.release))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the service root.
func (f *FakeLocker) URL() string {
	return f.server.URL
}

// Calls returns how many requests reached endpoint.
func (f *FakeLocker) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// Holder returns the actor currently holding resourceID.
func (f *FakeLocker) Holder(resourceID int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[resourceID]
	return h, ok
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actorID string)

func (f *FakeLocker) wrap(endpoint string, authed bool, h actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[endpoint]++
		status, fail := f.failures[endpoint]
		f.mu.Unlock()

		if f.latency > 0 {
			select {
			case <-time.After(f.latency):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			writeError(w, status, "injected failure")
			return
		}

		var actorID string
		if authed {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			f.mu.Lock()
			id, ok := f.tokens[token]
			f.mu.Unlock()
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			actorID = id
		}
		h(w, r, actorID)
	}
}

func (f *FakeLocker) health(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "db": "reachable", "redis": "reachable"})
}

func (f *FakeLocker) login(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		StudentID string `json:"student_id"`
		Name      string `json:"name"`
		Phone     string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	actor, ok, err := f.st.Queries().GetActor(r.Context(), req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok || actor.Name != req.Name || actor.Phone != req.Phone {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	f.mu.Lock()
	f.issued++
	access := fmt.Sprintf("access-%s-%d", actor.ID, f.issued)
	refresh := fmt.Sprintf("refresh-%s-%d", actor.ID, f.issued)
	f.tokens[access] = actor.ID
	f.mu.Unlock()

	err = f.st.Queries().InsertCredentials(r.Context(), []store.Credential{
		{ActorID: actor.ID, Token: refresh, ExpiresAt: time.Now().Add(14 * 24 * time.Hour).UTC().Truncate(time.Second)},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": refresh})
}

type lockerJSON struct {
	LockerID   int     `json:"locker_id"`
	LocationID int     `json:"location_id"`
	Owner      *string `json:"owner"`
}

func (f *FakeLocker) list(w http.ResponseWriter, r *http.Request, _ string) {
	resources, err := f.st.Queries().ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]lockerJSON, 0, len(resources))
	for _, res := range resources {
		out = append(out, lockerJSON{LockerID: res.ID, LocationID: res.LocationID, Owner: res.Owner})
	}
	if f.wrapList {
		writeJSON(w, http.StatusOK, map[string]any{"lockers": out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeLocker) hold(w http.ResponseWriter, r *http.Request, actorID string) {
	id, ok := f.resourceID(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	owned, err := f.isOwned(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !f.doubleHold {
		if _, held := f.holds[id]; held || owned {
			writeError(w, http.StatusConflict, "already held")
			return
		}
	}
	f.holds[id] = actorID
	w.WriteHeader(http.StatusCreated)
}

func (f *FakeLocker) confirm(w http.ResponseWriter, r *http.Request, actorID string) {
	id, ok := f.resourceID(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.holds[id] != actorID && !f.doubleHold {
		writeError(w, http.StatusConflict, "hold expired or not found")
		return
	}

	owner := actorID
	if f.ownerAsName {
		actor, _, err := f.st.Queries().GetActor(r.Context(), actorID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		owner = actor.Name
	}

	ctx := r.Context()
	err := f.st.InTx(ctx, false, func(q *store.Queries) error {
		if err := q.SetOwner(ctx, id, owner); err != nil {
			return err
		}
		return q.InsertAssignments(ctx, []store.Assignment{
			{ActorID: actorID, ResourceID: id, AssignedAt: time.Now().UTC().Truncate(time.Second)},
		})
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	delete(f.holds, id)
	w.WriteHeader(f.confirmStatus)
}

func (f *FakeLocker) release(w http.ResponseWriter, r *http.Request, actorID string) {
	id, ok := f.resourceID(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.holds[id] != actorID {
		writeError(w, http.StatusConflict, "not held by caller")
		return
	}
	delete(f.holds, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeLocker) me(w http.ResponseWriter, r *http.Request, actorID string) {
	actor, _, err := f.st.Queries().GetActor(r.Context(), actorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	owned, err := f.st.Queries().ListOwnedResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, res := range owned {
		if *res.Owner == actorID || (f.ownerAsName && *res.Owner == actor.Name) {
			writeJSON(w, http.StatusOK, map[string]any{
				"locker": lockerJSON{LockerID: res.ID, LocationID: res.LocationID, Owner: res.Owner},
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locker": nil})
}

// isOwned must be called with f.mu held.
func (f *FakeLocker) isOwned(r *http.Request, id int) (bool, error) {
	resources, err := f.st.Queries().ListOwnedResources(r.Context())
	if err != nil {
		return false, err
	}
	for _, res := range resources {
		if res.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeLocker) resourceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid locker id")
		return 0, false
	}
	ids, err := f.st.Queries().ResourceIDs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return 0, false
	}
	for _, existing := range ids {
		if existing == id {
			return id, true
		}
	}
	writeError(w, http.StatusNotFound, "locker not found")
	return 0, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
