package lockerapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockerbench/internal/failure"
	"github.com/roach88/lockerbench/internal/testutil"
)

func login(actorID, name, phone string) Login {
	return Login{StudentID: actorID, Name: name, Phone: phone}
}

func newClient(url string) *Client {
	return New(url, Options{MaxConnections: 8, RequestTimeout: 2 * time.Second})
}

func TestHealth(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t))
	c := newClient(fake.URL())

	status, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestLoginListHoldConfirmMine(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t))
	c := newClient(fake.URL())
	ctx := context.Background()
	hong := testutil.RealActorHong

	tokens, status, err := c.Login(ctx, login(testutil.RealActorKim.ID, testutil.RealActorKim.Name, testutil.RealActorKim.Phone))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	lockers, status, err := c.ListLockers(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, lockers, testutil.RealResourceCount)
	assert.False(t, lockers[2].Unowned(), "resource 3 is owned in the seed")
	assert.Equal(t, hong.ID, lockers[2].OwnerString())
	assert.True(t, lockers[0].Unowned())

	status, err = c.Hold(ctx, tokens.AccessToken, 5)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	status, err = c.Confirm(ctx, tokens.AccessToken, 5)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	mine, status, err := c.MyLocker(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, mine)
	assert.Equal(t, 5, mine.ID)
	assert.Equal(t, testutil.RealActorKim.ID, mine.OwnerString())
}

func TestLoginRejected(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t))
	c := newClient(fake.URL())

	tokens, status, err := c.Login(context.Background(), login("nobody", "x", "y"))
	require.NoError(t, err, "a 401 is a response, not a transport error")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, tokens.AccessToken)
}

func TestHoldConflictAndRelease(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t))
	c := newClient(fake.URL())
	ctx := context.Background()

	hong, _, err := c.Login(ctx, login(testutil.RealActorHong.ID, testutil.RealActorHong.Name, testutil.RealActorHong.Phone))
	require.NoError(t, err)
	kim, _, err := c.Login(ctx, login(testutil.RealActorKim.ID, testutil.RealActorKim.Name, testutil.RealActorKim.Phone))
	require.NoError(t, err)

	status, err := c.Hold(ctx, hong.AccessToken, 7)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	status, err = c.Hold(ctx, kim.AccessToken, 7)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, status)

	status, err = c.Release(ctx, hong.AccessToken, 7)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	_, held := fake.Holder(7)
	assert.False(t, held)
}

func TestMyLockerNone(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t))
	c := newClient(fake.URL())
	ctx := context.Background()

	kim, _, err := c.Login(ctx, login(testutil.RealActorKim.ID, testutil.RealActorKim.Name, testutil.RealActorKim.Phone))
	require.NoError(t, err)

	mine, status, err := c.MyLocker(ctx, kim.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, mine)
}

func TestListAcceptsWrappedShape(t *testing.T) {
	fake := testutil.NewFakeLocker(t, testutil.OpenSeededStateStore(t), testutil.WithWrappedList())
	c := newClient(fake.URL())
	ctx := context.Background()

	tokens, _, err := c.Login(ctx, login(testutil.RealActorKim.ID, testutil.RealActorKim.Name, testutil.RealActorKim.Phone))
	require.NoError(t, err)

	lockers, status, err := c.ListLockers(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, lockers, testutil.RealResourceCount)
}

func TestDecodeLockers(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		unowned []bool
	}{
		{"bare array", `[{"locker_id":1,"owner":"20231234"},{"locker_id":2}]`, 2, []bool{false, true}},
		{"wrapped", `{"lockers":[{"locker_id":1,"owner":null}]}`, 1, []bool{true}},
		{"empty owner", `[{"locker_id":1,"owner":""}]`, 1, []bool{true}},
		{"null body", `null`, 0, nil},
		{"empty body", ``, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lockers, err := decodeLockers([]byte(tt.body))
			require.NoError(t, err)
			require.Len(t, lockers, tt.want)
			for i, u := range tt.unowned {
				assert.Equal(t, u, lockers[i].Unowned())
			}
		})
	}

	_, err := decodeLockers([]byte(`{"lockers": 5}`))
	assert.Error(t, err)
}

func TestTimeoutIsRequestFailedWithStatusZero(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	c := New(slow.URL, Options{RequestTimeout: 50 * time.Millisecond})
	status, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Zero(t, status)
	assert.ErrorIs(t, err, failure.ErrRequestFailed)
}

func TestConnectionRefusedIsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newClient(url)
	status, err := c.Hold(context.Background(), "tok", 1)
	require.Error(t, err)
	assert.Zero(t, status)
}
