package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushHoldsRemovesOnlyHoldKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	for i := 0; i < 450; i++ {
		require.NoError(t, mr.Set("locker:hold:"+strconv.Itoa(i), "TEST0001"))
	}
	mr.SetTTL("locker:hold:0", 2*time.Minute)
	require.NoError(t, mr.Set("session:abc", "keep"))

	r := NewRedis(Options{Addr: mr.Addr()})
	defer r.Close()

	n, err := r.FlushHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 450, n)

	assert.False(t, mr.Exists("locker:hold:0"))
	assert.False(t, mr.Exists("locker:hold:449"))
	assert.True(t, mr.Exists("session:abc"))
	assert.Equal(t, []string{"session:abc"}, mr.Keys(), "one pass clears every hold key")

	n, err = r.FlushHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushHoldsEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(Options{Addr: mr.Addr(), Pattern: "custom:*"})
	defer r.Close()

	require.NoError(t, r.Ping(context.Background()))
	n, err := r.FlushHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushHoldsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	r := NewRedis(Options{Addr: addr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.FlushHolds(ctx)
	require.Error(t, err)
}
