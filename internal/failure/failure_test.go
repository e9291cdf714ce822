package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindRestoreFailed}, "RESTORE_FAILED"},
		{"with op", &Error{Kind: KindRestoreFailed, Op: "snapshot.restore"}, "RESTORE_FAILED: snapshot.restore"},
		{
			"with cause",
			New(KindStoreUnavailable, "snapshot.capture", errors.New("connection refused")),
			"STORE_UNAVAILABLE: snapshot.capture: connection refused",
		},
		{
			"formatted",
			Newf(KindInvariantViolation, "race", "%d winners on %d", 2, 9002),
			"INVARIANT_VIOLATION: race: 2 winners on 9002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("provision actors: %w", New(KindProvisionFailed, "fixture.actors", cause))

	assert.ErrorIs(t, err, ErrProvisionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRestoreFailed)
	assert.Equal(t, KindProvisionFailed, KindOf(err))
}

func TestIsMatchesJoinedErrors(t *testing.T) {
	err := errors.Join(
		errors.New("unrelated"),
		New(KindInvariantViolation, "race", nil),
	)
	assert.True(t, IsInvariantViolation(err))
	assert.False(t, IsInvariantViolation(errors.New("plain")))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
