package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf_MatchesWrappedKind(t *testing.T) {
	err := fmt.Errorf("context: %w", New(AuthInvalid, "bad token"))
	assert.True(t, Of(err, AuthInvalid))
	assert.False(t, Of(err, NotFound))
}

func TestOf_FalseForNonAutherr(t *testing.T) {
	assert.False(t, Of(errors.New("plain"), AuthInvalid))
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("network down")
	err := Wrap(Transient, "fetch jwks", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorString_IncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Transient, "store failed", cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "store failed")
}

func TestSentinel_MatchesViaErrorsIs(t *testing.T) {
	err := New(NotFound, "role does not exist")
	assert.True(t, errors.Is(err, Sentinel(NotFound)))
	assert.False(t, errors.Is(err, Sentinel(AuthInvalid)))
}

func TestKindString_CoversAllKinds(t *testing.T) {
	cases := map[Kind]string{
		ValidationFailure: "validation_failure",
		AuthInvalid:       "auth_invalid",
		AuthLocked:        "auth_locked",
		JwksFetchError:    "jwks_fetch_error",
		NotFound:          "not_found",
		StateViolation:    "state_violation",
		Transient:         "transient",
		Unknown:           "unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
