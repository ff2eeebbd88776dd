package errclass_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tharunya07/EMEC-AMS/internal/errclass"
)

func TestError_Error_Formats(t *testing.T) {
	assert.Equal(t, "E_TRANSIENT_IO", errclass.TransientIO.Error())
	assert.Equal(t, "E_POLICY_DENIED: outside hours",
		errclass.PolicyDenied.WithMessage("outside hours").Error())
	assert.Equal(t, "E_TRANSIENT_IO: disk full",
		errclass.TransientIO.Wrap(errors.New("disk full")).Error())
}

func TestError_Is_MatchesByCode(t *testing.T) {
	err := errclass.InvariantViolation.WithMessagef("machine %s has %d open sessions", "m1", 2)
	require.True(t, errors.Is(err, errclass.InvariantViolation))
	require.False(t, errors.Is(err, errclass.TransientIO))
}

func TestError_Is_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("CloseSession: %w", errclass.TransientIO.Wrap(errors.New("busy")))
	assert.True(t, errclass.IsTransient(err))
}

func TestError_Unwrap_ReachesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := errclass.TransientIO.Wrap(cause)
	assert.ErrorIs(t, err, cause)
}

func TestTransient_ClassifiesPlainErrors(t *testing.T) {
	assert.NoError(t, errclass.Transient(nil))

	err := errclass.Transient(errors.New("io timeout"))
	assert.True(t, errclass.IsTransient(err))

	classified := errclass.InvariantViolation.WithMessage("two open sessions")
	assert.Same(t, classified, errclass.Transient(classified))
}
