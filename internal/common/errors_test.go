package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalToolError_MessageIsStderr(t *testing.T) {
	err := &ExternalToolError{
		Args:   []string{"push", "-a", "acme"},
		Stderr: "nats: no responders available",
		Err:    errors.New("exit status 1"),
	}

	assert.Equal(t, "nats: no responders available", err.Error())
	assert.True(t, errors.Is(err, ErrorExternalTool))

	wrapped := fmt.Errorf("push account: %w", err)
	assert.True(t, errors.Is(wrapped, ErrorExternalTool))

	var tool *ExternalToolError
	require.True(t, errors.As(wrapped, &tool))
	assert.Equal(t, []string{"push", "-a", "acme"}, tool.Args)
}

func TestExternalToolError_EmptyStderrFallsBackToArgs(t *testing.T) {
	err := &ExternalToolError{Args: []string{"describe", "account", "x"}, Err: errors.New("exit status 2")}
	assert.Equal(t, "describe account x: exit status 2", err.Error())
}

func TestCompensatedError_UnwrapsPrimaryOnly(t *testing.T) {
	primary := &ExternalToolError{Stderr: "edit failed"}
	secondary := errors.New("delete failed")

	err := &CompensatedError{Err: primary, CompensateErr: secondary}

	assert.True(t, errors.Is(err, ErrorExternalTool))
	assert.False(t, errors.Is(err, secondary))
	assert.Contains(t, err.Error(), "edit failed")
	assert.Contains(t, err.Error(), "compensation failed: delete failed")
}

func TestCompensatedError_NoSecondary(t *testing.T) {
	err := &CompensatedError{Err: ErrorNotFound}
	assert.Equal(t, "not found", err.Error())
}

func TestValidationfAndInvalidStatef(t *testing.T) {
	v := Validationf("account name %q contains %q", "a b", " ")
	assert.True(t, errors.Is(v, ErrorValidation))
	assert.Contains(t, v.Error(), `account name "a b"`)

	s := InvalidStatef("user %s is already revoked", "svc1")
	assert.True(t, errors.Is(s, ErrorInvalidState))
	assert.Equal(t, "invalid state: user svc1 is already revoked", s.Error())
}
