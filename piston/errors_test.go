package piston

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Defaults(t *testing.T) {
	assert.Equal(t, "requests must be of type application/json", newContentTypeError("").Error())
	assert.Equal(t, "Internal server error", newServerError("").Error())
	assert.Equal(t, "custom", newServerError("custom").Error())
	assert.Equal(t, 415, newContentTypeError("").StatusCode)
	assert.Equal(t, 400, newValidationError("language is required").StatusCode)
	assert.Equal(t, "Unexpected error: teapot", newUnexpectedError(418, "teapot", nil).Error())
}

func TestError_IsMatchesKindOnly(t *testing.T) {
	err := fmt.Errorf("running job: %w", newValidationError("version is required as a string"))

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrServer)
	assert.NotErrorIs(t, err, &Error{Kind: KindValidation, Message: "other"})

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindValidation, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestError_NetworkCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := newNetworkError(cause)

	assert.Equal(t, "Failed to connect to Piston API: dial tcp: connection refused", err.Error())
	assert.Equal(t, 0, err.StatusCode)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "content_type", KindContentType.String())
	assert.Equal(t, "network", KindNetwork.String())
	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())
	assert.Equal(t, "piston: server error", ErrServer.Error())
}
