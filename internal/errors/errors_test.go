package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicatesFollowWrapChain(t *testing.T) {
	base := NewNotFoundError("alert not found", nil)
	wrapped := fmt.Errorf("failed to acknowledge alert: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.False(t, IsTransient(wrapped))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewTransientError("gateway call failed", fmt.Errorf("connection refused"))
	assert.Equal(t, "transient_execution: gateway call failed (internal: connection refused)", err.Error())
	assert.True(t, IsTransient(err))
	assert.Equal(t, "validation: min must be below max", NewValidationError("min must be below max", nil).Error())
}

func TestPlainErrorsAreNotClassified(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	_, ok := As(err)
	assert.False(t, ok)
}
