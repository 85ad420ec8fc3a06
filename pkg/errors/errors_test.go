package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	err := FromError(sql.ErrConnDone)

	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Clone(ErrNotFound, "student not found"))

	err := FromError(wrapped)

	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Equal(t, "student not found", err.Message)
}

func TestIsMatchesByCode(t *testing.T) {
	err := Clone(ErrAlreadyEnrolled, "custom")

	assert.True(t, errors.Is(err, ErrAlreadyEnrolled))
	assert.False(t, errors.Is(err, ErrDuplicateKey))
}

func TestWithStatusKeepsCode(t *testing.T) {
	err := WithStatus(Clone(ErrNotFound, "course not found"), http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, ErrNotFound.Code, err.Code)
	assert.Equal(t, http.StatusNotFound, ErrNotFound.Status)
	assert.Nil(t, WithStatus(nil, http.StatusBadRequest))
}
