package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig},
		{"io", ErrCodeCorruptIndex, CategoryIO},
		{"timeout", ErrCodeBuildTimeout, CategoryTimeout},
		{"validation", ErrCodeDimensionMismatch, CategoryValidation},
		{"internal", ErrCodeSearchFailed, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestError_Format(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query is empty", nil)
	assert.Equal(t, "[ERR_405_QUERY_EMPTY] query is empty", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk exploded")
	err := Wrap(ErrCodeSaveFailed, cause)
	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Equal(t, "disk exploded", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeSaveFailed, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeBuildTimeout, "a", nil)
	b := New(ErrCodeBuildTimeout, "b", nil)
	c := New(ErrCodeBuildFailed, "c", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(TimeoutError("build exceeded budget", nil)))
	assert.False(t, IsTimeout(New(ErrCodeBuildFailed, "boom", nil)))
	assert.False(t, IsTimeout(fmt.Errorf("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeBuildLocked, "locked", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidInput, "bad", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestWithDetail(t *testing.T) {
	err := Newf(ErrCodeUnknownComponent, "no such component %q", "tfidf").
		WithDetail("component", "tfidf")
	assert.Equal(t, "tfidf", err.Details["component"])
}
