package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, 0},
		{"build timeout", ragerrors.TimeoutError("build timed out", nil), ErrCodeTimeout},
		{"corrupt index", ragerrors.New(ragerrors.ErrCodeCorruptIndex, "index unreadable", nil), ErrCodeIndexNotReady},
		{"validation", ragerrors.New(ragerrors.ErrCodeQueryEmpty, "empty query", nil), ErrCodeInvalidParams},
		{"unknown backend", ragerrors.New(ragerrors.ErrCodeUnknownBackend, "no such backend", nil), ErrCodeInvalidParams},
		{"deadline exceeded", context.DeadlineExceeded, ErrCodeTimeout},
		{"plain error", errors.New("boom"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			if tt.err == nil {
				assert.Nil(t, mapped)
				return
			}
			assert.Equal(t, tt.want, mapped.Code)
		})
	}
}

func TestMCPError_ErrorString(t *testing.T) {
	err := NewInvalidParamsError("query is required")
	assert.Contains(t, err.Error(), "query is required")
	assert.Contains(t, err.Error(), "-32602")
}
