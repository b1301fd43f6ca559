// Package mcp implements the Model Context Protocol (MCP) server for
// the retrieval engine.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotReady indicates no index has been built yet.
	ErrCodeIndexNotReady = -32001

	// ErrCodeBuildLocked indicates an index build is already running.
	ErrCodeBuildLocked = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. RagError codes and
// categories decide the JSON-RPC code; everything else is internal.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var re *ragerrors.RagError
	if errors.As(err, &re) {
		return mapRagError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// mapRagError converts a RagError to an MCPError.
func mapRagError(re *ragerrors.RagError) *MCPError {
	switch re.Code {
	case ragerrors.ErrCodeBuildLocked:
		return &MCPError{
			Code:    ErrCodeBuildLocked,
			Message: "An index build is already running. Check rag_status for progress.",
		}
	case ragerrors.ErrCodeBuildTimeout:
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Index build hit its time budget; partial indexes were kept.",
		}
	case ragerrors.ErrCodeCorruptIndex, ragerrors.ErrCodeFileNotFound:
		return &MCPError{
			Code:    ErrCodeIndexNotReady,
			Message: re.Message + " Run build_indexes first.",
		}
	}

	switch re.Category {
	case ragerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: re.Message}
	case ragerrors.CategoryTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: re.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: re.Message}
	}
}
