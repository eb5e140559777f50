package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics and API responses.
type ErrorCategory string

const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryUnauthorized ErrorCategory = "unauthorized"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryUpstream     ErrorCategory = "upstream"
	ErrorCategoryRejected     ErrorCategory = "rejected"
	ErrorCategoryDecode       ErrorCategory = "decode"
	ErrorCategorySchema       ErrorCategory = "schema"
	ErrorCategoryUnsupported  ErrorCategory = "unsupported"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. Nil maps to "".
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var rejected *RejectedError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrUnauthorized):
		return ErrorCategoryUnauthorized
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrDecode):
		return ErrorCategoryDecode
	case errors.Is(err, ErrUnknownTable), errors.Is(err, ErrUnknownColumn):
		return ErrorCategorySchema
	case errors.Is(err, ErrSubscribeUnsupported):
		return ErrorCategoryUnsupported
	case errors.As(err, &rejected):
		return ErrorCategoryRejected
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dial") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
