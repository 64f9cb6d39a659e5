package reliability

import (
	"context"
	"errors"
	"net"
)

// Failure codes reported for a failed model call.
const (
	CodeCanceled            = "canceled"
	CodeTimeout             = "timeout"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeUpstreamError       = "upstream_error"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps a failed call and the HTTP status it carried (0 when none)
// to a failure code and whether trying again later may succeed.
func Classify(err error, status int) (code string, retryable bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCanceled, false
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout, true
	}

	switch {
	case status == 429:
		return CodeRateLimited, true
	case status >= 500:
		return CodeUpstreamUnavailable, IsRetryableHTTPStatus(status)
	case status >= 400:
		return CodeUpstreamRejected, false
	default:
		return CodeUpstreamError, false
	}
}
