package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"canceled", fmt.Errorf("stream: %w", context.Canceled), 0, CodeCanceled, false},
		{"deadline", context.DeadlineExceeded, 0, CodeTimeout, true},
		{"net timeout", timeoutErr{}, 0, CodeTimeout, true},
		{"too many requests", boom, 429, CodeRateLimited, true},
		{"unavailable", boom, 503, CodeUpstreamUnavailable, true},
		{"not implemented", boom, 501, CodeUpstreamUnavailable, false},
		{"bad request", boom, 400, CodeUpstreamRejected, false},
		{"unknown", boom, 0, CodeUpstreamError, false},
	}
	for _, tc := range cases {
		code, retryable := Classify(tc.err, tc.status)
		if code != tc.code || retryable != tc.retryable {
			t.Fatalf("%s: Classify() = (%q, %v), want (%q, %v)", tc.name, code, retryable, tc.code, tc.retryable)
		}
	}
}
