package backoff

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UpstreamError is the normalized form of a backend failure. Vendor adapters
// convert SDK errors into this shape at the system boundary so classification
// never probes vendor-specific fields.
type UpstreamError struct {
	StatusCode int               // 0 when the upstream exposed none
	Code       string            // vendor error-code convention, e.g. "resource_exhausted"
	Headers    http.Header       // response headers, when available
	Metadata   map[string]string // structured metadata, when available
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "upstream error"
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *UpstreamError) Unwrap() error { return e.Err }

// Classification is the one-time retryability decision for an error.
type Classification struct {
	Retryable     bool
	RetryAfter    time.Duration
	HasRetryAfter bool
}

// codeStatuses maps vendor error-code conventions onto HTTP statuses.
var codeStatuses = map[string]int{
	"resource_exhausted": 429,
	"rate_limit_error":   429,
	"unavailable":        503,
	"overloaded_error":   503,
}

// retryablePatterns are matched against the message only when no status code
// is present on the error.
var retryablePatterns = []string{
	"rate limit",
	"quota",
	"429",
	"503",
	"too many requests",
	"overloaded",
	"temporarily unavailable",
}

// Classify decides retryability by, in order: an explicit status code,
// mapped vendor error codes, and finally message-pattern matching when no
// status is available. Retry-after hints are extracted alongside.
func Classify(err error, cfg Config) Classification {
	if err == nil {
		return Classification{}
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		status := ue.StatusCode
		if status == 0 {
			if mapped, ok := codeStatuses[strings.ToLower(ue.Code)]; ok {
				status = mapped
			}
		}
		if status != 0 {
			cls := Classification{Retryable: cfg.RetryStatuses[status]}
			if cls.Retryable {
				cls.RetryAfter, cls.HasRetryAfter = retryAfterHint(ue, cfg.MaxDelay)
			}
			return cls
		}
	}

	// No structured status anywhere: fall back to message patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return Classification{Retryable: true}
		}
	}
	return Classification{}
}

// IsRetryable reports whether err would be retried under cfg.
func IsRetryable(err error, cfg Config) bool {
	return Classify(err, cfg).Retryable
}

// retryAfterHint extracts a retry-after duration from headers or metadata,
// supporting both seconds and milliseconds units, capped at maxDelay.
func retryAfterHint(ue *UpstreamError, maxDelay time.Duration) (time.Duration, bool) {
	if ue.Headers != nil {
		if v := ue.Headers.Get("Retry-After"); v != "" {
			if d, ok := parseRetryAfter(v, time.Second); ok {
				return capDelay(d, maxDelay), true
			}
		}
		if v := ue.Headers.Get("Retry-After-Ms"); v != "" {
			if d, ok := parseRetryAfter(v, time.Millisecond); ok {
				return capDelay(d, maxDelay), true
			}
		}
	}
	metadataKeys := []struct {
		key  string
		unit time.Duration
	}{
		{"retry-after-ms", time.Millisecond},
		{"retry_after_ms", time.Millisecond},
		{"retry-after", time.Second},
		{"retry_after", time.Second},
	}
	for _, mk := range metadataKeys {
		if v, ok := ue.Metadata[mk.key]; ok {
			if d, parsed := parseRetryAfter(v, mk.unit); parsed {
				return capDelay(d, maxDelay), true
			}
		}
	}
	return 0, false
}

func parseRetryAfter(v string, unit time.Duration) (time.Duration, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(unit)), true
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
