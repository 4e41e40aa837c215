package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter extracts the Retry-After hint from a 429 response.
// It accepts both delta-seconds and HTTP-date forms and returns 0 when absent.
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	retryAfter := strings.TrimSpace(header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoffDelay returns base * 2^retry.
func backoffDelay(base time.Duration, retry int) time.Duration {
	return base << uint(retry)
}
