package util

import (
	"fmt"
	"os"
	"strings"
)

// DefaultLogMaxLen is the default maximum length for truncated log output (1KB)
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for verbose logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// IsVerbose checks if TEMPMAIL_VERBOSE environment variable is set.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("TEMPMAIL_VERBOSE"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// MaskSecret keeps only the tail of a token or key for log output.
func MaskSecret(s string) string {
	if s == "" {
		return "<empty>"
	}
	if len(s) < 16 {
		return "***"
	}
	return "..." + s[len(s)-8:]
}
