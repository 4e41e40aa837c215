package util

import "testing"

func TestTruncateLog_ShortString(t *testing.T) {
	input := "short log"
	result := TruncateLog(input, DefaultLogMaxLen)
	if result != input {
		t.Errorf("TruncateLog() should not truncate short strings, got %q", result)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	input := "1234567890abcdefghij" // 20 chars
	result := TruncateLog(input, 10)
	if result != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("TruncateLog() = %q", result)
	}
}

func TestTruncateBytes_LongBytes(t *testing.T) {
	input := make([]byte, 2000)
	for i := range input {
		input[i] = 'x'
	}
	result := TruncateBytes(input)
	if len(result) <= DefaultLogMaxLen {
		t.Errorf("TruncateBytes() result should be longer than maxLen due to suffix, got len=%d", len(result))
	}
	if result[:DefaultLogMaxLen] != string(input[:DefaultLogMaxLen]) {
		t.Error("TruncateBytes() should preserve first DefaultLogMaxLen bytes")
	}
}

func TestIsVerbose(t *testing.T) {
	for _, v := range []string{"1", "true", "YES"} {
		t.Setenv("TEMPMAIL_VERBOSE", v)
		if !IsVerbose() {
			t.Errorf("IsVerbose() with %q = false, want true", v)
		}
	}
	t.Setenv("TEMPMAIL_VERBOSE", "")
	if IsVerbose() {
		t.Error("IsVerbose() with empty env = true, want false")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret(""); got != "<empty>" {
		t.Errorf("MaskSecret(empty) = %q", got)
	}
	if got := MaskSecret("short"); got != "***" {
		t.Errorf("MaskSecret(short) = %q", got)
	}
	if got := MaskSecret("eyJhbGciOiJIUzI1NiJ9.payload.signature"); got != "...ignature" {
		t.Errorf("MaskSecret(jwt) = %q", got)
	}
}
