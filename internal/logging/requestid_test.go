package logging

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}

	id2 := GenerateRequestID()
	if id == id2 {
		t.Errorf("GenerateRequestID() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	id := "test1234"

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}

	ctx = WithRequestID(ctx, id)
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}
}

func TestEnsureRequestID_KeepsExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abcd0123")
	_, id := EnsureRequestID(ctx)
	if id != "abcd0123" {
		t.Errorf("EnsureRequestID() = %q, want existing id", id)
	}

	ctx2, id2 := EnsureRequestID(context.Background())
	if len(id2) != 8 || GetRequestID(ctx2) != id2 {
		t.Errorf("EnsureRequestID() on empty context returned %q", id2)
	}
}

func TestNew_ParsesLevelAndFallsBack(t *testing.T) {
	if got := New("debug", "json").GetLevel(); got != logrus.DebugLevel {
		t.Errorf("New(debug) level = %v", got)
	}
	if got := New("nonsense", "text").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("New(nonsense) level = %v, want info", got)
	}
}
