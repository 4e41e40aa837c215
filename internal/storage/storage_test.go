package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, KeyAuth); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Put(ctx, KeyAuth, []byte(`{"token":"t"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.Get(ctx, KeyAuth)
	if err != nil || string(got) != `{"token":"t"}` {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := m.Delete(ctx, KeyAuth); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, KeyAuth); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var ids []string
	found, err := GetJSON(ctx, m, KeyDisabledProviders, &ids)
	if err != nil || found {
		t.Fatalf("expected absent key, found=%v err=%v", found, err)
	}

	if err := PutJSON(ctx, m, KeyDisabledProviders, []string{"mailtm"}); err != nil {
		t.Fatalf("put json: %v", err)
	}
	found, err = GetJSON(ctx, m, KeyDisabledProviders, &ids)
	if err != nil || !found || len(ids) != 1 || ids[0] != "mailtm" {
		t.Fatalf("unexpected decode: found=%v ids=%v err=%v", found, ids, err)
	}

	if err := m.Put(ctx, KeyCachedDomains, []byte("not json")); err != nil {
		t.Fatalf("put: %v", err)
	}
	var domains []map[string]string
	if _, err := GetJSON(ctx, m, KeyCachedDomains, &domains); err == nil {
		t.Fatal("expected decode error for malformed value")
	}
}
