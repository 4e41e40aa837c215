package mailapitest

import (
	"context"
	"testing"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/storage"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
)

// Harness is the client stack pointed at a Backend through the default provider.
type Harness struct {
	Backend  *Backend
	Store    *storage.Memory
	Registry *catalog.Registry
	Client   *upstream.Client
	API      *mailapi.API
}

// NewHarness starts a Backend and wires a registry, client and API to it.
// Retry sleeps are skipped.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	b := New(t)
	t.Setenv("TEMPMAIL_DUCKMAIL_BASE_URL", b.URL())

	store := storage.NewMemory()
	registry, err := catalog.NewRegistry(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	client := upstream.NewClient(upstream.Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	return &Harness{
		Backend:  b,
		Store:    store,
		Registry: registry,
		Client:   client,
		API:      mailapi.New(client, registry, nil),
	}
}
