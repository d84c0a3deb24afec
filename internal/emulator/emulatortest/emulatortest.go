// Package emulatortest starts throwaway emulator servers for tests.
package emulatortest

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ratlabs/vecstore/internal/emulator"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// APIKey is the key accepted by servers started with NewClient.
const APIKey = "test-key"

// NewServer starts an in-memory emulator and returns its controller URL.
// It is closed when the test ends.
func NewServer(t testing.TB, cfg emulator.Config) string {
	t.Helper()
	store, err := emulator.NewStore(":memory:")
	if err != nil {
		t.Fatalf("emulator store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	ts := httptest.NewServer(emulator.NewServer(store, cfg))
	t.Cleanup(ts.Close)
	return ts.URL
}

// NewClient starts an emulator with NewServer and returns a client bound to
// it with short retry delays.
func NewClient(t testing.TB, cfg emulator.Config) *vectorstore.Client {
	t.Helper()
	url := NewServer(t, cfg)
	c, err := vectorstore.NewClient(vectorstore.ClientConfig{
		APIKey:        APIKey,
		ControllerURL: url,
		Retry:         vectorstore.RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond},
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("vectorstore client: %v", err)
	}
	return c
}
