package kvstore

import (
	"errors"
	"testing"
	"time"
)

func TestPutGetRoundtrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	type blob struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	in := blob{Name: "front-desk", Count: 3}
	if err := store.Put("customer-name", in, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var out blob
	if err := store.Get("customer-name", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out != in {
		t.Errorf("Roundtrip mismatch: got %+v want %+v", out, in)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	var out string
	if err := store.Get("no-such-key", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestExpiryIsDistinctFromMissing(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	if err := store.Put("sticky-server", "https://backend-1.example.com", time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Move the clock past the TTL instead of sleeping
	store.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	var out string
	if err := store.Get("sticky-server", &out); !errors.Is(err, ErrExpired) {
		t.Fatalf("Expected ErrExpired, got %v", err)
	}

	// The expired entry is removed; a second read reports missing
	store.now = time.Now
	if err := store.Get("sticky-server", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry cleanup, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	if err := store.Put("session", map[string]string{"sessionId": "s1"}, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete("session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("session"); err != nil {
		t.Errorf("Deleting a missing key should not error, got %v", err)
	}
	if err := store.Get("session", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestOverwriteKeepsLatestValue(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	for _, v := range []string{"a", "b", "c"} {
		if err := store.Put("k", v, 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	var out string
	if err := store.Get("k", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out != "c" {
		t.Errorf("Expected latest write, got %q", out)
	}
}
