package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	ctx := context.Background()

	if err := store.Set(ctx, KeyAccessToken, "access-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, KeyRefreshToken, "refresh-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, KeyAccessToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "access-1" {
		t.Errorf("Get(%s) = %q, want %q", KeyAccessToken, got, "access-1")
	}

	if err := store.Remove(ctx, KeyAccessToken); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	got, err = store.Get(ctx, KeyAccessToken)
	if err != nil {
		t.Fatalf("Get() after Remove() error = %v", err)
	}
	if got != "" {
		t.Errorf("Get() after Remove() = %q, want empty", got)
	}

	// Other keys survive the removal.
	got, _ = store.Get(ctx, KeyRefreshToken)
	if got != "refresh-1" {
		t.Errorf("Get(%s) = %q, want %q", KeyRefreshToken, got, "refresh-1")
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	got, err := store.Get(context.Background(), KeyAccessToken)
	if err != nil {
		t.Fatalf("Get() on missing file error = %v", err)
	}
	if got != "" {
		t.Errorf("Get() on missing file = %q, want empty", got)
	}

	if err := store.Remove(context.Background(), KeyAccessToken); err != nil {
		t.Errorf("Remove() on missing file error = %v", err)
	}
}

func TestFileStore_ConcurrentWritesPreserveKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	ctx := context.Background()

	const goroutines = 10
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", id)
			if err := store.Set(ctx, key, fmt.Sprintf("value-%d", id)); err != nil {
				t.Errorf("Goroutine %d: Set() error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read session file: %v", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		t.Fatalf("Failed to parse session file: %v", err)
	}

	if len(values) != goroutines {
		t.Errorf("Expected %d keys, got %d", goroutines, len(values))
	}
	for i := 0; i < goroutines; i++ {
		key := fmt.Sprintf("key-%d", i)
		if values[key] != fmt.Sprintf("value-%d", i) {
			t.Errorf("Key %s = %q, want %q", key, values[key], fmt.Sprintf("value-%d", i))
		}
	}

	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all writes completed")
	}
}

func TestFileStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)

	if err := store.Set(context.Background(), KeyAccessToken, "secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Session file permissions = %o, want 600", perm)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, KeyAccessToken, "access-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, KeyAccessToken)
	if err != nil || got != "access-1" {
		t.Errorf("Get() = %q, %v, want %q, nil", got, err, "access-1")
	}

	if err := store.Remove(ctx, KeyAccessToken); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, _ = store.Get(ctx, KeyAccessToken)
	if got != "" {
		t.Errorf("Get() after Remove() = %q, want empty", got)
	}
}
