// Package logtest is a conformance suite shared by every contentlog.Log backend.
package logtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"redline/internal/contentlog"
)

// Run exercises a backend. newLog must return an empty log.
func Run(t *testing.T, newLog func(t *testing.T) contentlog.Log) {
	t.Helper()

	t.Run("EmptySlot", func(t *testing.T) {
		log := newLog(t)
		entries, err := log.Entries(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected no entries, got %d", len(entries))
		}
	})

	t.Run("AppendListOldestFirst", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		texts := []string{"first version\n", "second version\n", "third version\n"}
		for i, text := range texts {
			when := time.Date(2026, 10, 17, 9, i, 0, 0, time.UTC)
			entry, _, err := log.Append(ctx, "master", []byte(text), contentlog.Message("master", when, []byte(text)))
			if err != nil {
				t.Fatalf("Append(%d) error = %v", i, err)
			}
			if entry.Ref == "" {
				t.Fatalf("Append(%d) returned empty ref", i)
			}
			if entry.ContentHash != contentlog.ContentHash([]byte(text)) {
				t.Fatalf("Append(%d) content hash = %s", i, entry.ContentHash)
			}
		}

		entries, err := log.Entries(ctx, "master")
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != len(texts) {
			t.Fatalf("expected %d entries, got %d", len(texts), len(entries))
		}
		for i, entry := range entries {
			if entry.Seq != i+1 {
				t.Fatalf("entry %d has seq %d", i, entry.Seq)
			}
			if entry.ContentHash != contentlog.ContentHash([]byte(texts[i])) {
				t.Fatalf("entry %d out of order", i)
			}
			if contentlog.Subject(entry.Message) != "Updated master.md: "+time.Date(2026, 10, 17, 9, i, 0, 0, time.UTC).Format(time.UnixDate) {
				t.Fatalf("entry %d message = %q", i, entry.Message)
			}
			content, err := log.Content(ctx, "master", entry.Ref)
			if err != nil {
				t.Fatalf("Content(%s) error = %v", entry.Ref, err)
			}
			if string(content) != texts[i] {
				t.Fatalf("Content(%s) = %q, want %q", entry.Ref, content, texts[i])
			}
		}
	})

	t.Run("AppendSkipsUnchangedHead", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		first, created, err := log.Append(ctx, "master", []byte("a\n"), "m")
		if err != nil || !created {
			t.Fatalf("Append() = %v, %v; want created", created, err)
		}
		again, created, err := log.Append(ctx, "master", []byte("a\n"), "m")
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if created || again.Ref != first.Ref {
			t.Fatalf("identical append created %+v", again)
		}
		if _, created, err := log.Append(ctx, "master", []byte("b\n"), "m"); err != nil || !created {
			t.Fatalf("Append(b) = %v, %v; want created", created, err)
		}
		if _, created, err := log.Append(ctx, "master", []byte("a\n"), "m"); err != nil || !created {
			t.Fatalf("Append(a) after b = %v, %v; want created", created, err)
		}
		entries, err := log.Entries(ctx, "master")
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
	})

	t.Run("SlotsAreIndependent", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		if _, _, err := log.Append(ctx, "master", []byte("a\n"), "m"); err != nil {
			t.Fatalf("Append(master) error = %v", err)
		}
		if _, _, err := log.Append(ctx, "comparison", []byte("b\n"), "c"); err != nil {
			t.Fatalf("Append(comparison) error = %v", err)
		}
		for _, slot := range []string{"master", "comparison"} {
			entries, err := log.Entries(ctx, slot)
			if err != nil {
				t.Fatalf("Entries(%s) error = %v", slot, err)
			}
			if len(entries) != 1 {
				t.Fatalf("slot %s has %d entries", slot, len(entries))
			}
		}
	})

	t.Run("UnknownRef", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		if _, _, err := log.Append(ctx, "master", []byte("a\n"), "m"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if _, err := log.Content(ctx, "master", "0000000000000000000000000000000000000000"); !errors.Is(err, contentlog.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		if _, _, err := log.Append(ctx, "master", []byte("a\n"), "m"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := log.Reset(ctx, "master"); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		entries, err := log.Entries(ctx, "master")
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected empty slot after reset, got %d", len(entries))
		}
		if err := log.Reset(ctx, "never-used"); err != nil {
			t.Fatalf("Reset() of empty slot error = %v", err)
		}
		entry, _, err := log.Append(ctx, "master", []byte("again\n"), "m")
		if err != nil {
			t.Fatalf("Append() after reset error = %v", err)
		}
		if entry.Seq != 1 {
			t.Fatalf("expected seq 1 after reset, got %d", entry.Seq)
		}
	})

	t.Run("ConcurrentAppendsDifferentSlots", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		const slots = 4
		var wg sync.WaitGroup
		errCh := make(chan error, slots*3)
		for i := 0; i < slots; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				slot := fmt.Sprintf("slot-%d", idx)
				for n := 0; n < 3; n++ {
					text := fmt.Sprintf("%s revision %d\n", slot, n)
					if _, _, err := log.Append(ctx, slot, []byte(text), "m"); err != nil {
						errCh <- err
					}
				}
			}(i)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			t.Fatalf("concurrent Append() error = %v", err)
		}
		for i := 0; i < slots; i++ {
			entries, err := log.Entries(ctx, fmt.Sprintf("slot-%d", i))
			if err != nil {
				t.Fatalf("Entries() error = %v", err)
			}
			if len(entries) != 3 {
				t.Fatalf("slot-%d has %d entries", i, len(entries))
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		log := newLog(t)
		if err := log.Ping(context.Background()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	})
}

// IdenticalAppendRace appends the same content concurrently through every
// handle, which share one backend, and expects a single entry.
func IdenticalAppendRace(t *testing.T, handles ...contentlog.Log) {
	t.Helper()
	ctx := context.Background()
	const perHandle = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	errCh := make(chan error, len(handles)*perHandle)
	for _, handle := range handles {
		for i := 0; i < perHandle; i++ {
			wg.Add(1)
			go func(log contentlog.Log) {
				defer wg.Done()
				_, ok, err := log.Append(ctx, "shared", []byte("same text\n"), "m")
				if err != nil {
					errCh <- err
					return
				}
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(handle)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Append() error = %v", err)
	}
	if created != 1 {
		t.Fatalf("expected exactly one created entry, got %d", created)
	}
	entries, err := handles[0].Entries(ctx, "shared")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
