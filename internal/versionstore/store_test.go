package versionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"redline/internal/contentlog"
	"redline/internal/logging"
)

type fakeLog struct {
	contentlog.Log
	entriesFn func(ctx context.Context, slot string) ([]contentlog.Entry, error)
	appendFn  func(ctx context.Context, slot string, content []byte, message string) (contentlog.Entry, bool, error)
	contentFn func(ctx context.Context, slot, ref string) ([]byte, error)
	pingFn    func(ctx context.Context) error
}

func (f *fakeLog) Entries(ctx context.Context, slot string) ([]contentlog.Entry, error) {
	if f.entriesFn != nil {
		return f.entriesFn(ctx, slot)
	}
	return f.Log.Entries(ctx, slot)
}

func (f *fakeLog) Append(ctx context.Context, slot string, content []byte, message string) (contentlog.Entry, bool, error) {
	if f.appendFn != nil {
		return f.appendFn(ctx, slot, content, message)
	}
	return f.Log.Append(ctx, slot, content, message)
}

func (f *fakeLog) Content(ctx context.Context, slot, ref string) ([]byte, error) {
	if f.contentFn != nil {
		return f.contentFn(ctx, slot, ref)
	}
	return f.Log.Content(ctx, slot, ref)
}

func (f *fakeLog) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.Log.Ping(ctx)
}

func newStore() *Store {
	return New(contentlog.NewMemory(), logging.Discard())
}

func TestRecordIsIdempotent(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	first, err := store.Record(ctx, "master", "The term is 12 months.\n")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !first.Created || first.Snapshot.Seq != 1 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := store.Record(ctx, "master", "The term is 12 months.\n")
	if err != nil {
		t.Fatalf("Record() second error = %v", err)
	}
	if second.Created {
		t.Fatal("expected created=false for identical submission")
	}
	if second.Snapshot.Ref != first.Snapshot.Ref {
		t.Fatalf("expected head ref %s, got %s", first.Snapshot.Ref, second.Snapshot.Ref)
	}

	history, err := store.History(ctx, "master")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", len(history))
	}
}

func TestBaselineAndHead(t *testing.T) {
	store := newStore()
	store.now = func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	texts := []string{"one\n", "two\n", "three\n"}
	for _, text := range texts {
		if _, err := store.Record(ctx, "master", text); err != nil {
			t.Fatalf("Record(%q) error = %v", text, err)
		}
	}

	baseline, err := store.Baseline(ctx, "master")
	if err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}
	if baseline.Text != "one\n" || baseline.Seq != 1 {
		t.Fatalf("unexpected baseline: %+v", baseline)
	}
	if contentlog.Subject(baseline.Message) != "Updated master.md: Sat Oct 17 10:00:00 UTC 2026" {
		t.Fatalf("unexpected message %q", baseline.Message)
	}

	head, err := store.Head(ctx, "master")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Text != "three\n" || head.Seq != 3 {
		t.Fatalf("unexpected head: %+v", head)
	}

	got, err := store.Get(ctx, "master", head.Ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != head.Text {
		t.Fatalf("Get() text = %q", got.Text)
	}
	if _, err := store.Get(ctx, "master", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ref, got %v", err)
	}
}

func TestRevertingToEarlierTextCreatesSnapshot(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	for _, text := range []string{"a\n", "b\n", "a\n"} {
		if _, err := store.Record(ctx, "master", text); err != nil {
			t.Fatalf("Record(%q) error = %v", text, err)
		}
	}
	history, err := store.History(ctx, "master")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(history))
	}
}

func TestEmptySlotIsNotFound(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	if _, err := store.Baseline(ctx, "master"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Baseline() expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "master"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Head() expected ErrNotFound, got %v", err)
	}
}

func TestInvalidSlot(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	for _, slot := range []string{"", "..", "a/b", "has space", string(make([]byte, 65))} {
		if _, err := store.Record(ctx, slot, "x\n"); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("Record(%q) expected ErrInvalidSlot, got %v", slot, err)
		}
	}
	if err := ValidateSlot("contract_v2.final-1"); err != nil {
		t.Fatalf("ValidateSlot() error = %v", err)
	}
}

func TestStorageUnavailable(t *testing.T) {
	down := errors.New("connection refused")
	log := &fakeLog{
		Log:       contentlog.NewMemory(),
		entriesFn: func(context.Context, string) ([]contentlog.Entry, error) { return nil, down },
		appendFn: func(context.Context, string, []byte, string) (contentlog.Entry, bool, error) {
			return contentlog.Entry{}, false, down
		},
		pingFn: func(context.Context) error { return down },
	}
	store := New(log, logging.Discard())
	ctx := context.Background()

	if _, err := store.Record(ctx, "master", "x\n"); !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, down) {
		t.Fatalf("Record() expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := store.Head(ctx, "master"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Head() expected ErrStorageUnavailable, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Ping() expected ErrStorageUnavailable, got %v", err)
	}
}

func TestFailedAppendLeavesNoSnapshot(t *testing.T) {
	memory := contentlog.NewMemory()
	log := &fakeLog{
		Log: memory,
		appendFn: func(context.Context, string, []byte, string) (contentlog.Entry, bool, error) {
			return contentlog.Entry{}, false, errors.New("disk full")
		},
	}
	store := New(log, logging.Discard())
	ctx := context.Background()

	if _, err := store.Record(ctx, "master", "x\n"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Record() expected ErrStorageUnavailable, got %v", err)
	}
	entries, err := memory.Entries(ctx, "master")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no snapshot after failed append, got %d", len(entries))
	}
}

func TestCorruptContentIsRejected(t *testing.T) {
	log := &fakeLog{
		Log: contentlog.NewMemory(),
		contentFn: func(context.Context, string, string) ([]byte, error) {
			return []byte("tampered\n"), nil
		},
	}
	store := New(log, logging.Discard())
	ctx := context.Background()
	if _, err := store.Record(ctx, "master", "original\n"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := store.Head(ctx, "master"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Head() expected ErrStorageUnavailable, got %v", err)
	}
}

func TestConcurrentRecordSameSlot(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// Half the writers submit identical text.
			text := fmt.Sprintf("revision %d\n", idx%(writers/2))
			if _, err := store.Record(ctx, "master", text); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Record() concurrent error = %v", err)
	}

	history, err := store.History(ctx, "master")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Hash == history[i-1].Hash {
			t.Fatalf("consecutive snapshots %d and %d share content", i-1, i)
		}
		if history[i].Seq != i+1 {
			t.Fatalf("snapshot %d has seq %d", i, history[i].Seq)
		}
	}
}

func TestResetStartsNewBaseline(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	if _, err := store.Record(ctx, "master", "old\n"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Reset(ctx, "master"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := store.Record(ctx, "master", "new\n"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	baseline, err := store.Baseline(ctx, "master")
	if err != nil {
		t.Fatalf("Baseline() error = %v", err)
	}
	if baseline.Text != "new\n" {
		t.Fatalf("expected new baseline, got %q", baseline.Text)
	}
}
