package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"

	"redline/internal/contentlog"
	"redline/internal/contentlog/logtest"
)

func TestGitConformance(t *testing.T) {
	logtest.Run(t, func(t *testing.T) contentlog.Log {
		return New(t.TempDir())
	})
}

func TestIdenticalAppendAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	logtest.IdenticalAppendRace(t, New(dir), New(dir))
}

func TestSlotRepoIsPlainGitHistory(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	svc.now = func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	baseline := []byte("The term is 12 months.\n")
	head := []byte("The term is 24 months, renewable annually.\n")
	for _, content := range [][]byte{baseline, head} {
		message := contentlog.Message("master", svc.now(), content)
		if _, _, err := svc.Append(ctx, "master", content, message); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, err := os.Stat(filepath.Join(tempDir, "master", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	onDisk, err := os.ReadFile(filepath.Join(tempDir, "master", "master.md"))
	if err != nil {
		t.Fatalf("read worktree file: %v", err)
	}
	if string(onDisk) != string(head) {
		t.Fatalf("worktree file = %q", onDisk)
	}

	repo, err := git.PlainOpen(filepath.Join(tempDir, "master"))
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	ref, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if ref.Name().Short() != "main" {
		t.Fatalf("expected main branch, got %s", ref.Name())
	}

	entries, err := svc.Entries(ctx, "master")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Ref != ref.Hash().String() {
		t.Fatalf("expected newest entry last, got %s want %s", entries[1].Ref, ref.Hash())
	}
	if !strings.HasPrefix(entries[0].Message, "Updated master.md: Sat Oct 17 08:00:00 UTC 2026") {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	if entries[0].Author != "redline" {
		t.Fatalf("unexpected author %q", entries[0].Author)
	}
}

func TestEntriesWithoutHashTrailer(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	content := []byte("plain commit\n")
	if _, _, err := svc.Append(ctx, "legacy", content, "Updated legacy.md"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	entries, err := svc.Entries(ctx, "legacy")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ContentHash != contentlog.ContentHash(content) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestContentResolvesShortRef(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()
	entry, _, err := svc.Append(ctx, "master", []byte("short ref\n"), "m")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	content, err := svc.Content(ctx, "master", entry.Ref[:7])
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if string(content) != "short ref\n" {
		t.Fatalf("Content() = %q", content)
	}
}

func TestConcurrentAppendSameSlot(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := []byte(fmt.Sprintf("revision-%02d\n", idx))
			if _, _, err := svc.Append(ctx, "master", content, fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Append() concurrent error = %v", err)
		}
	}

	entries, err := svc.Entries(ctx, "master")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != writers {
		t.Fatalf("expected %d commits in history, got %d", writers, len(entries))
	}
}

func TestAppendHonoursCancelledContext(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	// Another process holds the slot lock file.
	holder := New(tempDir)
	unlock, err := holder.lockSlot(context.Background(), "master")
	if err != nil {
		t.Fatalf("lockSlot() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := svc.Append(ctx, "master", []byte("blocked\n"), "m"); err == nil {
		t.Fatal("expected lock acquisition to fail while another holder owns the slot")
	}
}
