package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/gofrs/flock"

	"redline/internal/contentlog"
)

const (
	authorName  = "redline"
	authorEmail = "redline@localhost"
	lockRetry   = 25 * time.Millisecond
)

// Service keeps one git repository per slot under baseDir. It implements
// contentlog.Log.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

var _ contentlog.Log = (*Service)(nil)

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Append commits content under the slot's mutex and lock file, so the head
// check below holds across processes sharing the repos dir.
func (s *Service) Append(ctx context.Context, slot string, content []byte, message string) (contentlog.Entry, bool, error) {
	unlock, err := s.lockSlot(ctx, slot)
	if err != nil {
		return contentlog.Entry{}, false, err
	}
	defer unlock()

	repo, err := s.ensureRepo(slot)
	if err != nil {
		return contentlog.Entry{}, false, err
	}
	existing, err := readEntries(repo)
	if err != nil {
		return contentlog.Entry{}, false, err
	}
	if n := len(existing); n > 0 && existing[n-1].ContentHash == contentlog.ContentHash(content) {
		return existing[n-1], false, nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("open worktree: %w", err)
	}

	fileName := contentlog.FileName(slot)
	if err := os.WriteFile(filepath.Join(s.repoPath(slot), fileName), content, 0o644); err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("write %s: %w", fileName, err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("git add %s: %w", fileName, err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  s.now(),
		},
	})
	if err != nil {
		return contentlog.Entry{}, false, fmt.Errorf("commit %s: %w", fileName, err)
	}

	entries, err := readEntries(repo)
	if err != nil {
		return contentlog.Entry{}, false, err
	}
	for _, entry := range entries {
		if entry.Ref == hash.String() {
			return entry, true, nil
		}
	}
	return contentlog.Entry{}, false, fmt.Errorf("commit %s missing from log", hash)
}

func (s *Service) Entries(ctx context.Context, slot string) ([]contentlog.Entry, error) {
	unlock, err := s.lockSlot(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo, err := git.PlainOpen(s.repoPath(slot))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []contentlog.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return readEntries(repo)
}

func (s *Service) Content(ctx context.Context, slot, ref string) ([]byte, error) {
	unlock, err := s.lockSlot(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo, err := git.PlainOpen(s.repoPath(slot))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("slot %s: %w", slot, contentlog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	hash, err := resolveHash(repo, ref)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("commit %s: %w", ref, contentlog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", ref, err)
	}
	return readContentFromCommit(commitObj, contentlog.FileName(slot))
}

// Reset drops the slot's repository together with its history.
func (s *Service) Reset(ctx context.Context, slot string) error {
	unlock, err := s.lockSlot(ctx, slot)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.RemoveAll(s.repoPath(slot)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) Ping(context.Context) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("ensure repos dir: %w", err)
	}
	probe, err := os.CreateTemp(s.baseDir, ".ping-*")
	if err != nil {
		return fmt.Errorf("repos dir not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func (s *Service) ensureRepo(slot string) (*git.Repository, error) {
	path := s.repoPath(slot)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(slot string) string {
	return filepath.Join(s.baseDir, slot)
}

// lockSlot serializes work on a slot inside the process and, through a lock
// file beside the repository, across processes sharing baseDir.
func (s *Service) lockSlot(ctx context.Context, slot string) (func(), error) {
	lock := s.slotLock(slot)
	lock.Lock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("ensure repos dir: %w", err)
	}
	fileLock := flock.New(filepath.Join(s.baseDir, slot+".lock"))
	locked, err := fileLock.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		lock.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("acquire slot lock %s: %w", slot, err)
	}
	return func() {
		_ = fileLock.Unlock()
		_ = fileLock.Close()
		lock.Unlock()
	}, nil
}

func (s *Service) slotLock(slot string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[slot]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[slot] = lock
	return lock
}

// readEntries walks HEAD's first-parent history and returns it oldest first.
func readEntries(repo *git.Repository) ([]contentlog.Entry, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []contentlog.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(commitObj *object.Commit) error {
		commits = append(commits, commitObj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}

	items := make([]contentlog.Entry, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		commitObj := commits[i]
		contentHash, ok := contentlog.HashFromMessage(commitObj.Message)
		if !ok {
			content, err := readFirstFile(commitObj)
			if err != nil {
				return nil, err
			}
			contentHash = contentlog.ContentHash(content)
		}
		items = append(items, contentlog.Entry{
			Ref:         commitObj.Hash.String(),
			Seq:         len(items) + 1,
			ContentHash: contentHash,
			Message:     commitObj.Message,
			Author:      commitObj.Author.Name,
			CreatedAt:   commitObj.Author.When,
		})
	}
	return items, nil
}

func readContentFromCommit(commitObj *object.Commit, fileName string) ([]byte, error) {
	file, err := commitObj.File(fileName)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", fileName, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return content, nil
}

// readFirstFile covers commits written without a hash trailer, where the
// slot file is the only tracked path.
func readFirstFile(commitObj *object.Commit) ([]byte, error) {
	files, err := commitObj.Files()
	if err != nil {
		return nil, fmt.Errorf("list commit files: %w", err)
	}
	defer files.Close()
	file, err := files.Next()
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", commitObj.Hash, err)
	}
	return readContentFromCommit(commitObj, file.Name)
}

func resolveHash(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if plumbing.IsHash(ref) {
		return plumbing.NewHash(ref), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", ref, contentlog.ErrNotFound)
	}
	return *resolved, nil
}
