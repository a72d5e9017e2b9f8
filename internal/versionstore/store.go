// Package versionstore keeps the append-only snapshot history of document
// slots on top of a contentlog.Log.
package versionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"redline/internal/contentlog"
)

var (
	ErrNotFound           = errors.New("snapshot not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidSlot        = errors.New("invalid slot name")
)

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Snapshot is one recorded canonical text of a slot. Seq starts at 1 with the
// baseline.
type Snapshot struct {
	Slot      string    `json:"slot"`
	Seq       int       `json:"seq"`
	Ref       string    `json:"ref"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text,omitempty"`
}

type RecordResult struct {
	Created  bool     `json:"created"`
	Snapshot Snapshot `json:"snapshot"`
}

type Store struct {
	log    contentlog.Log
	logger *slog.Logger
	now    func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(log contentlog.Log, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:    log,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// ValidateSlot reports whether slot is usable as a slot name.
func ValidateSlot(slot string) error {
	if !slotPattern.MatchString(slot) || slot == "." || slot == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// Record appends text to the slot unless it equals the current head, in
// which case the head is returned with Created false.
func (s *Store) Record(ctx context.Context, slot, text string) (RecordResult, error) {
	if err := ValidateSlot(slot); err != nil {
		return RecordResult{}, err
	}
	unlock := s.lockSlot(slot)
	defer unlock()

	content := []byte(text)
	entry, created, err := s.log.Append(ctx, slot, content, contentlog.Message(slot, s.now(), content))
	if err != nil {
		return RecordResult{}, storageErr("append snapshot", err)
	}
	if !created {
		s.logger.Debug("snapshot unchanged", "slot", slot, "seq", entry.Seq)
		return RecordResult{Created: false, Snapshot: toSnapshot(slot, entry, text)}, nil
	}
	s.logger.Info("snapshot recorded", "slot", slot, "seq", entry.Seq, "ref", entry.Ref)
	return RecordResult{Created: true, Snapshot: toSnapshot(slot, entry, text)}, nil
}

// Baseline returns the first snapshot ever recorded for the slot.
func (s *Store) Baseline(ctx context.Context, slot string) (Snapshot, error) {
	return s.pick(ctx, slot, func(entries []contentlog.Entry) contentlog.Entry { return entries[0] })
}

// Head returns the most recent snapshot of the slot.
func (s *Store) Head(ctx context.Context, slot string) (Snapshot, error) {
	return s.pick(ctx, slot, func(entries []contentlog.Entry) contentlog.Entry { return entries[len(entries)-1] })
}

// Get loads one snapshot by backend ref.
func (s *Store) Get(ctx context.Context, slot, ref string) (Snapshot, error) {
	return s.pick(ctx, slot, func(entries []contentlog.Entry) contentlog.Entry {
		for _, entry := range entries {
			if entry.Ref == ref {
				return entry
			}
		}
		return contentlog.Entry{}
	})
}

// History lists the slot's snapshots oldest first, without their text.
func (s *Store) History(ctx context.Context, slot string) ([]Snapshot, error) {
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	entries, err := s.log.Entries(ctx, slot)
	if err != nil {
		return nil, storageErr("list snapshots", err)
	}
	items := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toSnapshot(slot, entry, ""))
	}
	return items, nil
}

// Reset discards the slot's whole history. The next Record starts a new
// baseline.
func (s *Store) Reset(ctx context.Context, slot string) error {
	if err := ValidateSlot(slot); err != nil {
		return err
	}
	unlock := s.lockSlot(slot)
	defer unlock()

	if err := s.log.Reset(ctx, slot); err != nil {
		return storageErr("reset slot", err)
	}
	s.logger.Info("slot reset", "slot", slot)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.log.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *Store) pick(ctx context.Context, slot string, choose func([]contentlog.Entry) contentlog.Entry) (Snapshot, error) {
	if err := ValidateSlot(slot); err != nil {
		return Snapshot{}, err
	}
	entries, err := s.log.Entries(ctx, slot)
	if err != nil {
		return Snapshot{}, storageErr("list snapshots", err)
	}
	if len(entries) == 0 {
		return Snapshot{}, fmt.Errorf("slot %s has no snapshots: %w", slot, ErrNotFound)
	}
	entry := choose(entries)
	if entry.Ref == "" {
		return Snapshot{}, fmt.Errorf("slot %s: %w", slot, ErrNotFound)
	}

	content, err := s.log.Content(ctx, slot, entry.Ref)
	if errors.Is(err, contentlog.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("slot %s ref %s: %w", slot, entry.Ref, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, storageErr("read snapshot", err)
	}
	if got := contentlog.ContentHash(content); got != entry.ContentHash {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s content hash %s does not match %s", ErrStorageUnavailable, entry.Ref, got, entry.ContentHash)
	}
	return toSnapshot(slot, entry, string(content)), nil
}

func (s *Store) lockSlot(slot string) func() {
	s.lockMu.Lock()
	lock, ok := s.locks[slot]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[slot] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func toSnapshot(slot string, entry contentlog.Entry, text string) Snapshot {
	return Snapshot{
		Slot:      slot,
		Seq:       entry.Seq,
		Ref:       entry.Ref,
		Hash:      entry.ContentHash,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt,
		Text:      text,
	}
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
