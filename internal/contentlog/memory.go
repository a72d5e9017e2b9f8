package contentlog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory keeps the log in process. History is lost on restart.
type Memory struct {
	mu    sync.RWMutex
	slots map[string][]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	Entry
	content []byte
}

func NewMemory() *Memory {
	return &Memory{
		slots: make(map[string][]memoryEntry),
		now:   time.Now,
	}
}

func (m *Memory) Append(_ context.Context, slot string, content []byte, message string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := ContentHash(content)
	entries := m.slots[slot]
	if n := len(entries); n > 0 && entries[n-1].ContentHash == hash {
		return entries[n-1].Entry, false, nil
	}
	seq := len(entries) + 1
	entry := Entry{
		Ref:         strconv.Itoa(seq),
		Seq:         seq,
		ContentHash: hash,
		Message:     message,
		Author:      "redline",
		CreatedAt:   m.now(),
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	m.slots[slot] = append(entries, memoryEntry{Entry: entry, content: stored})
	return entry, true, nil
}

func (m *Memory) Entries(_ context.Context, slot string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.slots[slot]
	items := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.Entry)
	}
	return items, nil
}

func (m *Memory) Content(_ context.Context, slot, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.slots[slot] {
		if entry.Ref == ref {
			out := make([]byte, len(entry.content))
			copy(out, entry.content)
			return out, nil
		}
	}
	return nil, fmt.Errorf("slot %s ref %s: %w", slot, ref, ErrNotFound)
}

func (m *Memory) Reset(_ context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
