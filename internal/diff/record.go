package diff

import (
	"fmt"
	"strings"
)

type Tag int

const (
	Unchanged Tag = iota
	Inserted
	Deleted
)

func (t Tag) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

func (t Tag) MarshalText() ([]byte, error) {
	switch t {
	case Unchanged, Inserted, Deleted:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("unknown tag %d", int(t))
	}
}

func (t *Tag) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unchanged":
		*t = Unchanged
	case "inserted":
		*t = Inserted
	case "deleted":
		*t = Deleted
	default:
		return fmt.Errorf("unknown tag %q", text)
	}
	return nil
}

type Run struct {
	Tag  Tag    `json:"tag"`
	Text string `json:"text"`
}

// Record is the ordered run sequence between a baseline and a head.
type Record struct {
	BaselineHash string `json:"baseline_hash,omitempty"`
	HeadHash     string `json:"head_hash,omitempty"`
	Runs         []Run  `json:"runs"`
}

func (r Record) HasChanges() bool {
	for _, run := range r.Runs {
		if run.Tag != Unchanged {
			return true
		}
	}
	return false
}

// Baseline rebuilds the baseline text from unchanged and deleted runs.
func (r Record) Baseline() string {
	return r.join(Deleted)
}

// Head rebuilds the head text from unchanged and inserted runs.
func (r Record) Head() string {
	return r.join(Inserted)
}

func (r Record) join(side Tag) string {
	var b strings.Builder
	for _, run := range r.Runs {
		if run.Tag == Unchanged || run.Tag == side {
			b.WriteString(run.Text)
		}
	}
	return b.String()
}

type Stats struct {
	InsertedRuns  int `json:"inserted_runs"`
	DeletedRuns   int `json:"deleted_runs"`
	InsertedWords int `json:"inserted_words"`
	DeletedWords  int `json:"deleted_words"`
}

func (r Record) Stats() Stats {
	var stats Stats
	for _, run := range r.Runs {
		switch run.Tag {
		case Inserted:
			stats.InsertedRuns++
			stats.InsertedWords += countWords(run.Text)
		case Deleted:
			stats.DeletedRuns++
			stats.DeletedWords += countWords(run.Text)
		}
	}
	return stats
}

func countWords(text string) int {
	n := 0
	for _, token := range Tokenize(text) {
		if isWord(token) {
			n++
		}
	}
	return n
}
