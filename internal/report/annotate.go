// Package report renders diff records for people, tools and archives.
package report

import (
	"errors"
	"fmt"
	"strings"

	"redline/internal/diff"
)

// NoChangesMessage replaces any rendering of a record without changes.
const NoChangesMessage = "No changes detected."

// Legend precedes interactive output.
const Legend = "🔴 - Removals   🟢 - Insertions"

// ErrMalformedStream is returned by Strip for a stream with an unterminated
// marker.
var ErrMalformedStream = errors.New("malformed annotated stream")

// Markers are the glyphs placed around changed runs. End closes every marked
// run so a stream can be split back into runs.
type Markers struct {
	Deletion  string
	Insertion string
	End       string
}

// DefaultMarkers uses U+2060 WORD JOINER as the run terminator; it renders
// with no width.
var DefaultMarkers = Markers{
	Deletion:  "🔴",
	Insertion: "🟢",
	End:       "\u2060",
}

// AnnotatedStream renders the record as text with a marker before each
// changed run.
func AnnotatedStream(rec diff.Record, m Markers) string {
	if !rec.HasChanges() {
		return NoChangesMessage
	}
	var b strings.Builder
	for _, run := range rec.Runs {
		switch run.Tag {
		case diff.Deleted:
			b.WriteString(m.Deletion)
			b.WriteString(run.Text)
			b.WriteString(m.End)
		case diff.Inserted:
			b.WriteString(m.Insertion)
			b.WriteString(run.Text)
			b.WriteString(m.End)
		default:
			b.WriteString(run.Text)
		}
	}
	return b.String()
}

// Parse splits an annotated stream back into runs.
func Parse(stream string, m Markers) ([]diff.Run, error) {
	if stream == NoChangesMessage {
		return nil, nil
	}
	var runs []diff.Run
	rest := stream
	for rest != "" {
		del := strings.Index(rest, m.Deletion)
		ins := strings.Index(rest, m.Insertion)
		next, tag, marker := -1, diff.Unchanged, ""
		switch {
		case del >= 0 && (ins < 0 || del < ins):
			next, tag, marker = del, diff.Deleted, m.Deletion
		case ins >= 0:
			next, tag, marker = ins, diff.Inserted, m.Insertion
		}
		if next < 0 {
			runs = append(runs, diff.Run{Tag: diff.Unchanged, Text: rest})
			break
		}
		if next > 0 {
			runs = append(runs, diff.Run{Tag: diff.Unchanged, Text: rest[:next]})
		}
		rest = rest[next+len(marker):]
		end := strings.Index(rest, m.End)
		if end < 0 {
			return nil, fmt.Errorf("%w: %s run without terminator", ErrMalformedStream, tag)
		}
		runs = append(runs, diff.Run{Tag: tag, Text: rest[:end]})
		rest = rest[end+len(m.End):]
	}
	return runs, nil
}

// Strip recovers the baseline and head texts from an annotated stream.
// Texts that already contain the markers do not round-trip.
func Strip(stream string, m Markers) (baseline, head string, err error) {
	runs, err := Parse(stream, m)
	if err != nil {
		return "", "", err
	}
	rec := diff.Record{Runs: runs}
	return rec.Baseline(), rec.Head(), nil
}
