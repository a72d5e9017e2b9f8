package report

import (
	"fmt"
	"strings"

	"redline/internal/contentlog"
	"redline/internal/diff"
)

const DefaultContext = 3

type segment struct {
	tag  diff.Tag
	text string
}

// displayLine is one line of the word diff. newline is the tag of the
// line's terminating newline, or -1 for a final line without one. A deleted
// newline joins two baseline lines; an inserted one splits a baseline line.
type displayLine struct {
	segments []segment
	newline  diff.Tag
	oldNo    int
	newNo    int
}

const noNewline diff.Tag = -1

func (l displayLine) changed() bool {
	if l.newline != noNewline && l.newline != diff.Unchanged {
		return true
	}
	for _, seg := range l.segments {
		if seg.tag != diff.Unchanged {
			return true
		}
	}
	return false
}

// endsLine reports whether the line's newline terminates a line of the given
// side.
func (l displayLine) endsLine(side diff.Tag) bool {
	return l.newline == diff.Unchanged || l.newline == side
}

func (l displayLine) hasText(side diff.Tag) bool {
	for _, seg := range l.segments {
		if seg.tag == diff.Unchanged || seg.tag == side {
			return true
		}
	}
	return false
}

func splitLines(rec diff.Record) []displayLine {
	var lines []displayLine
	current := displayLine{newline: noNewline}
	for _, run := range rec.Runs {
		parts := strings.Split(run.Text, "\n")
		for i, part := range parts {
			if part != "" {
				current.segments = append(current.segments, segment{tag: run.Tag, text: part})
			}
			if i < len(parts)-1 {
				current.newline = run.Tag
				lines = append(lines, current)
				current = displayLine{newline: noNewline}
			}
		}
	}
	if len(current.segments) > 0 {
		lines = append(lines, current)
	}

	oldNo, newNo := 1, 1
	for i := range lines {
		lines[i].oldNo = oldNo
		lines[i].newNo = newNo
		if lines[i].endsLine(diff.Deleted) {
			oldNo++
		}
		if lines[i].endsLine(diff.Inserted) {
			newNo++
		}
	}
	return lines
}

// Porcelain renders the record in git's --word-diff=porcelain layout: one
// segment per line prefixed with ' ', '-' or '+', and '~' for each unchanged
// newline. Deleted and inserted newlines are written as "-~" and "+~".
// It returns "" when the record has no changes.
func Porcelain(rec diff.Record, name string, contextLines int) string {
	if !rec.HasChanges() {
		return ""
	}
	if contextLines < 0 {
		contextLines = 0
	}
	lines := splitLines(rec)

	var b strings.Builder
	oldName, newName := "a/"+name, "b/"+name
	if rec.Baseline() == "" {
		oldName = "/dev/null"
	}
	if rec.Head() == "" {
		newName = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)

	for _, h := range hunks(lines, contextLines) {
		writeHunk(&b, lines[h[0]:h[1]])
	}
	return b.String()
}

// hunks returns [start, end) line ranges around changed lines, merging
// ranges whose context would overlap or touch. Ranges never start or end in
// the middle of a joined or split line, so both sides cover whole lines.
func hunks(lines []displayLine, contextLines int) [][2]int {
	var out [][2]int
	for i, line := range lines {
		if !line.changed() {
			continue
		}
		start := max(i-contextLines, 0)
		end := min(i+contextLines+1, len(lines))
		for start > 0 && lines[start-1].newline != diff.Unchanged {
			start--
		}
		for end < len(lines) && lines[end-1].newline != diff.Unchanged {
			end++
		}
		if n := len(out); n > 0 && start <= out[n-1][1] {
			out[n-1][1] = max(out[n-1][1], end)
			continue
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// lineCount counts the lines of one side covered by a hunk, including a
// trailing line without a newline.
func lineCount(lines []displayLine, side diff.Tag) int {
	count := 0
	open := false
	for _, line := range lines {
		if line.hasText(side) {
			open = true
		}
		if line.endsLine(side) {
			count++
			open = false
		}
	}
	if open {
		count++
	}
	return count
}

func writeHunk(b *strings.Builder, lines []displayLine) {
	oldCount := lineCount(lines, diff.Deleted)
	newCount := lineCount(lines, diff.Inserted)
	fmt.Fprintf(b, "@@ -%s +%s @@\n", hunkRange(lines[0].oldNo, oldCount), hunkRange(lines[0].newNo, newCount))
	for _, line := range lines {
		for _, seg := range line.segments {
			b.WriteString(prefix(seg.tag))
			b.WriteString(seg.text)
			b.WriteByte('\n')
		}
		switch line.newline {
		case noNewline:
		case diff.Unchanged:
			b.WriteString("~\n")
		default:
			b.WriteString(prefix(line.newline) + "~\n")
		}
	}
}

func hunkRange(start, count int) string {
	switch count {
	case 0:
		return fmt.Sprintf("%d,0", start-1)
	case 1:
		return fmt.Sprintf("%d", start)
	default:
		return fmt.Sprintf("%d,%d", start, count)
	}
}

func prefix(tag diff.Tag) string {
	switch tag {
	case diff.Deleted:
		return "-"
	case diff.Inserted:
		return "+"
	default:
		return " "
	}
}

// Artifact renders the durable report: a fixed header naming the slot and
// the porcelain diff in a fenced block.
func Artifact(rec diff.Record, slot string, contextLines int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Document Change History: %s\n\n", slot)
	b.WriteString("### Word-by-Word Changes Since First Commit\n")
	b.WriteString("```\n")
	if rec.HasChanges() {
		b.WriteString(Porcelain(rec, contentlog.FileName(slot), contextLines))
	} else {
		b.WriteString(NoChangesMessage + "\n")
	}
	b.WriteString("```\n")
	return b.String()
}
