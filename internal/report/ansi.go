package report

import (
	"strings"

	"github.com/fatih/color"

	"redline/internal/diff"
)

// ANSI renders the record the way git diff --word-diff=color does: deleted
// runs in red, inserted runs in green. Colour is always emitted; callers
// decide whether the destination is a terminal.
func ANSI(rec diff.Record) string {
	if !rec.HasChanges() {
		return NoChangesMessage
	}
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	var b strings.Builder
	for _, run := range rec.Runs {
		switch run.Tag {
		case diff.Deleted:
			writeColored(&b, red, run.Text)
		case diff.Inserted:
			writeColored(&b, green, run.Text)
		default:
			b.WriteString(run.Text)
		}
	}
	return b.String()
}

// ANSILegend is the colour counterpart of Legend, shown above ANSI output.
func ANSILegend() string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	return red.Sprint("Removals") + "   " + green.Sprint("Insertions")
}

// writeColored colours each line separately so escapes never span a newline.
func writeColored(b *strings.Builder, c *color.Color, text string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line != "" {
			b.WriteString(c.Sprint(line))
		}
	}
}
