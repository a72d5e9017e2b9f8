package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"redline/internal/contentlog"
	"redline/internal/engine"
	"redline/internal/report"
)

const (
	formatAuto      = "auto"
	formatANSI      = "ansi"
	formatAnnotated = "annotated"
	formatPorcelain = "porcelain"
	formatJSON      = "json"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeComparison prints cmp in the requested format. Auto picks ANSI on a
// terminal and the glyph stream otherwise.
func writeComparison(cmd *cobra.Command, cmp engine.Comparison, format string, contextLines int) error {
	out := cmd.OutOrStdout()
	if format == formatAuto {
		format = formatAnnotated
		if shouldColorize(out) {
			format = formatANSI
		}
	}

	switch format {
	case formatANSI:
		if cmp.Changed {
			fmt.Fprintln(out, report.ANSILegend())
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, trimNewline(cmp.ANSI))
	case formatAnnotated:
		if cmp.Changed {
			fmt.Fprintln(out, report.Legend)
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, trimNewline(cmp.Annotated))
	case formatPorcelain:
		if !cmp.Changed {
			fmt.Fprintln(out, report.NoChangesMessage)
			return nil
		}
		fmt.Fprint(out, report.Porcelain(cmp.Record, contentlog.FileName(cmp.Slot), contextLines))
	case formatJSON:
		return writeJSON(cmd, cmp)
	default:
		return fmt.Errorf("unknown format %q (use auto, ansi, annotated, porcelain or json)", format)
	}
	return nil
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
