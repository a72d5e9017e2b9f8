package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"redline/internal/diff"
	"redline/internal/logging"
)

func exampleRecord() diff.Record {
	return diff.Record{Runs: []diff.Run{
		{Tag: diff.Unchanged, Text: "The term is "},
		{Tag: diff.Deleted, Text: "12"},
		{Tag: diff.Inserted, Text: "24"},
		{Tag: diff.Unchanged, Text: " months"},
		{Tag: diff.Deleted, Text: "."},
		{Tag: diff.Inserted, Text: ", renewable annually."},
	}}
}

func TestAnnotatedStream(t *testing.T) {
	got := AnnotatedStream(exampleRecord(), DefaultMarkers)
	want := "The term is 🔴12\u2060🟢24\u2060 months🔴.\u2060🟢, renewable annually.\u2060"
	if got != want {
		t.Fatalf("AnnotatedStream() = %q, want %q", got, want)
	}
}

func TestStripRecoversBothSides(t *testing.T) {
	stream := AnnotatedStream(exampleRecord(), DefaultMarkers)
	baseline, head, err := Strip(stream, DefaultMarkers)
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}
	if baseline != "The term is 12 months." {
		t.Fatalf("baseline = %q", baseline)
	}
	if head != "The term is 24 months, renewable annually." {
		t.Fatalf("head = %q", head)
	}
}

func TestParseMatchesRecord(t *testing.T) {
	rec := exampleRecord()
	runs, err := Parse(AnnotatedStream(rec, DefaultMarkers), DefaultMarkers)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(runs) != len(rec.Runs) {
		t.Fatalf("Parse() returned %d runs, want %d", len(runs), len(rec.Runs))
	}
	for i := range runs {
		if runs[i] != rec.Runs[i] {
			t.Fatalf("run %d = %+v, want %+v", i, runs[i], rec.Runs[i])
		}
	}
}

func TestCustomMarkers(t *testing.T) {
	markers := Markers{Deletion: "[-", Insertion: "{+", End: "|"}
	got := AnnotatedStream(exampleRecord(), markers)
	if got != "The term is [-12|{+24| months[-.|{+, renewable annually.|" {
		t.Fatalf("AnnotatedStream() = %q", got)
	}
	_, head, err := Strip(got, markers)
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}
	if head != "The term is 24 months, renewable annually." {
		t.Fatalf("head = %q", head)
	}
}

func TestStripRejectsUnterminatedRun(t *testing.T) {
	if _, _, err := Strip("abc 🟢def", DefaultMarkers); !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("expected ErrMalformedStream, got %v", err)
	}
}

func TestNoChanges(t *testing.T) {
	rec := diff.Record{Runs: []diff.Run{{Tag: diff.Unchanged, Text: "same\n"}}}
	if got := AnnotatedStream(rec, DefaultMarkers); got != NoChangesMessage {
		t.Fatalf("AnnotatedStream() = %q", got)
	}
	if got := ANSI(rec); got != NoChangesMessage {
		t.Fatalf("ANSI() = %q", got)
	}
	if got := Porcelain(rec, "master.md", DefaultContext); got != "" {
		t.Fatalf("Porcelain() = %q", got)
	}
	artifact := Artifact(rec, "master", DefaultContext)
	if !strings.Contains(artifact, "```\n"+NoChangesMessage+"\n```\n") {
		t.Fatalf("artifact missing no-changes message:\n%s", artifact)
	}
}

func TestANSI(t *testing.T) {
	got := ANSI(exampleRecord())
	if !strings.Contains(got, "\x1b[31m12\x1b[0m") {
		t.Fatalf("expected red deletion, got %q", got)
	}
	if !strings.Contains(got, "\x1b[32m24\x1b[0m") {
		t.Fatalf("expected green insertion, got %q", got)
	}
	if !strings.HasPrefix(got, "The term is ") {
		t.Fatalf("unchanged text altered: %q", got)
	}
}

func TestANSILegendUsesColour(t *testing.T) {
	got := ANSILegend()
	if got != "\x1b[31mRemovals\x1b[0m   \x1b[32mInsertions\x1b[0m" {
		t.Fatalf("ANSILegend() = %q", got)
	}
}

func TestANSIKeepsEscapesOffNewlines(t *testing.T) {
	rec := diff.Record{Runs: []diff.Run{{Tag: diff.Inserted, Text: "one\ntwo"}}}
	got := ANSI(rec)
	if got != "\x1b[32mone\x1b[0m\n\x1b[32mtwo\x1b[0m" {
		t.Fatalf("ANSI() = %q", got)
	}
}

func TestPorcelainSingleLine(t *testing.T) {
	got := Porcelain(exampleRecord(), "master.md", DefaultContext)
	want := strings.Join([]string{
		"--- a/master.md",
		"+++ b/master.md",
		"@@ -1 +1 @@",
		" The term is ",
		"-12",
		"+24",
		"  months",
		"-.",
		"+, renewable annually.",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("Porcelain() =\n%s\nwant\n%s", got, want)
	}
}

func TestPorcelainHunksAndContext(t *testing.T) {
	var baseline, head strings.Builder
	for i := 1; i <= 12; i++ {
		line := "line " + string(rune('a'+i-1)) + "\n"
		baseline.WriteString(line)
		if i == 2 {
			head.WriteString("line B\n")
			continue
		}
		if i == 11 {
			head.WriteString("line K\n")
			continue
		}
		head.WriteString(line)
	}
	rec, err := diff.New(diff.Options{}).Texts(context.Background(), baseline.String(), head.String())
	if err != nil {
		t.Fatalf("Texts() error = %v", err)
	}

	got := Porcelain(rec, "master.md", 1)
	if strings.Count(got, "@@ ") != 2 {
		t.Fatalf("expected two hunks:\n%s", got)
	}
	if !strings.Contains(got, "@@ -1,3 +1,3 @@\n line a\n~\n line \n-b\n+B\n~\n line c\n~\n") {
		t.Fatalf("unexpected first hunk:\n%s", got)
	}
	if !strings.Contains(got, "@@ -10,3 +10,3 @@\n") {
		t.Fatalf("unexpected second hunk header:\n%s", got)
	}
	if strings.Contains(got, "line e") {
		t.Fatalf("context leaked past the configured width:\n%s", got)
	}

	merged := Porcelain(rec, "master.md", 5)
	if strings.Count(merged, "@@ ") != 1 {
		t.Fatalf("expected overlapping hunks to merge:\n%s", merged)
	}
}

func TestPorcelainNewFile(t *testing.T) {
	rec := diff.Record{Runs: []diff.Run{{Tag: diff.Inserted, Text: "first\nsecond\n"}}}
	got := Porcelain(rec, "master.md", DefaultContext)
	want := "--- /dev/null\n+++ b/master.md\n@@ -0,0 +1,2 @@\n+first\n+~\n+second\n+~\n"
	if got != want {
		t.Fatalf("Porcelain() = %q, want %q", got, want)
	}
}

func TestPorcelainJoinedAndSplitLines(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		head     string
		want     string
	}{
		{
			name:     "join",
			baseline: "a\nb\n",
			head:     "a b\n",
			want:     "@@ -1,2 +1 @@\n a\n-~\n+ \n b\n~\n",
		},
		{
			name:     "split",
			baseline: "a b\n",
			head:     "a\nb\n",
			want:     "@@ -1 +1,2 @@\n a\n- \n+~\n b\n~\n",
		},
		{
			name:     "newline added at end",
			baseline: "a",
			head:     "a\n",
			want:     "@@ -1 +1 @@\n a\n+~\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := diff.New(diff.Options{}).Texts(context.Background(), tt.baseline, tt.head)
			if err != nil {
				t.Fatalf("Texts() error = %v", err)
			}
			got := Porcelain(rec, "master.md", 0)
			want := "--- a/master.md\n+++ b/master.md\n" + tt.want
			if got != want {
				t.Fatalf("Porcelain() = %q, want %q", got, want)
			}
		})
	}
}

func TestPorcelainHunkCoversWholeJoinedLine(t *testing.T) {
	rec, err := diff.New(diff.Options{}).Texts(context.Background(), "keep\nx\ny\nz\ntail\n", "keep\nx\ny z\ntail\n")
	if err != nil {
		t.Fatalf("Texts() error = %v", err)
	}
	got := Porcelain(rec, "master.md", 0)
	if !strings.Contains(got, "@@ -3,2 +3 @@\n y\n-~\n+ \n z\n~\n") {
		t.Fatalf("unexpected hunk:\n%s", got)
	}
}

func TestArtifactLayout(t *testing.T) {
	got := Artifact(exampleRecord(), "master", DefaultContext)
	wantPrefix := "# Document Change History: master\n\n### Word-by-Word Changes Since First Commit\n```\n--- a/master.md\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("unexpected artifact header:\n%s", got)
	}
	if !strings.HasSuffix(got, "+, renewable annually.\n```\n") {
		t.Fatalf("unexpected artifact tail:\n%s", got)
	}
	if strings.Contains(got, "🔴") || strings.Contains(got, "🟢") {
		t.Fatal("artifact must not contain glyph markers")
	}
}

type fakeSink struct {
	putFn func(ctx context.Context, key string, data []byte) error
}

func (f *fakeSink) Put(ctx context.Context, key string, data []byte) error {
	return f.putFn(ctx, key, data)
}

func TestWriterReplacesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "diff_report.md")
	var mirrored []string
	sink := &fakeSink{putFn: func(_ context.Context, key string, data []byte) error {
		mirrored = append(mirrored, key+"="+string(data))
		return nil
	}}
	w := NewWriter(path, logging.Discard(), sink)
	ctx := context.Background()

	if err := w.Write(ctx, "master", "first"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(ctx, "master", "second"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := w.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "second" {
		t.Fatalf("Read() = %q", got)
	}
	if len(mirrored) != 2 || mirrored[1] != "master/diff_report.md=second" {
		t.Fatalf("unexpected mirror calls: %v", mirrored)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriterMirrorFailureKeepsLocalReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diff_report.md")
	sink := &fakeSink{putFn: func(context.Context, string, []byte) error {
		return errors.New("bucket offline")
	}}
	w := NewWriter(path, logging.Discard(), sink)
	err := w.Write(context.Background(), "master", "report")
	if !errors.Is(err, ErrMirror) {
		t.Fatalf("expected ErrMirror, got %v", err)
	}
	if got, _ := w.Read(); got != "report" {
		t.Fatalf("local report = %q", got)
	}
}

func TestHTMLEscapesAndMarksRuns(t *testing.T) {
	rec := diff.Record{Runs: []diff.Run{
		{Tag: diff.Unchanged, Text: "a <b> "},
		{Tag: diff.Deleted, Text: "old"},
		{Tag: diff.Inserted, Text: "new & improved"},
	}}
	got, err := HTML(rec, "master", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	for _, want := range []string{"a &lt;b&gt; ", "<del>old</del>", "<ins>new &amp; improved</ins>", "Document Change History: master", "Oct 17, 2026", "<del>Removals</del> <ins>Insertions</ins>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("HTML() missing %q:\n%s", want, got)
		}
	}

	none, err := HTML(diff.Record{}, "master", time.Now())
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if !strings.Contains(none, NoChangesMessage) {
		t.Fatal("expected no-changes message in HTML")
	}
}

func TestPDF(t *testing.T) {
	if err := CheckPDF(); err != nil {
		t.Skipf("skipping pdf test: %v", err)
	}
	html, err := HTML(exampleRecord(), "master", time.Now())
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	data, err := PDF(context.Background(), html)
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Fatal("output is not a pdf")
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b<é"); got != "a%20b%3C%C3%A9" {
		t.Fatalf("percentEncodeForDataURL() = %q", got)
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("contract v2.final", "pdf"); got != "contract-v2-final-changes.pdf" {
		t.Fatalf("Filename() = %q", got)
	}
	if got := Filename("", "pdf"); got != "document-changes.pdf" {
		t.Fatalf("Filename() = %q", got)
	}
}
