// Package engine runs the document comparison pipeline: convert, record,
// diff and report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"redline/internal/canonical"
	"redline/internal/diff"
	"redline/internal/report"
	"redline/internal/versionstore"
)

const defaultConvertTimeout = 60 * time.Second

// ErrReport means the snapshot was committed but the report file could not be
// replaced.
var ErrReport = errors.New("report write failed")

type Options struct {
	Store          *versionstore.Store
	Differ         *diff.Differ
	Converter      canonical.Converter
	Writer         *report.Writer
	Markers        report.Markers
	Context        int
	ConvertTimeout time.Duration
	Logger         *slog.Logger
}

type Engine struct {
	store          *versionstore.Store
	differ         *diff.Differ
	converter      canonical.Converter
	writer         *report.Writer
	markers        report.Markers
	contextLines   int
	convertTimeout time.Duration
	logger         *slog.Logger
}

// Comparison is the baseline/head diff of a slot in every rendering.
type Comparison struct {
	Slot      string                `json:"slot"`
	Baseline  versionstore.Snapshot `json:"baseline"`
	Head      versionstore.Snapshot `json:"head"`
	Record    diff.Record           `json:"record"`
	Stats     diff.Stats            `json:"stats"`
	Changed   bool                  `json:"changed"`
	Annotated string                `json:"annotated"`
	ANSI      string                `json:"-"`
	Artifact  string                `json:"-"`
}

// Result is the outcome of one submission.
type Result struct {
	Created    bool                  `json:"created"`
	Snapshot   versionstore.Snapshot `json:"snapshot"`
	Comparison Comparison            `json:"comparison"`
	ReportPath string                `json:"report_path"`
}

// New checks that the converter can run before returning an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Converter == nil {
		return nil, errors.New("engine: converter is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("engine: report writer is required")
	}
	if err := opts.Converter.Check(); err != nil {
		return nil, fmt.Errorf("engine: converter %s: %w", opts.Converter.Name(), err)
	}
	if opts.Differ == nil {
		opts.Differ = diff.New(diff.Options{})
	}
	if opts.Markers == (report.Markers{}) {
		opts.Markers = report.DefaultMarkers
	}
	if opts.Context < 0 {
		opts.Context = report.DefaultContext
	}
	if opts.ConvertTimeout <= 0 {
		opts.ConvertTimeout = defaultConvertTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:          opts.Store,
		differ:         opts.Differ,
		converter:      opts.Converter,
		writer:         opts.Writer,
		markers:        opts.Markers,
		contextLines:   opts.Context,
		convertTimeout: opts.ConvertTimeout,
		logger:         opts.Logger,
	}, nil
}

func (e *Engine) ConverterName() string {
	return e.converter.Name()
}

func (e *Engine) ReportPath() string {
	return e.writer.Path()
}

// Submit converts the document at path and records it as the slot's newest
// snapshot. A conversion failure leaves the store untouched.
func (e *Engine) Submit(ctx context.Context, slot, path string) (Result, error) {
	if err := versionstore.ValidateSlot(slot); err != nil {
		return Result{}, err
	}
	text, err := e.convert(ctx, path)
	if err != nil {
		e.logger.Warn("conversion failed", "slot", slot, "path", path, "converter", e.converter.Name(), "error", err)
		return Result{}, err
	}
	return e.SubmitText(ctx, slot, text)
}

func (e *Engine) convert(ctx context.Context, path string) (string, error) {
	convertCtx, cancel := context.WithTimeout(ctx, e.convertTimeout)
	defer cancel()

	out, err := e.converter.Convert(convertCtx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(out) }()
	return canonical.ReadCanonical(out)
}

// SubmitText records already canonical text. The text is normalized first so
// it hashes the same as converter output. Text the differ would reject is
// never recorded, including text whose alignment against the baseline
// exceeds the diff time budget.
func (e *Engine) SubmitText(ctx context.Context, slot, text string) (Result, error) {
	if err := e.differ.Check(text); err != nil {
		return Result{}, err
	}
	text = canonical.Normalize(text)
	baseline, err := e.store.Baseline(ctx, slot)
	switch {
	case err == nil:
		if _, err := e.differ.Texts(ctx, baseline.Text, text); err != nil {
			return Result{}, err
		}
	case !errors.Is(err, versionstore.ErrNotFound):
		return Result{}, err
	}

	recorded, err := e.store.Record(ctx, slot, text)
	if err != nil {
		return Result{}, err
	}
	res := Result{Created: recorded.Created, Snapshot: recorded.Snapshot, ReportPath: e.writer.Path()}

	cmp, err := e.Compare(ctx, slot)
	if err != nil {
		return res, err
	}
	res.Comparison = cmp
	if err := e.writeReport(ctx, cmp); err != nil {
		return res, err
	}
	return res, nil
}

// Compare diffs the slot's first snapshot against its newest one.
func (e *Engine) Compare(ctx context.Context, slot string) (Comparison, error) {
	baseline, err := e.store.Baseline(ctx, slot)
	if err != nil {
		return Comparison{}, err
	}
	head, err := e.store.Head(ctx, slot)
	if err != nil {
		return Comparison{}, err
	}
	return e.compare(ctx, slot, baseline, head)
}

// CompareRefs diffs two arbitrary snapshots of a slot.
func (e *Engine) CompareRefs(ctx context.Context, slot, fromRef, toRef string) (Comparison, error) {
	from, err := e.store.Get(ctx, slot, fromRef)
	if err != nil {
		return Comparison{}, err
	}
	to, err := e.store.Get(ctx, slot, toRef)
	if err != nil {
		return Comparison{}, err
	}
	return e.compare(ctx, slot, from, to)
}

func (e *Engine) compare(ctx context.Context, slot string, baseline, head versionstore.Snapshot) (Comparison, error) {
	var rec diff.Record
	var err error
	if baseline.Ref == head.Ref {
		// A single snapshot is reported against an empty baseline.
		rec, err = e.differ.Compute(ctx, versionstore.Snapshot{}, head)
	} else {
		rec, err = e.differ.Compute(ctx, baseline, head)
	}
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Slot:      slot,
		Baseline:  stripText(baseline),
		Head:      stripText(head),
		Record:    rec,
		Stats:     rec.Stats(),
		Changed:   rec.HasChanges(),
		Annotated: report.AnnotatedStream(rec, e.markers),
		ANSI:      report.ANSI(rec),
		Artifact:  report.Artifact(rec, slot, e.contextLines),
	}, nil
}

func stripText(s versionstore.Snapshot) versionstore.Snapshot {
	s.Text = ""
	return s
}

// Report recomputes the slot comparison and rewrites the report file.
func (e *Engine) Report(ctx context.Context, slot string) (Comparison, error) {
	cmp, err := e.Compare(ctx, slot)
	if err != nil {
		return Comparison{}, err
	}
	if err := e.writeReport(ctx, cmp); err != nil {
		return cmp, err
	}
	return cmp, nil
}

// writeReport replaces the report file. Mirror failures are logged only; the
// local artifact is authoritative.
func (e *Engine) writeReport(ctx context.Context, cmp Comparison) error {
	err := e.writer.Write(ctx, cmp.Slot, cmp.Artifact)
	if err == nil {
		return nil
	}
	if errors.Is(err, report.ErrMirror) {
		e.logger.Warn("report mirror incomplete", "slot", cmp.Slot, "error", err)
		return nil
	}
	return fmt.Errorf("%w: %w", ErrReport, err)
}

// PDF renders the slot comparison as a printable document.
func (e *Engine) PDF(ctx context.Context, slot string) ([]byte, error) {
	cmp, err := e.Compare(ctx, slot)
	if err != nil {
		return nil, err
	}
	html, err := report.HTML(cmp.Record, slot, time.Now())
	if err != nil {
		return nil, err
	}
	return report.PDF(ctx, html)
}

func (e *Engine) History(ctx context.Context, slot string) ([]versionstore.Snapshot, error) {
	return e.store.History(ctx, slot)
}

// Reset drops the slot's history, ending its comparison session.
func (e *Engine) Reset(ctx context.Context, slot string) error {
	return e.store.Reset(ctx, slot)
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
