// Package diff computes word-granular, lossless change records between two
// snapshots.
package diff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"redline/internal/versionstore"
)

var (
	// ErrEncoding means a snapshot is not valid text.
	ErrEncoding = errors.New("snapshot is not valid text")
	// ErrTooLarge means a snapshot exceeds the configured token ceiling or
	// the alignment did not finish within the time budget.
	ErrTooLarge = errors.New("snapshot exceeds diff size limit")
)

const (
	surrogateMin = 0xD800
	surrogateGap = 0x800
	maxVocab     = utf8.MaxRune - surrogateGap + 1
)

type Options struct {
	// MaxTokens bounds the token count of each side. Zero disables the check.
	MaxTokens int
	// Timeout bounds the alignment of one pair. Zero means no limit beyond
	// the caller's context deadline.
	Timeout time.Duration
}

type Differ struct {
	opts Options
}

func New(opts Options) *Differ {
	return &Differ{opts: opts}
}

// Compute diffs the baseline snapshot against the head snapshot. A zero
// baseline is treated as empty text.
func (d *Differ) Compute(ctx context.Context, baseline, head versionstore.Snapshot) (Record, error) {
	rec, err := d.Texts(ctx, baseline.Text, head.Text)
	if err != nil {
		return Record{}, err
	}
	rec.BaselineHash = baseline.Hash
	rec.HeadHash = head.Hash
	return rec, nil
}

// Texts diffs two canonical texts. The alignment stops at the earlier of the
// configured timeout and the context deadline.
func (d *Differ) Texts(ctx context.Context, baseline, head string) (Record, error) {
	if err := checkText("baseline", baseline); err != nil {
		return Record{}, err
	}
	if err := checkText("head", head); err != nil {
		return Record{}, err
	}

	a := Tokenize(baseline)
	b := Tokenize(head)
	if limit := d.opts.MaxTokens; limit > 0 && (len(a) > limit || len(b) > limit) {
		return Record{}, fmt.Errorf("%w: %d and %d tokens, limit %d", ErrTooLarge, len(a), len(b), limit)
	}

	ops, err := align(ctx, a, b, d.deadline(ctx))
	if err != nil {
		return Record{}, err
	}
	ops = slide(ops)
	ops = foldSandwiched(ops)
	ops = foldGluedPunct(ops)
	return Record{Runs: group(ops)}, nil
}

// Check reports whether text can be diffed: valid UTF-8, no NUL bytes and
// within the token ceiling.
func (d *Differ) Check(text string) error {
	if err := checkText("text", text); err != nil {
		return err
	}
	if limit := d.opts.MaxTokens; limit > 0 {
		if n := len(Tokenize(text)); n > limit {
			return fmt.Errorf("%w: %d tokens, limit %d", ErrTooLarge, n, limit)
		}
	}
	return nil
}

func (d *Differ) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if d.opts.Timeout > 0 {
		deadline = time.Now().Add(d.opts.Timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

func checkText(side, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%s: %w: invalid utf-8", side, ErrEncoding)
	}
	if i := strings.IndexByte(text, 0); i >= 0 {
		return fmt.Errorf("%s: %w: NUL byte at offset %d", side, ErrEncoding, i)
	}
	return nil
}

type tokenOp struct {
	op   diffmatchpatch.Operation
	text string
}

func (t tokenOp) changed() bool {
	return t.op != diffmatchpatch.DiffEqual
}

// align encodes every distinct token as one rune and runs the bisect diff on
// the rune sequences, so the edit script is minimal. The bisect gives up at
// the deadline; a late result is discarded rather than returned unminimised.
func align(ctx context.Context, a, b []string, deadline time.Time) ([]tokenOp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	index := make(map[string]rune, len(a)+len(b))
	var vocab []string
	encode := func(tokens []string) ([]rune, error) {
		out := make([]rune, len(tokens))
		for i, token := range tokens {
			r, ok := index[token]
			if !ok {
				if len(vocab) >= maxVocab {
					return nil, fmt.Errorf("%w: more than %d distinct tokens", ErrTooLarge, maxVocab)
				}
				r = tokenRune(len(vocab))
				index[token] = r
				vocab = append(vocab, token)
			}
			out[i] = r
		}
		return out, nil
	}

	ra, err := encode(a)
	if err != nil {
		return nil, err
	}
	rb, err := encode(b)
	if err != nil {
		return nil, err
	}

	prefix := commonPrefix(ra, rb)
	suffix := commonSuffix(ra[prefix:], rb[prefix:])
	midA := ra[prefix : len(ra)-suffix]
	midB := rb[prefix : len(rb)-suffix]

	var diffs []diffmatchpatch.Diff
	switch {
	case len(midA) == 0 && len(midB) == 0:
	case len(midA) == 0:
		diffs = []diffmatchpatch.Diff{{Type: diffmatchpatch.DiffInsert, Text: string(midB)}}
	case len(midB) == 0:
		diffs = []diffmatchpatch.Diff{{Type: diffmatchpatch.DiffDelete, Text: string(midA)}}
	default:
		diffs, err = bisect(ctx, midA, midB, deadline)
		if err != nil {
			return nil, err
		}
	}

	ops := make([]tokenOp, 0, len(a)+len(b))
	for _, r := range ra[:prefix] {
		ops = append(ops, tokenOp{op: diffmatchpatch.DiffEqual, text: vocab[runeIndex(r)]})
	}
	for _, d := range diffs {
		for _, r := range d.Text {
			ops = append(ops, tokenOp{op: d.Type, text: vocab[runeIndex(r)]})
		}
	}
	for _, r := range ra[len(ra)-suffix:] {
		ops = append(ops, tokenOp{op: diffmatchpatch.DiffEqual, text: vocab[runeIndex(r)]})
	}
	return ops, nil
}

// bisect runs the Myers bisection in its own goroutine so a cancelled context
// returns immediately. The goroutine itself stops at the deadline.
func bisect(ctx context.Context, a, b []rune, deadline time.Time) ([]diffmatchpatch.Diff, error) {
	done := make(chan []diffmatchpatch.Diff, 1)
	go func() {
		dmp := diffmatchpatch.New()
		dmp.DiffTimeout = 0
		done <- dmp.DiffBisect(string(a), string(b), deadline)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case diffs := <-done:
		if !deadline.IsZero() && time.Now().After(deadline) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: alignment of %d and %d tokens exceeded its time budget", ErrTooLarge, len(a), len(b))
		}
		return diffs, nil
	}
}

func commonPrefix(a, b []rune) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b []rune) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func tokenRune(i int) rune {
	if i >= surrogateMin {
		return rune(i + surrogateGap)
	}
	return rune(i)
}

func runeIndex(r rune) int {
	if r >= surrogateMin {
		return int(r) - surrogateGap
	}
	return int(r)
}

// slide moves pure insertion and deletion blocks as far toward the end as
// equal tokens allow, keeping earlier common tokens aligned.
func slide(ops []tokenOp) []tokenOp {
	i := 0
	for i < len(ops) {
		if !ops[i].changed() || (i > 0 && ops[i-1].changed()) {
			i++
			continue
		}
		kind := ops[i].op
		j := i
		for j < len(ops) && ops[j].op == kind {
			j++
		}
		if j < len(ops) && ops[j].changed() {
			// Mixed block.
			for j < len(ops) && ops[j].changed() {
				j++
			}
			i = j
			continue
		}
		for j < len(ops) && !ops[j].changed() && ops[j].text == ops[i].text {
			ops[i].op = diffmatchpatch.DiffEqual
			ops[j].op = kind
			i++
			j++
		}
		i = j
	}
	return ops
}

// foldSandwiched turns runs of unchanged neutral tokens that sit between two
// changes into part of the change.
func foldSandwiched(ops []tokenOp) []tokenOp {
	out := make([]tokenOp, 0, len(ops))
	i := 0
	for i < len(ops) {
		if ops[i].changed() || !isNeutral(ops[i].text) {
			out = append(out, ops[i])
			i++
			continue
		}
		j := i
		for j < len(ops) && !ops[j].changed() && isNeutral(ops[j].text) {
			j++
		}
		fold := i > 0 && ops[i-1].changed() && j < len(ops) && ops[j].changed()
		for _, op := range ops[i:j] {
			if fold {
				out = append(out, deleted(op.text), inserted(op.text))
			} else {
				out = append(out, op)
			}
		}
		i = j
	}
	return out
}

// foldGluedPunct attaches an unchanged punctuation token to a changed word it
// touches, provided its other side is whitespace or the text edge.
func foldGluedPunct(ops []tokenOp) []tokenOp {
	out := make([]tokenOp, 0, len(ops))
	for i, op := range ops {
		if op.changed() || !isPunct(op.text) {
			out = append(out, op)
			continue
		}
		leftChange := i > 0 && ops[i-1].changed()
		rightChange := i+1 < len(ops) && ops[i+1].changed()
		leftOpen := i == 0 || (!ops[i-1].changed() && isSpace(ops[i-1].text))
		rightOpen := i+1 == len(ops) || (!ops[i+1].changed() && isSpace(ops[i+1].text))
		if (leftChange && rightOpen) || (rightChange && leftOpen) {
			out = append(out, deleted(op.text), inserted(op.text))
			continue
		}
		out = append(out, op)
	}
	return out
}

func deleted(text string) tokenOp {
	return tokenOp{op: diffmatchpatch.DiffDelete, text: text}
}

func inserted(text string) tokenOp {
	return tokenOp{op: diffmatchpatch.DiffInsert, text: text}
}

// group merges tokens into runs. Each change block becomes one deleted run
// followed by one inserted run.
func group(ops []tokenOp) []Run {
	var runs []Run
	var equal, del, ins strings.Builder
	flushChange := func() {
		if del.Len() > 0 {
			runs = append(runs, Run{Tag: Deleted, Text: del.String()})
			del.Reset()
		}
		if ins.Len() > 0 {
			runs = append(runs, Run{Tag: Inserted, Text: ins.String()})
			ins.Reset()
		}
	}
	flushEqual := func() {
		if equal.Len() > 0 {
			runs = append(runs, Run{Tag: Unchanged, Text: equal.String()})
			equal.Reset()
		}
	}
	for _, op := range ops {
		switch op.op {
		case diffmatchpatch.DiffEqual:
			flushChange()
			equal.WriteString(op.text)
		case diffmatchpatch.DiffDelete:
			flushEqual()
			del.WriteString(op.text)
		case diffmatchpatch.DiffInsert:
			flushEqual()
			ins.WriteString(op.text)
		}
	}
	flushEqual()
	flushChange()
	return runs
}
