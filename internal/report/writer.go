package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrMirror wraps sink failures. The local report was written when it is
// returned.
var ErrMirror = errors.New("report mirror failed")

// Sink receives a copy of every written report.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Writer keeps the single active report at a fixed path. Each Write replaces
// the previous report.
type Writer struct {
	path   string
	sinks  []Sink
	logger *slog.Logger
}

func NewWriter(path string, logger *slog.Logger, sinks ...Sink) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{path: path, sinks: sinks, logger: logger}
}

func (w *Writer) Path() string {
	return w.path
}

// Write atomically replaces the report file, then mirrors it to every sink
// under "<slot>/<file name>".
func (w *Writer) Write(ctx context.Context, slot, artifact string) error {
	data := []byte(artifact)
	if err := writeFileAtomic(w.path, data); err != nil {
		return err
	}
	w.logger.Info("report written", "slot", slot, "path", w.path, "bytes", len(data))

	var errs []error
	key := slot + "/" + filepath.Base(w.path)
	for _, sink := range w.sinks {
		if err := sink.Put(ctx, key, data); err != nil {
			w.logger.Warn("report mirror failed", "slot", slot, "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMirror, errors.Join(errs...))
	}
	return nil
}

// Read returns the current report.
func (w *Writer) Read() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
