// Package canonical turns uploaded documents into canonical markdown text.
package canonical

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrConversionFailure means the converter rejected the input. No
	// snapshot may be recorded for it.
	ErrConversionFailure = errors.New("document conversion failed")
	// ErrUnsupportedFormat means no converter handles the file extension.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrConverterUnavailable means the converter cannot run on this host.
	ErrConverterUnavailable = errors.New("document converter unavailable")
)

const (
	KindAuto   = "auto"
	KindPandoc = "pandoc"
	KindNative = "native"
)

// Converter turns the document at srcPath into a canonical text file and
// returns its path. The caller removes the returned file.
type Converter interface {
	Convert(ctx context.Context, srcPath string) (string, error)
	Check() error
	Name() string
}

type Options struct {
	Kind       string
	PandocPath string
	WorkDir    string
	Logger     *slog.Logger
}

// New builds the converter named by opts.Kind. Auto prefers pandoc and falls
// back to the built-in converter when pandoc is not installed.
func New(opts Options) (Converter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pandoc := NewPandoc(opts.PandocPath, opts.WorkDir)
	native := NewNative(opts.WorkDir)

	switch opts.Kind {
	case KindPandoc:
		return pandoc, nil
	case KindNative:
		return native, nil
	case KindAuto, "":
		if err := pandoc.Check(); err != nil {
			logger.Info("pandoc not available, using native converter", "error", err)
			return native, nil
		}
		return pandoc, nil
	default:
		return nil, fmt.Errorf("unknown converter %q", opts.Kind)
	}
}

// Normalize makes canonical text byte-stable: no BOM, LF line endings, NFC,
// exactly one trailing newline. Empty text stays empty.
func Normalize(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = norm.NFC.String(text)
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text + "\n"
}

// ReadCanonical loads and normalizes a converter output.
func ReadCanonical(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read converted text: %v", ErrConversionFailure, err)
	}
	if err := checkText(data); err != nil {
		return "", err
	}
	return Normalize(string(data)), nil
}

func checkText(data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("%w: output is not valid utf-8", ErrConversionFailure)
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return fmt.Errorf("%w: output contains NUL at offset %d", ErrConversionFailure, i)
	}
	return nil
}

func extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// outputFile reserves a unique canonical output path for srcPath.
func outputFile(workDir, srcPath string) (*os.File, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	out, err := os.CreateTemp(workDir, base+"-*.md")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return out, nil
}
