package canonical

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var pandocFormats = map[string]string{
	".docx":     "docx",
	".odt":      "odt",
	".html":     "html",
	".htm":      "html",
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "markdown",
	".rtf":      "rtf",
	".epub":     "epub",
}

// Pandoc shells out to the pandoc binary.
type Pandoc struct {
	binary  string
	workDir string
}

func NewPandoc(binary, workDir string) *Pandoc {
	if binary == "" {
		binary = "pandoc"
	}
	return &Pandoc{binary: binary, workDir: workDir}
}

func (p *Pandoc) Name() string {
	return KindPandoc
}

func (p *Pandoc) Check() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("%w: %s not installed", ErrConverterUnavailable, p.binary)
	}
	return nil
}

func (p *Pandoc) Convert(ctx context.Context, srcPath string) (string, error) {
	format, ok := pandocFormats[extension(srcPath)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, extension(srcPath))
	}
	if err := p.Check(); err != nil {
		return "", err
	}

	out, err := outputFile(p.workDir, srcPath)
	if err != nil {
		return "", err
	}
	outPath := out.Name()
	_ = out.Close()

	cmd := exec.CommandContext(ctx, p.binary,
		"-f", format,
		"-t", "markdown",
		"--wrap=none",
		"-o", outPath,
		srcPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: pandoc: %w", ErrConversionFailure, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: pandoc failed: %s", ErrConversionFailure, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: pandoc execution failed: %v", ErrConversionFailure, err)
	}
	return outPath, nil
}
