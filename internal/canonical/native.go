package canonical

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Native converts without external binaries: docx and odt from their XML
// parts, html through html-to-markdown, markdown and text as they are.
type Native struct {
	workDir     string
	mdConverter *converter.Converter
}

func NewNative(workDir string) *Native {
	return &Native{
		workDir: workDir,
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (n *Native) Name() string {
	return KindNative
}

func (n *Native) Check() error {
	return nil
}

func (n *Native) Convert(ctx context.Context, srcPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConversionFailure, err)
	}

	var (
		text string
		err  error
	)
	switch ext := extension(srcPath); ext {
	case ".docx":
		text, err = extractDocx(srcPath)
	case ".odt":
		text, err = extractODT(srcPath)
	case ".html", ".htm":
		text, err = n.extractHTML(srcPath)
	case ".md", ".markdown", ".txt":
		text, err = readPlain(srcPath)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailure, err)
	}

	out, err := outputFile(n.workDir, srcPath)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(out, text); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("write canonical text: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("close canonical text: %w", err)
	}
	return out.Name(), nil
}

func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := checkText(data); err != nil {
		return "", err
	}
	return string(data), nil
}

func (n *Native) extractHTML(path string) (string, error) {
	data, err := readPlain(path)
	if err != nil {
		return "", err
	}
	markdown, err := n.mdConverter.ConvertString(data)
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return markdown, nil
}

// openZipPart opens one member of an office archive.
func openZipPart(path, member string) (io.ReadCloser, func() error, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range r.File {
		if f.Name == member {
			rc, err := f.Open()
			if err != nil {
				_ = r.Close()
				return nil, nil, fmt.Errorf("open %s: %w", member, err)
			}
			return rc, r.Close, nil
		}
	}
	_ = r.Close()
	return nil, nil, fmt.Errorf("%s not found in archive", member)
}

type blockWriter struct {
	blocks []string
}

func (w *blockWriter) add(prefix, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	w.blocks = append(w.blocks, prefix+text)
}

func (w *blockWriter) String() string {
	return strings.Join(w.blocks, "\n\n")
}

// extractDocx renders word/document.xml paragraphs as markdown blocks.
func extractDocx(path string) (string, error) {
	rc, closeZip, err := openZipPart(path, "word/document.xml")
	if err != nil {
		return "", err
	}
	defer closeZip()
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var out blockWriter
	var current strings.Builder
	var inParagraph, inText, numbered bool
	var style string

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				numbered = false
				style = ""
				current.Reset()
			case "pStyle":
				if inParagraph {
					style = attrValue(t, "val")
				}
			case "numPr":
				numbered = inParagraph
			case "t":
				inText = inParagraph
			case "tab":
				if inParagraph {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if inParagraph {
					current.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inParagraph {
					continue
				}
				inParagraph = false
				prefix := ""
				if level := docxHeadingLevel(style); level > 0 {
					prefix = strings.Repeat("#", level) + " "
				} else if numbered {
					prefix = "- "
				}
				out.add(prefix, current.String())
			}
		}
	}
	return out.String(), nil
}

// docxHeadingLevel maps a paragraph style name to a heading level.
// e.g. "Heading1" → 1, "Title" → 1, "Subtitle" → 2.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// extractODT renders content.xml headings, paragraphs and list items.
func extractODT(path string) (string, error) {
	rc, closeZip, err := openZipPart(path, "content.xml")
	if err != nil {
		return "", err
	}
	defer closeZip()
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var out blockWriter
	var current strings.Builder
	var depth, listDepth, headingLevel int
	var inBlock bool

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse content.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h":
				inBlock = true
				depth++
				current.Reset()
				headingLevel = 1
				if n, err := strconv.Atoi(attrValue(t, "outline-level")); err == nil && n > 0 {
					headingLevel = min(n, 6)
				}
			case "p":
				if !inBlock {
					inBlock = true
					headingLevel = 0
					current.Reset()
				}
				depth++
			case "list":
				listDepth++
			case "s":
				if inBlock {
					count := 1
					if n, err := strconv.Atoi(attrValue(t, "c")); err == nil && n > 0 {
						count = n
					}
					current.WriteString(strings.Repeat(" ", count))
				}
			case "tab":
				if inBlock {
					current.WriteByte('\t')
				}
			case "line-break":
				if inBlock {
					current.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inBlock {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "h", "p":
				if !inBlock {
					continue
				}
				depth--
				if depth > 0 {
					continue
				}
				inBlock = false
				prefix := ""
				switch {
				case headingLevel > 0:
					prefix = strings.Repeat("#", headingLevel) + " "
				case listDepth > 0:
					prefix = strings.Repeat("  ", listDepth-1) + "- "
				}
				out.add(prefix, current.String())
			case "list":
				listDepth--
			}
		}
	}
	return out.String(), nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}
