// Package docparse turns uploaded files into plain text for indexing.
package docparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"edgarrag/internal/filings"
	"edgarrag/internal/util"

	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Kind string

const (
	KindPDF      Kind = "pdf"
	KindMarkdown Kind = "markdown"
	KindText     Kind = "text"
)

// Detect picks a parser from the file extension, falling back to the
// declared content type and then to plain text.
func Detect(filename, contentType string) Kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF
	case ".md", ".markdown":
		return KindMarkdown
	case ".txt", ".text":
		return KindText
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		return KindPDF
	case "text/markdown", "text/x-markdown":
		return KindMarkdown
	}
	return KindText
}

// Parse extracts text from content. An empty result is a validation error.
func Parse(filename, contentType string, content []byte) (string, Kind, error) {
	kind := Detect(filename, contentType)
	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = parsePDF(content)
	case KindMarkdown:
		text, err = parseMarkdown(content)
	default:
		text = decodeText(content)
	}
	if err != nil {
		return "", kind, fmt.Errorf("%w: parse %s: %v", util.ErrValidation, filename, err)
	}
	text = util.SanitizeText(text)
	if text == "" {
		return "", kind, fmt.Errorf("%w: %s: %w", util.ErrValidation, filename, util.ErrNoExtractableText)
	}
	return text, kind, nil
}

func parsePDF(content []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}

func parseMarkdown(content []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(decodeText(content)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return filings.HTMLToText(buf.String()), nil
}

func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}
