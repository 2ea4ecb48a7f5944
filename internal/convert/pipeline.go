package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"mdconvert/internal/domain"
	"mdconvert/internal/format"
)

// convertPipeline is the general conversion strategy for everything the
// office converter and the passthrough do not claim: PDF, images, HTML,
// AsciiDoc and CSV. Layout-dependent handling (OCR scale) only applies to
// PDF and image inputs; the textual formats carry no layout provenance.
func (s *Service) convertPipeline(ctx context.Context, f format.Format, doc domain.Document, opts domain.ConversionOptions) domain.ConversionResult {
	name := stem(doc.Filename)
	var (
		markdown string
		pages    *int
		err      error
	)
	switch f {
	case format.PDF:
		markdown, pages, err = s.pdfToMarkdown(ctx, doc.Content, opts)
	case format.Image:
		markdown, err = s.imageToMarkdown(ctx, doc.Content, opts)
		if err == nil {
			one := 1
			pages = &one
		}
	case format.HTML:
		markdown, err = s.htmlToMarkdown(doc.Content)
	case format.CSV:
		markdown, err = csvToMarkdown(doc.Content)
	case format.AsciiDoc:
		markdown, err = asciidocToMarkdown(doc.Content)
	default:
		err = fmt.Errorf("no pipeline converter for format %s", f)
	}
	if err != nil {
		return domain.ConversionResult{Filename: name, Error: err.Error()}
	}
	return domain.ConversionResult{Filename: name, Markdown: markdown, Pages: pages}
}

func (s *Service) htmlToMarkdown(content []byte) (string, error) {
	markdown, err := s.md.ConvertString(string(content))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return markdown, nil
}

func (s *Service) imageToMarkdown(ctx context.Context, content []byte, opts domain.ConversionOptions) (string, error) {
	if s.ocr == nil {
		return "", fmt.Errorf("ocr engine not configured")
	}
	text, err := s.ocr.Recognize(ctx, content, opts)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("ocr produced no text")
	}
	return text, nil
}

// csvEncodings is the fallback chain tried in order when decoding CSV input.
var csvEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", nil},
	{"latin1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
}

func csvToMarkdown(content []byte) (string, error) {
	text, err := decodeCSVText(content)
	if err != nil {
		return "", err
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("csv file is empty")
	}
	var sb strings.Builder
	writeMarkdownTable(&sb, rows)
	return sb.String(), nil
}

func decodeCSVText(content []byte) (string, error) {
	names := make([]string, 0, len(csvEncodings))
	for _, candidate := range csvEncodings {
		names = append(names, candidate.name)
		if candidate.enc == nil {
			if utf8.Valid(content) {
				return string(content), nil
			}
			continue
		}
		decoded, err := candidate.enc.NewDecoder().Bytes(content)
		if err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("could not decode csv file, supported encodings: %s", strings.Join(names, ", "))
}

// asciidocToMarkdown handles the structural overlap between the two formats:
// heading markers translate directly, everything else passes through.
func asciidocToMarkdown(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("asciidoc file is not valid UTF-8")
	}
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, "=")
		level := len(line) - len(trimmed)
		if level > 0 && level <= 6 && strings.HasPrefix(trimmed, " ") {
			lines[i] = strings.Repeat("#", level) + trimmed
		}
	}
	return strings.Join(lines, "\n"), nil
}

// pdfToMarkdown validates the PDF, counts pages and extracts per-page text.
// Scanned PDFs with no extractable text fall back to the OCR engine when one
// is configured.
func (s *Service) pdfToMarkdown(ctx context.Context, content []byte, opts domain.ConversionOptions) (string, *int, error) {
	text, pageCount, err := extractPDFText(bytes.NewReader(content))
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(text) == "" {
		if s.ocr == nil {
			return "", nil, fmt.Errorf("no text content found in pdf")
		}
		ocrText, ocrErr := s.ocr.Recognize(ctx, content, opts)
		if ocrErr != nil {
			return "", nil, fmt.Errorf("ocr: %w", ocrErr)
		}
		text = ocrText
	}
	return text, &pageCount, nil
}
