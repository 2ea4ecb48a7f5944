package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"mdconvert/internal/domain"
	"mdconvert/internal/format"
)

// convertOffice handles the modern Office formats. DOCX and PPTX are OOXML
// ZIP archives whose text lives in well-known XML parts; XLSX goes through
// excelize so formula results and shared strings resolve correctly.
func (s *Service) convertOffice(f format.Format, doc domain.Document) domain.ConversionResult {
	name := stem(doc.Filename)
	var (
		markdown string
		pages    *int
		err      error
	)
	switch f {
	case format.Xlsx:
		markdown, pages, err = xlsxToMarkdown(doc.Content)
	case format.Docx:
		markdown, err = docxToMarkdown(doc.Content)
	case format.Pptx:
		markdown, pages, err = pptxToMarkdown(doc.Content)
	default:
		err = fmt.Errorf("no office converter for format %s", f)
	}
	if err != nil {
		return domain.ConversionResult{Filename: name, Error: err.Error()}
	}
	return domain.ConversionResult{Filename: name, Markdown: markdown, Pages: pages}
}

func xlsxToMarkdown(content []byte) (string, *int, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	var sb strings.Builder
	sheets := wb.GetSheetList()
	for i, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n", sheet)
		writeMarkdownTable(&sb, rows)
	}
	n := len(sheets)
	return strings.TrimRight(sb.String(), "\n") + "\n", &n, nil
}

func writeMarkdownTable(sb *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.ReplaceAll(row[i], "|", "\\|")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sb.WriteString("|")
	for i := 0; i < width; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
}

// docxToMarkdown reads word/document.xml out of the archive and walks its
// paragraphs, mapping Heading styles to markdown headings.
func docxToMarkdown(content []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in archive")
	}
	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sb strings.Builder
	var current strings.Builder
	var inParagraph bool
	var style string

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "p":
				inParagraph = true
				current.Reset()
				style = ""
			case t.Name.Local == "pStyle" && inParagraph:
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						style = attr.Value
					}
				}
			case t.Name.Local == "br" && inParagraph:
				current.WriteByte('\n')
			case t.Name.Local == "tab" && inParagraph:
				current.WriteByte('\t')
			}
		case xml.CharData:
			if inParagraph {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph {
				inParagraph = false
				text := strings.TrimSpace(current.String())
				if text == "" {
					continue
				}
				if level := docxHeadingLevel(style); level > 0 {
					sb.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
				} else {
					sb.WriteString(text + "\n\n")
				}
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content found in document")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

var docxHeadingRe = regexp.MustCompile(`(?i)^heading(\d)$`)

func docxHeadingLevel(style string) int {
	m := docxHeadingRe.FindStringSubmatch(style)
	if m == nil {
		if strings.EqualFold(style, "Title") {
			return 1
		}
		return 0
	}
	level := int(m[1][0] - '0')
	if level < 1 || level > 6 {
		return 0
	}
	return level
}

var slideFileRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// pptxToMarkdown extracts the a:t text runs of every slide, one section per
// slide, in slide order. The slide count doubles as the page count.
func pptxToMarkdown(content []byte) (string, *int, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", nil, fmt.Errorf("open archive: %w", err)
	}

	type slide struct {
		nr   int
		file *zip.File
	}
	var slides []slide
	for _, f := range r.File {
		m := slideFileRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		nr := 0
		for _, c := range m[1] {
			nr = nr*10 + int(c-'0')
		}
		slides = append(slides, slide{nr: nr, file: f})
	}
	if len(slides) == 0 {
		return "", nil, fmt.Errorf("no slides found in archive")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].nr < slides[j].nr })

	var sb strings.Builder
	for i, sl := range slides {
		text, err := slideText(sl.file)
		if err != nil {
			return "", nil, fmt.Errorf("read slide %d: %w", sl.nr, err)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## Slide %d\n\n", sl.nr)
		if text != "" {
			sb.WriteString(text + "\n")
		}
	}
	n := len(slides)
	return sb.String(), &n, nil
}

func slideText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var lines []string
	var current strings.Builder
	var inRun bool

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.CharData:
			if inRun {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if line := strings.TrimSpace(current.String()); line != "" {
					lines = append(lines, line)
				}
				current.Reset()
			}
		}
	}
	if line := strings.TrimSpace(current.String()); line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
