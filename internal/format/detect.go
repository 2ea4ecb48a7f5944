// Package format classifies raw document bytes into one of the supported
// input formats and decides which conversion route handles each of them.
package format

import (
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mdconvert/internal/domain"
)

// Format identifies a supported input format.
type Format string

const (
	Docx     Format = "docx"
	Pptx     Format = "pptx"
	Xlsx     Format = "xlsx"
	HTML     Format = "html"
	Image    Format = "image"
	PDF      Format = "pdf"
	AsciiDoc Format = "asciidoc"
	Markdown Format = "md"
	CSV      Format = "csv"
)

// Route selects the processing strategy for a classified format.
type Route int

const (
	// RouteOffice sends modern Office documents to the office converter.
	RouteOffice Route = iota
	// RoutePassthrough returns markdown content verbatim.
	RoutePassthrough
	// RoutePipeline sends everything else through the general pipeline.
	RoutePipeline
)

// Route returns the processing strategy for f.
func (f Format) Route() Route {
	switch f {
	case Docx, Pptx, Xlsx:
		return RouteOffice
	case Markdown:
		return RoutePassthrough
	default:
		return RoutePipeline
	}
}

// LayoutSensitive reports whether layout-dependent postprocessing applies.
// Only PDF and image inputs carry layout provenance.
func (f Format) LayoutSensitive() bool {
	return f == PDF || f == Image
}

var formatExtensions = map[Format][]string{
	Docx:     {"docx", "dotx", "docm", "dotm"},
	Pptx:     {"pptx", "potx", "ppsx", "pptm", "potm", "ppsm"},
	Xlsx:     {"xlsx", "xlsm", "xltx", "xltm"},
	PDF:      {"pdf"},
	Markdown: {"md"},
	HTML:     {"html", "htm", "xhtml"},
	Image:    {"jpg", "jpeg", "png", "tif", "tiff", "bmp"},
	AsciiDoc: {"adoc", "asciidoc", "asc"},
	CSV:      {"csv"},
}

var formatMIMEs = map[Format][]string{
	Docx: {
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.template",
	},
	Pptx: {
		"application/vnd.openxmlformats-officedocument.presentationml.template",
		"application/vnd.openxmlformats-officedocument.presentationml.slideshow",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
	Xlsx: {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel.sheet.macroEnabled.12",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.template",
	},
	HTML:     {"text/html", "application/xhtml+xml"},
	Image:    {"image/png", "image/jpeg", "image/tiff", "image/gif", "image/bmp"},
	PDF:      {"application/pdf"},
	AsciiDoc: {"text/asciidoc"},
	Markdown: {"text/markdown", "text/x-markdown"},
	CSV:      {"text/csv"},
}

var mimeToFormat = func() map[string]Format {
	m := make(map[string]Format)
	for f, mimes := range formatMIMEs {
		for _, mime := range mimes {
			m[mime] = f
		}
	}
	return m
}()

var legacyOfficeExtensions = map[string]struct{}{
	".doc": {}, ".xls": {}, ".ppt": {},
}

// IsLegacyOffice reports whether filename names an old binary Office file.
func IsLegacyOffice(filename string) bool {
	lower := strings.ToLower(filename)
	for ext := range legacyOfficeExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func isCSV(filename string) bool {
	return filename != "" && strings.HasSuffix(strings.ToLower(filename), ".csv")
}

func extensionOf(filename string) string {
	if filename == "" || strings.HasPrefix(filename, ".") {
		return ""
	}
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

func mimeFromExtension(ext string) string {
	if ext == "" {
		return ""
	}
	for f, exts := range formatExtensions {
		for _, e := range exts {
			if e == ext {
				return formatMIMEs[f][0]
			}
		}
	}
	return ""
}

var (
	xmlCommentRe = regexp.MustCompile(`(?s)<!--(.*?)-->`)
	xmlDeclRe    = regexp.MustCompile(`^<\?xml`)
	htmlOpenRe   = regexp.MustCompile(`^(<!doctype\s+html|<html|<head|<body)`)
)

// detectHTML applies a lightweight textual heuristic for HTML/XHTML content
// on an ASCII-lossy decode of the leading bytes, after stripping comments.
func detectHTML(content []byte) string {
	ascii := make([]byte, 0, len(content))
	for _, b := range content {
		if b < 0x80 {
			ascii = append(ascii, b)
		}
	}
	s := strings.ToLower(string(ascii))
	s = xmlCommentRe.ReplaceAllString(s, "")
	s = strings.TrimLeft(s, " \t\r\n")

	if xmlDeclRe.MatchString(s) {
		head := s
		if len(head) > 1000 {
			head = head[:1000]
		}
		if strings.Contains(head, "xhtml") {
			return "application/xhtml+xml"
		}
	}
	if htmlOpenRe.MatchString(s) {
		return "text/html"
	}
	return ""
}

// Classify sniffs content bytes and falls back to the filename extension to
// resolve the input format. Legacy Office files and anything outside the
// recognized set are rejected with a taxonomy error.
func Classify(content []byte, filename string) (Format, error) {
	if IsLegacyOffice(filename) {
		return "", domain.LegacyFormat(filename)
	}

	// Extension wins over sniffing for CSV; the content is indistinguishable
	// from plain text.
	if isCSV(filename) {
		return CSV, nil
	}

	mime := ""
	detected := mimetype.Detect(content)
	for known := range mimeToFormat {
		if detected.Is(known) {
			mime = known
			break
		}
	}

	if mime == "" {
		mime = mimeFromExtension(extensionOf(filename))
	}
	if mime == "" {
		mime = detectHTML(content)
	}
	if mime == "" {
		mime = "text/plain"
	}

	f, ok := mimeToFormat[mime]
	if !ok {
		return "", domain.UnsupportedFormat(filename, detected.String())
	}
	return f, nil
}
