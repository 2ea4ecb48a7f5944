package convert

import (
	"unicode/utf8"

	"mdconvert/internal/domain"
)

// passthrough returns markdown content verbatim. The only way it can fail is
// the file not being valid UTF-8.
func passthrough(doc domain.Document) domain.ConversionResult {
	if !utf8.Valid(doc.Content) {
		return domain.ConversionResult{
			Filename: stem(doc.Filename),
			Error:    "markdown file is not valid UTF-8",
		}
	}
	return domain.ConversionResult{
		Filename: stem(doc.Filename),
		Markdown: string(doc.Content),
	}
}
