// Package convert hosts the conversion collaborators: the office converter,
// the markdown passthrough and the general pipeline. Converters never return
// Go errors for input problems; a conversion that cannot produce markdown
// reports a logical failure on the result itself.
package convert

import (
	"context"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/rs/zerolog"

	"mdconvert/internal/domain"
	"mdconvert/internal/format"
)

// Service routes a classified document to the matching converter.
type Service struct {
	ocr OCREngine
	md  *converter.Converter
	log zerolog.Logger
}

// NewService builds a conversion service. The OCR engine may be nil; image
// inputs then fail logically instead of being converted.
func NewService(ocr OCREngine, log zerolog.Logger) *Service {
	return &Service{
		ocr: ocr,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		log: log,
	}
}

// Convert classifies one document and runs the matching conversion strategy.
func (s *Service) Convert(ctx context.Context, doc domain.Document, opts domain.ConversionOptions) domain.ConversionResult {
	opts.Normalize()

	f, err := format.Classify(doc.Content, doc.Filename)
	if err != nil {
		return domain.ConversionResult{Filename: stem(doc.Filename), Error: err.Error()}
	}

	var res domain.ConversionResult
	switch f.Route() {
	case format.RouteOffice:
		res = s.convertOffice(f, doc)
	case format.RoutePassthrough:
		res = passthrough(doc)
	default:
		res = s.convertPipeline(ctx, f, doc, opts)
	}

	if res.Failed() {
		s.log.Warn().Str("filename", doc.Filename).Str("format", string(f)).
			Str("error", res.Error).Msg("conversion produced a logical failure")
	}
	return res
}

// ConvertBatch converts every document, collecting per-item results. One
// failing item never aborts the rest.
func (s *Service) ConvertBatch(ctx context.Context, docs []domain.Document, opts domain.ConversionOptions) []domain.ConversionResult {
	results := make([]domain.ConversionResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, s.Convert(ctx, doc, opts))
	}
	return results
}

// stem strips the final extension from a filename.
func stem(filename string) string {
	if i := strings.LastIndex(filename, "."); i > 0 {
		return filename[:i]
	}
	return filename
}
