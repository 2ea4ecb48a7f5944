// Package postprocess enriches converted markdown with a short summary,
// a category, search tags and the detected language. The analysis is
// best-effort: callers treat every error as "no enrichment", never as a
// job failure.
package postprocess

import (
	"context"

	"mdconvert/internal/domain"
)

// Analyzer produces enrichment for converted markdown.
type Analyzer interface {
	Analyze(ctx context.Context, markdown string) (*domain.Enrichment, error)
}

// Categories is the closed set the analyzer may return; anything else is
// coerced to "other".
var Categories = map[string]struct{}{
	"report":         {},
	"contract":       {},
	"invoice":        {},
	"presentation":   {},
	"manual":         {},
	"correspondence": {},
	"form":           {},
	"other":          {},
}
