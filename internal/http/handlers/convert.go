package handlers

import (
	"net/http"

	"mdconvert/internal/domain"
	"mdconvert/internal/format"
)

// ConvertDocument converts a single upload synchronously. A conversion
// failure is a request failure here, unlike the async surfaces where it
// becomes a terminal job record.
func (a *App) ConvertDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.singleUpload(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	opts, err := conversionOptions(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := format.Classify(doc.Content, doc.Filename); err != nil {
		a.fail(w, err)
		return
	}

	result := a.Converter.Convert(r.Context(), doc, opts)
	if result.Failed() {
		a.fail(w, domain.ConversionFailed("", result.Error))
		return
	}
	a.json(w, http.StatusOK, result)
}

// ConvertDocuments converts several uploads synchronously. Per-document
// failures stay embedded in the corresponding result; the request itself
// fails only on invalid input.
func (a *App) ConvertDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.multiUpload(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	opts, err := conversionOptions(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	for _, doc := range docs {
		if _, err := format.Classify(doc.Content, doc.Filename); err != nil {
			a.fail(w, err)
			return
		}
	}

	results := a.Converter.ConvertBatch(r.Context(), docs, opts)
	a.json(w, http.StatusOK, results)
}
