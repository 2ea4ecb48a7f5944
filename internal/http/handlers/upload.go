package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"mdconvert/internal/domain"
)

// multipartMemory caps the in-memory portion of an upload; larger parts
// spill to temp files.
const multipartMemory = 32 << 20

// readUpload drains one multipart file into a Document, enforcing the
// configured size cap.
func (a *App) readUpload(fh *multipart.FileHeader) (domain.Document, error) {
	if a.MaxUploadBytes > 0 && fh.Size > a.MaxUploadBytes {
		return domain.Document{}, domain.FileTooLarge(fh.Filename, fh.Size, a.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return domain.Document{}, domain.Internal("failed to read uploaded file")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return domain.Document{}, domain.Internal("failed to read uploaded file")
	}
	return domain.Document{Filename: fh.Filename, Content: content}, nil
}

// singleUpload extracts the "document" part of the form.
func (a *App) singleUpload(r *http.Request) (domain.Document, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return domain.Document{}, domain.InvalidParameter("document", nil, "multipart form with a document file is required")
	}
	files := r.MultipartForm.File["document"]
	if len(files) == 0 {
		return domain.Document{}, domain.InvalidParameter("document", nil, "document file is required")
	}
	return a.readUpload(files[0])
}

// multiUpload extracts every "documents" part of the form.
func (a *App) multiUpload(r *http.Request) ([]domain.Document, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, domain.InvalidParameter("documents", nil, "multipart form with document files is required")
	}
	files := r.MultipartForm.File["documents"]
	if len(files) == 0 {
		return nil, domain.InvalidParameter("documents", nil, "at least one document file is required")
	}
	docs := make([]domain.Document, 0, len(files))
	for _, fh := range files {
		doc, err := a.readUpload(fh)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// conversionOptions reads the shared query parameters. The scale must be
// within [1, 4] when provided.
func conversionOptions(r *http.Request) (domain.ConversionOptions, error) {
	opts := domain.ConversionOptions{ImageScale: domain.DefaultImageScale}

	if v := r.URL.Query().Get("extract_tables_as_images"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, domain.InvalidParameter("extract_tables_as_images", v, "must be a boolean")
		}
		opts.ExtractTableImages = b
	}
	if v := r.URL.Query().Get("image_resolution_scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < domain.MinImageScale || n > domain.MaxImageScale {
			return opts, domain.InvalidParameter("image_resolution_scale", v, "must be an integer between 1 and 4")
		}
		opts.ImageScale = n
	}
	return opts, nil
}
