package convert

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mdconvert/internal/domain"
)

// OCREngine is the narrow seam to the external OCR service. The core never
// depends on how recognition happens, only on getting text back.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, opts domain.ConversionOptions) (string, error)
}

const ocrDefaultTimeout = 120 * time.Second

// HTTPOCREngine calls an OCR service over its JSON recognize endpoint.
type HTTPOCREngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOCREngine builds an OCR client for the given base URL.
func NewHTTPOCREngine(baseURL string, client *http.Client) (*HTTPOCREngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ocr base url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: ocrDefaultTimeout}
	}
	return &HTTPOCREngine{baseURL: baseURL, client: client}, nil
}

type ocrRequest struct {
	Image         string `json:"image"`
	Scale         int    `json:"scale,omitempty"`
	ExtractTables bool   `json:"extract_tables_as_images,omitempty"`
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Recognize submits the image and returns the recognized text.
func (e *HTTPOCREngine) Recognize(ctx context.Context, image []byte, opts domain.ConversionOptions) (string, error) {
	payload := ocrRequest{
		Image:         base64.StdEncoding.EncodeToString(image),
		Scale:         opts.ImageScale,
		ExtractTables: opts.ExtractTableImages,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/recognize", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ocr status %d", resp.StatusCode)
	}
	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ocr: %s", out.Error)
	}
	return out.Text, nil
}
