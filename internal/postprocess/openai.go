package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mdconvert/internal/domain"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 20 * time.Second

	// maxContentLength bounds how much markdown is sent per analysis.
	maxContentLength = 10000
	maxSummaryRunes  = 200
	maxTags          = 5
)

const analysisPrompt = `Analyze the following document and return a JSON object with these fields:

1. "summary": a brief description of the document in 1-2 sentences (max 200 characters), in the document's language.
2. "category": one of "report", "contract", "invoice", "presentation", "manual", "correspondence", "form", "other".
3. "tags": an array of 3-5 search keywords in the document's language.
4. "language": the document's language code (en, cs, de, sk, pl, ...).

Respond ONLY with the JSON object, no other text.

Document:
`

// Options configures the OpenAI-compatible analyzer.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIAnalyzer implements Analyzer against any chat-completions endpoint.
type OpenAIAnalyzer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIAnalyzer(opts Options) (*OpenAIAnalyzer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &OpenAIAnalyzer{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type analysisPayload struct {
	Summary  string   `json:"summary"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Language string   `json:"language"`
}

// Analyze asks the model for the four enrichment fields and normalizes the
// reply. Empty input is an error so callers skip the round trip.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, markdown string) (*domain.Enrichment, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, errors.New("empty content")
	}
	content := markdown
	if len(content) > maxContentLength {
		content = content[:maxContentLength] + "\n\n[... content truncated ...]"
	}

	payload := chatRequest{
		Model:          a.model,
		Temperature:    0.3,
		MaxTokens:      500,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "user", Content: analysisPrompt + content},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	parsed, err := parseAnalysis(text)
	if err != nil {
		return nil, err
	}
	return normalize(parsed), nil
}

// parseAnalysis tolerates models wrapping the JSON in a fenced code block.
func parseAnalysis(text string) (*analysisPayload, error) {
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = strings.TrimPrefix(strings.TrimSpace(parts[1]), "json")
		}
	}
	var payload analysisPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	return &payload, nil
}

func normalize(p *analysisPayload) *domain.Enrichment {
	summary := p.Summary
	if runes := []rune(summary); len(runes) > maxSummaryRunes {
		summary = string(runes[:maxSummaryRunes])
	}
	category := strings.ToLower(strings.TrimSpace(p.Category))
	if _, ok := Categories[category]; !ok {
		category = "other"
	}
	tags := p.Tags
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return &domain.Enrichment{
		Summary:  summary,
		Category: category,
		Tags:     tags,
		Language: strings.TrimSpace(p.Language),
	}
}
