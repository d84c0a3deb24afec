package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultCohereBase  = "https://api.cohere.ai"
	defaultCohereModel = "small"
	// cohereMaxTexts is the per-request text limit of the embed endpoint.
	cohereMaxTexts = 96
)

// CohereEmbedder calls Cohere's /v1/embed endpoint.
type CohereEmbedder struct {
	apiKey     string
	apiBase    string
	model      string
	truncate   string
	httpClient *http.Client
}

// NewCohere creates a Cohere embedder. Empty base and model fall back to the
// public endpoint and the "small" model.
func NewCohere(apiKey, apiBase, model, truncate string) *CohereEmbedder {
	if apiBase == "" {
		apiBase = defaultCohereBase
	}
	if model == "" {
		model = defaultCohereModel
	}
	return &CohereEmbedder{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		truncate:   strings.ToUpper(truncate),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Embed embeds texts, splitting into requests of at most 96 texts.
func (c *CohereEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += cohereMaxTexts {
		end := min(start+cohereMaxTexts, len(texts))
		vecs, err := c.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *CohereEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"texts": texts,
		"model": c.model,
	}
	if c.truncate != "" {
		body["truncate"] = c.truncate
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute embed request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "cohere", Status: resp.StatusCode, Body: apiMessage(respBody)}
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere returned %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}

// apiMessage extracts {"message": "..."} when present.
func apiMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error.Message != "" {
			return m.Error.Message
		}
	}
	return strings.TrimSpace(string(body))
}
