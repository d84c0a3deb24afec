package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/dataprep"
)

// cohereMaxInputs is the per-request input limit of the classify endpoint.
const cohereMaxInputs = 96

var (
	// ErrNoInputs is returned by Classify when there is nothing to classify.
	ErrNoInputs = errors.New("classify: inputs are empty")
	// ErrNoExamples is returned when neither a model nor examples are configured.
	ErrNoExamples = errors.New("classify: a fine-tuned model or labelled examples are required")
)

// Classification is the predicted label for one input.
type Classification struct {
	Input      string             `json:"input"`
	Prediction string             `json:"prediction"`
	Confidence float32            `json:"confidence"`
	Labels     map[string]float32 `json:"labels,omitempty"`
}

// Classifier labels texts, one Classification per input in input order.
type Classifier interface {
	Classify(ctx context.Context, inputs []string) ([]Classification, error)
}

// CohereClassifier calls Cohere's /v1/classify endpoint, either with a
// fine-tuned model or with labelled examples sent on every request.
type CohereClassifier struct {
	apiKey     string
	apiBase    string
	model      string
	examples   []dataprep.Example
	httpClient *http.Client
}

func NewCohereClassifier(apiKey, apiBase, model string, examples []dataprep.Example) *CohereClassifier {
	if apiBase == "" {
		apiBase = defaultCohereBase
	}
	return &CohereClassifier{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		examples:   examples,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClassifier builds the sentiment classifier from cfg, reading the
// examples file when one is configured.
func NewClassifier(cfg config.SentimentConfig) (*CohereClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	var examples []dataprep.Example
	if cfg.ExamplesPath != "" {
		f, err := os.Open(cfg.ExamplesPath)
		if err != nil {
			return nil, fmt.Errorf("open examples: %w", err)
		}
		defer f.Close()
		examples, err = dataprep.ReadExamples(f)
		if err != nil {
			return nil, fmt.Errorf("read examples %s: %w", cfg.ExamplesPath, err)
		}
	}
	if cfg.Model == "" && len(examples) == 0 {
		return nil, ErrNoExamples
	}
	return NewCohereClassifier(cfg.APIKey, cfg.APIBase, cfg.Model, examples), nil
}

// Classify labels inputs, splitting into requests of at most 96 inputs.
func (c *CohereClassifier) Classify(ctx context.Context, inputs []string) ([]Classification, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	out := make([]Classification, 0, len(inputs))
	for start := 0; start < len(inputs); start += cohereMaxInputs {
		end := min(start+cohereMaxInputs, len(inputs))
		res, err := c.classify(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (c *CohereClassifier) classify(ctx context.Context, inputs []string) ([]Classification, error) {
	body := map[string]any{"inputs": inputs}
	if c.model != "" {
		body["model"] = c.model
	}
	if len(c.examples) > 0 {
		body["examples"] = c.examples
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/classify", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute classify request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "cohere", Status: resp.StatusCode, Body: apiMessage(respBody)}
	}

	var parsed struct {
		Classifications []struct {
			Input      string  `json:"input"`
			Prediction string  `json:"prediction"`
			Confidence float32 `json:"confidence"`
			Labels     map[string]struct {
				Confidence float32 `json:"confidence"`
			} `json:"labels"`
		} `json:"classifications"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse classify response: %w", err)
	}
	if len(parsed.Classifications) != len(inputs) {
		return nil, fmt.Errorf("cohere returned %d classifications for %d inputs", len(parsed.Classifications), len(inputs))
	}
	out := make([]Classification, len(inputs))
	for i, pc := range parsed.Classifications {
		cl := Classification{Input: pc.Input, Prediction: pc.Prediction, Confidence: pc.Confidence}
		if cl.Input == "" {
			cl.Input = inputs[i]
		}
		if len(pc.Labels) > 0 {
			cl.Labels = make(map[string]float32, len(pc.Labels))
			for label, v := range pc.Labels {
				cl.Labels[label] = v.Confidence
			}
		}
		out[i] = cl
	}
	return out, nil
}

// LabelCount is how often one label was predicted.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Tally counts predictions, most frequent first, ties by label.
func Tally(cls []Classification) []LabelCount {
	counts := map[string]int{}
	for _, c := range cls {
		counts[c.Prediction]++
	}
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
