// Package embedding turns text into vectors through a hosted embedding API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ratlabs/vecstore/internal/config"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNoAPIKey is returned by New when the selected provider has no key.
var ErrNoAPIKey = errors.New("embedding: api key is required")

// APIError is a non-2xx response from an embedding provider.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s embedding API error (status %d): %s", e.Provider, e.Status, e.Body)
}

const defaultTimeout = 60 * time.Second

// New builds the embedder selected by cfg. When cache is enabled the result
// is wrapped in a CachedEmbedder backed by Redis.
func New(cfg config.EmbeddingConfig, cache config.CacheConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	client := &http.Client{Timeout: defaultTimeout}

	var (
		inner Embedder
		model string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "cohere":
		c := NewCohere(cfg.APIKey, cfg.APIBase, cfg.Model, cfg.Truncate)
		c.httpClient = client
		inner, model = c, "cohere/"+c.model
	case "openai":
		o := NewOpenAI(cfg.APIKey, cfg.APIBase, cfg.Model)
		o.httpClient = client
		inner, model = o, "openai/"+o.model
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}

	if !cache.Enabled {
		return inner, nil
	}
	rc := NewRedisCache(cache.Addr, cache.Password, cache.DB, cache.KeyPrefix, time.Duration(cache.TTLSeconds)*time.Second)
	return NewCached(inner, rc, model, logger), nil
}
