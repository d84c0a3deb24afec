// Package search implements the embed, index and query flow behind the
// /search endpoint and the Slack command.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// TextKey is the metadata field holding the indexed text.
const TextKey = "text"

// ErrEmptyQuery is returned when a request has no query text.
var ErrEmptyQuery = errors.New("search: query is empty")

// Request is one search call. Inputs are indexed before the query runs;
// Namespace and TopK fall back to the service defaults when zero.
type Request struct {
	Inputs    []string `json:"inputs"`
	Query     string   `json:"query"`
	Namespace string   `json:"namespace,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

// Result is one ranked hit.
type Result struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Text  string  `json:"text"`
}

func (r Result) String() string {
	return fmt.Sprintf("%.2f: %s", r.Score, r.Text)
}

// Service runs searches against one index.
type Service struct {
	client    *vectorstore.Client
	embedder  embedding.Embedder
	index     string
	metric    vectorstore.Metric
	namespace string
	topK      int
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	handle *vectorstore.Index
}

func New(client *vectorstore.Client, embedder embedding.Embedder, cfg config.SearchConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	metric := vectorstore.Metric(cfg.Metric)
	if !metric.Valid() {
		metric = vectorstore.MetricDotProduct
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		client:    client,
		embedder:  embedder,
		index:     cfg.Index,
		metric:    metric,
		namespace: cfg.Namespace,
		topK:      topK,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// IndexName returns the index the service writes to.
func (s *Service) IndexName() string { return s.index }

// Search indexes req.Inputs under ids "0".."n-1" and returns the records
// closest to req.Query. The index is created on first use with the
// embedding width as its dimension.
func (s *Service) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	ns := req.Namespace
	if ns == "" {
		ns = s.namespace
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}

	texts := make([]string, 0, len(req.Inputs)+1)
	texts = append(texts, req.Inputs...)
	texts = append(texts, req.Query)
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	queryVec := vecs[len(vecs)-1]

	idx, err := s.ensureIndex(ctx, len(queryVec))
	if err != nil {
		return nil, err
	}

	if len(req.Inputs) > 0 {
		records := make([]vectorstore.Record, len(req.Inputs))
		for i, text := range req.Inputs {
			records[i] = vectorstore.Record{
				ID:       strconv.Itoa(i),
				Values:   vecs[i],
				Metadata: vectorstore.Metadata{TextKey: vectorstore.String(text)},
			}
		}
		n, err := idx.Upsert(ctx, records, ns)
		if err != nil {
			return nil, fmt.Errorf("upsert inputs: %w", err)
		}
		s.logger.Debug("search: inputs indexed", "index", s.index, "namespace", ns, "count", n)
	}

	resp, err := idx.Query(ctx, vectorstore.QueryRequest{
		Vector:          queryVec,
		TopK:            topK,
		Namespace:       ns,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	results := make([]Result, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		text, _ := m.Metadata[TextKey].AsString()
		results = append(results, Result{ID: m.ID, Score: m.Score, Text: text})
	}
	return results, nil
}

// Reset deletes every record in namespace (the service default when empty).
// A missing index is not an error.
func (s *Service) Reset(ctx context.Context, namespace string) error {
	if namespace == "" {
		namespace = s.namespace
	}
	idx, err := s.existingIndex(ctx)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := idx.Delete(ctx, vectorstore.DeleteRequest{DeleteAll: true, Namespace: namespace}); err != nil {
		return fmt.Errorf("reset namespace %q: %w", namespace, err)
	}
	s.logger.Info("search: namespace cleared", "index", s.index, "namespace", namespace)
	return nil
}

func (s *Service) existingIndex(ctx context.Context) (*vectorstore.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, nil
	}
	idx, err := s.client.Index(ctx, s.index)
	if err != nil {
		return nil, err
	}
	s.handle = idx.WithBatchSize(s.batchSize)
	return s.handle, nil
}

func (s *Service) ensureIndex(ctx context.Context, dimension int) (*vectorstore.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, nil
	}

	_, err := s.client.DescribeIndex(ctx, s.index)
	switch {
	case errors.Is(err, vectorstore.ErrNotFound):
		s.logger.Info("search: creating index", "index", s.index, "dimension", dimension, "metric", s.metric)
		err = s.client.CreateIndex(ctx, vectorstore.CreateIndexRequest{
			Name:      s.index,
			Dimension: dimension,
			Metric:    s.metric,
		})
		if err != nil && !errors.Is(err, vectorstore.ErrConflict) {
			return nil, fmt.Errorf("create index %s: %w", s.index, err)
		}
	case err != nil:
		return nil, fmt.Errorf("describe index %s: %w", s.index, err)
	}
	if _, err := s.client.WaitForReady(ctx, s.index); err != nil {
		return nil, fmt.Errorf("wait for index %s: %w", s.index, err)
	}

	idx, err := s.client.Index(ctx, s.index)
	if err != nil {
		return nil, err
	}
	if idx.Dimension() != 0 && idx.Dimension() != dimension {
		return nil, fmt.Errorf("index %s has dimension %d, embeddings have %d: %w",
			s.index, idx.Dimension(), dimension, vectorstore.ErrDimensionMismatch)
	}
	s.handle = idx.WithBatchSize(s.batchSize)
	return s.handle, nil
}
