package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MaxTopK is the largest result count a query may ask for.
const MaxTopK = 10000

// fetchChunk bounds the number of IDs per fetch request so URLs stay short.
const fetchChunk = 500

// Index is a data-plane handle for one index. It is immutable and safe for
// concurrent use.
type Index struct {
	name        string
	base        string
	dimension   int
	batchSize   int
	concurrency int
	t           *transport
}

func (x *Index) Name() string   { return x.name }
func (x *Index) Host() string   { return x.base }
func (x *Index) Dimension() int { return x.dimension }
func (x *Index) BatchSize() int { return x.batchSize }

// WithBatchSize returns a copy of the handle that upserts n records per
// request. n <= 0 keeps the client's batch size.
func (x *Index) WithBatchSize(n int) *Index {
	cp := *x
	if n > 0 {
		cp.batchSize = n
	}
	return &cp
}

type upsertBody struct {
	Vectors   []Record `json:"vectors"`
	Namespace string   `json:"namespace"`
}

type upsertResult struct {
	UpsertedCount int `json:"upsertedCount"`
}

// Upsert inserts or replaces records by ID. Records are sent in batches that
// run concurrently. On failure the returned count covers the batches that
// succeeded and the error carries the failing batch index; earlier batches
// are not rolled back.
func (x *Index) Upsert(ctx context.Context, records []Record, namespace string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		if err := x.checkRecord("upsert", &records[i]); err != nil {
			return 0, err
		}
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for start, batch := 0, 0; start < len(records); start, batch = start+x.batchSize, batch+1 {
		end := min(start+x.batchSize, len(records))
		chunk := records[start:end]
		b := batch
		g.Go(func() error {
			var res upsertResult
			body := upsertBody{Vectors: chunk, Namespace: namespace}
			if err := x.t.do(gctx, "upsert", http.MethodPost, x.base+"/vectors/upsert", body, &res); err != nil {
				return withBatch(err, b)
			}
			written.Add(int64(res.UpsertedCount))
			x.t.logger.Debug("vectorstore: batch upserted", "index", x.name, "batch", b, "count", res.UpsertedCount)
			return nil
		})
	}
	err := g.Wait()
	return int(written.Load()), err
}

func withBatch(err error, batch int) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Batch = batch
		return &cp
	}
	return &Error{Op: "upsert", Batch: batch, Err: err}
}

func (x *Index) checkRecord(op string, r *Record) error {
	if r.ID == "" {
		return invalidArg(op, "record id is empty")
	}
	if err := x.checkVector(op, r.Values); err != nil {
		return err
	}
	if err := r.Metadata.validate(); err != nil {
		return invalidArg(op, "record %s: %v", r.ID, err)
	}
	return nil
}

func (x *Index) checkVector(op string, v []float32) error {
	if len(v) == 0 {
		return invalidArg(op, "vector is empty")
	}
	if x.dimension > 0 && len(v) != x.dimension {
		return dimensionMismatch(op, len(v), x.dimension)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return invalidArg(op, "vector value %d is not finite", i)
		}
	}
	return nil
}

// Fetch returns the stored records for ids. Missing IDs are omitted.
func (x *Index) Fetch(ctx context.Context, ids []string, namespace string) (*FetchResponse, error) {
	if len(ids) == 0 {
		return nil, invalidArg("fetch", "at least one id is required")
	}
	for _, id := range ids {
		if id == "" {
			return nil, invalidArg("fetch", "id is empty")
		}
	}
	out := &FetchResponse{Vectors: make(map[string]Record, len(ids)), Namespace: namespace}
	for start := 0; start < len(ids); start += fetchChunk {
		end := min(start+fetchChunk, len(ids))
		q := url.Values{}
		for _, id := range ids[start:end] {
			q.Add("ids", id)
		}
		q.Set("namespace", namespace)

		var page FetchResponse
		if err := x.t.do(ctx, "fetch", http.MethodGet, x.base+"/vectors/fetch?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for id, r := range page.Vectors {
			if r.ID == "" {
				r.ID = id
			}
			out.Vectors[id] = r
		}
	}
	return out, nil
}

type queryBody struct {
	Vector          []float32       `json:"vector,omitempty"`
	ID              string          `json:"id,omitempty"`
	TopK            int             `json:"topK"`
	Namespace       string          `json:"namespace"`
	Filter          json.RawMessage `json:"filter,omitempty"`
	IncludeValues   bool            `json:"includeValues"`
	IncludeMetadata bool            `json:"includeMetadata"`
}

// Query returns at most TopK matches ordered by descending score.
func (x *Index) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	hasVec, hasID := len(req.Vector) > 0, req.ID != ""
	if hasVec == hasID {
		return nil, invalidArg("query", "exactly one of vector or id must be set")
	}
	if req.TopK <= 0 || req.TopK > MaxTopK {
		return nil, invalidArg("query", "top_k must be between 1 and %d, got %d", MaxTopK, req.TopK)
	}
	if hasVec {
		if err := x.checkVector("query", req.Vector); err != nil {
			return nil, err
		}
	}
	body := queryBody{
		Vector:          req.Vector,
		ID:              req.ID,
		TopK:            req.TopK,
		Namespace:       req.Namespace,
		IncludeValues:   req.IncludeValues,
		IncludeMetadata: req.IncludeMetadata,
	}
	if req.Filter != nil {
		raw, err := MarshalFilter(req.Filter)
		if err != nil {
			return nil, invalidArg("query", "filter: %v", err)
		}
		body.Filter = raw
	}

	var out QueryResponse
	if err := x.t.do(ctx, "query", http.MethodPost, x.base+"/query", body, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out.Matches, func(i, j int) bool { return out.Matches[i].Score > out.Matches[j].Score })
	if len(out.Matches) > req.TopK {
		out.Matches = out.Matches[:req.TopK]
	}
	if out.Namespace == "" {
		out.Namespace = req.Namespace
	}
	return &out, nil
}

type deleteBody struct {
	IDs       []string        `json:"ids,omitempty"`
	DeleteAll bool            `json:"deleteAll,omitempty"`
	Namespace string          `json:"namespace"`
	Filter    json.RawMessage `json:"filter,omitempty"`
}

// Delete removes records. Deleting absent IDs is not an error.
func (x *Index) Delete(ctx context.Context, req DeleteRequest) error {
	selectors := 0
	if len(req.IDs) > 0 {
		selectors++
	}
	if req.DeleteAll {
		selectors++
	}
	if req.Filter != nil {
		selectors++
	}
	if selectors != 1 {
		return invalidArg("delete", "exactly one of ids, delete_all or filter must be set")
	}
	body := deleteBody{IDs: req.IDs, DeleteAll: req.DeleteAll, Namespace: req.Namespace}
	if req.Filter != nil {
		raw, err := MarshalFilter(req.Filter)
		if err != nil {
			return invalidArg("delete", "filter: %v", err)
		}
		body.Filter = raw
	}
	return x.t.do(ctx, "delete", http.MethodPost, x.base+"/vectors/delete", body, nil)
}

type updateBody struct {
	ID          string    `json:"id"`
	Values      []float32 `json:"values,omitempty"`
	SetMetadata Metadata  `json:"setMetadata,omitempty"`
	Namespace   string    `json:"namespace"`
}

// Update replaces the values and/or merges SetMetadata into one record.
func (x *Index) Update(ctx context.Context, req UpdateRequest) error {
	if req.ID == "" {
		return invalidArg("update", "id is required")
	}
	if req.Values == nil && req.SetMetadata == nil {
		return invalidArg("update", "values or set_metadata is required")
	}
	if req.Values != nil {
		if err := x.checkVector("update", req.Values); err != nil {
			return err
		}
	}
	if err := req.SetMetadata.validate(); err != nil {
		return invalidArg("update", "%v", err)
	}
	body := updateBody{ID: req.ID, Values: req.Values, SetMetadata: req.SetMetadata, Namespace: req.Namespace}
	return x.t.do(ctx, "update", http.MethodPost, x.base+"/vectors/update", body, nil)
}

type statsBody struct {
	Filter json.RawMessage `json:"filter,omitempty"`
}

// DescribeIndexStats reports per-namespace record counts, restricted to
// records matching filter when it is non-nil.
func (x *Index) DescribeIndexStats(ctx context.Context, filter Filter) (*IndexStats, error) {
	var body statsBody
	if filter != nil {
		raw, err := MarshalFilter(filter)
		if err != nil {
			return nil, invalidArg("describe_index_stats", "filter: %v", err)
		}
		body.Filter = raw
	}
	var out IndexStats
	if err := x.t.do(ctx, "describe_index_stats", http.MethodPost, x.base+"/describe_index_stats", body, &out); err != nil {
		return nil, err
	}
	if out.Namespaces == nil {
		out.Namespaces = map[string]NamespaceStats{}
	}
	return &out, nil
}
