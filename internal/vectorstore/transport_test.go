package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, url string, retry RetryPolicy) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:        "key",
		ControllerURL: url,
		Retry:         retry,
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

var fastRetry = RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{Environment: "us-west1-gcp"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing key: expected invalid argument, got %v", err)
	}
	if _, err := NewClient(ClientConfig{APIKey: "k"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing environment: expected invalid argument, got %v", err)
	}
	c, err := NewClient(ClientConfig{APIKey: "k", Environment: "us-west1-gcp"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := c.ControllerURL(); got != "https://controller.us-west1-gcp.pinecone.io" {
		t.Fatalf("unexpected controller url %s", got)
	}
}

func TestRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing request id")
		}
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]string{"a", "b"})
	}))
	defer srv.Close()

	names, err := testClient(t, srv.URL, fastRetry).ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || calls.Load() != 3 {
		t.Fatalf("expected 2 names after 3 calls, got %v after %d", names, calls.Load())
	}
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, fastRetry).ListIndexes(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"message":"bad name"}`, ErrInvalidArgument},
		{http.StatusBadRequest, "Vector dimension 3 does not match the dimension of the index 4", ErrDimensionMismatch},
		{http.StatusUnauthorized, "", ErrUnauthorized},
		{http.StatusForbidden, "quota exceeded", ErrConflict},
		{http.StatusConflict, "exists", ErrConflict},
		{http.StatusNotFound, `{"error":{"message":"no such index"}}`, ErrNotFound},
	}
	for _, tc := range tests {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
			io.WriteString(w, tc.body)
		}))
		_, err := testClient(t, srv.URL, fastRetry).DescribeIndex(context.Background(), "idx")
		srv.Close()
		if n := calls.Load(); n != 1 {
			t.Errorf("status %d: expected exactly one attempt, got %d", tc.status, n)
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
			continue
		}
		var e *Error
		if !errors.As(err, &e) || e.Status != tc.status || e.Op != "describe_index" {
			t.Errorf("status %d: unexpected error detail %#v", tc.status, e)
		}
	}

	var e *Error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"no such index"}}`)
	}))
	defer srv.Close()
	_, err := testClient(t, srv.URL, NoRetry()).DescribeIndex(context.Background(), "idx")
	if !errors.As(err, &e) || e.Message != "no such index" {
		t.Fatalf("expected nested message, got %v", err)
	}
}

func TestDataPlaneErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"message":"invalid filter"}`, ErrInvalidArgument},
		{http.StatusBadRequest, `{"message":"Query vector dimension 3 does not match the dimension of the index 2"}`, ErrDimensionMismatch},
		{http.StatusNotFound, `{"message":"index not found"}`, ErrNotFound},
	}
	for _, tc := range tests {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
			io.WriteString(w, tc.body)
		}))
		idx := testClient(t, srv.URL, fastRetry).IndexWithHost("idx", srv.URL, 0)
		_, err := idx.Query(context.Background(), QueryRequest{Vector: []float32{1, 0, 0}, TopK: 1})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("status %d: expected exactly one attempt, got %d", tc.status, n)
		}
	}
}

func TestWithBatchSizeSplitsUpserts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Vectors []json.RawMessage `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]int{"upsertedCount": len(body.Vectors)})
	}))
	defer srv.Close()

	base := testClient(t, srv.URL, NoRetry()).IndexWithHost("idx", srv.URL, 1)
	idx := base.WithBatchSize(2)
	if idx.BatchSize() != 2 || base.BatchSize() == 2 {
		t.Fatalf("expected a copy with batch size 2, got %d (base %d)", idx.BatchSize(), base.BatchSize())
	}
	if same := idx.WithBatchSize(0); same.BatchSize() != 2 {
		t.Fatalf("non-positive size must keep the current one, got %d", same.BatchSize())
	}
	recs := make([]Record, 5)
	for i := range recs {
		recs[i] = Record{ID: string(rune('a' + i)), Values: []float32{1}}
	}
	n, err := idx.Upsert(context.Background(), recs, "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 5 || calls.Load() != 3 {
		t.Fatalf("expected 5 records in 3 requests, got %d in %d", n, calls.Load())
	}
}

func TestContextCancellationIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testClient(t, srv.URL, fastRetry).ListIndexes(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestUpsertReportsFailingBatch(t *testing.T) {
	var written atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body upsertBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Vectors[0].ID == "bad" {
			http.Error(w, "rejected", http.StatusBadRequest)
			return
		}
		written.Add(int32(len(body.Vectors)))
		json.NewEncoder(w).Encode(upsertResult{UpsertedCount: len(body.Vectors)})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{APIKey: "k", ControllerURL: srv.URL, BatchSize: 2, UpsertConcurrency: 1, Retry: NoRetry(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	idx := c.IndexWithHost("idx", srv.URL, 1)
	recs := []Record{
		{ID: "a", Values: []float32{1}}, {ID: "b", Values: []float32{1}},
		{ID: "c", Values: []float32{1}}, {ID: "d", Values: []float32{1}},
		{ID: "bad", Values: []float32{1}},
	}
	n, err := idx.Upsert(context.Background(), recs, "")
	var e *Error
	if !errors.As(err, &e) || e.Batch != 2 || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected batch 2 invalid argument, got %v", err)
	}
	if n != 4 || written.Load() != 4 {
		t.Fatalf("expected 4 written before failure, got n=%d server=%d", n, written.Load())
	}
	if !strings.Contains(err.Error(), "batch 2") {
		t.Fatalf("error text should name the batch: %v", err)
	}
}

func TestDataPlaneValidatesLocally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()
	idx := testClient(t, srv.URL, NoRetry()).IndexWithHost("idx", srv.URL, 3)
	ctx := context.Background()

	if _, err := idx.Upsert(ctx, []Record{{ID: "a", Values: []float32{1, 2}}}, ""); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("upsert: expected dimension mismatch, got %v", err)
	}
	if _, err := idx.Upsert(ctx, []Record{{Values: []float32{1, 2, 3}}}, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("upsert without id: expected invalid argument, got %v", err)
	}
	if _, err := idx.Query(ctx, QueryRequest{Vector: []float32{1, 2, 3}, ID: "x", TopK: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("query with vector and id: got %v", err)
	}
	if _, err := idx.Query(ctx, QueryRequest{Vector: []float32{1, 2, 3}}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("query with top_k 0: got %v", err)
	}
	if _, err := idx.Query(ctx, QueryRequest{Vector: []float32{1}, TopK: 1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("query dimension: got %v", err)
	}
	if _, err := idx.Query(ctx, QueryRequest{Vector: []float32{1, 2, 3}, TopK: 1, Filter: And{}}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("query with bad filter: got %v", err)
	}
	if err := idx.Delete(ctx, DeleteRequest{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("delete without selector: got %v", err)
	}
	if err := idx.Delete(ctx, DeleteRequest{IDs: []string{"a"}, DeleteAll: true}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("delete with two selectors: got %v", err)
	}
	if err := idx.Update(ctx, UpdateRequest{ID: "a"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty update: got %v", err)
	}
	if _, err := idx.Fetch(ctx, nil, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("fetch without ids: got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no requests, got %d", calls.Load())
	}
}

func TestIndexDerivesHostFromProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/databases/movies":
			json.NewEncoder(w).Encode(IndexDescription{
				Database: IndexDatabase{Name: "movies", Dimension: 8, Metric: MetricCosine},
				Status:   IndexStatus{Ready: true, State: StateReady},
			})
		case "/actions/whoami":
			json.NewEncoder(w).Encode(WhoAmI{ProjectName: "abc123"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{APIKey: "k", Environment: "us-east1-gcp", ControllerURL: srv.URL, Retry: NoRetry(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	idx, err := c.Index(context.Background(), "movies")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if idx.Host() != "https://movies-abc123.svc.us-east1-gcp.pinecone.io" {
		t.Fatalf("unexpected host %s", idx.Host())
	}
	if idx.Dimension() != 8 {
		t.Fatalf("unexpected dimension %d", idx.Dimension())
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("delay %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetryDelayUnbounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 100, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
	prev := time.Duration(0)
	for n := 1; n <= 100; n++ {
		got := p.Delay(n)
		if got < prev {
			t.Fatalf("delay %d went down: %v after %v", n, got, prev)
		}
		prev = got
	}
	if got := p.Delay(40); got != time.Duration(math.MaxInt64) {
		t.Fatalf("expected saturated delay, got %v", got)
	}
	if got := p.Delay(30); got <= 0 {
		t.Fatalf("expected positive delay, got %v", got)
	}
}

func TestPodTypeParsing(t *testing.T) {
	for in, want := range map[string]string{"p1": "p1.x1", "S1.X4": "s1.x4", "p2.x8": "p2.x8"} {
		p, err := ParsePodType(in)
		if err != nil || p.String() != want {
			t.Errorf("%s: expected %s, got %v %v", in, want, p, err)
		}
	}
	for _, bad := range []string{"p3.x1", "p1.x3", ""} {
		if _, err := ParsePodType(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"a", "my-index", "idx2"} {
		if err := ValidateName(ok); err != nil {
			t.Errorf("%s: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "-a", "a-", "My", "under_score", strings.Repeat("a", 46)} {
		if err := ValidateName(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
