package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/search"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

type fakeSearcher struct {
	lastReq   search.Request
	resetNS   string
	resetHits int
	err       error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) ([]search.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return []search.Result{{ID: "1", Score: 0.987, Text: "happy days"}, {ID: "0", Score: 0.1, Text: "meh"}}, nil
}

func (f *fakeSearcher) Reset(_ context.Context, ns string) error {
	f.resetHits++
	f.resetNS = ns
	return f.err
}

func newTestServer(f *fakeSearcher, token string) *Server {
	return New(f, Options{AuthToken: token, Logger: slog.New(slog.DiscardHandler)})
}

func TestSearchReturnsFormattedResults(t *testing.T) {
	f := &fakeSearcher{}
	srv := newTestServer(f, "")

	body := `{"inputs":["a","b"],"query":"joy","namespace":"team","top_k":3}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0] != "0.99: happy days" {
		t.Fatalf("unexpected body: %v", out)
	}
	if f.lastReq.Query != "joy" || f.lastReq.Namespace != "team" || f.lastReq.TopK != 3 || len(f.lastReq.Inputs) != 2 {
		t.Fatalf("unexpected request: %+v", f.lastReq)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header")
	}
}

func TestSearchRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(&fakeSearcher{}, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("X-Request-Id"))
	}
}

func TestSearchErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{"query":`, nil, http.StatusBadRequest},
		{"empty query", `{"query":""}`, search.ErrEmptyQuery, http.StatusBadRequest},
		{"dimension", `{"query":"x"}`, fmt.Errorf("wrap: %w", vectorstore.ErrDimensionMismatch), http.StatusBadRequest},
		{"unavailable", `{"query":"x"}`, vectorstore.ErrUnavailable, http.StatusServiceUnavailable},
		{"provider", `{"query":"x"}`, errors.New("cohere down"), http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeSearcher{err: tc.err}, "")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAuthTokenRequired(t *testing.T) {
	f := &fakeSearcher{}
	srv := newTestServer(f, "s3cret")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/search", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if f.resetHits != 0 {
		t.Fatal("reset must not run without token")
	}

	req := httptest.NewRequest(http.MethodDelete, "/search?namespace=team", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || f.resetNS != "team" {
		t.Fatalf("expected reset of team, got %d ns=%q", rec.Code, f.resetNS)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not need a token, got %d", rec.Code)
	}
}

func TestSlackRouteMountedOnlyWhenConfigured(t *testing.T) {
	srv := newTestServer(&fakeSearcher{}, "")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/commands", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without slack, got %d", rec.Code)
	}

	slack := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	srv = New(&fakeSearcher{}, Options{AuthToken: "tok", Slack: slack, Logger: slog.New(slog.DiscardHandler)})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/commands", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected slack handler without bearer token, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(&fakeSearcher{}, Options{ShutdownTimeout: time.Second, Logger: slog.New(slog.DiscardHandler)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

type fakeClassifier struct {
	inputs []string
}

func (f *fakeClassifier) Classify(_ context.Context, inputs []string) ([]embedding.Classification, error) {
	f.inputs = inputs
	if len(inputs) == 0 {
		return nil, embedding.ErrNoInputs
	}
	out := make([]embedding.Classification, len(inputs))
	for i, in := range inputs {
		out[i] = embedding.Classification{Input: in, Prediction: "joy", Confidence: 0.9}
	}
	return out, nil
}

func TestSentimentClassifiesInputs(t *testing.T) {
	cls := &fakeClassifier{}
	srv := New(&fakeSearcher{}, Options{AuthToken: "tok", Classifier: cls, Logger: slog.New(slog.DiscardHandler)})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sentiment", strings.NewReader(`{"inputs":["yay"]}`)))
	if rec.Code != http.StatusUnauthorized || cls.inputs != nil {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/sentiment", strings.NewReader(`{"inputs":["yay","great"]}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []embedding.Classification
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[1].Input != "great" || out[1].Prediction != "joy" {
		t.Fatalf("unexpected body: %+v", out)
	}

	req = httptest.NewRequest(http.MethodPost, "/sentiment", strings.NewReader(`{"inputs":[]}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty inputs: expected 400, got %d", rec.Code)
	}
}

func TestSentimentWithoutClassifier(t *testing.T) {
	srv := newTestServer(&fakeSearcher{}, "")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sentiment", strings.NewReader(`{"inputs":["x"]}`)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
