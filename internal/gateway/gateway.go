// Package gateway serves the search flow over HTTP.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/search"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// Searcher is the part of search.Service the gateway uses.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
	Reset(ctx context.Context, namespace string) error
}

// Classifier is the sentiment model behind /sentiment.
type Classifier interface {
	Classify(ctx context.Context, inputs []string) ([]embedding.Classification, error)
}

// Options configures a Server.
type Options struct {
	Addr            string
	AuthToken       string
	ShutdownTimeout time.Duration
	// Classifier serves POST /sentiment. Without one the route answers 501.
	Classifier Classifier
	// Slack, when set, is mounted at /slack/commands. It authenticates with
	// Slack's request signature rather than AuthToken.
	Slack  http.Handler
	Logger *slog.Logger
}

// Server is the HTTP front-end.
type Server struct {
	search Searcher
	opts   Options
	logger *slog.Logger
	mux    *http.ServeMux
}

const maxBodyBytes = 4 << 20

type ctxKey struct{}

func New(searcher Searcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{search: searcher, opts: opts, logger: opts.Logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /search", s.requireToken(http.HandlerFunc(s.handleSearch)))
	s.mux.Handle("DELETE /search", s.requireToken(http.HandlerFunc(s.handleReset)))
	s.mux.Handle("POST /sentiment", s.requireToken(http.HandlerFunc(s.handleSentiment)))
	if opts.Slack != nil {
		s.mux.Handle("POST /slack/commands", opts.Slack)
	}
	return s
}

// ServeHTTP stamps every request with an X-Request-Id and logs it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, reqID)))
	s.logger.Info("gateway: request",
		"method", r.Method, "path", r.URL.Path, "status", rec.status,
		"duration", time.Since(start), "request_id", reqID)
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Run listens on opts.Addr until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway: listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("gateway: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.opts.AuthToken == "" {
		return next
	}
	want := []byte(s.opts.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	results, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.fail(w, r, "search", err)
		return
	}
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.search.Reset(r.Context(), r.URL.Query().Get("namespace")); err != nil {
		s.fail(w, r, "reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sentimentRequest struct {
	Inputs []string `json:"inputs"`
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	if s.opts.Classifier == nil {
		writeError(w, http.StatusNotImplemented, "sentiment classification is not configured")
		return
	}
	var req sentimentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	cls, err := s.opts.Classifier.Classify(r.Context(), req.Inputs)
	if err != nil {
		s.fail(w, r, "sentiment", err)
		return
	}
	writeJSON(w, http.StatusOK, cls)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("gateway: "+op+" failed", "error", err, "request_id", RequestID(r.Context()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, embedding.ErrNoInputs),
		errors.Is(err, vectorstore.ErrInvalidArgument),
		errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
