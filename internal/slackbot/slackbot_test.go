package slackbot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/search"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func fakeSlackAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/conversations.list":
			if r.FormValue("cursor") == "" {
				_, _ = io.WriteString(w, `{"ok":true,"channels":[{"id":"C1","name":"general"},{"id":"CX","name":"locked"}],"response_metadata":{"next_cursor":"page2"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"ok":true,"channels":[{"id":"C2","name":"random"}],"response_metadata":{"next_cursor":""}}`)
		case "/conversations.history":
			switch r.FormValue("channel") {
			case "C1":
				_, _ = io.WriteString(w, `{"ok":true,"messages":[
					{"type":"message","user":"U1","text":"what a joyful day"},
					{"type":"message","user":"U2","text":"not mine"},
					{"type":"message","user":"U1","text":""}]}`)
			case "C2":
				_, _ = io.WriteString(w, `{"ok":true,"messages":[{"type":"message","user":"U1","text":"lunch was great"}]}`)
			default:
				_, _ = io.WriteString(w, `{"ok":false,"error":"not_in_channel"}`)
			}
		default:
			t.Errorf("unexpected slack call %s", r.URL.Path)
			_, _ = io.WriteString(w, `{"ok":false,"error":"unknown_method"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHistoryCollectsUserMessagesAcrossChannels(t *testing.T) {
	api := fakeSlackAPI(t)
	h := NewHistory(NewAPI("xoxb-test", api.URL), 50, slog.New(slog.DiscardHandler))

	msgs, err := h.UserMessages(context.Background(), "U1")
	if err != nil {
		t.Fatalf("user messages: %v", err)
	}
	if strings.Join(msgs, "|") != "what a joyful day|lunch was great" {
		t.Fatalf("unexpected messages: %q", msgs)
	}
}

func TestParseCommandText(t *testing.T) {
	tests := []struct {
		text, user, query string
		ok                bool
	}{
		{"<@U123|alice>", "U123", "", true},
		{"<@U123|alice> happy times", "U123", "happy times", true},
		{"  sad <@W9>  ", "W9", "sad", true},
		{"alice", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range tests {
		user, query, ok := ParseCommandText(tc.text)
		if user != tc.user || query != tc.query || ok != tc.ok {
			t.Errorf("ParseCommandText(%q) = %q %q %v, want %q %q %v", tc.text, user, query, ok, tc.user, tc.query, tc.ok)
		}
	}
}

type staticSource struct{ msgs []string }

func (s staticSource) UserMessages(context.Context, string) ([]string, error) { return s.msgs, nil }

type recordingSearcher struct {
	mu  sync.Mutex
	req search.Request
	err error
}

func (r *recordingSearcher) Search(_ context.Context, req search.Request) ([]search.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	return []search.Result{{Score: 0.5, Text: req.Inputs[0]}}, nil
}

type capturedPost struct {
	mu   sync.Mutex
	url  string
	msgs []*slack.WebhookMessage
}

func (c *capturedPost) post(_ context.Context, u string, msg *slack.WebhookMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = u
	c.msgs = append(c.msgs, msg)
	return nil
}

func signedCommand(t *testing.T, text string, ts time.Time) *http.Request {
	t.Helper()
	form := url.Values{
		"command":      {"/query"},
		"text":         {text},
		"user_id":      {"UCALLER"},
		"channel_id":   {"C1"},
		"response_url": {"https://hooks.example/resp"},
	}
	body := form.Encode()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte("v0:" + stamp + ":" + body))
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func decodeMsg(t *testing.T, rec *httptest.ResponseRecorder) slack.Msg {
	t.Helper()
	var msg slack.Msg
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode ack: %v (%s)", err, rec.Body.String())
	}
	return msg
}

func TestHandlerAnswersThroughResponseURL(t *testing.T) {
	searcher := &recordingSearcher{}
	posts := &capturedPost{}
	h := NewHandler(staticSource{msgs: []string{"so much joy"}}, searcher, Options{
		SigningSecret: testSecret,
		TopK:          3,
		Post:          posts.post,
		Logger:        slog.New(slog.DiscardHandler),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedCommand(t, "<@U1|bob>", time.Now()))
	h.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ack := decodeMsg(t, rec); ack.ResponseType != "ephemeral" || !strings.Contains(ack.Text, "joy") {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if searcher.req.Query != "joy" || searcher.req.Namespace != "slack-u1" || searcher.req.TopK != 3 {
		t.Fatalf("unexpected search request: %+v", searcher.req)
	}
	if posts.url != "https://hooks.example/resp" || len(posts.msgs) != 1 {
		t.Fatalf("expected one post to response url, got %q %d", posts.url, len(posts.msgs))
	}
	if got := posts.msgs[0]; got.ResponseType != "ephemeral" || !strings.Contains(got.Text, "0.50: so much joy") {
		t.Fatalf("unexpected answer: %+v", got)
	}
}

type labelClassifier struct{ err error }

func (l labelClassifier) Classify(_ context.Context, inputs []string) ([]embedding.Classification, error) {
	if l.err != nil {
		return nil, l.err
	}
	out := make([]embedding.Classification, len(inputs))
	for i, in := range inputs {
		out[i] = embedding.Classification{Input: in, Prediction: "neutral"}
		if strings.Contains(in, "joy") {
			out[i].Prediction = "joy"
		}
	}
	return out, nil
}

func TestHandlerAddsSentimentTally(t *testing.T) {
	posts := &capturedPost{}
	h := NewHandler(staticSource{msgs: []string{"joy!", "more joy", "lunch"}}, &recordingSearcher{}, Options{
		SigningSecret: testSecret,
		Classifier:    labelClassifier{},
		Post:          posts.post,
		Logger:        slog.New(slog.DiscardHandler),
	})
	h.ServeHTTP(httptest.NewRecorder(), signedCommand(t, "<@U1>", time.Now()))
	h.Wait()
	if len(posts.msgs) != 1 || !strings.HasSuffix(posts.msgs[0].Text, "Sentiment: joy x2, neutral x1") {
		t.Fatalf("expected sentiment tally, got %+v", posts.msgs)
	}

	posts = &capturedPost{}
	h = NewHandler(staticSource{msgs: []string{"joy!"}}, &recordingSearcher{}, Options{
		SigningSecret: testSecret,
		Classifier:    labelClassifier{err: errors.New("classify down")},
		Post:          posts.post,
		Logger:        slog.New(slog.DiscardHandler),
	})
	h.ServeHTTP(httptest.NewRecorder(), signedCommand(t, "<@U1>", time.Now()))
	h.Wait()
	if len(posts.msgs) != 1 || strings.Contains(posts.msgs[0].Text, "Sentiment") || !strings.Contains(posts.msgs[0].Text, "0.50: joy!") {
		t.Fatalf("classifier failure must not break the answer, got %+v", posts.msgs)
	}
}

func TestHandlerReportsSearchFailure(t *testing.T) {
	posts := &capturedPost{}
	h := NewHandler(staticSource{msgs: []string{"x"}}, &recordingSearcher{err: errors.New("index unavailable")}, Options{
		SigningSecret: testSecret,
		Post:          posts.post,
		Logger:        slog.New(slog.DiscardHandler),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedCommand(t, "<@U1> sad", time.Now()))
	h.Wait()
	if len(posts.msgs) != 1 || !strings.Contains(posts.msgs[0].Text, "index unavailable") {
		t.Fatalf("expected failure answer, got %+v", posts.msgs)
	}
}

func TestHandlerRejectsBadSignatures(t *testing.T) {
	h := NewHandler(staticSource{}, &recordingSearcher{}, Options{SigningSecret: testSecret, Logger: slog.New(slog.DiscardHandler)})

	req := signedCommand(t, "<@U1>", time.Now())
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedCommand(t, "<@U1>", time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", rec.Code)
	}
}

func TestHandlerUsageWithoutMention(t *testing.T) {
	posts := &capturedPost{}
	h := NewHandler(staticSource{}, &recordingSearcher{}, Options{SigningSecret: testSecret, Post: posts.post, Logger: slog.New(slog.DiscardHandler)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedCommand(t, "nobody", time.Now()))
	h.Wait()
	if ack := decodeMsg(t, rec); !strings.HasPrefix(ack.Text, "Usage: /query") {
		t.Fatalf("expected usage text, got %q", ack.Text)
	}
	if len(posts.msgs) != 0 {
		t.Fatal("no answer expected for usage errors")
	}
}
