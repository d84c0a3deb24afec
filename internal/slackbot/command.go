// Package slackbot answers the /query slash command: it gathers a user's
// recent Slack messages and ranks them against a query.
package slackbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/ratlabs/vecstore/internal/embedding"
	"github.com/ratlabs/vecstore/internal/search"
)

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
}

// Classifier labels messages by sentiment.
type Classifier interface {
	Classify(ctx context.Context, inputs []string) ([]embedding.Classification, error)
}

// MessageSource returns the messages written by a user.
type MessageSource interface {
	UserMessages(ctx context.Context, userID string) ([]string, error)
}

const responseEphemeral = "ephemeral"

// mentionRE matches an escaped user mention, <@U123> or <@U123|name>.
var mentionRE = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// Options configures a Handler.
type Options struct {
	SigningSecret string
	DefaultQuery  string
	TopK          int
	Timeout       time.Duration
	// Classifier, when set, adds a sentiment tally of the messages.
	Classifier Classifier
	Logger     *slog.Logger
	// Post delivers the delayed answer to the command's response URL.
	// Defaults to slack.PostWebhookContext.
	Post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// Handler is the http.Handler for Slack slash commands. The command is
// acknowledged at once and answered through its response URL.
type Handler struct {
	source  MessageSource
	search  Searcher
	opts    Options
	logger  *slog.Logger
	pending sync.WaitGroup
}

func NewHandler(source MessageSource, searcher Searcher, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if strings.TrimSpace(opts.DefaultQuery) == "" {
		opts.DefaultQuery = "joy"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Post == nil {
		opts.Post = slack.PostWebhookContext
	}
	return &Handler{source: source, search: searcher, opts: opts, logger: opts.Logger}
}

// Wait blocks until every acknowledged command has been answered.
func (h *Handler) Wait() { h.pending.Wait() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if err := h.verify(r.Header, body); err != nil {
		h.logger.Warn("slackbot: rejected request", "error", err)
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid slash command", http.StatusBadRequest)
		return
	}

	userID, query, ok := ParseCommandText(cmd.Text)
	if !ok {
		respond(w, "Usage: "+cmd.Command+" @user [query]")
		return
	}
	if query == "" {
		query = h.opts.DefaultQuery
	}
	h.logger.Info("slackbot: command", "command", cmd.Command, "user", cmd.UserID, "target", userID, "query", query)

	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.Timeout)
		defer cancel()
		h.answer(ctx, cmd.ResponseURL, userID, query)
	}()
	respond(w, fmt.Sprintf("Searching messages from <@%s> for %q...", userID, query))
}

func (h *Handler) verify(header http.Header, body []byte) error {
	if h.opts.SigningSecret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, h.opts.SigningSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

func (h *Handler) answer(ctx context.Context, responseURL, userID, query string) {
	text, err := h.run(ctx, userID, query)
	if err != nil {
		h.logger.Error("slackbot: search failed", "user", userID, "error", err)
		text = "Search failed: " + err.Error()
	}
	if responseURL == "" {
		return
	}
	msg := &slack.WebhookMessage{ResponseType: responseEphemeral, Text: text}
	if err := h.opts.Post(ctx, responseURL, msg); err != nil {
		h.logger.Error("slackbot: post response failed", "error", err)
	}
}

func (h *Handler) run(ctx context.Context, userID, query string) (string, error) {
	msgs, err := h.source.UserMessages(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No messages from <@%s> found.", userID), nil
	}
	results, err := h.search.Search(ctx, search.Request{
		Inputs:    msgs,
		Query:     query,
		Namespace: "slack-" + strings.ToLower(userID),
		TopK:      h.opts.TopK,
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Messages from <@%s> closest to %q:\n", userID, query)
	for _, r := range results {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	if mood := h.mood(ctx, msgs); mood != "" {
		b.WriteString(mood)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// mood summarizes the predicted sentiment of msgs. Classification failures
// are logged and leave the answer without a summary.
func (h *Handler) mood(ctx context.Context, msgs []string) string {
	if h.opts.Classifier == nil {
		return ""
	}
	cls, err := h.opts.Classifier.Classify(ctx, msgs)
	if err != nil {
		h.logger.Warn("slackbot: sentiment failed", "error", err)
		return ""
	}
	parts := make([]string, 0, len(cls))
	for _, lc := range embedding.Tally(cls) {
		parts = append(parts, fmt.Sprintf("%s x%d", lc.Label, lc.Count))
	}
	return "Sentiment: " + strings.Join(parts, ", ")
}

// ParseCommandText extracts the mentioned user and the remaining query text.
func ParseCommandText(text string) (userID, query string, ok bool) {
	m := mentionRE.FindStringSubmatchIndex(text)
	if m == nil {
		return "", "", false
	}
	userID = text[m[2]:m[3]]
	rest := text[:m[0]] + " " + text[m[1]:]
	return userID, strings.Join(strings.Fields(rest), " "), true
}

func respond(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&slack.Msg{ResponseType: responseEphemeral, Text: text})
}
