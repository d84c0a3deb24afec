package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
)

// API is the subset of *slack.Client used to read conversations.
type API interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// NewAPI builds a Slack Web API client. An empty apiURL means the public
// endpoint.
func NewAPI(botToken, apiURL string) *slack.Client {
	opts := []slack.Option{}
	if base := strings.TrimSpace(apiURL); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	return slack.New(botToken, opts...)
}

// History collects a user's messages from every channel the bot can read.
type History struct {
	api    API
	limit  int
	logger *slog.Logger
}

// NewHistory reads at most limit recent messages per channel.
func NewHistory(api API, limit int, logger *slog.Logger) *History {
	if limit <= 0 {
		limit = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &History{api: api, limit: limit, logger: logger}
}

// UserMessages returns the text of userID's messages, newest first per
// channel. A channel whose history cannot be read is skipped.
func (h *History) UserMessages(ctx context.Context, userID string) ([]string, error) {
	var out []string
	cursor := ""
	for {
		chs, next, err := h.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
		})
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, ch := range chs {
			msgs, err := h.channelMessages(ctx, ch.ID, userID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				h.logger.Warn("slackbot: read history failed", "channel", ch.ID, "error", err)
				continue
			}
			out = append(out, msgs...)
		}
		cursor = strings.TrimSpace(next)
		if cursor == "" {
			return out, nil
		}
	}
}

func (h *History) channelMessages(ctx context.Context, channelID, userID string) ([]string, error) {
	resp, err := h.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     h.limit,
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range resp.Messages {
		if m.User == userID && strings.TrimSpace(m.Text) != "" {
			out = append(out, m.Text)
		}
	}
	return out, nil
}
