package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const userAgent = "vecstore-go/1"

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 4096

type transport struct {
	apiKey string
	client *http.Client
	retry  RetryPolicy
	logger *slog.Logger
}

// do sends one JSON request with retries. in may be nil; out may be nil to
// discard the body. A text response is decoded into *string outputs.
func (t *transport) do(ctx context.Context, op, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: ErrInvalidArgument, Op: op, Message: fmt.Sprintf("encode request: %v", err), Batch: -1}
		}
		payload = b
	}
	return t.retry.Do(ctx, t.logger, op, func(ctx context.Context) error {
		return t.once(ctx, op, method, url, payload, out)
	})
}

func (t *transport) once(ctx context.Context, op, method, url string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &Error{Kind: ErrInvalidArgument, Op: op, Message: err.Error(), Batch: -1}
	}
	req.Header.Set("Api-Key", t.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(data)
		return &Error{
			Kind:    kindForStatus(resp.StatusCode, msg),
			Op:      op,
			Status:  resp.StatusCode,
			Message: msg,
			Batch:   -1,
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if s, ok := out.(*string); ok && !json.Valid(data) {
		*s = strings.TrimSpace(string(data))
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err), Batch: -1}
	}
	return nil
}

// errorMessage extracts a readable message from a plain-text or JSON error
// body ({"message": ...} or {"error": {"message": ...}}).
func errorMessage(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	if len(data) > 0 && data[0] == '{' {
		var body struct {
			Message string          `json:"message"`
			Error   json.RawMessage `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			if body.Message != "" {
				return body.Message
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(body.Error, &s) == nil && s != "" {
				return s
			}
		}
	}
	return string(data)
}
