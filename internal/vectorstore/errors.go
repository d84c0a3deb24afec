package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for each failure kind. Match them with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict or quota exceeded")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrUnavailable       = errors.New("service unavailable")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Error describes a failed client operation.
type Error struct {
	// Kind is one of the sentinel errors above, or nil for unclassified
	// server responses.
	Kind error
	// Op names the client operation, e.g. "upsert" or "describe_index".
	Op string
	// Status is the HTTP status code, 0 when no response was received.
	Status int
	// Message is the server's error text or a client-side description.
	Message string
	// Batch is the zero-based failing batch of a multi-batch upsert, -1
	// otherwise.
	Batch int
	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Batch >= 0 {
		fmt.Fprintf(&b, " batch %d", e.Batch)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func invalidArg(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...), Batch: -1}
}

func dimensionMismatch(op string, got, want int) error {
	return &Error{
		Kind:    ErrDimensionMismatch,
		Op:      op,
		Message: fmt.Sprintf("vector has %d values, index dimension is %d", got, want),
		Batch:   -1,
	}
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

// kindForStatus maps a response status and body to an error kind.
func kindForStatus(status int, message string) error {
	switch {
	case status == http.StatusBadRequest:
		if strings.Contains(strings.ToLower(message), "dimension") {
			return ErrDimensionMismatch
		}
		return ErrInvalidArgument
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden, status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrUnavailable
	case status >= 500:
		if status == http.StatusNotImplemented {
			return nil
		}
		return ErrUnavailable
	}
	return nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var kind error
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) || isConnReset(err) {
		kind = ErrUnavailable
	}
	return &Error{Kind: kind, Op: op, Err: err, Batch: -1}
}

func isConnReset(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF")
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
