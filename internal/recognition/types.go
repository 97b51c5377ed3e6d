package recognition

import (
	"context"
	"fmt"
	"io"
)

// AudioInput is one uploaded file. Open is only called after the request has passed
// validation.
type AudioInput struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Result is the recognition output for one input
type Result struct {
	Key string `json:"key"`
	// Text is the display rendering with tags turned into annotations
	Text      string   `json:"text"`
	CleanText string   `json:"clean_text"`
	Emotions  []string `json:"emotions"`
	Events    []string `json:"events"`
	// Raw is the untouched tagged transcript
	Raw string `json:"raw"`
}

// ValidationError reports a malformed request shape
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// EngineError reports a failed recognition call
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("recognition engine failed: %v", e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is added to every log line of the batch
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id set by WithRequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
