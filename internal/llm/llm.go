package llm

import (
	"context"
	"fmt"
)

// Request is one completion call against a model.
type Request struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// StreamFunc receives each non-empty content delta in arrival order.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, delta string) error

// Client drives a completion and streams its deltas. StreamCompletion
// returns the concatenated response text; on failure it returns whatever
// prefix was already delivered alongside the error.
type Client interface {
	StreamCompletion(ctx context.Context, req Request, fn StreamFunc) (string, error)
	Provider() string
	Model() string
}

// ErrorKind classifies a completion failure.
type ErrorKind string

const (
	KindTransport ErrorKind = "TRANSPORT"
	KindTimeout   ErrorKind = "TIMEOUT"
	KindMalformed ErrorKind = "MALFORMED"
)

// Error describes a failed call to a completion endpoint.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s %d %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", e.Provider, e.Kind, e.Message)
}
