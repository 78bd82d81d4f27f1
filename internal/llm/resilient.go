package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/retry"
)

// Resilient wraps a Client with backoff on calls that fail before any
// content reaches the caller. Once the first delta is delivered the stream
// is live and a failure surfaces as-is: replaying a half-consumed stream
// would duplicate fragments downstream.
type Resilient struct {
	client Client
	config retry.Config
}

func NewResilient(client Client, config retry.Config) *Resilient {
	return &Resilient{client: client, config: config}
}

// NewResilientWithDefaults uses the LLM-tuned retry profile.
func NewResilientWithDefaults(client Client) *Resilient {
	return NewResilient(client, retry.LLMConfig())
}

func (r *Resilient) Provider() string { return r.client.Provider() }
func (r *Resilient) Model() string    { return r.client.Model() }

func (r *Resilient) StreamCompletion(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	var lastText string
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.Backoff(r.config, attempt-1)
			log.Debug().
				Str("provider", r.Provider()).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying LLM stream")
			select {
			case <-ctx.Done():
				return lastText, ctx.Err()
			case <-time.After(delay):
			}
		}

		delivered := false
		text, err := r.client.StreamCompletion(ctx, req, func(ctx context.Context, delta string) error {
			delivered = true
			return fn(ctx, delta)
		})
		if err == nil {
			return text, nil
		}

		lastText, lastErr = text, err
		if delivered || !retry.IsRetryable(err) {
			return text, err
		}
	}

	return lastText, lastErr
}
