package review

import (
	"context"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/pkg/models"
)

// Service mints a fresh engine per review run. Engines are one-shot (their
// fan-out hub closes when Run returns), so long-lived callers hold a Service
// and not an Engine.
type Service struct {
	Client  llm.Client
	Options AccumulatorOptions
}

func NewService(client llm.Client, opts AccumulatorOptions) *Service {
	return &Service{Client: client, Options: opts}
}

// NewRun returns an engine ready to subscribe to and run.
func (s *Service) NewRun() *Engine {
	return NewEngine(s.Client, s.Options)
}

// Run executes one review without live subscribers.
func (s *Service) Run(ctx context.Context, req llm.Request) (models.ReviewResult, error) {
	return s.NewRun().Run(ctx, req)
}
