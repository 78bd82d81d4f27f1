package dispatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/reviewpilot/pkg/models"
)

// ReviewJobArgs wraps an AsyncRequest for River. Both streams share one job
// kind; the queue name carries the routing.
type ReviewJobArgs struct {
	Request models.AsyncRequest `json:"request"`
}

func (ReviewJobArgs) Kind() string { return "review_request" }

// reviewWorker delegates to the pipeline. Failures are already settled in
// the status store by Process, so the job itself reports success to River
// and is never retried.
type reviewWorker struct {
	river.WorkerDefaults[ReviewJobArgs]
	pipeline *Pipeline
}

func (w *reviewWorker) Work(ctx context.Context, job *river.Job[ReviewJobArgs]) error {
	// errors surface through the status store, not the jobs table
	_ = w.pipeline.Process(ctx, job.Args.Request)
	return nil
}

// RiverBus is the durable Producer. Requests become River jobs on the queue
// derived from their stream name.
type RiverBus struct {
	client *river.Client[pgx.Tx]
}

// RiverBusConfig sizes the worker pools.
type RiverBusConfig struct {
	// MaxWorkers applies per queue. Zero means 4.
	MaxWorkers int
}

// NewRiverBus builds the River client over an existing pool and registers
// the review worker on both queues.
func NewRiverBus(pool *pgxpool.Pool, pipeline *Pipeline, cfg RiverBusConfig) (*RiverBus, error) {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &reviewWorker{pipeline: pipeline})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName(StreamDiff):    {MaxWorkers: maxWorkers},
			QueueName(StreamAgentic): {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return &RiverBus{client: client}, nil
}

// Start launches the queue workers.
func (b *RiverBus) Start(ctx context.Context) error {
	return b.client.Start(ctx)
}

// Stop drains the workers.
func (b *RiverBus) Stop(ctx context.Context) error {
	return b.client.Stop(ctx)
}

// Send inserts the request as a job on the queue for its mode. Jobs get one
// attempt; the pipeline converts failures into FAILED status entries instead
// of relying on queue retries.
func (b *RiverBus) Send(ctx context.Context, req models.AsyncRequest) (string, error) {
	row, err := b.client.Insert(ctx, ReviewJobArgs{Request: req}, &river.InsertOpts{
		Queue:       QueueName(StreamFor(req.Mode)),
		MaxAttempts: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue review request: %w", err)
	}
	return fmt.Sprintf("%d", row.Job.ID), nil
}
