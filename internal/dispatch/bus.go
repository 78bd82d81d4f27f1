package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/pkg/models"
)

// Producer enqueues review requests for asynchronous processing. Send
// returns the record id assigned by the backend.
type Producer interface {
	Send(ctx context.Context, req models.AsyncRequest) (string, error)
}

// Record is one entry on a stream.
type Record struct {
	ID      string
	Stream  string
	Request models.AsyncRequest
}

// MemoryBus is an in-process stream backend. Each stream is an append-only
// log; Read blocks until a record past the consumer's cursor exists. Records
// are retained so a late consumer can replay from the start.
type MemoryBus struct {
	mu      sync.Mutex
	streams map[string][]Record
	seq     int64
	wake    chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		streams: make(map[string][]Record),
		wake:    make(chan struct{}),
	}
}

// Send appends to the stream selected by the request's mode.
func (b *MemoryBus) Send(_ context.Context, req models.AsyncRequest) (string, error) {
	stream := StreamFor(req.Mode)

	b.mu.Lock()
	b.seq++
	record := Record{
		ID:      fmt.Sprintf("%d-0", b.seq),
		Stream:  stream,
		Request: req,
	}
	b.streams[stream] = append(b.streams[stream], record)
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	log.Debug().
		Str("stream", stream).
		Str("request_id", req.RequestID).
		Str("record_id", record.ID).
		Msg("review request queued")
	return record.ID, nil
}

// Read returns the record at offset on the stream, blocking until one
// arrives or the context ends.
func (b *MemoryBus) Read(ctx context.Context, stream string, offset int) (Record, error) {
	for {
		b.mu.Lock()
		records := b.streams[stream]
		if offset < len(records) {
			record := records[offset]
			b.mu.Unlock()
			return record, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-wake:
		}
	}
}

// Len reports the number of records on a stream.
func (b *MemoryBus) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

// Runner consumes both streams of a MemoryBus and feeds the pipeline. It is
// the worker half of the in-process deployment.
type Runner struct {
	bus      *MemoryBus
	pipeline *Pipeline

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRunner(bus *MemoryBus, pipeline *Pipeline) *Runner {
	return &Runner{bus: bus, pipeline: pipeline}
}

// Start launches one consumer goroutine per stream.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, stream := range []string{StreamDiff, StreamAgentic} {
		r.wg.Add(1)
		go r.consume(ctx, stream)
	}
}

// Stop cancels the consumers and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) consume(ctx context.Context, stream string) {
	defer r.wg.Done()
	offset := 0
	for {
		record, err := r.bus.Read(ctx, stream, offset)
		if err != nil {
			return
		}
		offset++
		if err := r.pipeline.Process(ctx, record.Request); err != nil {
			log.Error().
				Err(err).
				Str("stream", stream).
				Str("request_id", record.Request.RequestID).
				Msg("review request failed")
		}
	}
}
