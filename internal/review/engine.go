package review

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/pkg/models"
)

// Subscriber receives every chunk published after it subscribed, in order,
// through an unbounded FIFO. A slow subscriber grows its own queue and never
// holds back the publisher or its siblings.
type Subscriber struct {
	in   chan models.ReviewChunk
	out  chan models.ReviewChunk
	done chan struct{}
	once sync.Once
}

// Chunks is closed once the upstream stream ends and the queue drains.
func (s *Subscriber) Chunks() <-chan models.ReviewChunk {
	return s.out
}

// Cancel detaches the subscriber; queued chunks are dropped.
func (s *Subscriber) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscriber) pump() {
	var queue []models.ReviewChunk
	in := s.in
	for {
		var ready chan models.ReviewChunk
		var head models.ReviewChunk
		if len(queue) > 0 {
			ready = s.out
			head = queue[0]
		} else if in == nil {
			close(s.out)
			return
		}

		select {
		case chunk, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, chunk)
		case ready <- head:
			queue = queue[1:]
		case <-s.done:
			close(s.out)
			return
		}
	}
}

// Hub fans one chunk stream out to any number of subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   []*Subscriber
	closed bool
}

func NewHub() *Hub {
	return &Hub{}
}

// Subscribe attaches a new subscriber. Subscribing to a closed hub yields an
// already-drained subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		in:   make(chan models.ReviewChunk),
		out:  make(chan models.ReviewChunk),
		done: make(chan struct{}),
	}
	go sub.pump()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.in)
		return sub
	}
	h.subs = append(h.subs, sub)
	return sub
}

// Publish hands the chunk to every live subscriber. Each handoff is to the
// subscriber's pump, not its consumer, so publishing never waits on a reader.
func (h *Hub) Publish(chunk models.ReviewChunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.in <- chunk:
		case <-sub.done:
		}
	}
}

// Close ends the stream for all subscribers; their queues still drain.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		close(sub.in)
	}
	h.subs = nil
}

// Engine drives one review stream: it prompts the model, types each delta
// into a ReviewChunk, feeds subscribers and the accumulator in lockstep, and
// folds the final result.
type Engine struct {
	client llm.Client
	hub    *Hub
	acc    *Accumulator
}

func NewEngine(client llm.Client, opts AccumulatorOptions) *Engine {
	return &Engine{
		client: client,
		hub:    NewHub(),
		acc:    NewAccumulator(opts),
	}
}

// Subscribe attaches a live listener, typically an SSE handler.
func (e *Engine) Subscribe() *Subscriber {
	return e.hub.Subscribe()
}

// Run streams the completion to every subscriber and the accumulator, then
// returns the folded result. A transport failure or cancellation closes the
// fan-out and surfaces the error; nothing partial is returned.
func (e *Engine) Run(ctx context.Context, req llm.Request) (models.ReviewResult, error) {
	defer e.hub.Close()

	_, err := e.client.StreamCompletion(ctx, req, func(ctx context.Context, delta string) error {
		chunk := models.NewChunk(classifyChunk(delta), delta)
		e.acc.Add(chunk)
		e.hub.Publish(chunk)
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Int("chunks", e.acc.Chunks()).Msg("Review stream ended with error")
		return models.ReviewResult{}, err
	}

	result, err := e.acc.Result()
	if err != nil {
		return models.ReviewResult{}, err
	}
	result.LLMProvider = e.client.Provider()
	result.LLMModel = e.client.Model()
	return result, nil
}

// classifyChunk types a delta by its dominant content. Deltas are fragments
// of one JSON document, so this is a hint for live consumers, not a parse.
func classifyChunk(delta string) models.ChunkType {
	lower := strings.ToLower(delta)
	switch {
	case strings.Contains(lower, "security") || strings.Contains(lower, "vulnerab") || strings.Contains(lower, "cve-"):
		return models.ChunkSecurity
	case strings.Contains(lower, "performance") || strings.Contains(lower, "latency"):
		return models.ChunkPerformance
	case strings.Contains(lower, "suggested_fix") || strings.Contains(lower, "suggestion"):
		return models.ChunkSuggestion
	case strings.ContainsAny(delta, "{}[]:"):
		return models.ChunkAnalysis
	default:
		return models.ChunkCommentary
	}
}
