package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/pkg/models"
)

// scriptedLLM emits its deltas in order, then returns err.
type scriptedLLM struct {
	deltas []string
	err    error
}

func (s *scriptedLLM) StreamCompletion(ctx context.Context, _ llm.Request, fn llm.StreamFunc) (string, error) {
	var full string
	for _, d := range s.deltas {
		full += d
		if err := fn(ctx, d); err != nil {
			return full, err
		}
	}
	return full, s.err
}

func (s *scriptedLLM) Provider() string { return "scripted" }
func (s *scriptedLLM) Model() string    { return "scripted-1" }

func collect(sub *Subscriber) []string {
	var got []string
	for chunk := range sub.Chunks() {
		got = append(got, chunk.Content)
	}
	return got
}

func TestEngineFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	payload := `{"summary":"looks fine","issues":[],"non_blocking_notes":[]}`
	client := &scriptedLLM{deltas: []string{payload[:20], payload[20:]}}
	engine := NewEngine(client, DefaultAccumulatorOptions())

	fast := engine.Subscribe()
	slow := engine.Subscribe()

	fastDone := make(chan []string, 1)
	go func() { fastDone <- collect(fast) }()

	result, err := engine.Run(context.Background(), llm.Request{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "looks fine", result.Summary)
	require.Equal(t, "scripted", result.LLMProvider)
	require.Equal(t, "scripted-1", result.LLMModel)

	// the slow subscriber reads only after the stream closed; its queue
	// must still hold everything in order
	slowChunks := collect(slow)
	require.Equal(t, []string{payload[:20], payload[20:]}, slowChunks)

	select {
	case fastChunks := <-fastDone:
		require.Equal(t, slowChunks, fastChunks)
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber never finished")
	}
}

func TestEngineSlowSubscriberDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	deltas := make([]string, 50)
	for i := range deltas {
		deltas[i] = "x"
	}
	deltas = append(deltas, `{"summary":"done","issues":[],"non_blocking_notes":[]}`)

	engine := NewEngine(&scriptedLLM{deltas: deltas}, DefaultAccumulatorOptions())
	stalled := engine.Subscribe() // never read until the end
	live := engine.Subscribe()

	liveDone := make(chan int, 1)
	go func() {
		n := 0
		for range live.Chunks() {
			n++
		}
		liveDone <- n
	}()

	_, err := engine.Run(context.Background(), llm.Request{Prompt: "p"})
	require.NoError(t, err)

	select {
	case n := <-liveDone:
		require.Equal(t, len(deltas), n)
	case <-time.After(2 * time.Second):
		t.Fatal("live subscriber starved by stalled sibling")
	}

	require.Len(t, collect(stalled), len(deltas))
}

func TestEngineCancelledSubscriber(t *testing.T) {
	t.Parallel()

	payload := `{"summary":"ok","issues":[],"non_blocking_notes":[]}`
	engine := NewEngine(&scriptedLLM{deltas: []string{payload}}, DefaultAccumulatorOptions())

	gone := engine.Subscribe()
	gone.Cancel()

	result, err := engine.Run(context.Background(), llm.Request{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Summary)
}

func TestEngineStreamErrorDiscardsPartials(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	engine := NewEngine(&scriptedLLM{deltas: []string{`{"summary":"half`}, err: boom}, DefaultAccumulatorOptions())

	sub := engine.Subscribe()
	_, err := engine.Run(context.Background(), llm.Request{Prompt: "p"})
	require.ErrorIs(t, err, boom)

	// the fan-out still closed cleanly for listeners
	require.Equal(t, []string{`{"summary":"half`}, collect(sub))
}

func TestClassifyChunk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		delta string
		want  models.ChunkType
	}{
		{`"severity": "critical", "title": "SQL injection security risk"`, models.ChunkSecurity},
		{`this loop has quadratic performance`, models.ChunkPerformance},
		{`"suggested_fix": "use copy()"`, models.ChunkSuggestion},
		{`{"summary": "fine"}`, models.ChunkAnalysis},
		{`looking at the next file now`, models.ChunkCommentary},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classifyChunk(tc.delta), "delta %q", tc.delta)
	}
}
