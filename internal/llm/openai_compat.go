package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// OpenAICompatible streams chat completions from any endpoint speaking the
// OpenAI SSE dialect: one "data: {json}" frame per delta, closed by a
// "data: [DONE]" sentinel. Empty deltas and frames that fail to decode are
// skipped; the order of the surviving fragments is preserved.
type OpenAICompatible struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// OpenAICompatibleOptions configures the transport.
type OpenAICompatibleOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewOpenAICompatible(opts OpenAICompatibleOptions) *OpenAICompatible {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAICompatible{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
	}
}

func (c *OpenAICompatible) Provider() string { return "openai-compatible" }
func (c *OpenAICompatible) Model() string    { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

const doneSentinel = "[DONE]"

// StreamCompletion posts req and scans the SSE body frame by frame. A
// client-side cancel stops reading at the next frame boundary; the text
// already delivered is returned with ctx's error so the caller keeps a
// consistent prefix.
func (c *OpenAICompatible) StreamCompletion(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := KindTransport
		if ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		return "", &Error{Kind: kind, Provider: c.Provider(), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{
			Kind:     KindTransport,
			Provider: c.Provider(),
			Status:   resp.StatusCode,
			Message:  strings.TrimSpace(string(detail)),
		}
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			log.Debug().Str("payload", truncate(payload, 120)).Msg("Skipping malformed stream frame")
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		delta := frame.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if err := fn(ctx, delta); err != nil {
			return full.String(), err
		}
	}

	if ctx.Err() != nil {
		return full.String(), ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("completion stream interrupted: %w", err)
	}
	return full.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
