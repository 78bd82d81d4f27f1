package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ProviderName identifies a hosted or local model provider.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderGemini ProviderName = "gemini"
	ProviderClaude ProviderName = "claude"
	ProviderCohere ProviderName = "cohere"
	ProviderOllama ProviderName = "ollama"
)

// ConnectorOptions configures a provider-backed connector.
type ConnectorOptions struct {
	Provider    ProviderName `json:"provider"`
	APIKey      string       `json:"api_key"`
	BaseURL     string       `json:"base_url,omitempty"`
	Model       string       `json:"model,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

// Connector adapts the langchain model abstraction to the Client contract,
// so Gemini, Claude, Cohere, Ollama and native OpenAI all stream through the
// same path as the raw SSE transport.
type Connector struct {
	provider ProviderName
	llm      llms.Model
	options  ConnectorOptions
}

// NewConnector creates a connector for the configured provider.
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating LLM connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &Connector{
		provider: options.Provider,
		llm:      model,
		options:  options,
	}, nil
}

func (c *Connector) Provider() string { return string(c.provider) }
func (c *Connector) Model() string    { return c.options.Model }

// StreamCompletion drives the model with a streaming callback. langchain
// delivers chunks in order on a single goroutine, matching the StreamFunc
// contract directly.
func (c *Connector) StreamCompletion(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	callOpts := []llms.CallOption{
		llms.WithTemperature(pickFloat(req.Temperature, c.options.Temperature)),
	}
	if maxTokens := pickInt(req.MaxTokens, c.options.MaxTokens); maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if model := pickString(req.Model, c.options.Model); model != "" {
		callOpts = append(callOpts, llms.WithModel(model))
	}

	var full strings.Builder
	callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		full.WriteString(string(chunk))
		return fn(ctx, string(chunk))
	}))

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOpts...)
	if err != nil {
		return full.String(), fmt.Errorf("LLM call failed: %w", err)
	}
	return response, nil
}

// ValidateKey checks credentials with a minimal generation call. An invalid
// key reports (false, nil); only infrastructure trouble returns an error.
func ValidateKey(ctx context.Context, provider ProviderName, apiKey, baseURL string) (bool, error) {
	if provider == ProviderOllama {
		// no API key concept; reachability and at least one pulled model
		// count as valid
		models, err := fetchOllamaTags(ctx, baseURL)
		if err != nil || len(models) == 0 {
			return false, nil
		}
		return true, nil
	}

	options := ConnectorOptions{
		Provider:    provider,
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       defaultValidationModel(provider),
		Temperature: 0.7,
	}

	connector, err := NewConnector(ctx, options)
	if err != nil {
		return false, fmt.Errorf("failed to create connector: %w", err)
	}

	_, err = llms.GenerateFromSinglePrompt(ctx, connector.llm, "test",
		llms.WithMaxTokens(10), llms.WithModel(options.Model))
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
			return false, fmt.Errorf("quota exceeded, key is likely valid but rate limited: %w", err)
		}
		log.Debug().Err(err).Str("provider", string(provider)).Msg("Key validation call failed")
		return false, nil
	}
	return true, nil
}

func defaultValidationModel(provider ProviderName) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderClaude:
		return "claude-3-5-haiku-latest"
	case ProviderCohere:
		return "command"
	case ProviderOllama:
		return "llama3"
	default:
		return ""
	}
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(options.APIKey),
		openai.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	if options.MaxTokens > 0 {
		opts = append(opts, googleai.WithDefaultMaxTokens(options.MaxTokens))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	}
	return anthropic.New(opts...)
}

func createCohereModel(options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	opts := []ollama.Option{
		ollama.WithServerURL(baseURL),
		ollama.WithModel(options.Model),
	}
	return ollama.New(opts...)
}

type ollamaTag struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// fetchOllamaTags lists the models an Ollama instance has pulled.
func fetchOllamaTags(ctx context.Context, baseURL string) ([]ollamaTag, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama API returned status %d", resp.StatusCode)
	}

	var tags struct {
		Models []ollamaTag `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}
	return tags.Models, nil
}

func pickFloat(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

func pickInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func pickString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
