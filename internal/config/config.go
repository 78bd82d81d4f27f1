// Package config loads the layered application configuration: confmap
// defaults, then an optional reviewpilot.toml, then REVIEWPILOT_ environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full application configuration.
type Config struct {
	Server struct {
		Host string `koanf:"host"`
		Port int    `koanf:"port"`
	} `koanf:"server"`

	Auth struct {
		// APIKeys guards the webhook surface. Entries starting with "$2"
		// are treated as bcrypt hashes, anything else as a plain key.
		APIKeys         []string `koanf:"api_keys"`
		WebhooksEnabled bool     `koanf:"webhooks_enabled"`
	} `koanf:"auth"`

	Dispatch struct {
		// PostgresURL enables the River-backed queue and durable stores.
		// Empty means in-process bus and memory stores.
		PostgresURL    string `koanf:"postgres_url"`
		MaxWorkers     int    `koanf:"max_workers"`
		JobTimeout     string `koanf:"job_timeout"`
		StatusTTL      string `koanf:"status_ttl"`
		IdempotencyTTL string `koanf:"idempotency_ttl"`
	} `koanf:"dispatch"`

	Review struct {
		ConfidenceThreshold float64 `koanf:"confidence_threshold"`
		MaxIssuesPerFile    int     `koanf:"max_issues_per_file"`
		PublishOnComplete   bool    `koanf:"publish_on_complete"`
	} `koanf:"review"`

	LLM struct {
		// Provider selects the langchaingo backend (openai, gemini, claude,
		// cohere, ollama). "openai-compatible" uses the raw SSE transport
		// against BaseURL instead.
		Provider    string  `koanf:"provider"`
		APIKey      string  `koanf:"api_key"`
		BaseURL     string  `koanf:"base_url"`
		Model       string  `koanf:"model"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int     `koanf:"max_tokens"`
	} `koanf:"llm"`

	GitHub struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`

		// App auth, used instead of Token when all three are set.
		AppID          int64  `koanf:"app_id"`
		InstallationID int64  `koanf:"installation_id"`
		PrivateKeyPath string `koanf:"private_key_path"`
	} `koanf:"github"`

	GitLab struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`
	} `koanf:"gitlab"`
}

// LoadConfig loads the configuration, optionally from an explicit path.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.host":                 "0.0.0.0",
		"server.port":                 8080,
		"auth.webhooks_enabled":       true,
		"dispatch.max_workers":        4,
		"dispatch.job_timeout":        "5m",
		"dispatch.status_ttl":         "1h",
		"dispatch.idempotency_ttl":    "24h",
		"review.confidence_threshold": 0.5,
		"review.max_issues_per_file":  10,
		"llm.provider":                "openai",
		"llm.temperature":             0.2,
		"github.base_url":             "https://api.github.com",
		"gitlab.base_url":             "https://gitlab.com",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./reviewpilot.toml", "$HOME/.reviewpilot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// REVIEWPILOT_SERVER_PORT -> server.port; only the first underscore
	// becomes a separator so keys like api_keys survive
	k.Load(env.Provider("REVIEWPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "REVIEWPILOT_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// JobTimeout returns the parsed per-review deadline.
func (c *Config) JobTimeout() time.Duration {
	return duration(c.Dispatch.JobTimeout, 5*time.Minute)
}

// StatusTTL returns the parsed status entry lifetime.
func (c *Config) StatusTTL() time.Duration {
	return duration(c.Dispatch.StatusTTL, time.Hour)
}

// IdempotencyTTL returns the parsed idempotency key lifetime.
func (c *Config) IdempotencyTTL() time.Duration {
	return duration(c.Dispatch.IdempotencyTTL, 24*time.Hour)
}

// GitHubAppConfigured reports whether App auth should replace the token.
func (c *Config) GitHubAppConfigured() bool {
	return c.GitHub.AppID > 0 && c.GitHub.InstallationID > 0 && c.GitHub.PrivateKeyPath != ""
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ReviewPilot Configuration

[server]
host = "0.0.0.0"
port = 8080

[auth]
# plain keys or bcrypt hashes (entries starting with $2)
api_keys = ["change-me"]
webhooks_enabled = true

[dispatch]
# leave empty for the in-process queue and memory stores
postgres_url = ""
max_workers = 4
job_timeout = "5m"
status_ttl = "1h"
idempotency_ttl = "24h"

[review]
# 0 keeps every issue regardless of confidence
confidence_threshold = 0.5
max_issues_per_file = 10
publish_on_complete = false

[llm]
provider = "openai"
api_key = "your-llm-api-key"
model = "gpt-4o"
temperature = 0.2

[github]
base_url = "https://api.github.com"
token = "your-github-token"

[gitlab]
base_url = "https://gitlab.com"
token = "your-gitlab-token"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate checks the fields the server cannot run without.
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if config.LLM.Provider == "" {
		return fmt.Errorf("llm provider is required")
	}
	if config.LLM.Provider == "ollama" || config.LLM.Provider == "openai-compatible" {
		if config.LLM.BaseURL == "" {
			return fmt.Errorf("llm base_url is required for provider %s", config.LLM.Provider)
		}
	} else if config.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required for provider %s", config.LLM.Provider)
	}

	if config.GitHub.Token == "" && !config.GitHubAppConfigured() && config.GitLab.Token == "" {
		return fmt.Errorf("at least one SCM credential is required (github token, github app, or gitlab token)")
	}

	if config.Review.ConfidenceThreshold < 0 || config.Review.ConfidenceThreshold > 1 {
		return fmt.Errorf("review confidence_threshold must be between 0 and 1")
	}
	if config.Review.MaxIssuesPerFile <= 0 {
		return fmt.Errorf("review max_issues_per_file must be positive")
	}

	return nil
}
