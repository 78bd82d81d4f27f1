package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/config"
	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/internal/providers/github"
	"github.com/reviewpilot/internal/providers/gitlab"
	"github.com/reviewpilot/pkg/models"
)

// loadConfig loads and validates the configuration, and sets the global log
// level from the verbose flag.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if c.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildLLMClient picks the transport from config: the raw SSE client for
// openai-compatible endpoints, langchaingo for everything else. Both are
// wrapped with retry.
func buildLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	if cfg.LLM.Provider == "openai-compatible" {
		base := llm.NewOpenAICompatible(llm.OpenAICompatibleOptions{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		})
		return llm.NewResilientWithDefaults(base), nil
	}

	connector, err := llm.NewConnector(ctx, llm.ConnectorOptions{
		Provider:    llm.ProviderName(cfg.LLM.Provider),
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm.NewResilientWithDefaults(connector), nil
}

// buildRegistry constructs one SCM adapter per configured credential.
func buildRegistry(cfg *config.Config) (providers.Registry, error) {
	registry := providers.Registry{}

	switch {
	case cfg.GitHubAppConfigured():
		pem, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
		}
		source, err := github.NewAppTokenSource(
			fmt.Sprintf("%d", cfg.GitHub.AppID), cfg.GitHub.InstallationID, pem, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		registry[models.ProviderGitHub] = github.New(cfg.GitHub.BaseURL, source)
	case cfg.GitHub.Token != "":
		registry[models.ProviderGitHub] = github.New(cfg.GitHub.BaseURL, github.StaticToken(cfg.GitHub.Token))
	}

	if cfg.GitLab.Token != "" {
		client, err := gitlab.New(cfg.GitLab.BaseURL, cfg.GitLab.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitLab client: %w", err)
		}
		registry[models.ProviderGitLab] = client
	}

	if len(registry) == 0 {
		return nil, fmt.Errorf("no SCM provider configured")
	}
	return registry, nil
}
