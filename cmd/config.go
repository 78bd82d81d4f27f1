package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/config"
	"github.com/reviewpilot/internal/llm"
)

// ConfigCommand returns the config command group: init writes a starter
// reviewpilot.toml, validate checks the loaded configuration and can probe
// the LLM credentials against the live provider.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "reviewpilot.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "live",
						Usage: "Also verify the LLM API key with a minimal provider call",
					},
				},
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

// runConfigValidate checks the static shape of the configuration. With
// --live it also exercises the configured LLM credentials, so a bad key
// surfaces here instead of on the first review.
func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Println("Configuration is valid")

	if !c.Bool("live") {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// openai-compatible endpoints answer the native OpenAI validation call
	provider := llm.ProviderName(cfg.LLM.Provider)
	if cfg.LLM.Provider == "openai-compatible" {
		provider = llm.ProviderOpenAI
	}

	ok, err := llm.ValidateKey(ctx, provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return fmt.Errorf("key check did not complete: %w", err)
	}
	if !ok {
		return fmt.Errorf("LLM provider %s rejected the configured API key", cfg.LLM.Provider)
	}
	fmt.Printf("LLM provider %s accepted the API key\n", cfg.LLM.Provider)
	return nil
}
