package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/review"
	"github.com/reviewpilot/internal/scan"
	"github.com/reviewpilot/pkg/models"
)

// ReviewCommand returns the review command: a one-shot review of a PR or MR
// URL from the terminal.
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Review a pull/merge request by URL",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Run review without posting comments",
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Review mode: diff or agentic",
				Value:   "diff",
			},
		},
		ArgsUsage: "PR_OR_MR_URL",
		Action:    runReview,
	}
}

func runReview(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: pull/merge request URL")
	}
	rawURL := c.Args().Get(0)

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	repo, cr, err := parseChangeRequestURL(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout())
	defer cancel()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	client, err := registry.For(repo.Provider)
	if err != nil {
		return err
	}
	llmClient, err := buildLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Reviewing %s %s...\n", repo.DisplayName(), cr)

	bundle, err := client.GetDiff(ctx, repo, cr)
	if err != nil {
		return fmt.Errorf("failed to fetch diff: %w", err)
	}

	meta := review.PromptMeta{
		Repository:    repo.DisplayName(),
		ChangeRequest: cr.String(),
		Title:         bundle.Meta.Title,
		Description:   bundle.Meta.Description,
	}

	mode := models.CoerceReviewMode(c.String("mode"))
	var request llm.Request
	var scanFindings []scan.Finding
	if mode == models.ModeAgentic {
		if scanner, scanErr := scan.NewSecretScanner(); scanErr == nil {
			if findings, scanErr := scanner.ScanDiff(bundle.Document); scanErr == nil {
				scanFindings = findings
			}
		}
		request, err = review.BuildAgenticPrompt(meta, bundle.Document, scan.Report(scanFindings))
	} else {
		request, err = review.BuildDiffPrompt(meta, bundle.Document)
	}
	if err != nil {
		return err
	}

	service := review.NewService(llmClient, review.AccumulatorOptions{
		ConfidenceThreshold: cfg.Review.ConfidenceThreshold,
		MaxIssuesPerFile:    cfg.Review.MaxIssuesPerFile,
	})
	result, err := service.Run(ctx, request)
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}
	result = scan.MergeIssues(result, scanFindings)

	printResult(result)

	if c.Bool("dry-run") {
		fmt.Println("\nDry run: not posting comments.")
		return nil
	}

	report, err := client.PublishReview(ctx, repo, cr, result)
	if err != nil {
		return fmt.Errorf("failed to publish review: %w", err)
	}
	fmt.Printf("\nPosted %d inline comments", report.InlineComments)
	if report.FallbackFindings > 0 {
		fmt.Printf(", %d findings in the fallback summary", report.FallbackFindings)
	}
	if len(report.Errors) > 0 {
		fmt.Printf(" (%d findings failed to post)", len(report.Errors))
	}
	fmt.Println()
	return nil
}

func printResult(result models.ReviewResult) {
	fmt.Printf("\nSummary: %s\n", result.Summary)
	if len(result.Issues) > 0 {
		fmt.Printf("\nIssues (%d):\n", len(result.Issues))
		for _, issue := range result.Issues {
			fmt.Printf("  [%s] %s:%d %s\n", issue.Severity, issue.File, issue.StartLine, issue.Title)
			if issue.Suggestion != "" {
				fmt.Printf("      %s\n", issue.Suggestion)
			}
		}
	}
	if len(result.Notes) > 0 {
		fmt.Printf("\nNotes (%d):\n", len(result.Notes))
		for _, note := range result.Notes {
			fmt.Printf("  %s:%d %s\n", note.File, note.Line, note.Text)
		}
	}
}

// parseChangeRequestURL resolves a browser URL like
// https://github.com/owner/repo/pull/123 or
// https://gitlab.com/group/project/-/merge_requests/45 into an addressable
// change request.
func parseChangeRequestURL(raw string) (models.RepositoryID, models.ChangeRequestID, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return models.RepositoryID{}, models.ChangeRequestID{}, fmt.Errorf("invalid change request URL %q", raw)
	}
	path := strings.Trim(u.Path, "/")

	if idx := strings.Index(path, "/-/merge_requests/"); idx >= 0 {
		project := path[:idx]
		number, err := strconv.Atoi(strings.SplitN(path[idx+len("/-/merge_requests/"):], "/", 2)[0])
		if err != nil || number <= 0 {
			return models.RepositoryID{}, models.ChangeRequestID{}, fmt.Errorf("invalid merge request number in %q", raw)
		}
		repo, err := models.GitLabProject(project)
		if err != nil {
			return models.RepositoryID{}, models.ChangeRequestID{}, err
		}
		cr, err := models.MergeRequest(number)
		if err != nil {
			return models.RepositoryID{}, models.ChangeRequestID{}, err
		}
		return repo, cr, nil
	}

	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[2] == "pull" {
		number, err := strconv.Atoi(parts[3])
		if err != nil || number <= 0 {
			return models.RepositoryID{}, models.ChangeRequestID{}, fmt.Errorf("invalid pull request number in %q", raw)
		}
		repo, err := models.GitHubRepository(parts[0], parts[1])
		if err != nil {
			return models.RepositoryID{}, models.ChangeRequestID{}, err
		}
		cr, err := models.PullRequest(number)
		if err != nil {
			return models.RepositoryID{}, models.ChangeRequestID{}, err
		}
		return repo, cr, nil
	}

	return models.RepositoryID{}, models.ChangeRequestID{}, fmt.Errorf("unrecognised change request URL %q", raw)
}
