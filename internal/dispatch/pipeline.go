package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/internal/review"
	"github.com/reviewpilot/internal/scan"
	"github.com/reviewpilot/internal/store"
	"github.com/reviewpilot/pkg/models"
)

// Reviewer runs a prepared LLM request to completion. *review.Engine is the
// production implementation.
type Reviewer interface {
	Run(ctx context.Context, req llm.Request) (models.ReviewResult, error)
}

var _ Reviewer = (*review.Engine)(nil)

// Pipeline executes one review request end to end: status bookkeeping, diff
// retrieval, prompt construction, the LLM round trip, archival, and an
// optional publish back to the provider.
type Pipeline struct {
	Providers providers.Registry
	Reviewer  Reviewer
	Scanner   scan.Scanner
	Status    store.StatusStore
	Archive   store.ReviewArchive

	// JobTimeout bounds a single review. Zero means 5 minutes.
	JobTimeout time.Duration

	// AutoPublish posts the result back to the change request after a
	// successful review.
	AutoPublish bool
}

// Process runs the request. The returned error mirrors what was recorded in
// the status store; callers use it for logging only, the job is never
// retried by the queue.
func (p *Pipeline) Process(ctx context.Context, req models.AsyncRequest) error {
	start := time.Now()

	if err := p.Status.MarkProcessing(ctx, req.RequestID); err != nil {
		// a terminal entry means this is a duplicate delivery
		log.Warn().
			Err(err).
			Str("request_id", req.RequestID).
			Msg("skipping request with settled status")
		return nil
	}

	timeout := p.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.run(jobCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		if markErr := p.Status.MarkFailed(ctx, req.RequestID, oneLine(err), elapsed); markErr != nil {
			log.Error().Err(markErr).Str("request_id", req.RequestID).Msg("failed to record failure")
		}
		return err
	}

	if p.Archive != nil {
		if _, archiveErr := p.Archive.SaveReview(jobCtx, req, result); archiveErr != nil {
			// archival is best effort, the review itself succeeded
			log.Error().Err(archiveErr).Str("request_id", req.RequestID).Msg("failed to archive review")
		}
	}

	if err := p.Status.MarkCompleted(ctx, req.RequestID, result, elapsed); err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to record completion")
	}

	log.Info().
		Str("request_id", req.RequestID).
		Str("repository", req.Repository.DisplayName()).
		Str("change_request", req.ChangeRequest.String()).
		Int("issues", len(result.Issues)).
		Dur("elapsed", elapsed).
		Msg("review completed")

	if p.AutoPublish {
		p.publish(jobCtx, req, result)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, req models.AsyncRequest) (models.ReviewResult, error) {
	client, err := p.Providers.For(req.Provider)
	if err != nil {
		return models.ReviewResult{}, err
	}

	bundle, err := client.GetDiff(ctx, req.Repository, req.ChangeRequest)
	if err != nil {
		return models.ReviewResult{}, fmt.Errorf("failed to fetch diff: %w", err)
	}

	meta := review.PromptMeta{
		Repository:    req.Repository.DisplayName(),
		ChangeRequest: req.ChangeRequest.String(),
		Title:         bundle.Meta.Title,
		Description:   bundle.Meta.Description,
	}

	var llmReq llm.Request
	var scanFindings []scan.Finding
	switch req.Mode {
	case models.ModeAgentic:
		if p.Scanner != nil {
			findings, scanErr := p.Scanner.ScanDiff(bundle.Document)
			if scanErr != nil {
				log.Warn().Err(scanErr).Str("request_id", req.RequestID).Msg("secret scan failed")
			} else {
				scanFindings = findings
			}
		}
		llmReq, err = review.BuildAgenticPrompt(meta, bundle.Document, scan.Report(scanFindings))
	default:
		llmReq, err = review.BuildDiffPrompt(meta, bundle.Document)
	}
	if err != nil {
		return models.ReviewResult{}, err
	}

	result, err := p.Reviewer.Run(ctx, llmReq)
	if err != nil {
		return models.ReviewResult{}, fmt.Errorf("review failed: %w", err)
	}
	// scanner findings join the finding set; the prompt embedding alone
	// would lose them whenever the model ignores the report
	return scan.MergeIssues(result, scanFindings), nil
}

func (p *Pipeline) publish(ctx context.Context, req models.AsyncRequest, result models.ReviewResult) {
	client, err := p.Providers.For(req.Provider)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to resolve provider for publish")
		return
	}
	report, err := client.PublishReview(ctx, req.Repository, req.ChangeRequest, result)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to publish review")
		return
	}
	log.Info().
		Str("request_id", req.RequestID).
		Int("inline_comments", report.InlineComments).
		Int("fallback_findings", report.FallbackFindings).
		Int("errors", len(report.Errors)).
		Msg("review published")
}

// oneLine flattens an error chain into a single status line.
func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
