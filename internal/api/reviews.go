package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/internal/review"
	"github.com/reviewpilot/internal/scan"
	"github.com/reviewpilot/pkg/models"
)

// scmError maps a provider failure onto an HTTP response.
func scmError(c echo.Context, err error) error {
	var provErr *providers.Error
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case providers.KindNotFound:
			return errorEnvelope(c, http.StatusNotFound, "not_found", "Change request or repository not found")
		case providers.KindAuth:
			return errorEnvelope(c, http.StatusBadGateway, "scm_auth", "SCM credentials were rejected")
		case providers.KindRateLimited:
			return errorEnvelope(c, http.StatusTooManyRequests, "rate_limited", "SCM rate limit exceeded")
		case providers.KindMalformed:
			return errorEnvelope(c, http.StatusBadRequest, "malformed", "SCM rejected the request")
		}
	}
	return errorEnvelope(c, http.StatusBadGateway, "scm_transport", "SCM request failed")
}

func (s *Server) clientFor(c echo.Context, provider models.ProviderID) (providers.Client, error) {
	client, err := s.deps.Providers.For(provider)
	if err != nil {
		return nil, errorEnvelope(c, http.StatusNotFound, "not_found", fmt.Sprintf("Provider %q is not configured", provider))
	}
	return client, nil
}

// listRepositories answers GET /api/v1/reviews/{provider}/repositories.
func (s *Server) listRepositories(c echo.Context) error {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		return validationError(c, "Provider must be 'github' or 'gitlab'")
	}
	client, echoErr := s.clientFor(c, provider)
	if client == nil {
		return echoErr
	}

	repos, err := client.GetAllRepositories(c.Request().Context())
	if err != nil {
		return scmError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":     provider,
		"repositories": repos,
	})
}

// listChangeRequests answers GET .../change-requests.
func (s *Server) listChangeRequests(c echo.Context) error {
	repo, err := parseListTarget(c)
	if err != nil {
		return validationError(c, err.Error())
	}
	client, echoErr := s.clientFor(c, repo.Provider)
	if client == nil {
		return echoErr
	}

	summaries, err := client.GetOpenChangeRequests(c.Request().Context(), repo)
	if err != nil {
		return scmError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":       repo.Provider,
		"repository":     repo.DisplayName(),
		"changeRequests": summaries,
	})
}

// parseListTarget is parseTarget without the :n segment.
func parseListTarget(c echo.Context) (models.RepositoryID, error) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		return models.RepositoryID{}, err
	}
	rawRepo := c.Param("repoId")
	if unescaped, err := url.PathUnescape(rawRepo); err == nil {
		rawRepo = unescaped
	}
	repo, err := models.ParseRepositoryID(provider, rawRepo)
	if err != nil {
		return models.RepositoryID{}, err
	}
	return repo, nil
}

// publishReview answers POST .../review with a caller-supplied result.
func (s *Server) publishReview(c echo.Context) error {
	repo, cr, err := parseTarget(c)
	if err != nil {
		return validationError(c, err.Error())
	}
	client, echoErr := s.clientFor(c, repo.Provider)
	if client == nil {
		return echoErr
	}

	var result models.ReviewResult
	if err := c.Bind(&result); err != nil {
		return validationError(c, "Request body must be a valid review result")
	}

	report, err := client.PublishReview(c.Request().Context(), repo, cr, result)
	if err != nil {
		return scmError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "success",
		"message":         fmt.Sprintf("Published %d inline comments, %d fallback findings", report.InlineComments, report.FallbackFindings),
		"provider":        repo.Provider,
		"repository":      repo.DisplayName(),
		"changeRequestId": cr.Number,
	})
}

// getIssue answers GET /api/v1/reviews/issues/{issueId} from the archive.
func (s *Server) getIssue(c echo.Context) error {
	issueID := c.Param("issueId")

	issue, ok, err := s.deps.Archive.GetIssue(c.Request().Context(), issueID)
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to read issue")
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"status":  "error",
			"message": "Issue not found",
		})
	}
	return c.JSON(http.StatusOK, issue)
}

func (s *Server) streamReview(c echo.Context) error {
	return s.stream(c, false)
}

func (s *Server) streamAndPublishReview(c echo.Context) error {
	return s.stream(c, true)
}

// stream runs a synchronous review and relays every chunk to the client as
// an SSE event. Client disconnect cancels the request context, which stops
// the LLM read at the next token boundary.
func (s *Server) stream(c echo.Context, publish bool) error {
	repo, cr, err := parseTarget(c)
	if err != nil {
		return validationError(c, err.Error())
	}
	client, echoErr := s.clientFor(c, repo.Provider)
	if client == nil {
		return echoErr
	}

	ctx := c.Request().Context()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	bundle, err := client.GetDiff(ctx, repo, cr)
	if err != nil {
		return scmError(c, err)
	}

	llmReq, scanFindings, err := s.buildPrompt(c, repo, cr, bundle)
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to build review prompt")
	}

	engine := s.deps.Reviews.NewRun()
	sub := engine.Subscribe()
	defer sub.Cancel()

	type outcome struct {
		result models.ReviewResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, runErr := engine.Run(ctx, llmReq)
		done <- outcome{result: result, err: runErr}
	}()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	// scanner findings stream first, then the model deltas
	for _, finding := range scanFindings {
		writeEvent(resp, "", models.NewChunk(models.ChunkSecurity, scan.Report([]scan.Finding{finding})))
	}

	for chunk := range sub.Chunks() {
		writeEvent(resp, "", chunk)
	}

	final := <-done
	if final.err != nil {
		writeEvent(resp, "error", map[string]string{"message": final.err.Error()})
		return nil
	}
	final.result = scan.MergeIssues(final.result, scanFindings)
	writeEvent(resp, "result", final.result)

	if publish {
		report, pubErr := client.PublishReview(ctx, repo, cr, final.result)
		if pubErr != nil {
			log.Error().Err(pubErr).Str("repository", repo.DisplayName()).Msg("failed to publish streamed review")
			writeEvent(resp, "publish-error", map[string]string{"message": pubErr.Error()})
			return nil
		}
		writeEvent(resp, "published", report)
	}
	return nil
}

// buildPrompt assembles the LLM request for the change request. Agentic runs
// also return the secret scan findings so the caller can stream them and
// merge them into the finding set.
func (s *Server) buildPrompt(c echo.Context, repo models.RepositoryID, cr models.ChangeRequestID, bundle *providers.DiffBundle) (llm.Request, []scan.Finding, error) {
	meta := review.PromptMeta{
		Repository:    repo.DisplayName(),
		ChangeRequest: cr.String(),
		Title:         bundle.Meta.Title,
		Description:   bundle.Meta.Description,
	}

	if models.CoerceReviewMode(c.QueryParam("mode")) == models.ModeAgentic {
		var scanFindings []scan.Finding
		if s.deps.Scanner != nil {
			findings, err := s.deps.Scanner.ScanDiff(bundle.Document)
			if err != nil {
				log.Warn().Err(err).Str("repository", repo.DisplayName()).Msg("secret scan failed")
			} else {
				scanFindings = findings
			}
		}
		req, err := review.BuildAgenticPrompt(meta, bundle.Document, scan.Report(scanFindings))
		return req, scanFindings, err
	}
	req, err := review.BuildDiffPrompt(meta, bundle.Document)
	return req, nil, err
}

// writeEvent emits one SSE frame and flushes it.
func writeEvent(resp *echo.Response, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(resp, "event: %s\n", event)
	}
	fmt.Fprintf(resp, "data: %s\n\n", data)
	resp.Flush()
}
