package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/store"
	"github.com/reviewpilot/pkg/models"
)

// parseTarget resolves the :provider/:repoId/:n path triple. The repoId
// segment may arrive URL-encoded (GitLab project paths contain slashes).
func parseTarget(c echo.Context) (models.RepositoryID, models.ChangeRequestID, error) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, err
	}

	rawRepo, err := url.PathUnescape(c.Param("repoId"))
	if err != nil {
		rawRepo = c.Param("repoId")
	}
	repo, err := models.ParseRepositoryID(provider, rawRepo)
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, err
	}

	number, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, fmt.Errorf("change request number must be numeric, got %q", c.Param("n"))
	}
	cr, err := models.NewChangeRequestID(provider, number)
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, err
	}
	return repo, cr, nil
}

// submitAsyncReview queues a review and answers 202 with a status URL.
func (s *Server) submitAsyncReview(c echo.Context) error {
	repo, cr, err := parseTarget(c)
	if err != nil {
		return validationError(c, err.Error())
	}

	request := models.NewAsyncRequest(repo, cr, models.CoerceReviewMode(c.QueryParam("mode")))
	ctx := c.Request().Context()

	if _, err := s.deps.Producer.Send(ctx, request); err != nil {
		log.Error().Err(err).Str("request_id", request.RequestID).Msg("failed to queue review request")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"status":  string(models.StateFailed),
			"error":   "internal_error",
			"message": "Failed to queue review request",
		})
	}
	if err := s.deps.Status.MarkPending(ctx, request.RequestID); err != nil {
		log.Error().Err(err).Str("request_id", request.RequestID).Msg("failed to record pending status")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"requestId": request.RequestID,
		"status":    string(models.StatePending),
		"statusUrl": fmt.Sprintf("/api/v1/async-reviews/%s/status", request.RequestID),
	})
}

// statusBody renders a status entry as the wire shape shared by the status
// and lookup endpoints.
func statusBody(requestID string, entry store.StatusEntry) map[string]interface{} {
	body := map[string]interface{}{
		"requestId": requestID,
		"status":    string(entry.State),
	}
	if entry.Result != nil {
		body["result"] = entry.Result
	}
	if entry.Error != "" {
		body["error"] = entry.Error
	}
	if entry.ProcessingTimeMs > 0 {
		body["processingTimeMs"] = entry.ProcessingTimeMs
	}
	return body
}

// getReviewStatus reports the request lifecycle. An unknown id reads as
// PENDING: the status write may still be propagating right after submission.
func (s *Server) getReviewStatus(c echo.Context) error {
	requestID := c.Param("requestId")

	entry, ok, err := s.deps.Status.Get(c.Request().Context(), requestID)
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to read request status")
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"requestId": requestID,
			"status":    string(models.StatePending),
		})
	}

	return c.JSON(http.StatusOK, statusBody(requestID, entry))
}

// getReviewByID is the strict lookup: absent or expired entries are 404.
func (s *Server) getReviewByID(c echo.Context) error {
	requestID := c.Param("requestId")

	entry, ok, err := s.deps.Status.Get(c.Request().Context(), requestID)
	if err != nil {
		return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to read request status")
	}
	if !ok {
		return errorEnvelope(c, http.StatusNotFound, "not_found", "Review request not found")
	}

	return c.JSON(http.StatusOK, statusBody(requestID, entry))
}
