package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/pkg/models"
)

// webhookRequest is the JSON body of POST /webhooks.
type webhookRequest struct {
	Provider        string `json:"provider"`
	RepositoryID    string `json:"repositoryId"`
	ChangeRequestID int    `json:"changeRequestId"`
	TriggerSource   string `json:"triggerSource,omitempty"`
	ReviewMode      string `json:"reviewMode,omitempty"`
}

func validationError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error":   "validation_error",
		"message": message,
	})
}

// validate returns the first failing field's message, mirroring the order the
// fields appear in the body.
func (r webhookRequest) validate() (models.RepositoryID, models.ChangeRequestID, string) {
	if strings.TrimSpace(r.Provider) == "" {
		return models.RepositoryID{}, models.ChangeRequestID{}, "Provider is required"
	}
	provider, err := models.ParseProvider(r.Provider)
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, "Provider must be 'github' or 'gitlab'"
	}
	if strings.TrimSpace(r.RepositoryID) == "" {
		return models.RepositoryID{}, models.ChangeRequestID{}, "Repository ID is required"
	}
	repo, err := models.ParseRepositoryID(provider, r.RepositoryID)
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, err.Error()
	}
	if r.ChangeRequestID <= 0 {
		return models.RepositoryID{}, models.ChangeRequestID{}, "Change request ID must be positive"
	}
	cr, err := models.NewChangeRequestID(provider, r.ChangeRequestID)
	if err != nil {
		return models.RepositoryID{}, models.ChangeRequestID{}, err.Error()
	}
	return repo, cr, ""
}

// handleWebhook is the idempotency-gated ingress. A replayed
// X-Idempotency-Key within TTL answers 200 with the original requestID; a
// fresh delivery queues a request and answers 202.
func (s *Server) handleWebhook(c echo.Context) error {
	var body webhookRequest
	if err := c.Bind(&body); err != nil {
		return validationError(c, "Request body must be valid JSON")
	}

	repo, cr, message := body.validate()
	if message != "" {
		return validationError(c, message)
	}

	request := models.NewAsyncRequest(repo, cr, models.CoerceReviewMode(body.ReviewMode))
	if body.TriggerSource != "" {
		request = request.WithTrigger(body.TriggerSource)
	}

	ctx := c.Request().Context()

	if key := strings.TrimSpace(c.Request().Header.Get("X-Idempotency-Key")); key != "" {
		storedID, replay, err := s.deps.Idempotency.Remember(ctx, key, request.RequestID)
		if err != nil {
			return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to check idempotency key")
		}
		if replay {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"requestId": storedID,
				"status":    "already_processed",
				"message":   "Review request was already accepted",
			})
		}
	}

	if _, err := s.deps.Producer.Send(ctx, request); err != nil {
		log.Error().Err(err).Str("request_id", request.RequestID).Msg("failed to queue webhook request")
		return errorEnvelope(c, http.StatusInternalServerError, "internal_error", "Failed to queue review request")
	}
	if err := s.deps.Status.MarkPending(ctx, request.RequestID); err != nil {
		log.Error().Err(err).Str("request_id", request.RequestID).Msg("failed to record pending status")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"requestId": request.RequestID,
		"status":    "accepted",
		"message":   "Review request queued for processing",
	})
}
