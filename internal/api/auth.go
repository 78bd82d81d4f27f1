package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// requireAPIKey guards the webhook surface. Keys configured as bcrypt hashes
// (prefix "$2") are compared with bcrypt, plain keys in constant time.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
		if key == "" || !s.keyMatches(key) {
			return errorEnvelope(c, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
		}
		if !s.cfg.WebhooksEnabled {
			return errorEnvelope(c, http.StatusForbidden, "forbidden", "Webhook processing is disabled")
		}
		return next(c)
	}
}

func (s *Server) keyMatches(candidate string) bool {
	for _, configured := range s.cfg.APIKeys {
		if strings.HasPrefix(configured, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(configured), []byte(candidate)) == nil {
				return true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(configured), []byte(candidate)) == 1 {
			return true
		}
	}
	return false
}
