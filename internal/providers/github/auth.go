package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// TokenSource yields the bearer token for an API call. Implementations must
// be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("github token is not configured")
	}
	return string(t), nil
}

// AppTokenSource authenticates as a GitHub App installation: it signs a
// short-lived RS256 app JWT, exchanges it for an installation token, and
// caches the token until shortly before expiry.
type AppTokenSource struct {
	AppID          string
	InstallationID int64
	Key            *rsa.PrivateKey
	BaseURL        string
	HTTP           Doer

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Doer matches the transport subset the token exchange needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewAppTokenSource parses a PEM private key as issued by GitHub for the app.
func NewAppTokenSource(appID string, installationID int64, privateKeyPEM []byte, baseURL string) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &AppTokenSource{
		AppID:          appID,
		InstallationID: installationID,
		Key:            key,
		BaseURL:        baseURL,
		HTTP:           &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// refresh a minute early so in-flight requests never carry a dying token
	if s.token != "" && time.Until(s.expires) > time.Minute {
		return s.token, nil
	}

	appJWT, err := s.signAppJWT()
	if err != nil {
		return "", err
	}

	token, expires, err := s.exchange(ctx, appJWT)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = expires

	log.Debug().
		Str("app_id", s.AppID).
		Int64("installation", s.InstallationID).
		Time("expires", expires).
		Msg("Minted GitHub App installation token")
	return s.token, nil
}

// signAppJWT builds the 10-minute RS256 JWT GitHub requires for app-level
// endpoints. The issued-at is backdated 60s to absorb clock drift.
func (s *AppTokenSource) signAppJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

func (s *AppTokenSource) exchange(ctx context.Context, appJWT string) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.BaseURL, s.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("installation token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("installation token exchange returned status %d", resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode installation token response: %w", err)
	}
	return body.Token, body.ExpiresAt, nil
}
