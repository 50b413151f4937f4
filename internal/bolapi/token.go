package bolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenProvider hands out a bearer token valid for at least the safety
// margin, and can be forced to fetch a fresh one after a 401.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// expiryMargin keeps a token from being used right at its expiry instant.
const expiryMargin = 60 * time.Second

const (
	// AuthMethodBasic posts a form body with HTTP basic credentials
	// (current API generation).
	AuthMethodBasic = "basic"
	// AuthMethodBody posts the credentials as a JSON body (older API
	// generation).
	AuthMethodBody = "body"
)

// TokenSource acquires and caches a client-credentials token. Safe for
// concurrent use; the mutex prevents duplicate refreshes.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	authMethod   string
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(tokenURL, clientID, clientSecret, authMethod string, httpClient *http.Client, logger *slog.Logger) *TokenSource {
	if authMethod == "" {
		authMethod = AuthMethodBasic
	}
	return &TokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		authMethod:   authMethod,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
	}
}

// Token returns the cached token while it is still valid (expiry minus the
// safety margin) and fetches a new one otherwise.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt.Add(-expiryMargin)) {
		return s.token, nil
	}
	return s.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a new one, used after the
// API rejects a request with 401.
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	return s.fetchLocked(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenSource) fetchLocked(ctx context.Context) (string, error) {
	if s.clientID == "" || s.clientSecret == "" {
		return "", &AuthError{Reason: "missing client credentials"}
	}

	req, err := s.buildTokenRequest(ctx)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Reason: fmt.Sprintf("token endpoint unreachable: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Reason: fmt.Sprintf("read token response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{Reason: "token endpoint rejected credentials", Status: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &AuthError{Reason: fmt.Sprintf("decode token response: %v", err)}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Reason: "token response missing access_token"}
	}

	s.token = tok.AccessToken
	s.expiresAt = s.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	s.logger.Info("access token acquired", "expires_in", tok.ExpiresIn)

	return s.token, nil
}

func (s *TokenSource) buildTokenRequest(ctx context.Context) (*http.Request, error) {
	if s.authMethod == AuthMethodBody {
		payload, err := json.Marshal(map[string]string{
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"grant_type":    "client_credentials",
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)
	return req, nil
}
