// Package auth validates bearer credentials against the external auth
// service. The scheduler treats authentication as a precondition; this
// package is only the thin client side of that contract.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrInvalidToken is returned for any credential the auth service rejects.
var ErrInvalidToken = errors.New("invalid or expired bearer token")

// Identity is the authenticated caller. System identities bypass job
// ownership checks (internal services scheduling general jobs).
type Identity struct {
	UserID string
	System bool
}

// Verifier checks a bearer token and resolves it to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HTTPVerifier asks the auth service to authorize the token.
type HTTPVerifier struct {
	client    *http.Client
	authorize string
	logger    *slog.Logger
}

// NewHTTPVerifier creates a verifier against the given authorize URL.
func NewHTTPVerifier(authorizeURL string, timeout time.Duration, logger *slog.Logger) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		client:    &http.Client{Timeout: timeout},
		authorize: authorizeURL,
		logger:    logger,
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.authorize, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to build authorize request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Identity{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
		System bool   `json:"is_system"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Identity{}, fmt.Errorf("failed to decode authorize response: %w", err)
	}
	return Identity{UserID: body.UserID, System: body.System}, nil
}

// StaticVerifier resolves tokens from a fixed map; development and tests.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStaticVerifier builds a verifier over the given token set.
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
