package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRejected is returned when the provider judges the token a bot submission.
var ErrRejected = errors.New("verification token rejected")

// Verifier checks client-supplied bot-verification tokens on form submissions.
type Verifier interface {
	// Verify returns nil to accept, ErrRejected to reject, or another error
	// when the provider could not be reached.
	Verify(ctx context.Context, token, remoteIP string) error
}

// TurnstileVerifier validates tokens against Cloudflare Turnstile siteverify.
type TurnstileVerifier struct {
	secret string
	client *http.Client
}

// NewTurnstileVerifier creates a verifier with the given secret key.
// PRE: secret is a valid Turnstile secret
// POST: Returns a ready-to-use verifier
func NewTurnstileVerifier(secret string) *TurnstileVerifier {
	return &TurnstileVerifier{
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

const turnstileEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Verify posts the token to siteverify and maps the answer.
// PRE: token is the raw client-supplied value
// POST: Returns nil, ErrRejected, or a transport error
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, turnstileEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("siteverify response invalid: %w", err)
	}
	if !body.Success {
		slog.Info("turnstile_rejected", "error_codes", body.ErrorCodes)
		return ErrRejected
	}
	return nil
}

// NoopVerifier accepts every token. Used in development and tests.
type NoopVerifier struct{}

// NewNoopVerifier creates a verifier that accepts everything.
func NewNoopVerifier() *NoopVerifier {
	return &NoopVerifier{}
}

// Verify accepts unconditionally.
func (v *NoopVerifier) Verify(_ context.Context, _, _ string) error {
	return nil
}
