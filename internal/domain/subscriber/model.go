package subscriber

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength  = 100
	MaxEmailLength = 254
)

// ConfirmTokenBytes is the entropy of a confirm token before hex encoding.
const ConfirmTokenBytes = 32

// Domain errors
var (
	ErrInvalidEmail        = errors.New("email must be of the form local@domain")
	ErrAlreadySubscribed   = errors.New("email is already subscribed")
	ErrAlreadyUnsubscribed = errors.New("email is already unsubscribed")
	ErrNotSubscribed       = errors.New("email has never subscribed")
)

// Subscriber holds identity, consent state and dispatch counters for one
// newsletter recipient. Rows persist across unsubscribe/resubscribe cycles;
// nullable timestamps are represented by the zero time.
type Subscriber struct {
	ID             int64
	Email          string // Case-sensitive natural key, unique
	Name           string
	SubscribedAt   time.Time
	UnsubscribedAt time.Time // Zero ⇔ active
	ConfirmedAt    time.Time // Zero ⇔ double-opt-in not completed
	ConfirmToken   string    // Non-empty only while a confirmation is outstanding

	// LatestIssueSent is the high-water mark of dispatched issue numbers;
	// 0 means no issue has ever been sent. Issue numbers start at 1.
	LatestIssueSent     int64
	IssuesReceivedCount int64
}

// ValidateEmail checks basic local@domain syntax with non-empty parts.
// PRE: email is the raw caller-supplied string
// POST: Returns ErrInvalidEmail if malformed, nil otherwise
func ValidateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return ErrInvalidEmail
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return ErrInvalidEmail
	}
	return nil
}

// IsActive returns true if the subscriber has not unsubscribed.
// INVARIANT: UnsubscribedAt is not mutated
func (s *Subscriber) IsActive() bool {
	return s.UnsubscribedAt.IsZero()
}

// IsConfirmed returns true if double-opt-in has completed.
// INVARIANT: ConfirmedAt is not mutated
func (s *Subscriber) IsConfirmed() bool {
	return !s.ConfirmedAt.IsZero()
}

// EligibleFor reports whether this subscriber should receive the given issue:
// active, confirmed, and the issue is strictly beyond the high-water mark.
// PRE: issueNumber >= 1
// POST: Subscriber is not mutated
func (s *Subscriber) EligibleFor(issueNumber int64) bool {
	return s.IsActive() && s.IsConfirmed() && s.LatestIssueSent < issueNumber
}

// NewConfirmToken mints a fresh opaque confirmation token.
// Tokens are single-use and never shared across subscribers or resubscriptions.
// PRE: none
// POST: Returns a 64-char hex string backed by 32 bytes of crypto randomness
func NewConfirmToken() (string, error) {
	buf := make([]byte, ConfirmTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate confirm token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
