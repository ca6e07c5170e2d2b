package subscriber

import (
	"context"
	"errors"
	"time"

	domain "hartwig/internal/domain/subscriber"
)

// Store errors surfaced to the application layer for classification.
var (
	ErrNotFound       = errors.New("subscriber not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store defines the interface for subscriber persistence. All state
// transitions are single conditional updates: the WHERE clause re-checks the
// precondition so two racing writers cannot both succeed.
type Store interface {
	// GetByEmail retrieves a subscriber by its case-sensitive email key.
	// PRE: email is non-empty
	// POST: Returns the subscriber or ErrNotFound
	GetByEmail(ctx context.Context, email string) (domain.Subscriber, error)

	// GetByID retrieves a subscriber by numeric ID.
	// PRE: id > 0
	// POST: Returns the subscriber or ErrNotFound
	GetByID(ctx context.Context, id int64) (domain.Subscriber, error)

	// Insert creates a new subscriber row and returns its assigned ID.
	// PRE: s has a valid email and a fresh confirm token
	// POST: Row persisted; ErrDuplicateEmail if the email already has a row
	Insert(ctx context.Context, s domain.Subscriber) (int64, error)

	// Reactivate flips an inactive row back to active: clears unsubscribed_at
	// and confirmed_at, refreshes subscribed_at, resets the received counter
	// and installs a fresh confirm token. Conditional on the row being
	// inactive; returns false if the guard matched no row.
	// PRE: token was freshly minted
	// POST: Row active and unconfirmed, or false on a lost race
	Reactivate(ctx context.Context, email, token string, now time.Time) (bool, error)

	// Deactivate sets unsubscribed_at, conditional on the row being active.
	// PRE: email is non-empty
	// POST: Row inactive, or false if it was not active
	Deactivate(ctx context.Context, email string, now time.Time) (bool, error)

	// ConfirmByToken consumes an outstanding token: sets confirmed_at and
	// clears the token in one conditional update. False means the token is
	// unknown or already consumed — the two cases are indistinguishable.
	// PRE: token is non-empty
	// POST: At most one row confirmed; token can never be reused
	ConfirmByToken(ctx context.Context, token string, now time.Time) (bool, error)

	// ListEligible returns the dispatch snapshot for an issue: active,
	// confirmed subscribers whose high-water mark is below issueNumber,
	// ordered by id ascending. limit 0 means no limit.
	// PRE: issueNumber >= 1
	// POST: Deterministic ordering for resumable dispatch
	ListEligible(ctx context.Context, issueNumber int64, limit int) ([]domain.Subscriber, error)

	// AdvanceHighWater conditionally advances latest_issue_sent to
	// issueNumber and increments issues_received_count, only when the stored
	// mark is NULL or strictly below issueNumber. Running it twice for the
	// same issue has the same effect as running it once.
	// PRE: id > 0, issueNumber >= 1
	// POST: Returns true if the counters advanced, false if already at or past
	AdvanceHighWater(ctx context.Context, id, issueNumber int64) (bool, error)
}
