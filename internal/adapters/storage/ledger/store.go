package ledger

import (
	"context"
	"errors"

	domain "hartwig/internal/domain/ledger"
)

// ErrNotFound is returned when no attempt exists for a (subscriber, issue) pair.
var ErrNotFound = errors.New("dispatch attempt not found")

// Store defines the interface for the append-only dispatch ledger.
type Store interface {
	// Get retrieves the attempt for a (subscriber, issue) pair.
	// PRE: subscriberID > 0, issueNumber >= 1
	// POST: Returns the attempt or ErrNotFound
	Get(ctx context.Context, subscriberID, issueNumber int64) (domain.Attempt, error)

	// Upsert records or updates the attempt for its composite key. The
	// uniqueness constraint on (subscriber_id, issue_number) makes re-running
	// a send step overwrite its own row rather than duplicating it.
	// PRE: a has a valid composite key
	// POST: Exactly one row exists for the pair
	Upsert(ctx context.Context, a domain.Attempt) error

	// ListByIssue returns all attempts for one issue, ordered by subscriber id.
	// PRE: issueNumber >= 1
	// POST: Returns attempts, possibly empty
	ListByIssue(ctx context.Context, issueNumber int64) ([]domain.Attempt, error)
}
