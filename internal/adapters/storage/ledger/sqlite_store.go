package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hartwig/internal/adapters/storage"
	domain "hartwig/internal/domain/ledger"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"
)

// SQLiteStore implements the ledger Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new ledger store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves the attempt for a (subscriber, issue) pair.
// PRE: subscriberID > 0, issueNumber >= 1
// POST: Returns the attempt or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, subscriberID, issueNumber int64) (domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subscriber_id, issue_number, sent_at, provider_message_id, last_error
		 FROM dispatch_attempt WHERE subscriber_id = ? AND issue_number = ?`,
		subscriberID, issueNumber)

	var a domain.Attempt
	var sentAt string
	err := row.Scan(&a.SubscriberID, &a.IssueNumber, &sentAt, &a.ProviderMessageID, &a.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attempt{}, ErrNotFound
		}
		return domain.Attempt{}, err
	}
	a.SentAt, _ = time.Parse(dateLayout, sentAt)
	return a, nil
}

// Upsert records or updates the attempt for its composite key.
// PRE: a has a valid composite key
// POST: Exactly one row exists for the pair
func (s *SQLiteStore) Upsert(ctx context.Context, a domain.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_attempt (subscriber_id, issue_number, sent_at, provider_message_id, last_error)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(subscriber_id, issue_number) DO UPDATE SET
		   sent_at=excluded.sent_at, provider_message_id=excluded.provider_message_id,
		   last_error=excluded.last_error`,
		a.SubscriberID, a.IssueNumber, a.SentAt.Format(dateLayout), a.ProviderMessageID, a.LastError)
	return err
}

// ListByIssue returns all attempts for one issue, ordered by subscriber id.
// PRE: issueNumber >= 1
// POST: Returns attempts, possibly empty
func (s *SQLiteStore) ListByIssue(ctx context.Context, issueNumber int64) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, issue_number, sent_at, provider_message_id, last_error
		 FROM dispatch_attempt WHERE issue_number = ? ORDER BY subscriber_id ASC`,
		issueNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var sentAt string
		if err := rows.Scan(&a.SubscriberID, &a.IssueNumber, &sentAt, &a.ProviderMessageID, &a.LastError); err != nil {
			return nil, err
		}
		a.SentAt, _ = time.Parse(dateLayout, sentAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
