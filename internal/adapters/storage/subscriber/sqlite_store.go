package subscriber

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"hartwig/internal/adapters/storage"
	domain "hartwig/internal/domain/subscriber"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"
)

const subscriberColumns = `id, email, name, subscribed_at, unsubscribed_at, confirmed_at, confirm_token, latest_issue_sent, issues_received_count`

// SQLiteStore implements the subscriber Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new subscriber store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByEmail retrieves a subscriber by its case-sensitive email key.
// PRE: email is non-empty
// POST: Returns the subscriber or ErrNotFound
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscriber WHERE email = ?`, email)
	return scanSubscriber(row.Scan)
}

// GetByID retrieves a subscriber by numeric ID.
// PRE: id > 0
// POST: Returns the subscriber or ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscriber WHERE id = ?`, id)
	return scanSubscriber(row.Scan)
}

// Insert creates a new subscriber row and returns its assigned ID.
// PRE: s has a valid email and a fresh confirm token
// POST: Row persisted; ErrDuplicateEmail if the email already has a row
func (s *SQLiteStore) Insert(ctx context.Context, sub domain.Subscriber) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriber (email, name, subscribed_at, confirm_token, issues_received_count)
		 VALUES (?, ?, ?, ?, 0)`,
		sub.Email, sub.Name, sub.SubscribedAt.Format(dateLayout), sub.ConfirmToken)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	return res.LastInsertId()
}

// Reactivate flips an inactive row back to active with a fresh token.
// PRE: token was freshly minted
// POST: Row active and unconfirmed, or false on a lost race
func (s *SQLiteStore) Reactivate(ctx context.Context, email, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriber
		 SET unsubscribed_at = NULL, subscribed_at = ?, confirmed_at = NULL,
		     confirm_token = ?, issues_received_count = 0
		 WHERE email = ? AND unsubscribed_at IS NOT NULL`,
		now.Format(dateLayout), token, email)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Deactivate sets unsubscribed_at, conditional on the row being active.
// PRE: email is non-empty
// POST: Row inactive, or false if it was not active
func (s *SQLiteStore) Deactivate(ctx context.Context, email string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriber SET unsubscribed_at = ? WHERE email = ? AND unsubscribed_at IS NULL`,
		now.Format(dateLayout), email)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ConfirmByToken consumes an outstanding token in one conditional update.
// PRE: token is non-empty
// POST: At most one row confirmed; token can never be reused
func (s *SQLiteStore) ConfirmByToken(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriber SET confirmed_at = ?, confirm_token = NULL
		 WHERE confirm_token = ? AND confirmed_at IS NULL`,
		now.Format(dateLayout), token)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ListEligible returns the dispatch snapshot for an issue, ordered by id.
// PRE: issueNumber >= 1
// POST: Deterministic ordering for resumable dispatch
func (s *SQLiteStore) ListEligible(ctx context.Context, issueNumber int64, limit int) ([]domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscriber
		 WHERE unsubscribed_at IS NULL AND confirmed_at IS NOT NULL
		   AND (latest_issue_sent IS NULL OR latest_issue_sent < ?)
		 ORDER BY id ASC`
	args := []any{issueNumber}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// AdvanceHighWater conditionally advances the dispatch counters.
// PRE: id > 0, issueNumber >= 1
// POST: Returns true if the counters advanced, false if already at or past
func (s *SQLiteStore) AdvanceHighWater(ctx context.Context, id, issueNumber int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriber
		 SET latest_issue_sent = ?, issues_received_count = issues_received_count + 1
		 WHERE id = ? AND (latest_issue_sent IS NULL OR latest_issue_sent < ?)`,
		issueNumber, id, issueNumber)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// affected reports whether a conditional update matched a row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// scanSubscriber maps one row onto the domain struct. NULL timestamps become
// the zero time; a NULL high-water mark becomes 0.
func scanSubscriber(scan func(dest ...any) error) (domain.Subscriber, error) {
	var sub domain.Subscriber
	var subscribedAt string
	var unsubscribedAt, confirmedAt, confirmToken sql.NullString
	var latestIssueSent sql.NullInt64
	err := scan(&sub.ID, &sub.Email, &sub.Name, &subscribedAt,
		&unsubscribedAt, &confirmedAt, &confirmToken, &latestIssueSent, &sub.IssuesReceivedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscriber{}, ErrNotFound
		}
		return domain.Subscriber{}, err
	}
	sub.SubscribedAt, _ = time.Parse(dateLayout, subscribedAt)
	if unsubscribedAt.Valid {
		sub.UnsubscribedAt, _ = time.Parse(dateLayout, unsubscribedAt.String)
	}
	if confirmedAt.Valid {
		sub.ConfirmedAt, _ = time.Parse(dateLayout, confirmedAt.String)
	}
	if confirmToken.Valid {
		sub.ConfirmToken = confirmToken.String
	}
	if latestIssueSent.Valid {
		sub.LatestIssueSent = latestIssueSent.Int64
	}
	return sub, nil
}
