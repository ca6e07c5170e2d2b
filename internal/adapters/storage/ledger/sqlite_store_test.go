package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"hartwig/internal/adapters/storage"
	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	domain "hartwig/internal/domain/ledger"
	subscriberDomain "hartwig/internal/domain/subscriber"
)

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// openTestStore creates an in-memory SQLite database with the full schema and
// one subscriber row to satisfy the ledger's foreign key.
func openTestStore(t *testing.T) (*SQLiteStore, int64) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	// In-memory databases are per-connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.InitDB(db); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	subID, err := subscriberStore.NewSQLiteStore(db).Insert(context.Background(), subscriberDomain.Subscriber{
		Email:        "reader@example.com",
		SubscribedAt: fixedTime,
		ConfirmToken: "tok",
	})
	if err != nil {
		t.Fatalf("failed to insert subscriber: %v", err)
	}
	return NewSQLiteStore(db), subID
}

func TestGetUnknownPairReturnsNotFound(t *testing.T) {
	store, subID := openTestStore(t)

	_, err := store.Get(context.Background(), subID, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	store, subID := openTestStore(t)

	err := store.Upsert(context.Background(), domain.Attempt{
		SubscriberID:      subID,
		IssueNumber:       3,
		SentAt:            fixedTime,
		ProviderMessageID: "msg-1",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	a, err := store.Get(context.Background(), subID, 3)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a.ProviderMessageID != "msg-1" {
		t.Errorf("ProviderMessageID = %q, want msg-1", a.ProviderMessageID)
	}
	if !a.SentAt.Equal(fixedTime) {
		t.Errorf("SentAt = %v, want %v", a.SentAt, fixedTime)
	}
	if !a.Delivered() {
		t.Error("Delivered() = false, want true")
	}
}

func TestUpsertOverwritesOwnRowNotDuplicates(t *testing.T) {
	store, subID := openTestStore(t)

	// First write: the ambiguous pre-send mark.
	if err := store.Upsert(context.Background(), domain.Attempt{
		SubscriberID: subID, IssueNumber: 3, SentAt: fixedTime,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	a, _ := store.Get(context.Background(), subID, 3)
	if !a.Ambiguous() {
		t.Fatal("pre-send mark should be ambiguous")
	}

	// Second write settles the same row with the provider's message ID.
	if err := store.Upsert(context.Background(), domain.Attempt{
		SubscriberID: subID, IssueNumber: 3, SentAt: fixedTime, ProviderMessageID: "msg-2",
	}); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	attempts, err := store.ListByIssue(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListByIssue() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("rows = %d, want 1", len(attempts))
	}
	if !attempts[0].Delivered() {
		t.Error("settled row should be delivered")
	}
}

func TestAttemptsKeyedPerIssue(t *testing.T) {
	store, subID := openTestStore(t)

	for _, issue := range []int64{1, 2} {
		if err := store.Upsert(context.Background(), domain.Attempt{
			SubscriberID: subID, IssueNumber: issue, SentAt: fixedTime, ProviderMessageID: "msg",
		}); err != nil {
			t.Fatalf("Upsert(issue %d) error = %v", issue, err)
		}
	}

	attempts, err := store.ListByIssue(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListByIssue() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Errorf("issue 1 rows = %d, want 1 (issues are independent)", len(attempts))
	}
}
