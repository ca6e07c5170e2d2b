package ledger

import "time"

// Attempt is one row of the append-only dispatch ledger: the record of a send
// attempt for a (subscriber, issue) pair. Rows are upserted, never deleted.
// A non-empty ProviderMessageID is the ground truth that delivery occurred.
type Attempt struct {
	SubscriberID      int64
	IssueNumber       int64
	SentAt            time.Time
	ProviderMessageID string // Empty until the provider confirms the send
	LastError         string // Last transport error, empty on success
}

// Delivered returns true if this attempt is confirmed delivered.
// INVARIANT: Attempt is not mutated
func (a *Attempt) Delivered() bool {
	return a.ProviderMessageID != ""
}

// Ambiguous returns true if a send was started but never confirmed nor
// failed: the window where a crash may have lost the provider's answer.
// The workflow treats this as "consult the provider before resending".
func (a *Attempt) Ambiguous() bool {
	return a.ProviderMessageID == "" && a.LastError == ""
}
