package email

import (
	"context"
	"time"
)

// SendRequest contains the data needed to send an email via an external provider.
type SendRequest struct {
	To        []string // Recipient email addresses
	From      string   // Sender address (e.g. "Chris Hartwig <newsletter@chrishartwig.dev>")
	Subject   string
	HTML      string // HTML body
	Text      string // Plain-text fallback
	ReplyTo   string // Reply-to address
	DedupeTag string // Per-issue idempotency tag attached to the provider message
}

// SendResult contains the response from the email provider.
type SendResult struct {
	MessageID string    // Provider's message ID for tracking
	SentAt    time.Time // When the send was accepted
}

// Sender is the interface for sending emails via an external provider.
//
// WasAlreadySent asks the provider whether a message carrying the dedupe tag
// was already delivered to the recipient. It is best-effort corroboration for
// the cases where the local dispatch ledger is ambiguous; the ledger stays
// authoritative and a provider that cannot answer returns false.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	WasAlreadySent(ctx context.Context, recipient, dedupeTag string) (bool, error)
}
