package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/resend/resend-go/v2"
)

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a new ResendSender with the given API key and default from address.
// PRE: apiKey is a valid Resend API key; from is a valid sender address
// POST: Returns a ready-to-use sender
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Send sends a single email via Resend, retrying transient failures with
// exponential backoff.
// PRE: req has at least one recipient and a subject
// POST: Email is queued for delivery; returns the Resend message ID
func (s *ResendSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	from := req.From
	if from == "" {
		from = s.from
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Text,
	}
	if req.ReplyTo != "" {
		params.ReplyTo = req.ReplyTo
	}
	if req.DedupeTag != "" {
		params.Tags = []resend.Tag{{Name: "dedupe", Value: req.DedupeTag}}
	}

	var sent *resend.SendEmailResponse
	err := retry.Do(
		func() error {
			var sendErr error
			sent, sendErr = s.client.Emails.SendWithContext(ctx, params)
			return sendErr
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("resend_send_retry", "attempt", n, "to", req.To, "error", err)
		}),
	)
	if err != nil {
		slog.Error("resend_send_failed", "error", err, "to", req.To, "subject", req.Subject)
		return SendResult{}, fmt.Errorf("resend send failed: %w", err)
	}

	slog.Info("resend_sent", "message_id", sent.Id, "to", req.To, "subject", req.Subject)
	return SendResult{
		MessageID: sent.Id,
		SentAt:    time.Now(),
	}, nil
}

// WasAlreadySent reports prior delivery for a dedupe tag. The Resend API has
// no tag-query endpoint, so this always answers false and the caller falls
// back to the local ledger, which is authoritative anyway.
// PRE: recipient and dedupeTag are non-empty
// POST: No provider call is made
func (s *ResendSender) WasAlreadySent(_ context.Context, recipient, dedupeTag string) (bool, error) {
	slog.Debug("resend_dedupe_check_unsupported", "recipient", recipient, "tag", dedupeTag)
	return false, nil
}
