package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NoopSender is a no-op email sender for development and testing.
// It logs sends but does not actually deliver emails. Delivered dedupe tags
// are remembered per recipient so WasAlreadySent behaves like a provider
// with a real delivery history.
type NoopSender struct {
	mu        sync.Mutex
	delivered map[string]bool // recipient + "\x00" + tag
}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{delivered: make(map[string]bool)}
}

// Send logs the email but does not deliver it.
// PRE: req is a valid SendRequest
// POST: Returns a noop result; the dedupe tag is recorded per recipient
func (s *NoopSender) Send(_ context.Context, req SendRequest) (SendResult, error) {
	slog.Info("noop_email_send", "to", req.To, "subject", req.Subject, "tag", req.DedupeTag)
	if req.DedupeTag != "" {
		s.mu.Lock()
		for _, to := range req.To {
			s.delivered[to+"\x00"+req.DedupeTag] = true
		}
		s.mu.Unlock()
	}
	return SendResult{
		MessageID: fmt.Sprintf("noop-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}

// WasAlreadySent reports whether this sender already delivered the tag.
// PRE: recipient and dedupeTag are non-empty
// POST: Sender state is not mutated
func (s *NoopSender) WasAlreadySent(_ context.Context, recipient, dedupeTag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered[recipient+"\x00"+dedupeTag], nil
}
