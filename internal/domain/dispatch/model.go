package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Run status constants.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Step name constants. Run-level steps use recipient ID 0; the send step is
// keyed by the recipient's subscriber ID.
const (
	StepLoadContent       = "load_content"
	StepLoadMetadata      = "load_metadata"
	StepComputeRecipients = "compute_recipients"
	StepSend              = "send"
)

// Per-recipient result status constants.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultPlanned = "planned" // Dry run: would have been sent to
)

// Skip reason constants.
const (
	SkipNoLongerEligible = "no_longer_eligible"
	SkipAlreadyDelivered = "already_delivered"
)

// Domain errors
var (
	ErrRunFinished   = errors.New("dispatch run is already finished")
	ErrUnknownStep   = errors.New("unknown dispatch step")
	ErrIssueRequired = errors.New("issue number must be at least 1")
)

// Run is the durable identity of one dispatch workflow invocation.
// A run left in running state after a crash is resumable: its completed
// steps are replayed from the step log instead of re-executing.
type Run struct {
	ID             string
	IssueNumber    int64
	DryRun         bool
	RecipientLimit int // 0 = no limit
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// IsFinished returns true if the run reached a terminal status.
// INVARIANT: Status field is not mutated
func (r *Run) IsFinished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

// StepOutcome is one memoized step result, keyed by (run, step, recipient).
// Existence of a row means the step completed and must not re-execute its
// side effects; Outcome carries the recorded result as JSON.
type StepOutcome struct {
	RunID       string
	Step        string
	RecipientID int64 // 0 for run-level steps
	Outcome     string
	CompletedAt time.Time
}

// RecipientResult is the per-recipient outcome of a send step.
type RecipientResult struct {
	SubscriberID int64  `json:"subscriberId"`
	Email        string `json:"email"`
	Status       string `json:"status"` // sent, skipped, failed
	Reason       string `json:"reason,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Report aggregates a finished (or dry) run.
type Report struct {
	RunID           string            `json:"runId"`
	IssueNumber     int64             `json:"issueNumber"`
	DryRun          bool              `json:"dryRun"`
	TotalRecipients int               `json:"totalRecipients"`
	Successful      int               `json:"successful"`
	Skipped         int               `json:"skipped"`
	Failed          int               `json:"failed"`
	Results         []RecipientResult `json:"results,omitempty"`
}

// Tally recomputes the aggregate counters from the per-recipient results.
// PRE: Results is populated
// POST: Successful/Skipped/Failed match Results; TotalRecipients is untouched
func (r *Report) Tally() {
	r.Successful, r.Skipped, r.Failed = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case ResultSent:
			r.Successful++
		case ResultSkipped:
			r.Skipped++
		case ResultFailed:
			r.Failed++
		}
	}
}

// DedupeTag builds the provider-side idempotency tag for an issue. Every
// recipient of one issue shares the tag; the provider scopes it per recipient.
func DedupeTag(issueNumber int64) string {
	return fmt.Sprintf("newsletter-issue-%d", issueNumber)
}
