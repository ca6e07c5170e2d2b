package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hartwig/internal/adapters/content"
	"hartwig/internal/adapters/email"
	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	ledgerStore "hartwig/internal/adapters/storage/ledger"
	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	dispatchDomain "hartwig/internal/domain/dispatch"
	"hartwig/internal/domain/fault"
	issueDomain "hartwig/internal/domain/issue"
	ledgerDomain "hartwig/internal/domain/ledger"
	subscriberDomain "hartwig/internal/domain/subscriber"
)

const defaultDispatchWorkers = 4

// DispatchInput carries input for a dispatch run. When ResumeRunID is set the
// issue number, dry-run flag and limit are read from the stored run and the
// other fields here are ignored.
type DispatchInput struct {
	IssueNumber    int64
	DryRun         bool
	RecipientLimit int
	ResumeRunID    string
}

// DispatchDeps holds dependencies for the dispatch workflow.
type DispatchDeps struct {
	Subscribers    subscriberStore.Store
	Ledger         ledgerStore.Store
	Runs           dispatchStore.Store
	Content        content.Lookup
	Sender         email.Sender
	FromAddress    string
	ReplyTo        string
	UnsubscribeURL string
	Workers        int
	GenerateID     func() string
	Now            func() time.Time
}

// recipientRef is one snapshot entry, recorded in the step log so a resumed
// run iterates the exact recipient set the original run computed.
type recipientRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type contentOutcome struct {
	HTML string `json:"html"`
}

type recipientsOutcome struct {
	Recipients []recipientRef `json:"recipients"`
}

// ExecuteDispatchIssue runs the newsletter dispatch workflow for one issue.
//
// Every step consults the run's step log before executing and records its
// outcome after: re-running the workflow with the same run ID replays the
// recorded outcomes instead of repeating side effects. The per-recipient
// send step additionally re-checks eligibility and the dispatch ledger, so
// even a fresh run for an already-sent issue never double-sends.
//
// A failure before the fan-out (unknown issue, empty body, snapshot error)
// marks the run failed and aborts. A failure for one recipient is isolated:
// it is reported in the run's results and does not stop the others.
// PRE: none (input is validated here)
// POST: Run reaches a terminal status unless ctx was cancelled mid-run
func ExecuteDispatchIssue(ctx context.Context, input DispatchInput, deps DispatchDeps) (dispatchDomain.Report, error) {
	now := deps.Now()

	var run dispatchDomain.Run
	if input.ResumeRunID != "" {
		var err error
		run, err = deps.Runs.GetRun(ctx, input.ResumeRunID)
		if errors.Is(err, dispatchStore.ErrRunNotFound) {
			return dispatchDomain.Report{}, fault.NotFound("dispatch run not found")
		}
		if err != nil {
			return dispatchDomain.Report{}, fault.Internal("failed to load dispatch run", err)
		}
		if run.IsFinished() {
			return dispatchDomain.Report{}, fault.Conflict(dispatchDomain.ErrRunFinished.Error())
		}
		slog.Info("dispatch_event", "event", "run_resumed", "run_id", run.ID, "issue", run.IssueNumber)
	} else {
		if input.IssueNumber < 1 {
			return dispatchDomain.Report{}, fault.Validation(dispatchDomain.ErrIssueRequired.Error())
		}
		run = dispatchDomain.Run{
			ID:             deps.GenerateID(),
			IssueNumber:    input.IssueNumber,
			DryRun:         input.DryRun,
			RecipientLimit: input.RecipientLimit,
			Status:         dispatchDomain.RunStatusRunning,
			StartedAt:      now,
		}
		if err := deps.Runs.CreateRun(ctx, run); err != nil {
			return dispatchDomain.Report{}, fault.Internal("failed to create dispatch run", err)
		}
		slog.Info("dispatch_event", "event", "run_started", "run_id", run.ID, "issue", run.IssueNumber, "dry_run", run.DryRun)
	}

	html, err := stepLoadContent(ctx, deps, run)
	if err != nil {
		failDispatchRun(ctx, deps, run, err)
		return dispatchDomain.Report{}, err
	}

	meta, err := stepLoadMetadata(ctx, deps, run)
	if err != nil {
		failDispatchRun(ctx, deps, run, err)
		return dispatchDomain.Report{}, err
	}

	snapshot, err := stepComputeRecipients(ctx, deps, run)
	if err != nil {
		failDispatchRun(ctx, deps, run, err)
		return dispatchDomain.Report{}, err
	}

	report := dispatchDomain.Report{
		RunID:           run.ID,
		IssueNumber:     run.IssueNumber,
		DryRun:          run.DryRun,
		TotalRecipients: len(snapshot),
	}

	if run.DryRun {
		for _, rcpt := range snapshot {
			report.Results = append(report.Results, dispatchDomain.RecipientResult{
				SubscriberID: rcpt.ID,
				Email:        rcpt.Email,
				Status:       dispatchDomain.ResultPlanned,
			})
		}
		if err := deps.Runs.FinishRun(ctx, run.ID, dispatchDomain.RunStatusDone, deps.Now()); err != nil {
			return report, fault.Internal("failed to finish dispatch run", err)
		}
		slog.Info("dispatch_event", "event", "dry_run_finished", "run_id", run.ID, "recipients", len(snapshot))
		return report, nil
	}

	workers := deps.Workers
	if workers < 1 {
		workers = defaultDispatchWorkers
	}

	results := make([]dispatchDomain.RecipientResult, len(snapshot))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, rcpt := range snapshot {
		if ctx.Err() != nil {
			// Stop launching; recipients not reached stay unrecorded and a
			// resumed run picks them up.
			results[i] = dispatchDomain.RecipientResult{
				SubscriberID: rcpt.ID,
				Email:        rcpt.Email,
				Status:       dispatchDomain.ResultFailed,
				Error:        ctx.Err().Error(),
			}
			continue
		}
		wg.Add(1)
		go func(i int, rcpt recipientRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = sendToRecipient(ctx, deps, run, meta, html, rcpt)
		}(i, rcpt)
	}
	wg.Wait()

	report.Results = results
	report.Tally()

	if ctx.Err() != nil {
		// Leave the run in running status: the resume scheduler retries it.
		return report, fault.Internal("dispatch run interrupted", ctx.Err())
	}

	if err := deps.Runs.FinishRun(ctx, run.ID, dispatchDomain.RunStatusDone, deps.Now()); err != nil {
		return report, fault.Internal("failed to finish dispatch run", err)
	}
	slog.Info("dispatch_event", "event", "run_finished", "run_id", run.ID,
		"sent", report.Successful, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// failDispatchRun records a fatal pre-fan-out failure as a terminal status.
func failDispatchRun(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run, cause error) {
	if err := deps.Runs.FinishRun(ctx, run.ID, dispatchDomain.RunStatusFailed, deps.Now()); err != nil {
		slog.Error("dispatch_event", "event", "fail_run_error", "run_id", run.ID, "error", err)
	}
	slog.Error("dispatch_event", "event", "run_failed", "run_id", run.ID, "error", cause)
}

// stepLoadContent renders the issue body, memoized in the step log. The full
// HTML is recorded so a resumed run sends byte-identical content even if the
// source file changed in between.
func stepLoadContent(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run) (string, error) {
	if o, err := deps.Runs.GetStep(ctx, run.ID, dispatchDomain.StepLoadContent, 0); err == nil {
		var rec contentOutcome
		if jerr := json.Unmarshal([]byte(o.Outcome), &rec); jerr != nil {
			return "", fault.Internal("corrupt content step record", jerr)
		}
		return rec.HTML, nil
	} else if !errors.Is(err, dispatchStore.ErrStepNotFound) {
		return "", fault.Internal("failed to read step log", err)
	}

	html, err := deps.Content.HTML(ctx, run.IssueNumber)
	switch {
	case errors.Is(err, issueDomain.ErrUnknownIssue):
		return "", fault.NotFound(issueDomain.ErrUnknownIssue.Error())
	case errors.Is(err, issueDomain.ErrEmptyBody):
		return "", fault.Internal(issueDomain.ErrEmptyBody.Error(), err)
	case err != nil:
		return "", fault.Internal("failed to render issue content", err)
	}

	if err := putStepJSON(ctx, deps, run.ID, dispatchDomain.StepLoadContent, 0, contentOutcome{HTML: html}); err != nil {
		return "", err
	}
	return html, nil
}

// stepLoadMetadata resolves issue metadata, memoized in the step log.
func stepLoadMetadata(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run) (issueDomain.Issue, error) {
	if o, err := deps.Runs.GetStep(ctx, run.ID, dispatchDomain.StepLoadMetadata, 0); err == nil {
		var rec issueDomain.Issue
		if jerr := json.Unmarshal([]byte(o.Outcome), &rec); jerr != nil {
			return issueDomain.Issue{}, fault.Internal("corrupt metadata step record", jerr)
		}
		return rec, nil
	} else if !errors.Is(err, dispatchStore.ErrStepNotFound) {
		return issueDomain.Issue{}, fault.Internal("failed to read step log", err)
	}

	meta, err := deps.Content.Metadata(ctx, run.IssueNumber)
	if errors.Is(err, issueDomain.ErrUnknownIssue) {
		return issueDomain.Issue{}, fault.NotFound(issueDomain.ErrUnknownIssue.Error())
	}
	if err != nil {
		return issueDomain.Issue{}, fault.Internal("failed to load issue metadata", err)
	}
	if err := meta.Validate(); err != nil {
		return issueDomain.Issue{}, fault.Internal("issue metadata is incomplete", err)
	}

	if err := putStepJSON(ctx, deps, run.ID, dispatchDomain.StepLoadMetadata, 0, meta); err != nil {
		return issueDomain.Issue{}, err
	}
	return meta, nil
}

// stepComputeRecipients snapshots the eligible recipient set, memoized in the
// step log. The snapshot fixes membership; per-recipient eligibility is
// re-checked at send time so the snapshot can only shrink, never grow.
func stepComputeRecipients(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run) ([]recipientRef, error) {
	if o, err := deps.Runs.GetStep(ctx, run.ID, dispatchDomain.StepComputeRecipients, 0); err == nil {
		var rec recipientsOutcome
		if jerr := json.Unmarshal([]byte(o.Outcome), &rec); jerr != nil {
			return nil, fault.Internal("corrupt recipients step record", jerr)
		}
		return rec.Recipients, nil
	} else if !errors.Is(err, dispatchStore.ErrStepNotFound) {
		return nil, fault.Internal("failed to read step log", err)
	}

	subs, err := deps.Subscribers.ListEligible(ctx, run.IssueNumber, run.RecipientLimit)
	if err != nil {
		return nil, fault.Internal("failed to compute recipients", err)
	}
	refs := make([]recipientRef, 0, len(subs))
	for _, s := range subs {
		refs = append(refs, recipientRef{ID: s.ID, Email: s.Email})
	}

	if err := putStepJSON(ctx, deps, run.ID, dispatchDomain.StepComputeRecipients, 0, recipientsOutcome{Recipients: refs}); err != nil {
		return nil, err
	}
	return refs, nil
}

func putStepJSON(ctx context.Context, deps DispatchDeps, runID, step string, recipientID int64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fault.Internal("failed to encode step outcome", err)
	}
	if err := deps.Runs.PutStep(ctx, dispatchDomain.StepOutcome{
		RunID:       runID,
		Step:        step,
		RecipientID: recipientID,
		Outcome:     string(raw),
		CompletedAt: deps.Now(),
	}); err != nil {
		return fault.Internal("failed to record step outcome", err)
	}
	return nil
}

// sendToRecipient executes the per-recipient send step. A memoized outcome is
// replayed verbatim; failed outcomes are deliberately not memoized so a
// resumed run retries them.
func sendToRecipient(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run, meta issueDomain.Issue, html string, rcpt recipientRef) dispatchDomain.RecipientResult {
	if o, err := deps.Runs.GetStep(ctx, run.ID, dispatchDomain.StepSend, rcpt.ID); err == nil {
		var res dispatchDomain.RecipientResult
		if jerr := json.Unmarshal([]byte(o.Outcome), &res); jerr != nil {
			return failedResult(rcpt, fmt.Errorf("corrupt send step record: %w", jerr))
		}
		return res
	} else if !errors.Is(err, dispatchStore.ErrStepNotFound) {
		return failedResult(rcpt, err)
	}

	res := deliverOnce(ctx, deps, run, meta, html, rcpt)

	if res.Status != dispatchDomain.ResultFailed {
		if err := putStepJSON(ctx, deps, run.ID, dispatchDomain.StepSend, rcpt.ID, res); err != nil {
			slog.Error("dispatch_event", "event", "step_record_error", "run_id", run.ID,
				"subscriber_id", rcpt.ID, "error", err)
		}
	}
	return res
}

// deliverOnce performs one delivery attempt with all its guards:
// fresh eligibility re-check, ledger consultation, best-effort provider
// corroboration for ambiguous ledger rows, a pre-send ledger mark, the send
// itself, the idempotent counter advance and the final ledger record.
func deliverOnce(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run, meta issueDomain.Issue, html string, rcpt recipientRef) dispatchDomain.RecipientResult {
	sub, err := deps.Subscribers.GetByID(ctx, rcpt.ID)
	if errors.Is(err, subscriberStore.ErrNotFound) {
		return skippedResult(rcpt, dispatchDomain.SkipNoLongerEligible, "")
	}
	if err != nil {
		return failedResult(rcpt, err)
	}
	if !sub.EligibleFor(run.IssueNumber) {
		// Unsubscribed, unconfirmed again, or already past this issue since
		// the snapshot was taken.
		reason := dispatchDomain.SkipNoLongerEligible
		if sub.LatestIssueSent >= run.IssueNumber {
			reason = dispatchDomain.SkipAlreadyDelivered
		}
		return skippedResult(rcpt, reason, "")
	}

	tag := dispatchDomain.DedupeTag(run.IssueNumber)

	attempt, lerr := deps.Ledger.Get(ctx, sub.ID, run.IssueNumber)
	switch {
	case lerr == nil && attempt.Delivered():
		return markDelivered(ctx, deps, run, sub, attempt.ProviderMessageID, rcpt)
	case lerr == nil && attempt.Ambiguous():
		// A crash between the pre-send mark and the final record left us not
		// knowing whether the provider accepted the message. The ledger stays
		// authoritative; the provider is asked as best-effort corroboration
		// and silence means "retry the send" (the provider-side dedupe tag
		// bounds the worst case to the provider's own suppression).
		was, werr := deps.Sender.WasAlreadySent(ctx, sub.Email, tag)
		if werr != nil {
			slog.Warn("dispatch_event", "event", "provider_check_error", "run_id", run.ID,
				"subscriber_id", sub.ID, "error", werr)
		}
		if was {
			attempt.ProviderMessageID = "provider-confirmed"
			if uerr := deps.Ledger.Upsert(ctx, attempt); uerr != nil {
				return failedResult(rcpt, uerr)
			}
			return markDelivered(ctx, deps, run, sub, attempt.ProviderMessageID, rcpt)
		}
	case lerr != nil && !errors.Is(lerr, ledgerStore.ErrNotFound):
		return failedResult(rcpt, lerr)
	}

	// Pre-send mark: if we crash after the provider call but before the final
	// record, the row is ambiguous and the branch above handles the retry.
	now := deps.Now()
	if err := deps.Ledger.Upsert(ctx, ledgerDomain.Attempt{
		SubscriberID: sub.ID,
		IssueNumber:  run.IssueNumber,
		SentAt:       now,
	}); err != nil {
		return failedResult(rcpt, err)
	}

	sent, err := deps.Sender.Send(ctx, email.SendRequest{
		To:        []string{sub.Email},
		From:      deps.FromAddress,
		Subject:   meta.Subject(),
		HTML:      html,
		Text:      textFallback(sub, meta, deps.UnsubscribeURL),
		ReplyTo:   deps.ReplyTo,
		DedupeTag: tag,
	})
	if err != nil {
		if uerr := deps.Ledger.Upsert(ctx, ledgerDomain.Attempt{
			SubscriberID: sub.ID,
			IssueNumber:  run.IssueNumber,
			SentAt:       now,
			LastError:    err.Error(),
		}); uerr != nil {
			slog.Error("dispatch_event", "event", "ledger_record_error", "run_id", run.ID,
				"subscriber_id", sub.ID, "error", uerr)
		}
		return failedResult(rcpt, err)
	}

	if _, err := deps.Subscribers.AdvanceHighWater(ctx, sub.ID, run.IssueNumber); err != nil {
		// The message is out; record what we know and surface the failure so
		// the resume path (ledger row now carries the message ID) can settle it.
		if uerr := deps.Ledger.Upsert(ctx, ledgerDomain.Attempt{
			SubscriberID:      sub.ID,
			IssueNumber:       run.IssueNumber,
			SentAt:            now,
			ProviderMessageID: sent.MessageID,
		}); uerr != nil {
			slog.Error("dispatch_event", "event", "ledger_record_error", "run_id", run.ID,
				"subscriber_id", sub.ID, "error", uerr)
		}
		return failedResult(rcpt, err)
	}

	if err := deps.Ledger.Upsert(ctx, ledgerDomain.Attempt{
		SubscriberID:      sub.ID,
		IssueNumber:       run.IssueNumber,
		SentAt:            now,
		ProviderMessageID: sent.MessageID,
	}); err != nil {
		return failedResult(rcpt, err)
	}

	slog.Info("dispatch_event", "event", "issue_sent", "run_id", run.ID,
		"subscriber_id", sub.ID, "issue", run.IssueNumber, "message_id", sent.MessageID)
	return dispatchDomain.RecipientResult{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Status:       dispatchDomain.ResultSent,
		MessageID:    sent.MessageID,
	}
}

// markDelivered handles the already-delivered path: no send, but the counter
// advance still runs because it is idempotent and may have been the part that
// was lost in a crash.
func markDelivered(ctx context.Context, deps DispatchDeps, run dispatchDomain.Run, sub subscriberDomain.Subscriber, messageID string, rcpt recipientRef) dispatchDomain.RecipientResult {
	if _, err := deps.Subscribers.AdvanceHighWater(ctx, sub.ID, run.IssueNumber); err != nil {
		return failedResult(rcpt, err)
	}
	return skippedResult(rcpt, dispatchDomain.SkipAlreadyDelivered, messageID)
}

func skippedResult(rcpt recipientRef, reason, messageID string) dispatchDomain.RecipientResult {
	return dispatchDomain.RecipientResult{
		SubscriberID: rcpt.ID,
		Email:        rcpt.Email,
		Status:       dispatchDomain.ResultSkipped,
		Reason:       reason,
		MessageID:    messageID,
	}
}

func failedResult(rcpt recipientRef, err error) dispatchDomain.RecipientResult {
	return dispatchDomain.RecipientResult{
		SubscriberID: rcpt.ID,
		Email:        rcpt.Email,
		Status:       dispatchDomain.ResultFailed,
		Error:        err.Error(),
	}
}

// textFallback builds the plain-text body for recipients whose client cannot
// render HTML.
func textFallback(sub subscriberDomain.Subscriber, meta issueDomain.Issue, unsubscribeURL string) string {
	greeting := "Hello,"
	if sub.Name != "" {
		greeting = fmt.Sprintf("Hi %s,", sub.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting)
	fmt.Fprintf(&b, "Issue #%d: %s\n", meta.Number, meta.Title)
	if meta.Description != "" {
		fmt.Fprintf(&b, "%s\n", meta.Description)
	}
	if meta.WebURL != "" {
		fmt.Fprintf(&b, "\nRead online: %s\n", meta.WebURL)
	}
	if unsubscribeURL != "" {
		fmt.Fprintf(&b, "\nTo unsubscribe, visit %s\n", unsubscribeURL)
	}
	return b.String()
}
