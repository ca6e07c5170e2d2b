package projections

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	dispatchDomain "hartwig/internal/domain/dispatch"
	"hartwig/internal/domain/fault"
	ledgerDomain "hartwig/internal/domain/ledger"
)

type mockRunReader struct {
	runs  map[string]dispatchDomain.Run
	steps []dispatchDomain.StepOutcome
}

func (m *mockRunReader) CreateRun(_ context.Context, _ dispatchDomain.Run) error { return nil }

func (m *mockRunReader) GetRun(_ context.Context, id string) (dispatchDomain.Run, error) {
	r, ok := m.runs[id]
	if !ok {
		return dispatchDomain.Run{}, dispatchStore.ErrRunNotFound
	}
	return r, nil
}

func (m *mockRunReader) FinishRun(_ context.Context, _, _ string, _ time.Time) error { return nil }

func (m *mockRunReader) ListUnfinished(_ context.Context, _ int) ([]dispatchDomain.Run, error) {
	return nil, nil
}

func (m *mockRunReader) GetStep(_ context.Context, _, _ string, _ int64) (dispatchDomain.StepOutcome, error) {
	return dispatchDomain.StepOutcome{}, dispatchStore.ErrStepNotFound
}

func (m *mockRunReader) PutStep(_ context.Context, _ dispatchDomain.StepOutcome) error { return nil }

func (m *mockRunReader) ListSteps(_ context.Context, runID, step string) ([]dispatchDomain.StepOutcome, error) {
	var out []dispatchDomain.StepOutcome
	for _, o := range m.steps {
		if o.RunID == runID && o.Step == step {
			out = append(out, o)
		}
	}
	return out, nil
}

type mockLedgerReader struct {
	attempts []ledgerDomain.Attempt
}

func (m *mockLedgerReader) Get(_ context.Context, _, _ int64) (ledgerDomain.Attempt, error) {
	return ledgerDomain.Attempt{}, nil
}

func (m *mockLedgerReader) Upsert(_ context.Context, _ ledgerDomain.Attempt) error { return nil }

func (m *mockLedgerReader) ListByIssue(_ context.Context, issueNumber int64) ([]ledgerDomain.Attempt, error) {
	var out []ledgerDomain.Attempt
	for _, a := range m.attempts {
		if a.IssueNumber == issueNumber {
			out = append(out, a)
		}
	}
	return out, nil
}

func sendOutcome(t *testing.T, runID string, res dispatchDomain.RecipientResult) dispatchDomain.StepOutcome {
	t.Helper()
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	return dispatchDomain.StepOutcome{
		RunID:       runID,
		Step:        dispatchDomain.StepSend,
		RecipientID: res.SubscriberID,
		Outcome:     string(raw),
	}
}

func TestQueryGetDispatchReport(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	runs := &mockRunReader{
		runs: map[string]dispatchDomain.Run{
			"run-1": {ID: "run-1", IssueNumber: 6, Status: dispatchDomain.RunStatusDone, StartedAt: now.Add(-time.Hour)},
		},
	}
	runs.steps = []dispatchDomain.StepOutcome{
		sendOutcome(t, "run-1", dispatchDomain.RecipientResult{SubscriberID: 1, Email: "a@example.com", Status: dispatchDomain.ResultSent, MessageID: "msg-1"}),
		sendOutcome(t, "run-1", dispatchDomain.RecipientResult{SubscriberID: 2, Email: "b@example.com", Status: dispatchDomain.ResultSkipped, Reason: dispatchDomain.SkipAlreadyDelivered}),
	}
	ledger := &mockLedgerReader{attempts: []ledgerDomain.Attempt{
		{SubscriberID: 1, IssueNumber: 6, ProviderMessageID: "msg-1"},
		{SubscriberID: 2, IssueNumber: 6, ProviderMessageID: "msg-earlier"},
		{SubscriberID: 3, IssueNumber: 6, LastError: "bounced"},
		{SubscriberID: 4, IssueNumber: 5, ProviderMessageID: "other-issue"},
	}}
	deps := GetDispatchReportDeps{Runs: runs, Ledger: ledger, Now: func() time.Time { return now }}

	got, err := QueryGetDispatchReport(context.Background(), GetDispatchReportQuery{RunID: "run-1"}, deps)
	if err != nil {
		t.Fatalf("QueryGetDispatchReport() error = %v", err)
	}
	if got.Successful != 1 || got.Skipped != 1 || got.Failed != 0 {
		t.Errorf("Successful/Skipped/Failed = %d/%d/%d, want 1/1/0", got.Successful, got.Skipped, got.Failed)
	}
	if got.IssueDelivered != 2 {
		t.Errorf("IssueDelivered = %d, want 2 (other issues excluded)", got.IssueDelivered)
	}
	if got.IssueErrored != 1 {
		t.Errorf("IssueErrored = %d, want 1", got.IssueErrored)
	}

	_, err = QueryGetDispatchReport(context.Background(), GetDispatchReportQuery{RunID: "no-such-run"}, deps)
	if kind := fault.KindOf(err); kind != fault.KindNotFound {
		t.Errorf("unknown run kind = %v, want %v", kind, fault.KindNotFound)
	}

	_, err = QueryGetDispatchReport(context.Background(), GetDispatchReportQuery{}, deps)
	if kind := fault.KindOf(err); kind != fault.KindValidation {
		t.Errorf("empty run id kind = %v, want %v", kind, fault.KindValidation)
	}
}
