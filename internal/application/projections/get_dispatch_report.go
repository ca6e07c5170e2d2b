package projections

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	ledgerStore "hartwig/internal/adapters/storage/ledger"
	dispatchDomain "hartwig/internal/domain/dispatch"
	"hartwig/internal/domain/fault"
)

// GetDispatchReportQuery carries query parameters.
type GetDispatchReportQuery struct {
	RunID string
}

// GetDispatchReportResult carries the query result: the run's identity, the
// per-recipient outcomes recorded in its step log, and the ledger's view of
// the whole issue (which may include deliveries from earlier runs).
type GetDispatchReportResult struct {
	Run            dispatchDomain.Run               `json:"run"`
	Results        []dispatchDomain.RecipientResult `json:"results"`
	Successful     int                              `json:"successful"`
	Skipped        int                              `json:"skipped"`
	Failed         int                              `json:"failed"`
	IssueDelivered int                              `json:"issueDelivered"` // Ledger rows with a provider message ID
	IssueErrored   int                              `json:"issueErrored"`   // Ledger rows holding a send error
	GeneratedAt    time.Time                        `json:"generatedAt"`
}

// GetDispatchReportDeps holds dependencies for GetDispatchReport.
type GetDispatchReportDeps struct {
	Runs   dispatchStore.Store
	Ledger ledgerStore.Store
	Now    func() time.Time
}

// QueryGetDispatchReport reconstructs a run report from the durable step log.
// Works for finished and still-running runs alike; read-only.
// PRE: query.RunID is non-empty
// POST: Returns the recorded outcomes or a NotFound fault
func QueryGetDispatchReport(ctx context.Context, query GetDispatchReportQuery, deps GetDispatchReportDeps) (GetDispatchReportResult, error) {
	if query.RunID == "" {
		return GetDispatchReportResult{}, fault.Validation("runId is required")
	}

	run, err := deps.Runs.GetRun(ctx, query.RunID)
	if errors.Is(err, dispatchStore.ErrRunNotFound) {
		return GetDispatchReportResult{}, fault.NotFound("dispatch run not found")
	}
	if err != nil {
		return GetDispatchReportResult{}, fault.Internal("failed to load dispatch run", err)
	}

	steps, err := deps.Runs.ListSteps(ctx, run.ID, dispatchDomain.StepSend)
	if err != nil {
		return GetDispatchReportResult{}, fault.Internal("failed to read step log", err)
	}

	result := GetDispatchReportResult{Run: run, GeneratedAt: deps.Now()}
	for _, o := range steps {
		var res dispatchDomain.RecipientResult
		if jerr := json.Unmarshal([]byte(o.Outcome), &res); jerr != nil {
			return GetDispatchReportResult{}, fault.Internal("corrupt send step record", jerr)
		}
		result.Results = append(result.Results, res)
		switch res.Status {
		case dispatchDomain.ResultSent:
			result.Successful++
		case dispatchDomain.ResultSkipped:
			result.Skipped++
		case dispatchDomain.ResultFailed:
			result.Failed++
		}
	}

	attempts, err := deps.Ledger.ListByIssue(ctx, run.IssueNumber)
	if err != nil {
		return GetDispatchReportResult{}, fault.Internal("failed to read dispatch ledger", err)
	}
	for _, a := range attempts {
		if a.Delivered() {
			result.IssueDelivered++
		} else if a.LastError != "" {
			result.IssueErrored++
		}
	}

	return result, nil
}
