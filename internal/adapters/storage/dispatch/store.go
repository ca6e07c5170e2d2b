package dispatch

import (
	"context"
	"errors"
	"time"

	domain "hartwig/internal/domain/dispatch"
)

// Store errors surfaced to the workflow for classification.
var (
	ErrRunNotFound  = errors.New("dispatch run not found")
	ErrStepNotFound = errors.New("step outcome not found")
)

// Store defines the interface for durable run and step-outcome persistence.
// The step log is the workflow's memoization table: a recorded outcome is
// returned on replay instead of re-executing the step's side effects.
type Store interface {
	// CreateRun persists a new run in running status.
	// PRE: r has a fresh unique ID
	// POST: Run row exists
	CreateRun(ctx context.Context, r domain.Run) error

	// GetRun retrieves a run by ID.
	// PRE: id is non-empty
	// POST: Returns the run or ErrRunNotFound
	GetRun(ctx context.Context, id string) (domain.Run, error)

	// FinishRun marks a run done or failed with its finish time.
	// PRE: status is a terminal run status
	// POST: Run row updated
	FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error

	// ListUnfinished returns runs still in running status, oldest first.
	// Used by the resume scheduler after a crash.
	// PRE: limit > 0
	// POST: Returns up to limit runs
	ListUnfinished(ctx context.Context, limit int) ([]domain.Run, error)

	// GetStep retrieves a memoized step outcome.
	// PRE: runID and step are non-empty; recipientID is 0 for run-level steps
	// POST: Returns the outcome or ErrStepNotFound
	GetStep(ctx context.Context, runID, step string, recipientID int64) (domain.StepOutcome, error)

	// PutStep records a completed step's outcome. Writing the same key twice
	// keeps the first outcome: replays must observe what the original
	// execution recorded, not overwrite it.
	// PRE: o.Outcome is the JSON-encoded step result
	// POST: Exactly one outcome exists for the key
	PutStep(ctx context.Context, o domain.StepOutcome) error

	// ListSteps returns all recorded outcomes for a run and step name.
	// PRE: runID and step are non-empty
	// POST: Returns outcomes ordered by recipient id
	ListSteps(ctx context.Context, runID, step string) ([]domain.StepOutcome, error)
}
