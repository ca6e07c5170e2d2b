package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hartwig/internal/adapters/storage"
	domain "hartwig/internal/domain/dispatch"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"
)

// SQLiteStore implements the dispatch Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new dispatch run/step store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateRun persists a new run in running status.
// PRE: r has a fresh unique ID
// POST: Run row exists
func (s *SQLiteStore) CreateRun(ctx context.Context, r domain.Run) error {
	dryRun := 0
	if r.DryRun {
		dryRun = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_run (id, issue_number, dry_run, recipient_limit, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.IssueNumber, dryRun, r.RecipientLimit, r.Status, r.StartedAt.Format(dateLayout))
	return err
}

// GetRun retrieves a run by ID.
// PRE: id is non-empty
// POST: Returns the run or ErrRunNotFound
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issue_number, dry_run, recipient_limit, status, started_at, finished_at
		 FROM dispatch_run WHERE id = ?`, id)
	return scanRun(row.Scan)
}

// FinishRun marks a run done or failed with its finish time.
// PRE: status is a terminal run status
// POST: Run row updated
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_run SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt.Format(dateLayout), id)
	return err
}

// ListUnfinished returns runs still in running status, oldest first.
// PRE: limit > 0
// POST: Returns up to limit runs
func (s *SQLiteStore) ListUnfinished(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_number, dry_run, recipient_limit, status, started_at, finished_at
		 FROM dispatch_run WHERE status = ? ORDER BY started_at ASC LIMIT ?`,
		domain.RunStatusRunning, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStep retrieves a memoized step outcome.
// PRE: runID and step are non-empty; recipientID is 0 for run-level steps
// POST: Returns the outcome or ErrStepNotFound
func (s *SQLiteStore) GetStep(ctx context.Context, runID, step string, recipientID int64) (domain.StepOutcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, step, recipient_id, outcome, completed_at
		 FROM dispatch_step WHERE run_id = ? AND step = ? AND recipient_id = ?`,
		runID, step, recipientID)

	var o domain.StepOutcome
	var completedAt string
	err := row.Scan(&o.RunID, &o.Step, &o.RecipientID, &o.Outcome, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StepOutcome{}, ErrStepNotFound
		}
		return domain.StepOutcome{}, err
	}
	o.CompletedAt, _ = time.Parse(dateLayout, completedAt)
	return o, nil
}

// PutStep records a completed step's outcome, keeping the first write.
// PRE: o.Outcome is the JSON-encoded step result
// POST: Exactly one outcome exists for the key
func (s *SQLiteStore) PutStep(ctx context.Context, o domain.StepOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_step (run_id, step, recipient_id, outcome, completed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step, recipient_id) DO NOTHING`,
		o.RunID, o.Step, o.RecipientID, o.Outcome, o.CompletedAt.Format(dateLayout))
	return err
}

// ListSteps returns all recorded outcomes for a run and step name.
// PRE: runID and step are non-empty
// POST: Returns outcomes ordered by recipient id
func (s *SQLiteStore) ListSteps(ctx context.Context, runID, step string) ([]domain.StepOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step, recipient_id, outcome, completed_at
		 FROM dispatch_step WHERE run_id = ? AND step = ? ORDER BY recipient_id ASC`,
		runID, step)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.StepOutcome
	for rows.Next() {
		var o domain.StepOutcome
		var completedAt string
		if err := rows.Scan(&o.RunID, &o.Step, &o.RecipientID, &o.Outcome, &completedAt); err != nil {
			return nil, err
		}
		o.CompletedAt, _ = time.Parse(dateLayout, completedAt)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// scanRun maps one row onto the domain struct.
func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var r domain.Run
	var dryRun int
	var startedAt string
	var finishedAt sql.NullString
	err := scan(&r.ID, &r.IssueNumber, &dryRun, &r.RecipientLimit, &r.Status, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, ErrRunNotFound
		}
		return domain.Run{}, err
	}
	r.DryRun = dryRun != 0
	r.StartedAt, _ = time.Parse(dateLayout, startedAt)
	if finishedAt.Valid {
		r.FinishedAt, _ = time.Parse(dateLayout, finishedAt.String)
	}
	return r, nil
}
