package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial means the run finished with some chunks still failed.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Run is one row of the run registry.
type Run struct {
	RunID           string     `db:"run_id" json:"run_id"`
	Address         string     `db:"address" json:"address"`
	Source          string     `db:"source" json:"source"`
	SkillID         string     `db:"skill_id" json:"skill_id,omitempty"`
	Backend         string     `db:"backend" json:"backend,omitempty"`
	Mode            string     `db:"mode" json:"mode"`
	Status          RunStatus  `db:"status" json:"status"`
	TotalChunks     int        `db:"total_chunks" json:"total_chunks"`
	SelectedChunks  int        `db:"selected_chunks" json:"selected_chunks"`
	CompletedChunks int        `db:"completed_chunks" json:"completed_chunks"`
	FailedChunks    int        `db:"failed_chunks" json:"failed_chunks"`
	Error           string     `db:"error" json:"error,omitempty"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunResult closes a run. Completed and Failed are the ledger totals after
// the run, not just the chunks this run touched.
type RunResult struct {
	SkillID   string
	Total     int
	Selected  int
	Completed int
	Failed    int
	Err       error
}

// Status derives the terminal status of the run.
func (r RunResult) Status() RunStatus {
	switch {
	case r.Err != nil:
		return RunFailed
	case r.Failed > 0:
		return RunPartial
	default:
		return RunCompleted
	}
}

// StartRun registers a run in the running state.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	run.Status = RunRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock()
	}
	run.FinishedAt = nil

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ingestion_runs (
			run_id, address, source, skill_id, backend, mode, status,
			total_chunks, selected_chunks, completed_chunks, failed_chunks,
			error, started_at, finished_at
		) VALUES (
			:run_id, :address, :source, :skill_id, :backend, :mode, :status,
			:total_chunks, :selected_chunks, :completed_chunks, :failed_chunks,
			:error, :started_at, :finished_at
		)`, run)
	return errors.Wrapf(err, "failed to register run %s", run.RunID)
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, res RunResult) error {
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}

	out, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs SET
			status = ?, skill_id = ?, total_chunks = ?, selected_chunks = ?,
			completed_chunks = ?, failed_chunks = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		res.Status(), res.SkillID, res.Total, res.Selected,
		res.Completed, res.Failed, msg, s.clock(), runID)
	if err != nil {
		return errors.Wrapf(err, "failed to finish run %s", runID)
	}

	n, err := out.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrap(ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, "SELECT * FROM ingestion_runs WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrap(ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, errors.Wrapf(err, "failed to load run %s", runID)
	}
	return run, nil
}

// RunQuery filters ListRuns. Zero values match everything.
type RunQuery struct {
	Address string
	Status  RunStatus
	Limit   int
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	conditions := []string{}
	args := map[string]any{}

	if q.Address != "" {
		conditions = append(conditions, "address = :address")
		args["address"] = q.Address
	}
	if q.Status != "" {
		conditions = append(conditions, "status = :status")
		args["status"] = q.Status
	}

	query := "SELECT * FROM ingestion_runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id ASC"
	if q.Limit > 0 {
		query += " LIMIT :limit"
		args["limit"] = q.Limit
	}

	named, params, err := sqlx.Named(query, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build run query")
	}

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(named), params...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return runs, nil
}
