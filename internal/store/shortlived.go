package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
)

// ShortLived is the short-lived StateStore implementation: every call
// acquires a connection from a small pgxpool.Pool and releases it before
// returning, avoiding the idle-connection buildup a long-lived GORM pool
// would accumulate under serverless autoscale (spec.md §4.1). It talks to
// Postgres directly via pgx rather than through GORM.
type ShortLived struct {
	pool *pgxpool.Pool
}

// NewShortLived opens a pgxpool.Pool sized for one-connection-per-call use.
func NewShortLived(ctx context.Context, dsn string) (*ShortLived, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pgxpool: %w", err)
	}
	return &ShortLived{pool: pool}, nil
}

func (s *ShortLived) Close() error {
	s.pool.Close()
	return nil
}

func (s *ShortLived) CreateJob(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	stageResults, err := json.Marshal(job.StageResults)
	if err != nil {
		return err
	}
	resultData, err := json.Marshal(job.ResultData)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, job_type, parameters, status, stage, total_stages, stage_results, result_data, error_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (job_id) DO NOTHING`,
		job.JobID, job.JobType, params, string(job.Status), job.Stage, job.TotalStages, stageResults, resultData, job.ErrorDetails, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *ShortLived) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, job_type, parameters, status, stage, total_stages, stage_results, result_data, error_details, created_at, updated_at
		FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j                                    domain.Job
		status                               string
		params, stageResults, resultData     []byte
	)
	if err := row.Scan(&j.JobID, &j.JobType, &params, &status, &j.Stage, &j.TotalStages, &stageResults, &resultData, &j.ErrorDetails, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	if err := unmarshalIfPresent(params, &j.Parameters); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(stageResults, &j.StageResults); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(resultData, &j.ResultData); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *ShortLived) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT task_id, parent_job_id, job_type, task_type, stage, task_index, parameters, status, retry_count,
		       result_data, error_details, checkpoint_phase, checkpoint_data, checkpoint_updated_at,
		       execution_started_at, target_queue, executed_by_app, created_at, updated_at
		FROM tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t                                      domain.Task
		status                                 string
		params, resultData, checkpointData     []byte
	)
	if err := row.Scan(&t.TaskID, &t.ParentJobID, &t.JobType, &t.TaskType, &t.Stage, &t.TaskIndex, &params, &status,
		&t.RetryCount, &resultData, &t.ErrorDetails, &t.CheckpointPhase, &checkpointData, &t.CheckpointUpdatedAt,
		&t.ExecutionStartedAt, &t.TargetQueue, &t.ExecutedByApp, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	if err := unmarshalIfPresent(params, &t.Parameters); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(resultData, &t.ResultData); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(checkpointData, &t.CheckpointData); err != nil {
		return nil, err
	}
	return &t, nil
}

func unmarshalIfPresent(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (s *ShortLived) UpdateJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		from := domain.JobStatus(current)
		if from == newStatus {
			return nil
		}
		if !ValidJobTransition(from, newStatus) {
			return domain.ErrInvalidTransition
		}
		_, err := tx.Exec(ctx, `UPDATE jobs SET status = $1, updated_at = $2 WHERE job_id = $3`, string(newStatus), time.Now().UTC(), jobID)
		return err
	})
}

func (s *ShortLived) UpdateJobStage(ctx context.Context, jobID string, newStage int) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET stage = $1, updated_at = $2 WHERE job_id = $3`, newStage, time.Now().UTC(), jobID)
	return err
}

func (s *ShortLived) UpsertTask(ctx context.Context, task *domain.Task) error {
	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, parent_job_id, job_type, task_type, stage, task_index, parameters, status,
		                    retry_count, result_data, error_details, checkpoint_phase, checkpoint_data,
		                    target_queue, executed_by_app, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NULL, '', 0, NULL, $9, $10, $11, $11)
		ON CONFLICT (task_id) DO NOTHING`,
		task.TaskID, task.ParentJobID, task.JobType, task.TaskType, task.Stage, task.TaskIndex, params,
		string(domain.TaskPending), task.TargetQueue, task.ExecutedByApp, time.Now().UTC())
	return err
}

func (s *ShortLived) UpdateTaskStatus(ctx context.Context, taskID string, newStatus domain.TaskStatus) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		var startedAt *time.Time
		if err := tx.QueryRow(ctx, `SELECT status, execution_started_at FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).Scan(&current, &startedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		from := domain.TaskStatus(current)
		if from == newStatus {
			return nil
		}
		if !ValidTaskTransition(from, newStatus) {
			return domain.ErrInvalidTransition
		}
		now := time.Now().UTC()
		if newStatus == domain.TaskProcessing && startedAt == nil {
			_, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, execution_started_at = $2, updated_at = $2 WHERE task_id = $3`, string(newStatus), now, taskID)
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE task_id = $3`, string(newStatus), now, taskID)
		return err
	})
}

func (s *ShortLived) UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var currentPhase int
		if err := tx.QueryRow(ctx, `SELECT checkpoint_phase FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).Scan(&currentPhase); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if phase < currentPhase {
			return fmt.Errorf("store: checkpoint phase regression %d -> %d: %w", currentPhase, phase, domain.ErrContractViolation)
		}
		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `UPDATE tasks SET checkpoint_phase = $1, checkpoint_data = $2, checkpoint_updated_at = $3, updated_at = $3 WHERE task_id = $4`,
			phase, data, now, taskID)
		return err
	})
}

func (s *ShortLived) GetCheckpoint(ctx context.Context, taskID string) (int, domain.Params, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return 0, nil, err
	}
	return task.CheckpointPhase, task.CheckpointData, nil
}

func (s *ShortLived) GetCompletedTasksForStage(ctx context.Context, jobID string, stage int) ([]domain.TaskResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, task_type, task_index, status, result_data, error_details
		FROM tasks WHERE parent_job_id = $1 AND stage = $2 AND status IN ('COMPLETED', 'FAILED')
		ORDER BY task_index ASC`, jobID, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TaskResult
	for rows.Next() {
		var (
			tr         domain.TaskResult
			status     string
			resultData []byte
		)
		if err := rows.Scan(&tr.TaskID, &tr.TaskType, &tr.TaskIndex, &status, &resultData, &tr.Error); err != nil {
			return nil, err
		}
		tr.Status = domain.TaskStatus(status)
		tr.Success = tr.Status == domain.TaskCompleted
		if err := unmarshalIfPresent(resultData, &tr.Result); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CompleteTaskAndCheckStage mirrors Pooled's implementation but over a raw
// pgx transaction instead of GORM.
func (s *ShortLived) CompleteTaskAndCheckStage(ctx context.Context, taskID, jobID string, stage int, status domain.TaskStatus, result domain.Params, errDetails string) (domain.CompletionOutcome, error) {
	var outcome domain.CompletionOutcome
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		key1, key2 := advisoryLockKeys(jobID, stage)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, key1, key2); err != nil {
			return fmt.Errorf("store: acquire advisory lock: %w", err)
		}

		var currentStatus string
		if err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).Scan(&currentStatus); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		from := domain.TaskStatus(currentStatus)
		alreadyTerminal := from.IsTerminal()
		if !alreadyTerminal {
			if !ValidTaskTransition(from, status) {
				return domain.ErrInvalidTransition
			}
			data, err := json.Marshal(result)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, result_data = $2, error_details = $3, updated_at = $4 WHERE task_id = $5`,
				string(status), data, errDetails, time.Now().UTC(), taskID); err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `SELECT status, count(*) FROM tasks WHERE parent_job_id = $1 AND stage = $2 GROUP BY status`, jobID, stage)
		if err != nil {
			return err
		}
		defer rows.Close()

		total, succeeded, failed, nonTerminal := 0, 0, 0, 0
		for rows.Next() {
			var st string
			var count int
			if err := rows.Scan(&st, &count); err != nil {
				return err
			}
			total += count
			switch domain.TaskStatus(st) {
			case domain.TaskCompleted:
				succeeded += count
			case domain.TaskFailed:
				failed += count
			default:
				nonTerminal += count
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		outcome = domain.CompletionOutcome{Total: total, Succeeded: succeeded, Failed: failed}
		outcome.StageComplete = !alreadyTerminal && nonTerminal == 0 && total > 0
		return nil
	})
	if err != nil {
		return domain.CompletionOutcome{}, err
	}
	return outcome, nil
}

func (s *ShortLived) SetStageResults(ctx context.Context, jobID string, summary domain.StageResultSummary) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var raw []byte
		if err := tx.QueryRow(ctx, `SELECT stage_results FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		existing := map[int]domain.StageResultSummary{}
		if err := unmarshalIfPresent(raw, &existing); err != nil {
			return err
		}
		existing[summary.Stage] = summary
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobs SET stage_results = $1, updated_at = $2 WHERE job_id = $3`, data, time.Now().UTC(), jobID)
		return err
	})
}

func (s *ShortLived) FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, resultData map[string]any, errorDetails string) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if !ValidJobTransition(domain.JobStatus(current), status) {
			return domain.ErrInvalidTransition
		}
		data, err := json.Marshal(resultData)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobs SET status = $1, result_data = $2, error_details = $3, updated_at = $4 WHERE job_id = $5`,
			string(status), data, errorDetails, time.Now().UTC(), jobID)
		return err
	})
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isPgConnError reports whether err is a *pgconn.PgError, retained for
// callers that need to distinguish a constraint violation from a connection
// failure (spec.md §4.1 failure semantics: connection failures propagate).
func isPgConnError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
