package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
)

// PoolConfig sizes the long-running connection pool (spec.md §4.1
// "long-running" + config surface worker.pool.min/max).
type PoolConfig struct {
	MinConns int
	MaxConns int
}

// Pooled is the long-running StateStore implementation: a bounded *gorm.DB
// pool that can be rebuilt in place when credentials are refreshed, without
// severing calls already in flight. Grounded on the teacher's
// internal/data/db/postgres.go single-pool pattern, widened with the
// drain-then-rebuild sequence spec.md §4.1/§9 requires.
type Pooled struct {
	dsn string
	cfg PoolConfig
	log *logger.Logger

	mu sync.RWMutex
	db *gorm.DB
	wg *sync.WaitGroup // tracks in-flight borrows of the current db

	closing chan struct{}
}

// NewPooled opens a long-lived *gorm.DB pool against dsn.
func NewPooled(dsn string, cfg PoolConfig, log *logger.Logger) (*Pooled, error) {
	p := &Pooled{dsn: dsn, cfg: cfg, log: log, closing: make(chan struct{})}
	db, err := openPool(dsn, cfg)
	if err != nil {
		return nil, err
	}
	p.db = db
	p.wg = &sync.WaitGroup{}
	return p, nil
}

func openPool(dsn string, cfg PoolConfig) (*gorm.DB, error) {
	gl := gormLogger.Default.LogMode(gormLogger.Warn)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(minConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// RebuildPool opens a fresh pool (e.g. after credential rotation), swaps it
// in atomically, and defers closing the old pool until every borrow already
// in flight against it returns. New calls observe the new pool immediately.
func (p *Pooled) RebuildPool(ctx context.Context) error {
	newDB, err := openPool(p.dsn, p.cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	oldDB := p.db
	oldWG := p.wg
	p.db = newDB
	p.wg = &sync.WaitGroup{}
	p.mu.Unlock()

	go func() {
		oldWG.Wait()
		if sqlDB, err := oldDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if p.log != nil {
			p.log.Info("store: old pool drained and closed")
		}
	}()
	return nil
}

// borrow returns the current db plus a release function; callers must call
// release when done so RebuildPool's drain can observe it.
func (p *Pooled) borrow() (*gorm.DB, func()) {
	p.mu.RLock()
	db := p.db
	wg := p.wg
	wg.Add(1)
	p.mu.RUnlock()
	return db, wg.Done
}

func (p *Pooled) Close() error {
	close(p.closing)
	p.mu.RLock()
	db := p.db
	p.mu.RUnlock()
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports pool connectivity, used by the httpapi readiness probe.
func (p *Pooled) Ping(ctx context.Context) error {
	db, release := p.borrow()
	defer release()
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *Pooled) CreateJob(ctx context.Context, job *domain.Job) error {
	db, release := p.borrow()
	defer release()

	rec, err := toJobRecord(job)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (p *Pooled) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	db, release := p.borrow()
	defer release()

	var rec jobRecord
	if err := db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return fromJobRecord(&rec)
}

func (p *Pooled) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	db, release := p.borrow()
	defer release()

	var rec taskRecord
	if err := db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return fromTaskRecord(&rec)
}

func (p *Pooled) UpdateJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus) error {
	db, release := p.borrow()
	defer release()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		if err := tx.Where("job_id = ?", jobID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !ValidJobTransition(domain.JobStatus(rec.Status), newStatus) {
			return domain.ErrInvalidTransition
		}
		if domain.JobStatus(rec.Status) == newStatus {
			return nil
		}
		return tx.Model(&jobRecord{}).Where("job_id = ?", jobID).
			Updates(map[string]any{"status": string(newStatus), "updated_at": time.Now().UTC()}).Error
	})
}

func (p *Pooled) UpdateJobStage(ctx context.Context, jobID string, newStage int) error {
	db, release := p.borrow()
	defer release()
	return db.WithContext(ctx).Model(&jobRecord{}).Where("job_id = ?", jobID).
		Updates(map[string]any{"stage": newStage, "updated_at": time.Now().UTC()}).Error
}

func (p *Pooled) UpsertTask(ctx context.Context, task *domain.Task) error {
	db, release := p.borrow()
	defer release()

	rec, err := toTaskRecord(task)
	if err != nil {
		return err
	}
	rec.Status = string(domain.TaskPending)
	err = db.WithContext(ctx).
		Where("task_id = ?", rec.TaskID).
		FirstOrCreate(rec).Error
	return err
}

func (p *Pooled) UpdateTaskStatus(ctx context.Context, taskID string, newStatus domain.TaskStatus) error {
	db, release := p.borrow()
	defer release()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		if err := tx.Where("task_id = ?", taskID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		from := domain.TaskStatus(rec.Status)
		if !ValidTaskTransition(from, newStatus) {
			return domain.ErrInvalidTransition
		}
		if from == newStatus {
			return nil
		}
		updates := map[string]any{"status": string(newStatus), "updated_at": time.Now().UTC()}
		if newStatus == domain.TaskProcessing && rec.ExecutionStartedAt == nil {
			now := time.Now().UTC()
			updates["execution_started_at"] = now
		}
		return tx.Model(&taskRecord{}).Where("task_id = ?", taskID).Updates(updates).Error
	})
}

func (p *Pooled) UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	db, release := p.borrow()
	defer release()

	data, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		if err := tx.Where("task_id = ?", taskID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if phase < rec.CheckpointPhase {
			return fmt.Errorf("store: checkpoint phase regression %d -> %d: %w", rec.CheckpointPhase, phase, domain.ErrContractViolation)
		}
		now := time.Now().UTC()
		return tx.Model(&taskRecord{}).Where("task_id = ?", taskID).Updates(map[string]any{
			"checkpoint_phase":      phase,
			"checkpoint_data":       data,
			"checkpoint_updated_at": now,
			"updated_at":            now,
		}).Error
	})
}

func (p *Pooled) GetCheckpoint(ctx context.Context, taskID string) (int, domain.Params, error) {
	task, err := p.GetTask(ctx, taskID)
	if err != nil {
		return 0, nil, err
	}
	return task.CheckpointPhase, task.CheckpointData, nil
}

func (p *Pooled) GetCompletedTasksForStage(ctx context.Context, jobID string, stage int) ([]domain.TaskResult, error) {
	db, release := p.borrow()
	defer release()

	var recs []taskRecord
	err := db.WithContext(ctx).
		Where("parent_job_id = ? AND stage = ? AND status IN ?", jobID, stage, []string{string(domain.TaskCompleted), string(domain.TaskFailed)}).
		Order("task_index asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return taskRecordsToResults(recs)
}

func taskRecordsToResults(recs []taskRecord) ([]domain.TaskResult, error) {
	out := make([]domain.TaskResult, 0, len(recs))
	for _, r := range recs {
		var result domain.Params
		if err := unmarshalJSON(r.ResultData, &result); err != nil {
			return nil, err
		}
		out = append(out, domain.TaskResult{
			TaskID:    r.TaskID,
			TaskType:  r.TaskType,
			TaskIndex: r.TaskIndex,
			Status:    domain.TaskStatus(r.Status),
			Success:   domain.TaskStatus(r.Status) == domain.TaskCompleted,
			Result:    result,
			Error:     r.ErrorDetails,
		})
	}
	return out, nil
}

// CompleteTaskAndCheckStage is the critical atomic primitive (spec.md §4.1).
// The advisory lock is acquired with pg_advisory_xact_lock inside the
// enclosing transaction, so it is released automatically on commit or
// rollback -- no manual unlock bookkeeping is required.
func (p *Pooled) CompleteTaskAndCheckStage(ctx context.Context, taskID, jobID string, stage int, status domain.TaskStatus, result domain.Params, errDetails string) (domain.CompletionOutcome, error) {
	db, release := p.borrow()
	defer release()

	var outcome domain.CompletionOutcome
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key1, key2 := advisoryLockKeys(jobID, stage)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", key1, key2).Error; err != nil {
			return fmt.Errorf("store: acquire advisory lock: %w", err)
		}

		var rec taskRecord
		if err := tx.Where("task_id = ?", taskID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		alreadyTerminal := domain.TaskStatus(rec.Status).IsTerminal()
		if !alreadyTerminal {
			if !ValidTaskTransition(domain.TaskStatus(rec.Status), status) {
				return domain.ErrInvalidTransition
			}
			resultData, err := marshalJSON(result)
			if err != nil {
				return err
			}
			if err := tx.Model(&taskRecord{}).Where("task_id = ?", taskID).Updates(map[string]any{
				"status":        string(status),
				"result_data":   resultData,
				"error_details": errDetails,
				"updated_at":    time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}

		type statusCount struct {
			Status string
			Count  int
		}
		var counts []statusCount
		if err := tx.Model(&taskRecord{}).
			Select("status, count(*) as count").
			Where("parent_job_id = ? AND stage = ?", jobID, stage).
			Group("status").
			Scan(&counts).Error; err != nil {
			return err
		}

		total, succeeded, failed, nonTerminal := 0, 0, 0, 0
		for _, c := range counts {
			total += c.Count
			switch domain.TaskStatus(c.Status) {
			case domain.TaskCompleted:
				succeeded += c.Count
			case domain.TaskFailed:
				failed += c.Count
			default:
				nonTerminal += c.Count
			}
		}

		outcome = domain.CompletionOutcome{Total: total, Succeeded: succeeded, Failed: failed}
		// stage_complete is true only for the call that observed zero
		// non-terminal tasks remaining AND actually performed a transition
		// (alreadyTerminal callers are redelivery no-ops and must never
		// re-report completion, per invariant 5 / testable property 4).
		outcome.StageComplete = !alreadyTerminal && nonTerminal == 0 && total > 0
		return nil
	})
	if err != nil {
		return domain.CompletionOutcome{}, err
	}
	return outcome, nil
}

func (p *Pooled) SetStageResults(ctx context.Context, jobID string, summary domain.StageResultSummary) error {
	db, release := p.borrow()
	defer release()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		if err := tx.Where("job_id = ?", jobID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		var existing map[int]domain.StageResultSummary
		if err := unmarshalJSON(rec.StageResults, &existing); err != nil {
			return err
		}
		if existing == nil {
			existing = map[int]domain.StageResultSummary{}
		}
		existing[summary.Stage] = summary
		data, err := marshalJSON(existing)
		if err != nil {
			return err
		}
		return tx.Model(&jobRecord{}).Where("job_id = ?", jobID).Updates(map[string]any{
			"stage_results": data,
			"updated_at":    time.Now().UTC(),
		}).Error
	})
}

func (p *Pooled) FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, resultData map[string]any, errorDetails string) error {
	db, release := p.borrow()
	defer release()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		if err := tx.Where("job_id = ?", jobID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !ValidJobTransition(domain.JobStatus(rec.Status), status) {
			return domain.ErrInvalidTransition
		}
		data, err := marshalJSON(resultData)
		if err != nil {
			return err
		}
		return tx.Model(&jobRecord{}).Where("job_id = ?", jobID).Updates(map[string]any{
			"status":        string(status),
			"result_data":   data,
			"error_details": errorDetails,
			"updated_at":    time.Now().UTC(),
		}).Error
	})
}

// Migrate creates/updates the jobs and tasks tables. Schema-migration
// tooling proper is out of scope (spec.md §1); this is a minimal AutoMigrate
// for local/dev/test convenience, grounded on the teacher's
// internal/data/db/migrate.go.
func (p *Pooled) Migrate(ctx context.Context) error {
	db, release := p.borrow()
	defer release()
	return db.WithContext(ctx).AutoMigrate(&jobRecord{}, &taskRecord{})
}

// isUniqueViolation checks err.Error() for the unique_violation SQLSTATE
// rather than asserting to *pgconn.PgError, since GORM's postgres driver may
// wrap it behind layers that vary by gorm version.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
