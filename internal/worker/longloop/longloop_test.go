package longloop_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/checkpoint"
	"github.com/rob634/rmhgeoapi-sub015/internal/coremachine"
	"github.com/rob634/rmhgeoapi-sub015/internal/domain"
	"github.com/rob634/rmhgeoapi-sub015/internal/registry"
	"github.com/rob634/rmhgeoapi-sub015/internal/router"
	"github.com/rob634/rmhgeoapi-sub015/internal/store"
	"github.com/rob634/rmhgeoapi-sub015/internal/worker/longloop"
)

type memStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	tasks map[string]*domain.Task
}

func newMemStore() *memStore { return &memStore{jobs: map[string]*domain.Job{}, tasks: map[string]*domain.Task{}} }

func (m *memStore) CreateJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.StageResults = map[int]domain.StageResultSummary{}
	m.jobs[job.JobID] = &cp
	return nil
}
func (m *memStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}
func (m *memStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}
func (m *memStore) UpdateJobStatus(ctx context.Context, jobID string, newStatus domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = newStatus
	return nil
}
func (m *memStore) UpdateJobStage(ctx context.Context, jobID string, newStage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Stage = newStage
	return nil
}
func (m *memStore) UpsertTask(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.TaskID]; ok {
		return nil
	}
	cp := *task
	m.tasks[task.TaskID] = &cp
	return nil
}
func (m *memStore) UpdateTaskStatus(ctx context.Context, taskID string, newStatus domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = newStatus
	return nil
}
func (m *memStore) UpdateTaskCheckpoint(ctx context.Context, taskID string, phase int, payload domain.Params) error {
	return nil
}
func (m *memStore) GetCheckpoint(ctx context.Context, taskID string) (int, domain.Params, error) {
	return 0, nil, nil
}
func (m *memStore) GetCompletedTasksForStage(ctx context.Context, jobID string, stage int) ([]domain.TaskResult, error) {
	return nil, nil
}
func (m *memStore) CompleteTaskAndCheckStage(ctx context.Context, taskID, jobID string, stage int, status domain.TaskStatus, result domain.Params, errDetails string) (domain.CompletionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.CompletionOutcome{}, domain.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return domain.CompletionOutcome{}, nil
	}
	t.Status = status
	t.ResultData = result
	return domain.CompletionOutcome{StageComplete: true, Total: 1, Succeeded: 1}, nil
}
func (m *memStore) SetStageResults(ctx context.Context, jobID string, summary domain.StageResultSummary) error {
	return nil
}
func (m *memStore) FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, resultData map[string]any, errorDetails string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.ResultData = resultData
	return nil
}
func (m *memStore) Close() error { return nil }

type memBroker struct {
	mu         sync.Mutex
	queued     []broker.Message
	completed  int
	abandoned  int
	deadLetter int
	renewed    int
}

func (b *memBroker) Send(ctx context.Context, queue string, body []byte) error { return nil }
func (b *memBroker) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queued) == 0 {
		return nil, nil
	}
	msg := b.queued[0]
	b.queued = b.queued[1:]
	return []broker.Message{msg}, nil
}
func (b *memBroker) Complete(ctx context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	return nil
}
func (b *memBroker) Abandon(ctx context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abandoned++
	return nil
}
func (b *memBroker) DeadLetter(ctx context.Context, msg broker.Message, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetter++
	return nil
}
func (b *memBroker) RenewLock(ctx context.Context, msg broker.Message, duration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renewed++
	return nil
}
func (b *memBroker) PeekDeadLetters(ctx context.Context, queue string, n int) ([]broker.Message, error) {
	return nil, nil
}
func (b *memBroker) Close() error { return nil }

type slowHandler struct{ delay time.Duration }

func (slowHandler) Type() string { return "echo" }
func (h slowHandler) Run(ctx context.Context, taskCtx any, params domain.Params) (domain.HandlerResult, error) {
	time.Sleep(h.delay)
	return domain.HandlerResult{Success: true}, nil
}

func buildMachine(t *testing.T, st store.Store, br broker.Broker, handlerDelay time.Duration) *coremachine.CoreMachine {
	t.Helper()
	reg := registry.NewWorkflowRegistry()
	reg.Register(&domain.WorkflowDefinition{
		JobType: "echo",
		Stages:  []domain.StageDefinition{{Number: 1, Name: "only", TaskType: "echo", Parallelism: domain.Single}},
	})
	reg.Freeze()
	handlers := registry.NewHandlerRegistry()
	handlers.Register(slowHandler{delay: handlerDelay})
	rt := router.New(router.Config{DefaultQueue: "tasks-short", LongQueue: "tasks-long"})
	ckpt := checkpoint.New(st)
	return coremachine.New(st, br, reg, handlers, rt, ckpt, coremachine.Queues{Job: "jobs"}, nil)
}

func TestLongLoopCompletesTaskAndRenewsLockForSlowHandler(t *testing.T) {
	st := newMemStore()
	br := &memBroker{}
	ctx := context.Background()
	_ = st.CreateJob(ctx, &domain.Job{JobID: "job-1", JobType: "echo", Status: domain.JobProcessing, Stage: 1, TotalStages: 1})
	_ = st.UpsertTask(ctx, &domain.Task{TaskID: "task-1", ParentJobID: "job-1", JobType: "echo", TaskType: "echo", Stage: 1, Status: domain.TaskPending})

	cm := buildMachine(t, st, br, 30*time.Millisecond)
	loop := longloop.New(cm, br, []longloop.QueueSet{{Name: "tasks-long", Config: broker.QueueConfig{MaxDeliveryCount: 3, LockDuration: 20 * time.Millisecond}}}, nil)
	loop.PollInterval = 5 * time.Millisecond
	loop.RenewSafetyFactor = 0.25

	body, _ := json.Marshal(domain.TaskMessage{TaskID: "task-1", ParentJobID: "job-1", JobType: "echo", TaskType: "echo", Stage: 1})
	br.queued = append(br.queued, broker.Message{ID: "1-0", Queue: "tasks-long", Body: body, DeliveryCount: 1})

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	loop.Run(runCtx)

	if br.completed != 1 {
		t.Fatalf("expected the task message to be completed, got completed=%d abandoned=%d", br.completed, br.abandoned)
	}
	if br.renewed == 0 {
		t.Fatalf("expected the lock-renewer to fire at least once for a handler slower than the lock duration")
	}
}

func TestLongLoopStopsOnShutdownSignal(t *testing.T) {
	st := newMemStore()
	br := &memBroker{}
	cm := buildMachine(t, st, br, 0)
	loop := longloop.New(cm, br, []longloop.QueueSet{{Name: "tasks-long", Config: broker.QueueConfig{}}}, nil)
	loop.PollInterval = 5 * time.Millisecond

	loop.Shutdown.Set()

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return promptly once shutdown is already signaled")
	}
}
