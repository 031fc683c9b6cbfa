package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/metrics"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/realtime"
	"github.com/camden-git/familytree/repository"
)

// Notifier publishes graph events.
type Notifier interface {
	Broadcast(event realtime.Event)
}

// PropagationConfig tunes the worker pool.
type PropagationConfig struct {
	QueueSize      int
	NumWorkers     int
	MaxAttempts    int
	InitialBackoff time.Duration
	// RetryInterval is how often stored pending and failed tasks are re-queued. Zero disables the sweeper.
	RetryInterval time.Duration
	// RecordedGrace is how long a recorded task may wait for its primary write
	// before the worker treats it as orphaned and runs it anyway.
	RecordedGrace time.Duration
}

// PropagationWorker drains propagation tasks with exponential backoff. Tasks
// are durable in the task repository; the channel only schedules them.
type PropagationWorker struct {
	JobQueue chan models.PropagationTask
	Tasks    repository.TaskRepositoryInterface
	Executor *propagation.Executor
	Notifier Notifier
	Logger   *zap.Logger
	Config   PropagationConfig
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func NewPropagationWorker(cfg PropagationConfig, tasks repository.TaskRepositoryInterface, executor *propagation.Executor, notifier Notifier, logger *zap.Logger) *PropagationWorker {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.RecordedGrace <= 0 {
		cfg.RecordedGrace = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PropagationWorker{
		JobQueue: make(chan models.PropagationTask, cfg.QueueSize),
		Tasks:    tasks,
		Executor: executor,
		Notifier: notifier,
		Logger:   logger.Named("propagation"),
		Config:   cfg,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start launches the workers and, when configured, the sweeper.
func (pw *PropagationWorker) Start() {
	pw.Wg.Add(pw.Config.NumWorkers)
	for i := 0; i < pw.Config.NumWorkers; i++ {
		go pw.worker(i)
	}
	if pw.Config.RetryInterval > 0 {
		pw.Wg.Add(1)
		go pw.sweeper()
	}
	pw.Logger.Info("Started propagation workers",
		zap.Int("workers", pw.Config.NumWorkers),
		zap.Int("queue_size", pw.Config.QueueSize))
}

func (pw *PropagationWorker) worker(id int) {
	defer pw.Wg.Done()
	for {
		select {
		case task, ok := <-pw.JobQueue:
			if !ok {
				pw.Logger.Info("Propagation worker stopping: queue closed", zap.Int("worker", id))
				return
			}
			metrics.PropagationTasksPending.Dec()
			pw.Process(pw.ctx, task)

			pw.Mutex.Lock()
			delete(pw.Pending, task.ID)
			pw.Mutex.Unlock()

		case <-pw.StopChan:
			pw.Logger.Info("Propagation worker stopping: stop signal received", zap.Int("worker", id))
			return
		}
	}
}

// sweeper re-queues stored tasks, covering a full queue, a crash before the
// task was queued, and tasks that exhausted their attempts earlier.
func (pw *PropagationWorker) sweeper() {
	defer pw.Wg.Done()
	ticker := time.NewTicker(pw.Config.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pw.Sweep(pw.ctx)
		case <-pw.StopChan:
			return
		}
	}
}

// runnable lists the stored tasks a worker may pick up: pending and failed
// ones, plus recorded ones whose primary write has had RecordedGrace to commit.
// Rejected tasks are never returned.
func (pw *PropagationWorker) runnable(ctx context.Context) ([]models.PropagationTask, error) {
	tasks, err := pw.Tasks.ListByStatus(ctx, models.TaskRecorded, models.TaskPending, models.TaskFailed)
	if err != nil {
		return nil, err
	}
	cutoff := pw.now().Add(-pw.Config.RecordedGrace)
	out := tasks[:0]
	for _, task := range tasks {
		if task.Status == models.TaskRecorded && task.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// Sweep queues every runnable stored task and returns how many were queued.
func (pw *PropagationWorker) Sweep(ctx context.Context) int {
	tasks, err := pw.runnable(ctx)
	if err != nil {
		pw.Logger.Error("Failed to list propagation tasks", zap.Error(err))
		return 0
	}
	queued := 0
	for _, task := range tasks {
		if pw.QueueTask(task) {
			queued++
		}
	}
	if queued > 0 {
		pw.Logger.Info("Re-queued stored propagation tasks", zap.Int("count", queued))
	}
	return queued
}

// Process runs one task to completion or exhaustion. It returns true when the graph
// is consistent again.
func (pw *PropagationWorker) Process(ctx context.Context, task models.PropagationTask) bool {
	current := task
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pw.Config.InitialBackoff

	operation := func() (propagation.Report, error) {
		report, err := pw.Executor.Execute(ctx, current)
		if err == nil {
			return report, nil
		}
		current.Attempts++
		current.Writes = report.Remaining
		current.LastError = err.Error()
		if report.Rejected() {
			return report, backoff.Permanent(err)
		}
		pw.Logger.Warn("Propagation attempt failed",
			zap.String("task_id", current.ID),
			zap.String("person_id", current.PersonID),
			zap.Int("attempt", current.Attempts),
			zap.Error(err))
		return report, err
	}

	report, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(pw.Config.MaxAttempts)),
	)
	if err != nil && report.Rejected() {
		current.Status = models.TaskRejected
		if saveErr := pw.Tasks.Save(context.WithoutCancel(ctx), &current); saveErr != nil {
			pw.Logger.Error("Failed to save rejected propagation task", zap.String("task_id", current.ID), zap.Error(saveErr))
		}
		pw.Logger.Warn("Propagation task rejected, leaving it out of retries",
			zap.String("task_id", current.ID),
			zap.String("person_id", current.PersonID),
			zap.Int("remaining", len(current.Writes)),
			zap.Error(err))
		pw.broadcast(realtime.EventGraphDegraded, current, err)
		return false
	}
	if err != nil {
		current.Status = models.TaskFailed
		if saveErr := pw.Tasks.Save(context.WithoutCancel(ctx), &current); saveErr != nil {
			pw.Logger.Error("Failed to save failed propagation task", zap.String("task_id", current.ID), zap.Error(saveErr))
		}
		metrics.PropagationTasksFailed.Inc()
		pw.Logger.Error("Propagation task exhausted its attempts",
			zap.String("task_id", current.ID),
			zap.String("person_id", current.PersonID),
			zap.Int("remaining", len(current.Writes)),
			zap.Error(err))
		pw.broadcast(realtime.EventGraphDegraded, current, err)
		return false
	}

	if err := pw.Tasks.Delete(context.WithoutCancel(ctx), current.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		pw.Logger.Warn("Failed to delete completed propagation task", zap.String("task_id", current.ID), zap.Error(err))
	}
	if task.Attempts > 0 || task.Status == models.TaskFailed {
		pw.broadcast(realtime.EventGraphRestored, current, nil)
	}
	return true
}

// Drain processes every runnable stored task once, in the calling goroutine.
// It returns the number of tasks that completed and failed.
func (pw *PropagationWorker) Drain(ctx context.Context) (done, failed int, err error) {
	tasks, err := pw.runnable(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return done, failed, ctx.Err()
		}
		if pw.Process(ctx, task) {
			done++
		} else {
			failed++
		}
	}
	return done, failed, nil
}

// QueueTask queues a task if not already pending
func (pw *PropagationWorker) QueueTask(task models.PropagationTask) bool {
	pw.Mutex.Lock()
	if pw.Pending[task.ID] {
		pw.Mutex.Unlock()
		return false
	}
	pw.Pending[task.ID] = true
	pw.Mutex.Unlock()

	select {
	case pw.JobQueue <- task:
		metrics.PropagationTasksPending.Inc()
		return true
	default:
		pw.Logger.Warn("Propagation queue full, leaving task for the sweeper", zap.String("task_id", task.ID))
		pw.Mutex.Lock()
		delete(pw.Pending, task.ID)
		pw.Mutex.Unlock()
		return false
	}
}

func (pw *PropagationWorker) broadcast(eventType string, task models.PropagationTask, err error) {
	if pw.Notifier == nil {
		return
	}
	event := realtime.Event{Type: eventType, PersonID: task.PersonID, TaskID: task.ID, Status: string(task.Status)}
	if err != nil {
		event.Error = err.Error()
	}
	pw.Notifier.Broadcast(event)
}

// Stop signals the workers, cancels in-flight retries and waits for them to exit.
// Tasks still queued stay in the task repository for the next start.
func (pw *PropagationWorker) Stop() {
	pw.Logger.Info("Stopping propagation workers...")
	close(pw.StopChan)
	pw.cancel()
	pw.Wg.Wait()
	pw.Logger.Info("All propagation workers stopped")
}
