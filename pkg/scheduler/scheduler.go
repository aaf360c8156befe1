// Package scheduler drives crawl task execution: a priority-ordered waiting
// set with FIFO tie-break, a delayed set for backoff waits, a concurrency
// gate, and the retry state machine.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/models"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

// Executor performs one crawl attempt for a dispatched task
type Executor func(ctx context.Context, task *models.CrawlTask) (*models.CrawlResult, error)

// PermanentError marks an executor failure that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the scheduler fails the task without retrying
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// running tracks an in-flight task's advisory cancellation state
type running struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler owns the waiting/delayed sets and the task table.
// All mutation happens under one mutex; dequeue-and-mark-running is atomic.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	tasks    map[string]*models.CrawlTask
	waiting  waitingQueue
	delayed  delayedQueue
	inFlight map[string]*running
	nextSeq  uint64
	draining bool // Run's context was cancelled; no new dispatch

	backoffBase time.Duration
	backoffMax  time.Duration

	now func() time.Time // Injectable clock for tests
	log *logrus.Entry
}

// NewScheduler creates a Scheduler with the configured backoff parameters
func NewScheduler(cfg config.SchedulerConfig, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		tasks:       make(map[string]*models.CrawlTask),
		inFlight:    make(map[string]*running),
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		now:         time.Now,
		log:         log,
	}
	if s.backoffBase <= 0 {
		s.backoffBase = config.DefaultBackoffBase
	}
	if s.backoffMax <= 0 {
		s.backoffMax = config.DefaultBackoffMax
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit validates and enqueues a task. A task with an empty ID gets a
// generated one. Returns the task ID.
func (s *Scheduler) Submit(task *models.CrawlTask) (string, error) {
	if task.URL == "" {
		return "", fmt.Errorf("%w: empty URL", utils.ErrTaskValidation)
	}
	if task.MaxRetries < 0 {
		return "", fmt.Errorf("%w: negative max retries (%d)", utils.ErrTaskValidation, task.MaxRetries)
	}
	if task.Priority == 0 {
		task.Priority = models.PriorityNormal
	}
	if !task.Priority.IsValid() {
		return "", fmt.Errorf("%w: invalid priority (%d)", utils.ErrTaskValidation, int(task.Priority))
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		return "", utils.ErrSchedulerStopped
	}
	if _, exists := s.tasks[task.ID]; exists {
		return "", fmt.Errorf("%w: duplicate task id %s", utils.ErrTaskValidation, task.ID)
	}

	task.State = models.TaskStatePending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	s.tasks[task.ID] = task
	s.enqueueLocked(task)
	s.cond.Broadcast()

	s.log.WithFields(logrus.Fields{
		"task": task.ID, "url": task.URL, "priority": task.Priority.String(),
	}).Info("Submitted task")
	return task.ID, nil
}

// setStateLocked applies a task state transition, logging any move the task
// state machine does not permit. Caller must hold s.mu.
func (s *Scheduler) setStateLocked(task *models.CrawlTask, next models.TaskState) {
	if !task.State.CanTransition(next) {
		s.log.WithFields(logrus.Fields{
			"task": task.ID, "from": task.State, "to": next,
		}).Error("Illegal task state transition")
	}
	task.State = next
}

// enqueueLocked places a pending task in the waiting or delayed set.
// Caller must hold s.mu.
func (s *Scheduler) enqueueLocked(task *models.CrawlTask) {
	it := &item{task: task, seq: s.nextSeq}
	s.nextSeq++
	if task.NotBefore.After(s.now()) {
		heap.Push(&s.delayed, it)
	} else {
		heap.Push(&s.waiting, it)
	}
}

// Cancel transitions a PENDING task to CANCELLED and returns true. For a
// RUNNING task cancellation is advisory: the task's context is cancelled and
// any result the executor still returns is discarded; Cancel returns false.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	switch task.State {
	case models.TaskStatePending:
		s.setStateLocked(task, models.TaskStateCancelled)
		s.cond.Broadcast()
		s.log.WithField("task", id).Info("Cancelled pending task")
		return true
	case models.TaskStateRunning:
		if r, ok := s.inFlight[id]; ok {
			r.cancelled = true
			r.cancel()
			s.log.WithField("task", id).Info("Requested advisory cancellation of running task")
		}
		return false
	}
	return false
}

// Status returns a snapshot of a task's state
func (s *Scheduler) Status(id string) (models.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.TaskStatus{}, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	return models.TaskStatus{
		ID:         task.ID,
		State:      task.State,
		RetryCount: task.RetryCount,
		LastError:  task.LastError,
		Result:     task.Result,
	}, nil
}

// Counts returns the number of queued (waiting + delayed) and running tasks
func (s *Scheduler) Counts() (queued, runningCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(), len(s.inFlight)
}

// pendingLocked counts live pending items; caller must hold s.mu
func (s *Scheduler) pendingLocked() int {
	n := 0
	for _, it := range s.waiting {
		if it.task.State == models.TaskStatePending {
			n++
		}
	}
	for _, it := range s.delayed {
		if it.task.State == models.TaskStatePending {
			n++
		}
	}
	return n
}

// Run dispatches tasks to executor with at most concurrencyLimit in flight,
// until the queue is drained and nothing is in flight. Cancelling ctx stops
// new dispatch and propagates to in-flight task contexts for cooperative
// abort; an attempt interrupted this way re-enters the queue without
// consuming a retry.
func (s *Scheduler) Run(ctx context.Context, executor Executor, concurrencyLimit int) error {
	if concurrencyLimit <= 0 {
		concurrencyLimit = config.DefaultConcurrencyLimit
	}
	sem := semaphore.NewWeighted(int64(concurrencyLimit))

	// Wake the dispatcher when the run context ends
	stopWatch := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.draining = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stopWatch()

	var wg sync.WaitGroup
	for {
		// Claim a slot first so the highest-priority task at slot-free
		// time wins, then pick it.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		task := s.nextEligible()
		if task == nil {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(task *models.CrawlTask) {
			defer wg.Done()
			defer sem.Release(1)
			s.execute(ctx, executor, task)
		}(task)
	}

	wg.Wait()

	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()

	return ctx.Err()
}

// nextEligible blocks until a task can be dispatched, the scheduler drains,
// or the run context is cancelled. The dequeue and the PENDING -> RUNNING
// transition happen atomically under the lock.
func (s *Scheduler) nextEligible() *models.CrawlTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wakeTimer *time.Timer
	defer func() {
		if wakeTimer != nil {
			wakeTimer.Stop()
		}
	}()

	for {
		if s.draining {
			return nil
		}

		// Promote delayed tasks whose not-before time has elapsed.
		// Promotion assigns a fresh seq, so a retried task re-enters
		// FIFO order at the back of its priority band.
		now := s.now()
		for {
			due, ok := s.delayed.peekDue()
			if !ok || due.After(now) {
				break
			}
			it := heap.Pop(&s.delayed).(*item)
			it.seq = s.nextSeq
			s.nextSeq++
			heap.Push(&s.waiting, it)
		}

		// Dispatch the highest-priority live task, skipping cancelled ones
		for s.waiting.Len() > 0 {
			it := heap.Pop(&s.waiting).(*item)
			if it.task.State != models.TaskStatePending {
				continue
			}
			s.setStateLocked(it.task, models.TaskStateRunning)
			return it.task
		}

		// Drained: nothing waiting, nothing delayed, nothing in flight
		if s.delayed.Len() == 0 && len(s.inFlight) == 0 {
			return nil
		}

		// Wake ourselves when the earliest delayed task becomes due
		if due, ok := s.delayed.peekDue(); ok {
			if wakeTimer != nil {
				wakeTimer.Stop()
			}
			wakeTimer = time.AfterFunc(due.Sub(now), func() {
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			})
		}
		s.cond.Wait()
	}
}

// execute runs one attempt and applies the completion/retry state machine
func (s *Scheduler) execute(ctx context.Context, executor Executor, task *models.CrawlTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	r := &running{cancel: cancel}
	s.inFlight[task.ID] = r
	s.mu.Unlock()

	result, err := executor(taskCtx, task)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, task.ID)
	defer s.cond.Broadcast()

	taskLog := s.log.WithFields(logrus.Fields{"task": task.ID, "url": task.URL})

	if r.cancelled {
		// Advisory cancellation: whatever came back is discarded
		s.setStateLocked(task, models.TaskStateFailed)
		task.LastError = context.Canceled.Error()
		taskLog.Warn("Discarded result of cancelled task")
		return
	}

	if err == nil {
		s.setStateLocked(task, models.TaskStateSucceeded)
		task.Result = result
		taskLog.WithField("retries", task.RetryCount).Info("Task succeeded")
		return
	}

	// The run context was cancelled underneath the attempt: put the task
	// back without charging a retry so it can resume on the next Run
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		s.setStateLocked(task, models.TaskStatePending)
		s.enqueueLocked(task)
		taskLog.Warn("Attempt interrupted by shutdown, task re-queued")
		return
	}

	task.LastError = err.Error()

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		s.setStateLocked(task, models.TaskStateFailed)
		taskLog.WithField("error_category", utils.CategorizeError(err)).
			Errorf("Task failed permanently: %v", err)
		return
	}

	if task.RetryCount >= task.MaxRetries {
		s.setStateLocked(task, models.TaskStateFailed)
		wrapped := fmt.Errorf("%w: %v", utils.ErrRetriesExhausted, err)
		task.LastError = wrapped.Error()
		taskLog.WithFields(logrus.Fields{
			"retries": task.RetryCount, "error_category": utils.CategorizeError(wrapped),
		}).Errorf("Task failed after all retries: %v", err)
		return
	}

	// Retry path: back off exponentially and re-enter the delayed set
	task.RetryCount++
	backoff := s.backoffBase << (task.RetryCount - 1)
	if backoff <= 0 || backoff > s.backoffMax {
		backoff = s.backoffMax
	}
	task.NotBefore = s.now().Add(backoff)
	s.setStateLocked(task, models.TaskStatePending)
	s.enqueueLocked(task)

	taskLog.WithFields(logrus.Fields{
		"retry": task.RetryCount, "max_retries": task.MaxRetries, "backoff": backoff,
	}).Warnf("Task failed, retrying: %v", err)
}
