package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueClosed is returned for tasks submitted to, or still queued in, a closed queue.
	ErrQueueClosed = errors.New("command queue closed")
	// ErrLaneReset is returned to tasks dropped by ResetLane before they started.
	ErrLaneReset = errors.New("lane reset")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter triggers OnWait when the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config sizes a queue.
type Config struct {
	// Name labels metrics and spans.
	Name string
	// Workers bounds tasks running across all lanes; <= 0 means unbounded.
	Workers int
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	queue   []*taskRecord
	running int
}

func (ls *laneState) idle() bool {
	return ls.running == 0 && len(ls.queue) == 0
}

// CommandQueue provides lane-based task serialization with a shared worker budget
type CommandQueue struct {
	name      string
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.Mutex
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new CommandQueue
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	if cfg.Name == "" {
		cfg.Name = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cq := &CommandQueue{
		name:   cfg.Name,
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Workers > 0 {
		cq.sem = semaphore.NewWeighted(int64(cfg.Workers))
	}
	return cq
}

// Name returns the queue name.
func (cq *CommandQueue) Name() string {
	return cq.name
}

// Enqueue adds a task to the lane and waits for its result.
// If ctx is done while waiting the call returns ctx.Err(); the task then runs
// with the same cancelled context.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"deepchat.commandqueue",
		"commandqueue.enqueue",
		attribute.String("queue", cq.name),
		attribute.String("lane", lane),
	)

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		tracing.EndSpan(span, ErrQueueClosed)
		return nil, ErrQueueClosed
	}
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.dispatchLocked(lane, ls)
	cq.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("queue", cq.name).
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(cq.name, queueSize)

	if opts.WarnAfter > 0 && opts.OnWait != nil {
		go cq.startWarnTimer(record, lane)
	}

	select {
	case result := <-record.result:
		tracing.EndSpan(span, result.err)
		return result.value, result.err
	case <-ctx.Done():
		tracing.EndSpan(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// dispatchLocked starts the head of the lane when the lane is free.
// Caller holds cq.mu.
func (cq *CommandQueue) dispatchLocked(lane string, ls *laneState) {
	if ls.running > 0 || len(ls.queue) == 0 {
		return
	}
	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running++

	cq.wg.Add(1)
	go cq.executeTask(lane, record)
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"deepchat.commandqueue",
		"commandqueue.execute_task",
		attribute.String("queue", cq.name),
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	record.result <- taskResult{value: value, err: err}
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Error().
			Str("queue", cq.name).
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("queue", cq.name).
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running--
	queueSize := len(ls.queue)
	if ls.idle() {
		delete(cq.lanes, lane)
	} else {
		cq.dispatchLocked(lane, ls)
	}
	cq.mu.Unlock()

	observability.RecordQueueCompletion(cq.name, duration, err == nil, queueSize)
}

// run holds a worker slot for the duration of the task.
func (cq *CommandQueue) run(ctx context.Context, task Task) (interface{}, error) {
	if cq.sem != nil {
		if err := cq.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire worker: %w", err)
		}
		defer cq.sem.Release(1)
	}
	return task(ctx)
}

// startWarnTimer reports tasks that wait in the lane longer than expected
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		queuePos := -1
		cq.mu.Lock()
		if ls, ok := cq.lanes[lane]; ok {
			for i, r := range ls.queue {
				if r.id == record.id {
					queuePos = i
					break
				}
			}
		}
		cq.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("queue", cq.name).
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
			record.options.OnWait(wait, queuePos)
		}
	case <-cq.ctx.Done():
	}
}

// QueueSize returns the number of queued (not yet running) tasks for a lane
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// RunningCount returns the number of executing tasks for a lane
func (cq *CommandQueue) RunningCount(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return ls.running
	}
	return 0
}

// Lanes returns the number of lanes with queued or running work.
func (cq *CommandQueue) Lanes() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// ResetLane rejects every queued task in the lane with ErrLaneReset.
// A running task is left to finish. Returns the number of rejected tasks.
func (cq *CommandQueue) ResetLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}
	count := rejectLocked(ls, ErrLaneReset)
	if ls.idle() {
		delete(cq.lanes, lane)
	}

	if count > 0 {
		log.Info().Str("queue", cq.name).Str("lane", lane).Int("rejected", count).Msg("Lane reset")
	}
	return count
}

func rejectLocked(ls *laneState, err error) int {
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: err}
	}
	ls.queue = nil
	return count
}

// WaitForActive waits for running tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		running := 0
		for _, ls := range cq.lanes {
			running += ls.running
		}
		cq.mu.Unlock()

		if running == 0 {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Str("queue", cq.name).Dur("timeout", timeout).Int("running", running).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for _, ls := range cq.lanes {
		rejectLocked(ls, ErrQueueClosed)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
