// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, one at a time.
// - Tasks in different lanes may execute concurrently, bounded by the
//   queue-wide worker semaphore.
// - A lane with nothing queued or running is dropped, so per-session lanes
//   do not accumulate.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{Name: "agent", Workers: 8})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "session:abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
