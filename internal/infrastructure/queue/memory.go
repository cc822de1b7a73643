package queue

import (
	"context"
	"sync"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// MemoryQueue is an in-process broker with the same topic semantics as RedisQueue.
type MemoryQueue struct {
	mu       sync.Mutex
	topics   map[string][]domain.Task
	wake     map[string]chan struct{}
	analysis []int64
}

var (
	_ ports.TaskQueue     = (*MemoryQueue)(nil)
	_ ports.AnalysisQueue = (*MemoryQueue)(nil)
)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		topics: map[string][]domain.Task{},
		wake:   map[string]chan struct{}{},
	}
}

// Publish appends all tasks under one lock.
func (q *MemoryQueue) Publish(_ context.Context, tasks []domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	touched := map[string]struct{}{}
	for _, task := range tasks {
		q.topics[task.SourceName] = append(q.topics[task.SourceName], task)
		touched[task.SourceName] = struct{}{}
	}
	for topic := range touched {
		if ch, ok := q.wake[topic]; ok {
			close(ch)
			delete(q.wake, topic)
		}
	}
	return nil
}

// Receive pops the oldest task of source or waits up to timeout for one.
func (q *MemoryQueue) Receive(ctx context.Context, source string, timeout time.Duration) (domain.Task, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if pending := q.topics[source]; len(pending) > 0 {
			task := pending[0]
			q.topics[source] = pending[1:]
			q.mu.Unlock()
			return task, true, nil
		}
		ch, ok := q.wake[source]
		if !ok {
			ch = make(chan struct{})
			q.wake[source] = ch
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Task{}, false, ctx.Err()
		case <-timer.C:
			return domain.Task{}, false, nil
		case <-ch:
		}
	}
}

func (q *MemoryQueue) EnqueueAnalysis(_ context.Context, itemIDs []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.analysis = append(q.analysis, itemIDs...)
	return nil
}

// Depth returns the number of waiting tasks of a source.
func (q *MemoryQueue) Depth(source string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[source])
}

// Analysis returns the item ids enqueued so far.
func (q *MemoryQueue) Analysis() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.analysis...)
}
