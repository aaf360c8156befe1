package scheduler

import (
	"container/heap"
	"time"

	"github.com/robbine/financial-data-collection/pkg/models"
)

// item wraps a task in the waiting set. seq preserves FIFO order among equal
// priorities and is reassigned when a task re-enters after a retry wait, which
// is how retries lose their original queue position.
type item struct {
	task  *models.CrawlTask
	seq   uint64
	index int // Heap index (required by heap interface)
}

// waitingQueue implements heap.Interface: highest priority first,
// submission order as the tie-break.
type waitingQueue []*item

func (q waitingQueue) Len() int { return len(q) }

func (q waitingQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q waitingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitingQueue) Push(x any) {
	n := len(*q)
	it := x.(*item)
	it.index = n
	*q = append(*q, it)
}

func (q *waitingQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	*q = old[0 : n-1]
	return it
}

// delayedQueue implements heap.Interface ordered by not-before time, so the
// next task to become eligible is always at the root.
type delayedQueue []*item

func (q delayedQueue) Len() int { return len(q) }

func (q delayedQueue) Less(i, j int) bool {
	return q[i].task.NotBefore.Before(q[j].task.NotBefore)
}

func (q delayedQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *delayedQueue) Push(x any) {
	n := len(*q)
	it := x.(*item)
	it.index = n
	*q = append(*q, it)
}

func (q *delayedQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[0 : n-1]
	return it
}

// peekDue returns the earliest not-before time in the delayed set
func (q delayedQueue) peekDue() (time.Time, bool) {
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].task.NotBefore, true
}

var (
	_ heap.Interface = (*waitingQueue)(nil)
	_ heap.Interface = (*delayedQueue)(nil)
)
