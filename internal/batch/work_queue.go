package batch

import (
	"time"

	"github.com/codingofficer/pkg/models"
)

// WorkQueue is the in-memory FIFO of rows claimed for one run. Each row is
// handed to exactly one worker.
type WorkQueue struct {
	items chan models.PromptRow
}

// NewWorkQueue returns a queue holding rows in order. No rows can be added
// afterwards, so a drained queue stays empty.
func NewWorkQueue(rows []models.PromptRow) *WorkQueue {
	items := make(chan models.PromptRow, len(rows))
	for _, row := range rows {
		items <- row
	}
	close(items)
	return &WorkQueue{items: items}
}

// Pop returns the next row, waiting at most timeout. ok is false when the
// queue is drained or the timeout passed.
func (q *WorkQueue) Pop(timeout time.Duration) (row models.PromptRow, ok bool) {
	select {
	case row, ok = <-q.items:
		return row, ok
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case row, ok = <-q.items:
		return row, ok
	case <-timer.C:
		return models.PromptRow{}, false
	}
}

// Len returns the number of rows not yet popped
func (q *WorkQueue) Len() int {
	return len(q.items)
}
