package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/registry"
)

// pending is one queued stage attempt awaiting dispatch.
type pending struct {
	task         *core.Task
	req          registry.Request
	ctx          context.Context
	result       chan Resolution
	waitDeadline time.Time
	index        int
	cancelled    bool
}

func (p *pending) resolve(res Resolution) {
	// The result channel is buffered size 1 and resolved exactly once.
	p.result <- res
	close(p.result)
}

// taskHeap orders pending items by priority (descending) then enqueue time
// (ascending), giving FIFO behavior within a priority tier.
type taskHeap []*pending

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.EnqueuedAt.Before(h[j].task.EnqueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	p := x.(*pending)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}

// remove deletes the item at index i, fixing the heap.
func (h *taskHeap) remove(i int) {
	heap.Remove(h, i)
}
