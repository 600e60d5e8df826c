package worker

import (
	"container/heap"
	"sync"
	"time"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/worker/executor"
)

// PendingRequest wraps a decoded warp request with channels for the response.
type PendingRequest struct {
	Req       *warpv1.WarpRequest
	Sample    executor.Sample
	DoneCh    chan *warpv1.WarpResponse
	ErrCh     chan error
	EnqueueAt time.Time

	seq   uint64
	index int // used by heap; -1 once dequeued
}

// NewPendingRequest prepares a request for the queue.
func NewPendingRequest(req *warpv1.WarpRequest, s executor.Sample) *PendingRequest {
	return &PendingRequest{
		Req:       req,
		Sample:    s,
		DoneCh:    make(chan *warpv1.WarpResponse, 1),
		ErrCh:     make(chan error, 1),
		EnqueueAt: time.Now(),
		index:     -1,
	}
}

// PriorityQueue implements heap.Interface for PendingRequests.
// HIGH priority requests are dequeued first. Within the same priority,
// earlier timestamps first, then arrival order.
type PriorityQueue struct {
	mu    sync.Mutex
	items []*PendingRequest
	seq   uint64
}

func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		items: make([]*PendingRequest, 0, 64),
	}
	heap.Init(pq)
	return pq
}

// Enqueue adds a request to the priority queue (thread-safe).
func (pq *PriorityQueue) Enqueue(req *PendingRequest) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	req.seq = pq.seq
	heap.Push(pq, req)
}

// DequeueN removes up to n highest-priority requests (thread-safe).
func (pq *PriorityQueue) DequeueN(n int) []*PendingRequest {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.items) == 0 {
		return nil
	}
	count := min(n, len(pq.items))
	result := make([]*PendingRequest, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, heap.Pop(pq).(*PendingRequest))
	}
	return result
}

// Remove takes req out of the queue if it is still waiting. It reports
// whether the request was removed; false means a batch already claimed it.
func (pq *PriorityQueue) Remove(req *PendingRequest) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if req.index < 0 || req.index >= len(pq.items) || pq.items[req.index] != req {
		return false
	}
	heap.Remove(pq, req.index)
	return true
}

// Depth returns current queue depth (thread-safe).
func (pq *PriorityQueue) Depth() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}

// --- heap.Interface implementation (not thread-safe, use Enqueue/DequeueN) ---

func (pq *PriorityQueue) Len() int { return len(pq.items) }

func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	// Higher priority number = dequeued first
	if a.Req.Priority != b.Req.Priority {
		return a.Req.Priority > b.Req.Priority
	}
	if a.Req.Timestamp != b.Req.Timestamp {
		return a.Req.Timestamp < b.Req.Timestamp
	}
	return a.seq < b.seq
}

func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *PriorityQueue) Push(x any) {
	item := x.(*PendingRequest)
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *PriorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	pq.items = old[:n-1]
	return item
}
