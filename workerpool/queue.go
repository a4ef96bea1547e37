package workerpool

import (
	"container/heap"
	"sync"
)

const defaultQueueCap = 16

// =============================================================================
// jobQueue: Min-Heap based queue with Stability (FIFO for same priority)
// =============================================================================

type queuedJob struct {
	job      *job
	sequence uint64 // For stability
	index    int    // For heap
}

// jobHeap implements heap.Interface
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

// Less implements priority logic: High priority first, then Small sequence first (FIFO)
func (h jobHeap) Less(i, j int) bool {
	pi, pj := h[i].job.traits.Priority, h[j].job.traits.Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].sequence < h[j].sequence
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type jobQueue struct {
	mu           sync.Mutex
	pq           jobHeap
	nextSequence uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{pq: make(jobHeap, 0, defaultQueueCap)}
}

func (q *jobQueue) push(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &queuedJob{job: j, sequence: q.nextSequence})
	q.nextSequence++
}

func (q *jobQueue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return nil, false
	}
	return heap.Pop(&q.pq).(*queuedJob).job, true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

// drain removes every queued job and returns them in priority order.
func (q *jobQueue) drain() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*job, 0, len(q.pq))
	for len(q.pq) > 0 {
		jobs = append(jobs, heap.Pop(&q.pq).(*queuedJob).job)
	}
	q.pq = make(jobHeap, 0, defaultQueueCap)
	return jobs
}
