package rtp

import (
	"sync"

	"github.com/gammazero/deque"
)

// FrameQueue is the FIFO hand-off between a frame producer (encoder thread or
// receive path) and the pacing loop consumer. Safe for concurrent enqueue and
// dequeue; per-producer FIFO order is preserved, which keeps playout in order.
type FrameQueue struct {
	mu     sync.Mutex
	frames deque.Deque
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{}
}

// Push appends the frame to the back of the queue.
func (q *FrameQueue) Push(f *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames.PushBack(f)
}

// Pop removes and returns the oldest frame.
//  - returns (nil, false) when the queue is empty.
func (q *FrameQueue) Pop() (*Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frames.Len() == 0 {
		return nil, false
	}
	return q.frames.PopFront().(*Frame), true
}

// Len reports the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.frames.Len()
}

// Clear drops all queued frames. Called by the pacing loop during its
// drain-and-stop sequence.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames.Clear()
}
