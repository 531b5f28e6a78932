package sched

import "github.com/Calvincombs103057/UltraGrid/internal/frame"

// frameQueue is a fixed-capacity FIFO of frames awaiting scheduling. It is
// not safe for concurrent use on its own; the Scheduler's lock serializes
// access.
type frameQueue struct {
	buf  []*frame.Frame
	head int
	size int
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{buf: make([]*frame.Frame, capacity)}
}

// push appends a frame, reporting false when the queue is full.
func (q *frameQueue) push(f *frame.Frame) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	return true
}

// pop removes and returns the oldest frame.
func (q *frameQueue) pop() (*frame.Frame, bool) {
	if q.size == 0 {
		return nil, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return f, true
}

func (q *frameQueue) len() int { return q.size }

func (q *frameQueue) capacity() int { return len(q.buf) }
