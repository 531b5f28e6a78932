package frame

import "sync"

// Pool recycles frames to avoid per-frame allocation on the playout path.
// Frames come back automatically when their last reference is released.
//
// The free list is not keyed by format: after a reconfigure, stale frames of
// the previous geometry are discarded lazily as they are encountered.
type Pool struct {
	mu   sync.Mutex
	free []*Frame

	allocated   uint64
	reused      uint64
	discarded   uint64
	outstanding int64
}

// PoolStats is a snapshot of pool accounting.
type PoolStats struct {
	Allocated   uint64 `json:"allocated"`
	Reused      uint64 `json:"reused"`
	Discarded   uint64 `json:"discarded"`
	Free        int    `json:"free"`
	Outstanding int64  `json:"outstanding"`
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns a frame matching the descriptor with one reference held.
// Pooled frames that no longer match the descriptor are dropped during the
// scan. On a miss a new frame is allocated and cleared to neutral black.
func (p *Pool) Acquire(d Descriptor) *Frame {
	p.mu.Lock()
	var f *Frame
	for len(p.free) > 0 {
		cand := p.free[0]
		p.free = p.free[1:]
		if cand.matches(d) {
			f = cand
			p.reused++
			break
		}
		p.discarded++
	}
	if f == nil {
		p.allocated++
	}
	p.outstanding++
	p.mu.Unlock()

	if f == nil {
		return newFrame(d, p)
	}
	f.resetForReuse()
	return f
}

func (p *Pool) put(f *Frame) {
	p.mu.Lock()
	p.free = append(p.free, f)
	p.outstanding--
	p.mu.Unlock()
}

// Drain empties the free list. Outstanding frames return to the drained pool
// as they are released.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.free = nil
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Allocated:   p.allocated,
		Reused:      p.reused,
		Discarded:   p.discarded,
		Free:        len(p.free),
		Outstanding: p.outstanding,
	}
}
