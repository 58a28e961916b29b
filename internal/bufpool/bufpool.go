// Package bufpool implements the two-sided request/response buffer pool of
// spec.md §4.10: pre-allocates N buffers of each kind at startup, hands
// them out on Get, accepts them back on Put, and tracks allocation stats.
// The pool mutex is a leaf lock per spec.md §5 ("the buffer pool mutex is
// a leaf lock; no other locks acquired while held").
package bufpool

import "sync"

// Stats mirrors the counters spec.md §4.10 requires to be exposed (also
// surfaced at the /stat HTTP endpoint, spec.md §6.2).
type Stats struct {
	Allocations   uint64
	Deallocations uint64
	Live          uint64
	Free          uint64
}

// side is one half of the pool (request-side or response-side).
type side struct {
	mu            sync.Mutex
	bufSize       int
	free          [][]byte
	allocations   uint64
	deallocations uint64
	live          uint64
}

func newSide(bufSize, preAllocated int) *side {
	s := &side{bufSize: bufSize}
	s.free = make([][]byte, 0, preAllocated)
	for i := 0; i < preAllocated; i++ {
		s.free = append(s.free, make([]byte, bufSize))
	}
	return s
}

func (s *side) get() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.free)
	if n > 0 {
		b := s.free[n-1]
		s.free = s.free[:n-1]
		s.live++
		return b[:s.bufSize]
	}
	s.allocations++
	s.live++
	return make([]byte, s.bufSize)
}

func (s *side) put(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live > 0 {
		s.live--
	}
	s.deallocations++
	s.free = append(s.free, buf[:cap(buf)][:s.bufSize])
}

func (s *side) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Allocations:   s.allocations,
		Deallocations: s.deallocations,
		Live:          s.live,
		Free:          uint64(len(s.free)),
	}
}

// Pool is the two-sided buffer pool (spec.md §4.10).
type Pool struct {
	req  *side
	resp *side
}

// Config sizes both sides of the pool (Internal.ReqBufferSize /
// RespBufferSize / PreAllocatedBuffers, spec.md §6.4).
type Config struct {
	ReqBufferSize       int
	RespBufferSize      int
	PreAllocatedBuffers int
}

func New(cfg Config) *Pool {
	return &Pool{
		req:  newSide(cfg.ReqBufferSize, cfg.PreAllocatedBuffers),
		resp: newSide(cfg.RespBufferSize, cfg.PreAllocatedBuffers),
	}
}

// GetRequest returns a pre-allocated request buffer, or a fresh one if the
// free list is exhausted.
func (p *Pool) GetRequest() []byte { return p.req.get() }

// PutRequest returns a request buffer to the pool.
func (p *Pool) PutRequest(buf []byte) { p.req.put(buf) }

// GetResponse returns a pre-allocated response buffer, or a fresh one.
func (p *Pool) GetResponse() []byte { return p.resp.get() }

// PutResponse returns a response buffer to the pool.
func (p *Pool) PutResponse(buf []byte) { p.resp.put(buf) }

// RequestStats reports the request side's counters.
func (p *Pool) RequestStats() Stats { return p.req.stats() }

// ResponseStats reports the response side's counters.
func (p *Pool) ResponseStats() Stats { return p.resp.stats() }
