// Package syncutil provides small concurrency-safe primitives shared across
// the peer manager, such as per-piece reference counters.
package syncutil

import "sync"

// Counters is a fixed-size slice of concurrency-safe integer counters. The
// refill engine uses one Counters to track how many peers are known to have
// each piece, so rarest-first ranking can be computed without locking the
// whole torrent state.
type Counters struct {
	sync.Mutex
	counts []int
}

// NewCounters creates a Counters of length n, all initialized to 0.
func NewCounters(n int) *Counters {
	return &Counters{counts: make([]int, n)}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	return len(c.counts)
}

// Increment adds 1 to the counter at i.
func (c *Counters) Increment(i int) {
	c.Lock()
	defer c.Unlock()
	c.counts[i]++
}

// Decrement subtracts 1 from the counter at i.
func (c *Counters) Decrement(i int) {
	c.Lock()
	defer c.Unlock()
	c.counts[i]--
}

// Set overwrites the counter at i with v.
func (c *Counters) Set(i int, v int) {
	c.Lock()
	defer c.Unlock()
	c.counts[i] = v
}

// Get returns the counter at i.
func (c *Counters) Get(i int) int {
	c.Lock()
	defer c.Unlock()
	return c.counts[i]
}
