package push

import (
	"math/rand/v2"
	"sync"
	"time"
)

// pool is the set of idle connections owned by a Session. Each operation
// replaces the whole member slice inside one critical section and never
// performs I/O while holding the lock.
type pool struct {
	mu      sync.Mutex
	idle    []*Connection
	drained bool
}

// take removes a uniformly random idle member. It reports false when the
// pool is empty and fails once the pool has been drained.
func (p *pool) take() (*Connection, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		return nil, false, ErrSessionClosed
	}
	n := len(p.idle)
	if n == 0 {
		return nil, false, nil
	}
	i := rand.IntN(n)
	c := p.idle[i]
	next := make([]*Connection, n)
	copy(next, p.idle)
	next[i] = next[n-1]
	p.idle = next[:n-1]
	return c, true, nil
}

// put reinserts c. It reports false when c was not kept, either because it
// is closed or because the pool has been drained; the caller then owns
// closing it.
func (p *pool) put(c *Connection) bool {
	if !c.IsOpen() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		return false
	}
	next := make([]*Connection, len(p.idle), len(p.idle)+1)
	copy(next, p.idle)
	p.idle = append(next, c)
	return true
}

// partition keeps members used at or after cutoff and returns the rest.
func (p *pool) partition(cutoff time.Time) []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keep, expired []*Connection
	for _, c := range p.idle {
		if c.LastUsed().Before(cutoff) {
			expired = append(expired, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	return expired
}

// drain empties the pool and refuses all later takes and puts.
func (p *pool) drain() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := p.idle
	p.idle = nil
	p.drained = true
	return members
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
