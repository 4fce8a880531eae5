package reactor

import (
	"sync"

	"github.com/reactorweb/server/internal/conn"
)

// registry maps live fds to their Connection. spec.md §5 makes the Reactor
// thread the logical owner of the table, but closeConnection — the one
// piece of registry mutation workers need — runs from handleRead/
// handleWrite/onProcess on worker-pool goroutines, racing the Reactor
// thread's own accept-path add and timer-driven idleCloseCallback remove.
// Guarded the same way the teacher's internal/ws/epoll.go guards its
// connections map and internal/ws/connection.go's ConnectionManager guards
// byID: a dedicated RWMutex, readers (get/len/all) taking RLock and writers
// (add/remove) taking Lock.
type registry struct {
	mu   sync.RWMutex
	byFD map[int]*conn.Connection
}

func newRegistry() *registry {
	return &registry{byFD: make(map[int]*conn.Connection)}
}

func (r *registry) add(c *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFD[c.Fd()] = c
}

func (r *registry) get(fd int) (*conn.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byFD[fd]
	return c, ok
}

func (r *registry) remove(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byFD, fd)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byFD)
}

func (r *registry) all() []*conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Connection, 0, len(r.byFD))
	for _, c := range r.byFD {
		out = append(out, c)
	}
	return out
}
