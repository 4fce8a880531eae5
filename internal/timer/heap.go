// Package timer implements the reactor's indexed min-heap timer wheel,
// keyed by connection id (file descriptor) and ordered by deadline.
//
// Grounded on original_source/code/timer/heaptimer.cpp (siftup_, siftdown_,
// SwapNode_, add, doWork, del_, adjust, tick, pop, clear, GetNextTick) and
// spec.md §3/§4.2. Not goroutine-safe by itself — the spec requires every
// call to be serialized by the Reactor thread.
package timer

import "time"

// Callback is invoked when a timer node expires or is explicitly fired via
// DoWork. It captures only the connection id at schedule time (per
// spec.md §9's "Callback closures for timeouts" note) so the Reactor can
// resolve the live Connection from its registry at fire time.
type Callback func()

type node struct {
	id      int
	expires time.Time
	cb      Callback
}

// Heap is a min-heap of timer nodes plus a side index mapping id to heap
// position, per spec.md §3's TimerHeap invariants.
type Heap struct {
	nodes []node
	index map[int]int // id -> position in nodes

	now func() time.Time // overridable for tests
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{
		index: make(map[int]int),
		now:   time.Now,
	}
}

func (h *Heap) clockNow() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Len returns the number of scheduled nodes.
func (h *Heap) Len() int { return len(h.nodes) }

// Add schedules id to fire cb after timeoutMS milliseconds. If id is
// already scheduled, its expiry and callback are updated in place and the
// heap is resifted from that position (down first, then up only if no
// downward movement occurred) — per heaptimer.cpp's add().
func (h *Heap) Add(id int, timeoutMS int, cb Callback) {
	expires := h.clockNow().Add(time.Duration(timeoutMS) * time.Millisecond)
	if i, ok := h.index[id]; ok {
		h.nodes[i].expires = expires
		h.nodes[i].cb = cb
		if !h.siftDown(i, len(h.nodes)) {
			h.siftUp(i)
		}
		return
	}
	i := len(h.nodes)
	h.nodes = append(h.nodes, node{id: id, expires: expires, cb: cb})
	h.index[id] = i
	h.siftUp(i)
}

// Adjust extends id's deadline to now+timeoutMS, preserving its callback.
// It is a no-op if id is not scheduled.
func (h *Heap) Adjust(id int, timeoutMS int) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.nodes[i].expires = h.clockNow().Add(time.Duration(timeoutMS) * time.Millisecond)
	h.siftDown(i, len(h.nodes))
}

// DoWork invokes id's callback (if scheduled) and removes the node,
// regardless of whether it has actually expired.
func (h *Heap) DoWork(id int) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	cb := h.nodes[i].cb
	h.delete(i)
	if cb != nil {
		cb()
	}
}

// Tick fires and removes every node whose deadline has passed.
func (h *Heap) Tick() {
	for len(h.nodes) > 0 {
		root := h.nodes[0]
		if root.expires.After(h.clockNow()) {
			break
		}
		cb := root.cb
		h.delete(0)
		if cb != nil {
			cb()
		}
	}
}

// NextTickMS first fires all expired nodes (via Tick), then returns the
// number of milliseconds until the new root expires, 0 if that is already
// in the past, or -1 if the heap is empty — meaning "block indefinitely"
// to the Poller, per spec.md §4.2 and §8 property 3.
func (h *Heap) NextTickMS() int {
	h.Tick()
	if len(h.nodes) == 0 {
		return -1
	}
	d := h.nodes[0].expires.Sub(h.clockNow())
	ms := int(d.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	return ms
}

// Pop removes the root node without invoking its callback.
func (h *Heap) Pop() {
	if len(h.nodes) == 0 {
		return
	}
	h.delete(0)
}

// Clear removes every scheduled node.
func (h *Heap) Clear() {
	h.nodes = nil
	h.index = make(map[int]int)
}

func (h *Heap) delete(i int) {
	n := len(h.nodes) - 1
	if i != n {
		h.swap(i, n)
		if !h.siftDown(i, n) {
			h.siftUp(i)
		}
	}
	delete(h.index, h.nodes[n].id)
	h.nodes = h.nodes[:n]
}

func (h *Heap) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.index[h.nodes[i].id] = i
	h.index[h.nodes[j].id] = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.nodes[i].expires.Before(h.nodes[parent].expires) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

// siftDown sifts node i down within nodes[0:n) and reports whether any
// movement occurred.
func (h *Heap) siftDown(i, n int) bool {
	start := i
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && h.nodes[right].expires.Before(h.nodes[left].expires) {
			smallest = right
		}
		if !h.nodes[smallest].expires.Before(h.nodes[i].expires) {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
	return i > start
}
