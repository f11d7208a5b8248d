// indexed binary min-heap of deadlines
// only the reactor goroutine touches it, so there is no locking here
package timer

import "time"

// Node is one deadline. Value is whatever the owner uses to find its connection again.
type Node[T any] struct {
	Expire time.Time
	Value  T
}

// Heap orders nodes by Expire, earliest at the root.
// index maps a node to its slot so Adjust and Delete don't have to scan.
type Heap[T any] struct {
	nodes []*Node[T]
	index map[*Node[T]]int
}

func New[T any](capacity int) *Heap[T] {
	return &Heap[T]{
		nodes: make([]*Node[T], 0, capacity),
		index: make(map[*Node[T]]int, capacity),
	}
}

func (h *Heap[T]) Len() int { return len(h.nodes) }

// Root is the earliest node or nil.
func (h *Heap[T]) Root() *Node[T] {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[0]
}

// Contains reports whether n is currently in the heap.
func (h *Heap[T]) Contains(n *Node[T]) bool {
	_, ok := h.index[n]
	return ok
}

// Add inserts n; adding a node that is already in the heap just repositions it.
func (h *Heap[T]) Add(n *Node[T]) {
	if n == nil {
		return
	}
	if i, ok := h.index[n]; ok {
		h.fix(i)
		return
	}
	h.nodes = append(h.nodes, n)
	i := len(h.nodes) - 1
	h.index[n] = i
	h.up(i)
}

// Adjust restores order after n.Expire was pushed later.
func (h *Heap[T]) Adjust(n *Node[T]) {
	i, ok := h.index[n]
	if !ok {
		return
	}
	h.down(i)
}

// Fix repositions n after any change to n.Expire.
func (h *Heap[T]) Fix(n *Node[T]) {
	if i, ok := h.index[n]; ok {
		h.fix(i)
	}
}

// Delete removes n; unknown nodes are ignored.
func (h *Heap[T]) Delete(n *Node[T]) {
	i, ok := h.index[n]
	if !ok {
		return
	}
	last := len(h.nodes) - 1
	if i != last {
		h.swap(i, last)
	}
	h.nodes[last] = nil
	h.nodes = h.nodes[:last]
	delete(h.index, n)
	if i < last {
		h.fix(i)
	}
}

// Tick pops every node with Expire <= now and hands it to fn.
// fn may push the node's Expire past now and return true to keep it, anything else drops it.
// fn is free to Delete the node itself.
func (h *Heap[T]) Tick(now time.Time, fn func(n *Node[T]) bool) {
	for {
		n := h.Root()
		if n == nil || n.Expire.After(now) {
			return
		}
		keep := fn(n)
		if !h.Contains(n) {
			continue
		}
		if keep && n.Expire.After(now) {
			h.Adjust(n)
		} else {
			h.Delete(n)
		}
	}
}

func (h *Heap[T]) less(i, j int) bool {
	return h.nodes[i].Expire.Before(h.nodes[j].Expire)
}

func (h *Heap[T]) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.index[h.nodes[i]] = i
	h.index[h.nodes[j]] = j
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(i, p) {
			return
		}
		h.swap(i, p)
		i = p
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.nodes)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && h.less(r, l) {
			m = r
		}
		if !h.less(m, i) {
			return
		}
		h.swap(i, m)
		i = m
	}
}

func (h *Heap[T]) fix(i int) {
	h.up(i)
	h.down(i)
}
