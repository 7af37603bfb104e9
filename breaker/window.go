package breaker

import "sync"

// window is a ring of the last n call outcomes. Every reset starts a new
// generation; outcomes of calls admitted in an earlier one are dropped.
type window struct {
	mu       sync.Mutex
	failed   []bool
	next     int
	filled   int
	failures int
	gen      uint64
}

func newWindow(n int) *window {
	return &window{failed: make([]bool, n)}
}

func (w *window) generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// record adds an outcome unless the window was reset since gen.
func (w *window) record(gen uint64, success bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return false
	}

	if w.filled == len(w.failed) && w.failed[w.next] {
		w.failures--
	}
	w.failed[w.next] = !success
	if !success {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.failed)
	if w.filled < len(w.failed) {
		w.filled++
	}
	return true
}

func (w *window) counts() (failures, samples int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures, w.filled
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.failed)
	w.next, w.filled, w.failures = 0, 0, 0
	w.gen++
}
