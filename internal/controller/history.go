package controller

import (
	"sync"

	"greenpot/planter/internal/care"
)

// History is a fixed capacity ring of snapshots; the oldest is evicted once
// it is full.
type History struct {
	mu    sync.RWMutex
	buf   []care.Snapshot
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]care.Snapshot, capacity)}
}

func (h *History) Add(s care.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshots returns the retained snapshots, oldest first.
func (h *History) Snapshots() []care.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]care.Snapshot, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Recent returns up to limit snapshots, newest first.
func (h *History) Recent(limit int) []care.Snapshot {
	all := h.Snapshots()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]care.Snapshot, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out
}

func (h *History) Latest() (care.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.n == 0 {
		return care.Snapshot{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }
