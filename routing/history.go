package routing

import (
	"sync"
	"time"
)

// DecisionRecord is one completed routing outcome, kept for lightweight
// observability. It is not consumed by any decision logic.
type DecisionRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	TaskType       TaskType        `json:"task_type"`
	Decision       RoutingDecision `json:"decision"`
	Succeeded      bool            `json:"succeeded"`
	LatencyMs      int             `json:"latency_ms"`
	AgreementScore *float64        `json:"agreement_score,omitempty"`
}

// History is a bounded ring buffer of the most recent routing decisions.
// Appends overwrite the oldest entry once the buffer is full. It is safe for
// concurrent use; readers get copies and never block writers for long.
type History struct {
	mu    sync.RWMutex
	buf   []DecisionRecord
	next  int
	count int
}

// NewHistory returns a History holding up to size records (default 100 when
// size is not positive).
func NewHistory(size int) *History {
	if size <= 0 {
		size = 100
	}
	return &History{buf: make([]DecisionRecord, size)}
}

// Append records one decision, evicting the oldest if the buffer is full.
func (h *History) Append(rec DecisionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = rec
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything currently held.
func (h *History) Recent(limit int) []DecisionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DecisionRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Len reports how many records are currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
