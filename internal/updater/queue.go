package updater

import (
	"fmt"
	"sync"
	"time"
)

// Policy selects how queued requests are consumed.
type Policy int

const (
	// PolicyCoalesce hands out only the newest queued request and discards
	// the rest. Intermediate modes are never rendered.
	PolicyCoalesce Policy = iota

	// PolicyFIFO hands out every request in arrival order.
	PolicyFIFO
)

func (p Policy) String() string {
	switch p {
	case PolicyCoalesce:
		return "coalesce"
	case PolicyFIFO:
		return "fifo"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "coalesce" or "fifo".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "coalesce", "":
		return PolicyCoalesce, nil
	case "fifo":
		return PolicyFIFO, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Request asks for the layout of Mode to be applied.
type Request struct {
	Mode       string
	EnqueuedAt time.Time
}

// QueueStats counts queue activity since creation.
type QueueStats struct {
	Pushed    uint64 `json:"pushed"`
	Dropped   uint64 `json:"dropped"`
	Coalesced uint64 `json:"coalesced"`
}

// Queue is a bounded queue of mode-change requests with an update gate.
//
// Push never blocks: when the queue is full the oldest request is dropped.
// TryPop hands out a request only while the gate is open and closes the
// gate in the same critical section, so at most one request is in flight
// until the consumer calls OpenGate.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []Request
	capacity int
	policy   Policy
	gateOpen bool
	notify   chan struct{}
	stats    QueueStats
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity requests.
// The gate starts open.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:    make([]Request, 0, capacity),
		capacity: capacity,
		policy:   policy,
		gateOpen: true,
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Push enqueues a request for mode. It reports whether an older request
// was dropped to make room.
func (q *Queue) Push(mode string) (dropped bool) {
	q.mu.Lock()
	q.items = append(q.items, Request{Mode: mode, EnqueuedAt: q.now()})
	q.stats.Pushed++
	if len(q.items) > q.capacity {
		q.items = q.items[1:]
		q.stats.Dropped++
		dropped = true
	}
	q.mu.Unlock()

	q.signal()
	return dropped
}

// TryPop returns the next request if the gate is open and the queue is not
// empty, closing the gate. Under PolicyCoalesce the newest request is
// returned and older ones are discarded.
func (q *Queue) TryPop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.gateOpen || len(q.items) == 0 {
		return Request{}, false
	}

	var req Request
	if q.policy == PolicyCoalesce {
		req = q.items[len(q.items)-1]
		q.stats.Coalesced += uint64(len(q.items) - 1) // #nosec G115 -- length is non-negative
		q.items = q.items[:0]
	} else {
		req = q.items[0]
		q.items = q.items[1:]
	}
	q.gateOpen = false
	return req, true
}

// OpenGate allows the next TryPop. Pending requests wake the consumer.
func (q *Queue) OpenGate() {
	q.mu.Lock()
	q.gateOpen = true
	pending := len(q.items) > 0
	q.mu.Unlock()

	if pending {
		q.signal()
	}
}

// CloseGate blocks TryPop until OpenGate.
func (q *Queue) CloseGate() {
	q.mu.Lock()
	q.gateOpen = false
	q.mu.Unlock()
}

// GateOpen reports whether TryPop may hand out a request.
func (q *Queue) GateOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gateOpen
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued request and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = q.items[:0]
	return n
}

// Notify returns a channel that receives after Push, or after OpenGate
// with requests pending. Signals are coalesced; the receiver must drain
// with TryPop until it reports false.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Policy returns the consumption policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
