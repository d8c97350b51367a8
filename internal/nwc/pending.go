package nwc

import (
	"fmt"
	"sync"
	"time"
)

// outcome is the single result delivered to a waiting request
type outcome struct {
	resp *Response
	err  error
}

// pendingEntry is one in-flight request. It leaves the table exactly once.
type pendingEntry struct {
	requestID   string
	method      string
	eventID     string // signed request event, referenced by NIP-47 wallets
	subID       string // per-request relay subscription
	submittedAt time.Time
	deadline    time.Time

	timer *time.Timer  // stopping it cancels the deadline
	done  chan outcome // buffered, receives exactly one value
}

// pendingTable is the dispatch table from correlation key to waiting request.
// Every settle path (response, deadline, connection loss, close) goes through
// one locked delete, so the first one wins and the rest are no-ops.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry // requestID -> entry
	keys    map[string]string        // correlation key -> requestID
	closed  error
	metrics *Metrics
}

func newPendingTable(m *Metrics) *pendingTable {
	return &pendingTable{
		entries: make(map[string]*pendingEntry),
		keys:    make(map[string]string),
		metrics: m,
	}
}

// add registers e and arms its deadline timer
func (t *pendingTable) add(e *pendingEntry, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return t.closed
	}
	if _, exists := t.entries[e.requestID]; exists {
		return fmt.Errorf("nwc: duplicate request id %s", e.requestID)
	}

	now := time.Now()
	e.submittedAt = now
	e.deadline = now.Add(timeout)
	e.done = make(chan outcome, 1)

	t.entries[e.requestID] = e
	t.keys[e.requestID] = e.requestID
	if e.eventID != "" {
		t.keys[e.eventID] = e.requestID
	}
	if e.subID != "" {
		t.keys[e.subID] = e.requestID
	}

	requestID, method := e.requestID, e.method
	e.timer = time.AfterFunc(timeout, func() {
		t.settle(requestID, outcome{err: fmt.Errorf("%w: %s got no response within %s", ErrRequestTimeout, method, timeout)})
	})

	t.metrics.pendingAdd(1)
	return nil
}

// has reports whether key correlates to a live entry
func (t *pendingTable) has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.keys[key]
	return ok
}

// settle removes the entry correlated to key and delivers o to its waiter.
// Returns false when the entry was already settled.
func (t *pendingTable) settle(key string, o outcome) bool {
	t.mu.Lock()
	e := t.removeLocked(key)
	t.mu.Unlock()

	if e == nil {
		return false
	}
	t.deliver(e, o)
	return true
}

// failAll settles every live entry with err
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	entries := t.drainLocked()
	t.mu.Unlock()

	for _, e := range entries {
		t.deliver(e, outcome{err: err})
	}
	return len(entries)
}

// close fails every live entry with err and rejects later registrations
func (t *pendingTable) close(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	entries := t.drainLocked()
	t.mu.Unlock()

	for _, e := range entries {
		t.deliver(e, outcome{err: err})
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *pendingTable) removeLocked(key string) *pendingEntry {
	requestID, ok := t.keys[key]
	if !ok {
		return nil
	}
	e := t.entries[requestID]
	if e == nil {
		delete(t.keys, key)
		return nil
	}
	delete(t.entries, requestID)
	delete(t.keys, e.requestID)
	delete(t.keys, e.eventID)
	delete(t.keys, e.subID)
	return e
}

func (t *pendingTable) drainLocked() []*pendingEntry {
	entries := make([]*pendingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[string]*pendingEntry)
	t.keys = make(map[string]string)
	return entries
}

func (t *pendingTable) deliver(e *pendingEntry, o outcome) {
	e.timer.Stop()
	if o.resp != nil {
		o.resp.RequestID = e.requestID
	}
	e.done <- o
	t.metrics.pendingAdd(-1)
}
