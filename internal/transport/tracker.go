package transport

import (
	"sync"
	"sync/atomic"
)

// Limit reasons returned by Tracker.TryAcquire.
const (
	LimitGlobal = "max_connections"
	LimitPerIP  = "max_connections_per_ip"
)

// Tracker counts live session connections globally and per client IP.
type Tracker struct {
	active        atomic.Int64
	total         atomic.Int64
	totalMessages atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ipConnections: make(map[string]int),
	}
}

// ConnectionCount returns the number of live connections.
func (t *Tracker) ConnectionCount() int {
	return int(t.active.Load())
}

// ConnectionCountForIP returns the live connection count for ip.
func (t *Tracker) ConnectionCountForIP(ip string) int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	return t.ipConnections[ip]
}

// TryAcquire checks both limits and takes a slot for ip under one lock.
// It returns "" on success or the name of the limit that was hit.
func (t *Tracker) TryAcquire(ip string, maxGlobal, maxPerIP int) string {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()

	if int(t.active.Load()) >= maxGlobal {
		return LimitGlobal
	}
	if t.ipConnections[ip] >= maxPerIP {
		return LimitPerIP
	}

	t.active.Add(1)
	t.total.Add(1)
	t.ipConnections[ip]++
	return ""
}

// Release gives back a slot taken by TryAcquire.
func (t *Tracker) Release(ip string) {
	t.active.Add(-1)
	t.ipMu.Lock()
	t.ipConnections[ip]--
	if t.ipConnections[ip] <= 0 {
		delete(t.ipConnections, ip)
	}
	t.ipMu.Unlock()
}

// IncrementMessages counts one inbound frame.
func (t *Tracker) IncrementMessages() {
	t.totalMessages.Add(1)
}

// TotalConnections returns connections accepted since start.
func (t *Tracker) TotalConnections() int64 {
	return t.total.Load()
}

// TotalMessages returns inbound frames read since start.
func (t *Tracker) TotalMessages() int64 {
	return t.totalMessages.Load()
}
