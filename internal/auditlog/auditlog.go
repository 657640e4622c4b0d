// Package auditlog keeps a per-channel, append-only, capacity-bounded
// record of order intents, fills and state updates. It is evidentiary:
// authoritative balances live in the channel state manager, so FIFO
// eviction on overflow is purely a memory bound.
package auditlog

import (
	"sync"
	"time"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// DefaultCapacity bounds each channel's log unless overridden.
const DefaultCapacity = 10_000

// ring is a fixed-capacity circular buffer of audit entries.
type ring struct {
	data  []domain.AuditEntry
	head  int // next write position
	count int
}

func newRing(capacity int) *ring {
	return &ring{data: make([]domain.AuditEntry, capacity)}
}

// push appends an entry, evicting the oldest when full.
func (r *ring) push(e domain.AuditEntry) {
	r.data[r.head] = e
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// all returns the entries oldest-first.
func (r *ring) all() []domain.AuditEntry {
	if r.count == 0 {
		return nil
	}
	out := make([]domain.AuditEntry, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// Log is the audit log across channels. Appends and range queries are
// safe for concurrent use; reads never block the single writer of a
// channel since consumption is by range query, not mutation.
type Log struct {
	mu       sync.RWMutex
	capacity int
	channels map[string]*ring
}

// New creates a log. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		channels: make(map[string]*ring),
	}
}

// RecordIntent appends a signed order intent for a channel.
func (l *Log) RecordIntent(channelID string, intent domain.SignedOrderIntent) {
	l.append(channelID, domain.AuditEntry{
		Timestamp: time.Now(),
		Kind:      domain.AuditOrderIntent,
		Intent:    &intent,
	})
}

// RecordFill appends a fill for a channel.
func (l *Log) RecordFill(channelID string, fill domain.Fill) {
	l.append(channelID, domain.AuditEntry{
		Timestamp: time.Now(),
		Kind:      domain.AuditFill,
		Fill:      &fill,
	})
}

// RecordUpdate appends an accepted state update for a channel.
func (l *Log) RecordUpdate(channelID string, update domain.SignedStateUpdate) {
	l.append(channelID, domain.AuditEntry{
		Timestamp: time.Now(),
		Kind:      domain.AuditStateUpdate,
		Update:    &update,
	})
}

func (l *Log) append(channelID string, e domain.AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.channels[channelID]
	if !ok {
		r = newRing(l.capacity)
		l.channels[channelID] = r
	}
	r.push(e)
}

// Since returns a channel's entries recorded strictly after t,
// oldest-first.
func (l *Log) Since(channelID string, t time.Time) []domain.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.channels[channelID]
	if !ok {
		return nil
	}
	var out []domain.AuditEntry
	for _, e := range r.all() {
		if e.Timestamp.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Export returns a channel's full retained log, oldest-first.
func (l *Log) Export(channelID string) []domain.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.channels[channelID]
	if !ok {
		return nil
	}
	return r.all()
}

// Len returns the number of retained entries for a channel.
func (l *Log) Len(channelID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.channels[channelID]
	if !ok {
		return 0
	}
	return r.count
}
