// Package store implements the clanbench persistence collaborator: counter
// snapshots plus an append-only audit log per counter.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alexshd/clanbench"
)

// Memory is an in-process Store. The zero value is not ready for use; call
// NewMemory.
type Memory struct {
	mu       sync.Mutex
	order    []int64
	counters map[int64]clanbench.Snapshot
	logs     map[int64][]clanbench.AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[int64]clanbench.Snapshot),
		logs:     make(map[int64][]clanbench.AuditEntry),
	}
}

// LoadAllCounters returns every counter in creation order.
func (m *Memory) LoadAllCounters(context.Context) ([]clanbench.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]clanbench.Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.counters[id])
	}
	return out, nil
}

// CreateCounter stores a new counter. Reusing an id fails with ErrCounterExists.
func (m *Memory) CreateCounter(_ context.Context, s clanbench.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[s.ID]; ok {
		return fmt.Errorf("counter %d: %w", s.ID, clanbench.ErrCounterExists)
	}
	m.counters[s.ID] = s
	m.order = append(m.order, s.ID)
	return nil
}

// UpdateCounter replaces the snapshot of an existing counter.
func (m *Memory) UpdateCounter(_ context.Context, s clanbench.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[s.ID]; !ok {
		return fmt.Errorf("counter %d: %w", s.ID, clanbench.ErrUnknownCounter)
	}
	m.counters[s.ID] = s
	return nil
}

// AppendAuditEntry adds e to the end of its counter's audit log.
func (m *Memory) AppendAuditEntry(_ context.Context, e clanbench.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[e.CounterID]; !ok {
		return fmt.Errorf("counter %d: %w", e.CounterID, clanbench.ErrUnknownCounter)
	}
	m.logs[e.CounterID] = append(m.logs[e.CounterID], e)
	return nil
}

// ReadAuditEntries renders the audit log of one counter, oldest first.
func (m *Memory) ReadAuditEntries(_ context.Context, counterID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[counterID]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, FormatAuditEntry(e))
	}
	return out, nil
}

// AuditEntries returns a copy of the raw audit log of one counter.
func (m *Memory) AuditEntries(counterID int64) []clanbench.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.logs[counterID])
}

// Counter returns the stored snapshot of one counter.
func (m *Memory) Counter(id int64) (clanbench.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.counters[id]
	return s, ok
}

// FormatAuditEntry renders e as one human-readable line.
func FormatAuditEntry(e clanbench.AuditEntry) string {
	return fmt.Sprintf("counter id: %d; timestamp: %s; cause: %s; previous balance: %d; current balance: %d; difference: %d",
		e.CounterID, e.Time.Format(time.DateTime+".000"), e.Cause, e.BalanceBefore, e.BalanceAfter, e.Delta)
}
