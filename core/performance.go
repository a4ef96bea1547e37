package core

import (
	"sync"
	"time"
)

const defaultPriority = 1.0

// PerformanceRecord holds the rolling statistics the router ranks candidates by.
type PerformanceRecord struct {
	ExecTime   time.Duration
	ErrorCount int
	Priority   float64
}

// Score returns priority * execTime(seconds) + 2 * errorCount. Lower is better.
func (r PerformanceRecord) Score() float64 {
	return r.Priority*r.ExecTime.Seconds() + 2*float64(r.ErrorCount)
}

// PerformanceMetrics keeps one PerformanceRecord per task name.
// Records are created on first write and live as long as the metrics table.
type PerformanceMetrics struct {
	mu      sync.Mutex
	records map[string]*PerformanceRecord
}

// NewPerformanceMetrics creates an empty metrics table.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{records: make(map[string]*PerformanceRecord)}
}

// Get returns a copy of the record for name. Unknown names report the
// default record without creating it.
func (m *PerformanceMetrics) Get(name string) PerformanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[name]; ok {
		return *rec
	}
	return PerformanceRecord{Priority: defaultPriority}
}

// Score returns the current score for name.
func (m *PerformanceMetrics) Score(name string) float64 {
	return m.Get(name).Score()
}

// SetPriority sets the priority multiplier of name.
func (m *PerformanceMetrics) SetPriority(name string, priority float64) error {
	if priority <= 0 {
		return ErrInvalidPriority
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(name).Priority = priority
	return nil
}

// RecordSuccess overwrites the execution time of name with d.
func (m *PerformanceMetrics) RecordSuccess(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(name).ExecTime = d
}

// RecordFailure increments the error count of name.
func (m *PerformanceMetrics) RecordFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(name).ErrorCount++
}

// Len returns the number of task names with a record.
func (m *PerformanceMetrics) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *PerformanceMetrics) recordLocked(name string) *PerformanceRecord {
	rec, ok := m.records[name]
	if !ok {
		rec = &PerformanceRecord{Priority: defaultPriority}
		m.records[name] = rec
	}
	return rec
}
