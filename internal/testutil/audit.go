package testutil

import (
	"context"
	"sync"

	"github.com/roach88/beastmode/internal/ir"
)

// MemoryAudit is an in-memory audit sink. It assigns Seq in append order,
// as the SQLite store does.
//
// Thread-safety: safe for concurrent use.
type MemoryAudit struct {
	mu      sync.Mutex
	records []ir.AuditRecord

	// Err, when set, is returned by Append and nothing is stored.
	Err error
}

// NewMemoryAudit creates an empty sink.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

// Append stores rec.
func (m *MemoryAudit) Append(_ context.Context, rec ir.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	rec.Seq = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the stored records in append order.
func (m *MemoryAudit) Records() []ir.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.AuditRecord(nil), m.records...)
}

// Len returns the number of stored records.
func (m *MemoryAudit) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
