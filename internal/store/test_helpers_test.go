package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/beastmode/internal/ir"
)

var testEpoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAudit creates an audit record with minimal required fields.
func createTestAudit(id, sessionID, workflowID string, inputs ir.Inputs) ir.AuditRecord {
	return ir.AuditRecord{
		ID:           id,
		Timestamp:    testEpoch,
		SessionID:    sessionID,
		WorkflowID:   workflowID,
		Inputs:       inputs,
		Actor:        "alice",
		RunReference: "https://ci.example/runs/" + id,
		DispatchKey:  ir.MustDispatchKey(workflowID, inputs),
	}
}

// createTestProposal creates a pending proposal.
func createTestProposal(id string, created time.Time) ir.Proposal {
	return ir.Proposal{
		ID:          id,
		Workflow:    "create-tenants",
		SourceInput: "spin up 4 tenants",
		Slots:       []ir.Slot{{Name: "count", Value: "4"}},
		Reply:       "Creating tenants.",
		Status:      ir.ProposalPending,
		CreatedAt:   created,
	}
}
