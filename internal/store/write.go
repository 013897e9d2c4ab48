package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/beastmode/internal/ir"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned when deciding a proposal that was already
	// approved or rejected.
	ErrNotPending = errors.New("proposal is not pending")
)

// LearnedRule is the persisted form of a rule produced by an approved
// proposal. Definition is the rule's source definition as JSON, so the
// rule is recompiled the same way hand-written rules are.
type LearnedRule struct {
	Seq        int64
	RuleID     ir.RuleID
	ProposalID string
	Definition []byte
	CreatedAt  time.Time
}

// Append inserts an audit record. The store assigns Seq; the record's own
// Seq is ignored. Uses ON CONFLICT(id) DO NOTHING for idempotency: appending
// the same record twice stores it once.
func (s *Store) Append(ctx context.Context, rec ir.AuditRecord) error {
	inputsJSON, err := marshalInputs(rec.Inputs)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit
		(id, timestamp, session_id, workflow_id, inputs, actor, run_reference, dispatch_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		formatTime(rec.Timestamp),
		rec.SessionID,
		rec.WorkflowID,
		inputsJSON,
		rec.Actor,
		rec.RunReference,
		rec.DispatchKey,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// SaveProposal inserts a new proposal.
func (s *Store) SaveProposal(ctx context.Context, p ir.Proposal) error {
	slotsJSON, err := marshalSlots(p.Slots)
	if err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals
		(id, pattern, topic, workflow, source_input, slots, reply, status, rule_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.Pattern,
		p.Topic,
		p.Workflow,
		p.SourceInput,
		slotsJSON,
		p.Reply,
		string(p.Status),
		string(p.RuleID),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}
	return nil
}

// RejectProposal marks a pending proposal rejected.
func (s *Store) RejectProposal(ctx context.Context, id string, decidedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET status = 'rejected', decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, formatTime(decidedAt), id)
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	if n == 0 {
		return s.notPending(ctx, id)
	}
	return nil
}

// ApproveProposal stores the learned rule and marks the proposal approved
// in one transaction. Either both happen or neither does.
func (s *Store) ApproveProposal(ctx context.Context, id string, rule LearnedRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("approve proposal: begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE proposals SET status = 'approved', rule_id = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(rule.RuleID), formatTime(rule.CreatedAt), id)
	if err != nil {
		return fmt.Errorf("approve proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve proposal: %w", err)
	}
	if n == 0 {
		// The pool holds a single connection; release it before reading.
		_ = tx.Rollback()
		return s.notPending(ctx, id)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO learned_rules (rule_id, proposal_id, definition, created_at)
		VALUES (?, ?, ?, ?)
	`, string(rule.RuleID), id, string(rule.Definition), formatTime(rule.CreatedAt))
	if err != nil {
		return fmt.Errorf("approve proposal: save rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("approve proposal: commit: %w", err)
	}
	return nil
}

// notPending distinguishes a missing proposal from a decided one.
func (s *Store) notPending(ctx context.Context, id string) error {
	if _, err := s.Proposal(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("proposal %s: %w", id, ErrNotPending)
}
