package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/beastmode/internal/ir"
)

// AuditFilter narrows ReadAudit. Zero fields match everything.
type AuditFilter struct {
	SessionID   string
	WorkflowID  string
	DispatchKey string

	// Limit keeps only the newest Limit records (still returned oldest
	// first). Zero means no limit.
	Limit int
}

// ReadAudit returns audit records in write order.
// Results are ordered deterministically: ORDER BY seq ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadAudit(ctx context.Context, f AuditFilter) ([]ir.AuditRecord, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, f.WorkflowID)
	}
	if f.DispatchKey != "" {
		where = append(where, "dispatch_key = ?")
		args = append(args, f.DispatchKey)
	}

	query := `SELECT seq, id, timestamp, session_id, workflow_id, inputs, actor, run_reference, dispatch_key FROM audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		// Newest N, then flip back to write order.
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, f.Limit)
	} else {
		query += " ORDER BY seq ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	records := []ir.AuditRecord{}
	for rows.Next() {
		var rec ir.AuditRecord
		var ts, inputsJSON string
		if err := rows.Scan(&rec.Seq, &rec.ID, &ts, &rec.SessionID, &rec.WorkflowID,
			&inputsJSON, &rec.Actor, &rec.RunReference, &rec.DispatchKey); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if rec.Inputs, err = unmarshalInputs(inputsJSON); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return records, nil
}

// CountAudit returns the number of audit records.
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit: %w", err)
	}
	return n, nil
}

const proposalColumns = `id, pattern, topic, workflow, source_input, slots, reply, status, rule_id, created_at, decided_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (ir.Proposal, error) {
	var p ir.Proposal
	var slots, status, ruleID, created string
	var decided sql.NullString
	if err := row.Scan(&p.ID, &p.Pattern, &p.Topic, &p.Workflow, &p.SourceInput,
		&slots, &p.Reply, &status, &ruleID, &created, &decided); err != nil {
		return ir.Proposal{}, err
	}

	var err error
	p.Status = ir.ProposalStatus(status)
	p.RuleID = ir.RuleID(ruleID)
	if p.Slots, err = unmarshalSlots(slots); err != nil {
		return ir.Proposal{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return ir.Proposal{}, err
	}
	if decided.Valid {
		t, err := parseTime(decided.String)
		if err != nil {
			return ir.Proposal{}, err
		}
		p.DecidedAt = &t
	}
	return p, nil
}

// Proposal returns the proposal with id, or ErrNotFound.
func (s *Store) Proposal(ctx context.Context, id string) (*ir.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}
	return &p, nil
}

// ListProposals returns proposals with the given status (all when empty),
// ordered by creation: ORDER BY created_at ASC, id ASC COLLATE BINARY.
func (s *Store) ListProposals(ctx context.Context, status ir.ProposalStatus) ([]ir.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	out := []ir.Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return out, nil
}

// LearnedRules returns every learned rule in approval order.
func (s *Store) LearnedRules(ctx context.Context) ([]LearnedRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, rule_id, proposal_id, definition, created_at
		FROM learned_rules
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query learned rules: %w", err)
	}
	defer rows.Close()

	out := []LearnedRule{}
	for rows.Next() {
		var r LearnedRule
		var ruleID, def, created string
		if err := rows.Scan(&r.Seq, &ruleID, &r.ProposalID, &def, &created); err != nil {
			return nil, fmt.Errorf("scan learned rule: %w", err)
		}
		r.RuleID = ir.RuleID(ruleID)
		r.Definition = []byte(def)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learned rules: %w", err)
	}
	return out, nil
}
