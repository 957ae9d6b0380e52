package repository

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDispatchTargetMissing is returned when the referenced rule or lead no
// longer exists at mark time.
var ErrDispatchTargetMissing = errors.New("dispatch target missing")

// DueCandidate is one (active rule, lead) pair whose lead currently sits in
// a state the rule applies to, has not been converted, and has no ledger
// entry for its current state-entry timestamp. The rule's delay is NOT
// applied here; the service compares against the caller-supplied clock.
type DueCandidate struct {
	RuleID          uuid.UUID
	RuleName        string
	MessageTemplate string
	DelayHours      int
	LeadID          uuid.UUID
	Handle          string
	State           string
	StateEnteredAt  time.Time
}

// DueCandidates joins active rules against leads and subtracts the dispatch
// ledger. Rows are ordered by rule, then oldest state entry first, so
// delivery is biased toward the longest-waiting leads. Read-only; safe to
// run concurrently from any number of pollers.
func (r *Repository) DueCandidates(ctx context.Context) ([]DueCandidate, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.message_template, r.delay_hours,
			l.id, l.handle, l.state, l.state_entered_at
		FROM follow_up_rules r
		JOIN follow_up_rule_states rs ON rs.rule_id = r.id
		JOIN leads l ON l.state = rs.state
		LEFT JOIN dispatch_ledger d
			ON d.rule_id = r.id
			AND d.lead_id = l.id
			AND d.state_entered_at_snapshot = l.state_entered_at
		WHERE r.active
			AND l.client_id IS NULL
			AND l.state_entered_at IS NOT NULL
			AND d.rule_id IS NULL
		ORDER BY r.id, l.state_entered_at ASC
	`)
	if err != nil {
		return nil, db.ClassifyError("automation.due_candidates", err)
	}
	defer rows.Close()

	candidates := make([]DueCandidate, 0)
	for rows.Next() {
		var c DueCandidate
		if err := rows.Scan(
			&c.RuleID, &c.RuleName, &c.MessageTemplate, &c.DelayHours,
			&c.LeadID, &c.Handle, &c.State, &c.StateEnteredAt,
		); err != nil {
			return nil, db.ClassifyError("automation.due_candidates", err)
		}
		candidates = append(candidates, c)
	}
	if rows.Err() != nil {
		return nil, db.ClassifyError("automation.due_candidates", rows.Err())
	}

	return candidates, nil
}

// InsertDispatch appends a ledger row for the (rule, lead, snapshot) triple.
// The composite unique index is the sole arbiter under concurrency: a
// conflicting insert affects zero rows and is reported as inserted=false,
// never as an error. No retry loop sits on top of this; the constraint
// already guarantees at-most-once.
func (r *Repository) InsertDispatch(ctx context.Context, ruleID, leadID uuid.UUID, stateAtDispatch string, snapshot time.Time) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO dispatch_ledger (rule_id, lead_id, state_at_dispatch, state_entered_at_snapshot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rule_id, lead_id, state_entered_at_snapshot) DO NOTHING
	`, ruleID, leadID, stateAtDispatch, snapshot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrDispatchTargetMissing
		}
		return false, db.ClassifyError("automation.mark_dispatched", err)
	}

	return tag.RowsAffected() == 1, nil
}

// DispatchRecord is one historical ledger row.
type DispatchRecord struct {
	RuleID                 uuid.UUID
	LeadID                 uuid.UUID
	StateAtDispatch        string
	StateEnteredAtSnapshot time.Time
	CreatedAt              time.Time
}

// ListDispatches returns the ledger rows for a lead, newest first.
func (r *Repository) ListDispatches(ctx context.Context, leadID uuid.UUID) ([]DispatchRecord, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT rule_id, lead_id, state_at_dispatch, state_entered_at_snapshot, created_at
		FROM dispatch_ledger
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, db.ClassifyError("automation.dispatches.list", err)
	}
	defer rows.Close()

	records := make([]DispatchRecord, 0)
	for rows.Next() {
		var rec DispatchRecord
		if err := rows.Scan(&rec.RuleID, &rec.LeadID, &rec.StateAtDispatch, &rec.StateEnteredAtSnapshot, &rec.CreatedAt); err != nil {
			return nil, db.ClassifyError("automation.dispatches.list", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, db.ClassifyError("automation.dispatches.list", rows.Err())
	}

	return records, nil
}
