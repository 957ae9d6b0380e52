package repository

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRuleNotFound = errors.New("follow-up rule not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Rule struct {
	ID              uuid.UUID
	Name            string
	MessageTemplate string
	DelayHours      int
	Active          bool
	AppliesToStates []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateRuleParams struct {
	Name            string
	MessageTemplate string
	DelayHours      int
	Active          bool
	AppliesToStates []string
}

type UpdateRuleParams struct {
	Name            *string
	MessageTemplate *string
	DelayHours      *int
	Active          *bool
	// AppliesToStates, when non-nil, fully replaces the prior scope
	// (delete-then-insert, never a merge).
	AppliesToStates []string
}

const ruleColumns = `r.id, r.name, r.message_template, r.delay_hours, r.active, r.created_at, r.updated_at,
	COALESCE(array_agg(rs.state ORDER BY rs.state) FILTER (WHERE rs.state IS NOT NULL), '{}')`

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.MessageTemplate,
		&rule.DelayHours,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&rule.AppliesToStates,
	)
	return rule, err
}

func (r *Repository) ListRules(ctx context.Context) ([]Rule, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM follow_up_rules r
		LEFT JOIN follow_up_rule_states rs ON rs.rule_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at ASC
	`)
	if err != nil {
		return nil, db.ClassifyError("automation.rules.list", err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, db.ClassifyError("automation.rules.list", err)
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, db.ClassifyError("automation.rules.list", rows.Err())
	}

	return rules, nil
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	rule, err := scanRule(r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM follow_up_rules r
		LEFT JOIN follow_up_rule_states rs ON rs.rule_id = r.id
		WHERE r.id = $1
		GROUP BY r.id
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrRuleNotFound
		}
		return Rule{}, db.ClassifyError("automation.rules.get", err)
	}
	return rule, nil
}

func (r *Repository) CreateRule(ctx context.Context, params CreateRuleParams) (Rule, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Rule{}, db.ClassifyError("automation.rules.create", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var ruleID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO follow_up_rules (name, message_template, delay_hours, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, params.Name, params.MessageTemplate, params.DelayHours, params.Active).Scan(&ruleID)
	if err != nil {
		return Rule{}, db.ClassifyError("automation.rules.create", err)
	}

	if err = insertRuleStates(ctx, tx, ruleID, params.AppliesToStates); err != nil {
		return Rule{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Rule{}, db.ClassifyError("automation.rules.create", err)
	}

	return r.GetRule(ctx, ruleID)
}

func (r *Repository) UpdateRule(ctx context.Context, id uuid.UUID, params UpdateRuleParams) (Rule, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Rule{}, db.ClassifyError("automation.rules.update", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE follow_up_rules SET
			name = COALESCE($2, name),
			message_template = COALESCE($3, message_template),
			delay_hours = COALESCE($4, delay_hours),
			active = COALESCE($5, active),
			updated_at = now()
		WHERE id = $1
	`, id, params.Name, params.MessageTemplate, params.DelayHours, params.Active)
	if err != nil {
		return Rule{}, db.ClassifyError("automation.rules.update", err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrRuleNotFound
		return Rule{}, err
	}

	if params.AppliesToStates != nil {
		if _, err = tx.Exec(ctx, `DELETE FROM follow_up_rule_states WHERE rule_id = $1`, id); err != nil {
			return Rule{}, db.ClassifyError("automation.rules.update", err)
		}
		if err = insertRuleStates(ctx, tx, id, params.AppliesToStates); err != nil {
			return Rule{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return Rule{}, db.ClassifyError("automation.rules.update", err)
	}

	return r.GetRule(ctx, id)
}

func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM follow_up_rules WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError("automation.rules.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func insertRuleStates(ctx context.Context, tx pgx.Tx, ruleID uuid.UUID, states []string) error {
	for _, state := range states {
		if _, err := tx.Exec(ctx, `
			INSERT INTO follow_up_rule_states (rule_id, state) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ruleID, state); err != nil {
			return db.ClassifyError("automation.rules.states", err)
		}
	}
	return nil
}
