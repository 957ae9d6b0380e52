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

var (
	ErrNotFound = errors.New("lead not found")
	// ErrFrozen is returned when a write targets a converted lead.
	ErrFrozen = errors.New("lead is converted and frozen")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID             uuid.UUID
	Handle         string
	Notes          string
	State          string
	StateEnteredAt *time.Time
	ClientID       *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateLeadParams struct {
	Handle string
	Notes  string
	State  string
}

const leadColumns = `id, handle, notes, state, state_entered_at, client_id, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID,
		&lead.Handle,
		&lead.Notes,
		&lead.State,
		&lead.StateEnteredAt,
		&lead.ClientID,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	return lead, err
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (handle, notes, state, state_entered_at)
		VALUES ($1, $2, $3, now())
		RETURNING `+leadColumns+`
	`, params.Handle, params.Notes, params.State))
	if err != nil {
		return Lead{}, db.ClassifyError("leads.create", err)
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, db.ClassifyError("leads.get", err)
	}
	return lead, nil
}

type ListParams struct {
	State  string
	Limit  int
	Offset int
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]Lead, int, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads WHERE ($1 = '' OR state = $1)
	`, params.State).Scan(&total); err != nil {
		return nil, 0, db.ClassifyError("leads.list", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, params.State, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, db.ClassifyError("leads.list", err)
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, db.ClassifyError("leads.list", err)
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, 0, db.ClassifyError("leads.list", rows.Err())
	}

	return leads, total, nil
}

// UpdateState writes the new state and refreshes state_entered_at in a single
// statement so concurrent writers serialize on the row and the final
// (state, state_entered_at) pair always reflects exactly one write.
//
// Writing the current state back to itself is NOT a no-op: it refreshes
// state_entered_at and therefore re-arms follow-up scheduling for the lead.
// This is deliberate snooze/re-arm behavior; do not short-circuit same-state
// writes.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, newState string) (Lead, string, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	var (
		lead      Lead
		fromState string
	)
	err := r.pool.QueryRow(ctx, `
		UPDATE leads SET state = $2, state_entered_at = now(), updated_at = now()
		FROM (SELECT id AS prev_id, state AS prev_state FROM leads WHERE id = $1 FOR UPDATE) prev
		WHERE leads.id = prev.prev_id AND leads.client_id IS NULL
		RETURNING leads.id, leads.handle, leads.notes, leads.state, leads.state_entered_at,
			leads.client_id, leads.created_at, leads.updated_at, prev.prev_state
	`, id, newState).Scan(
		&lead.ID,
		&lead.Handle,
		&lead.Notes,
		&lead.State,
		&lead.StateEnteredAt,
		&lead.ClientID,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&fromState,
	)
	if err == nil {
		return lead, fromState, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, "", db.ClassifyError("leads.update_state", err)
	}

	// No row updated: the lead is either absent or frozen by conversion.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return Lead{}, "", getErr
	}
	if current.ClientID != nil {
		return Lead{}, "", ErrFrozen
	}
	return Lead{}, "", db.ClassifyError("leads.update_state", err)
}

// UpdateNotes replaces the lead's notes.
func (r *Repository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (Lead, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET notes = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns+`
	`, id, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, db.ClassifyError("leads.update_notes", err)
	}
	return lead, nil
}

// Delete removes a lead together with its dispatch history and timeline in
// one transaction so no ledger rows are left referencing a missing lead.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.ClassifyError("leads.delete", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM dispatch_ledger WHERE lead_id = $1`, id); err != nil {
		return db.ClassifyError("leads.delete", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM lead_timeline WHERE lead_id = $1`, id); err != nil {
		return db.ClassifyError("leads.delete", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError("leads.delete", err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return db.ClassifyError("leads.delete", err)
	}
	return nil
}
