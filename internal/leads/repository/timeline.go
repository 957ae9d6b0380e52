package repository

import (
	"context"
	"time"

	"pipeline_backend/platform/db"

	"github.com/google/uuid"
)

// TimelineEntry is one recorded state change for a lead.
type TimelineEntry struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	FromState *string
	ToState   string
	ActorID   *uuid.UUID
	CreatedAt time.Time
}

type AddTimelineEntryParams struct {
	LeadID    uuid.UUID
	FromState *string
	ToState   string
	ActorID   *uuid.UUID
}

func (r *Repository) AddTimelineEntry(ctx context.Context, params AddTimelineEntryParams) error {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_timeline (lead_id, from_state, to_state, actor_id)
		VALUES ($1, $2, $3, $4)
	`, params.LeadID, params.FromState, params.ToState, params.ActorID)
	if err != nil {
		return db.ClassifyError("leads.timeline.add", err)
	}
	return nil
}

func (r *Repository) ListTimeline(ctx context.Context, leadID uuid.UUID) ([]TimelineEntry, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, from_state, to_state, actor_id, created_at
		FROM lead_timeline
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, db.ClassifyError("leads.timeline.list", err)
	}
	defer rows.Close()

	entries := make([]TimelineEntry, 0)
	for rows.Next() {
		var entry TimelineEntry
		if err := rows.Scan(&entry.ID, &entry.LeadID, &entry.FromState, &entry.ToState, &entry.ActorID, &entry.CreatedAt); err != nil {
			return nil, db.ClassifyError("leads.timeline.list", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, db.ClassifyError("leads.timeline.list", rows.Err())
	}

	return entries, nil
}
