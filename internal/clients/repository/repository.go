// Package repository provides client persistence and the transactional
// conversion of a lead into a client.
package repository

import (
	"context"
	"errors"
	"time"

	leadsdomain "pipeline_backend/internal/leads/domain"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLeadNotFound     = errors.New("lead not found")
	ErrAlreadyConverted = errors.New("lead already converted")
	ErrNotEligible      = errors.New("lead state not conversion-eligible")
	ErrDuplicateEmail   = errors.New("client email already exists")
	ErrClientNotFound   = errors.New("client not found")
)

type Client struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	Name             string
	Email            string
	Phone            *string
	PasswordHash     string
	DeliveryProgress int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CreateClientParams struct {
	Name         string
	Email        string
	Phone        *string
	PasswordHash string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `id, lead_id, name, email, phone, password_hash, delivery_progress, created_at, updated_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(
		&c.ID, &c.LeadID, &c.Name, &c.Email, &c.Phone,
		&c.PasswordHash, &c.DeliveryProgress, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// ConvertLead creates a client from the given lead inside one transaction:
// lock the lead row, check eligibility, insert the client, then stamp the
// lead's client_id. The lead's state is left untouched so the pipeline
// position survives as history; the non-null client_id is what freezes it.
// Any failure, including a duplicate email, rolls the whole unit back.
// The second return value is the pipeline state the lead was frozen in.
func (r *Repository) ConvertLead(ctx context.Context, leadID uuid.UUID, params CreateClientParams) (Client, string, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Client{}, "", db.ClassifyError("clients.convert", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		state    string
		clientID *uuid.UUID
	)
	err = tx.QueryRow(ctx, `
		SELECT state, client_id FROM leads WHERE id = $1 FOR UPDATE
	`, leadID).Scan(&state, &clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrLeadNotFound
			return Client{}, "", err
		}
		return Client{}, "", db.ClassifyError("clients.convert", err)
	}

	// A converted lead fails here deterministically: conversion never
	// creates a second client for the same lead.
	if clientID != nil {
		err = ErrAlreadyConverted
		return Client{}, "", err
	}
	if !leadsdomain.IsConversionEligible(state) {
		err = ErrNotEligible
		return Client{}, "", err
	}

	client, err := scanClient(tx.QueryRow(ctx, `
		INSERT INTO clients (lead_id, name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+clientColumns+`
	`, leadID, params.Name, params.Email, params.Phone, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = ErrDuplicateEmail
			return Client{}, "", err
		}
		return Client{}, "", db.ClassifyError("clients.convert", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE leads SET client_id = $2, updated_at = now() WHERE id = $1
	`, leadID, client.ID); err != nil {
		return Client{}, "", db.ClassifyError("clients.convert", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Client{}, "", db.ClassifyError("clients.convert", err)
	}
	return client, state, nil
}

// GetByID returns a single client.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Client, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	client, err := scanClient(r.pool.QueryRow(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, db.ClassifyError("clients.get", err)
	}
	return client, nil
}

type ListParams struct {
	Limit  int
	Offset int
}

// List returns clients newest first, plus the total count for paging.
func (r *Repository) List(ctx context.Context, params ListParams) ([]Client, int, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM clients`).Scan(&total); err != nil {
		return nil, 0, db.ClassifyError("clients.list", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM clients
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, db.ClassifyError("clients.list", err)
	}
	defer rows.Close()

	clients := make([]Client, 0)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, 0, db.ClassifyError("clients.list", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.ClassifyError("clients.list", err)
	}
	return clients, total, nil
}

// UpdateDeliveryProgress sets the fulfillment percentage for a client.
func (r *Repository) UpdateDeliveryProgress(ctx context.Context, id uuid.UUID, progress int) (Client, error) {
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()

	client, err := scanClient(r.pool.QueryRow(ctx, `
		UPDATE clients SET delivery_progress = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+clientColumns+`
	`, id, progress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrClientNotFound
		}
		return Client{}, db.ClassifyError("clients.update_progress", err)
	}
	return client, nil
}
