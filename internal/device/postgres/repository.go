// Package postgres provides PostgreSQL storage for device registrations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/pagewatch/internal/device"
	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements device.Repository backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new device repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert registers a token, re-binding an existing one to the new
// responder and platform.
func (r *Repository) Upsert(ctx context.Context, reg *domain.DeviceRegistration) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO device_registrations (token, responder, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET responder = EXCLUDED.responder,
		    platform = EXCLUDED.platform,
		    registered_at = now()
		RETURNING registered_at
	`, reg.Token, reg.Responder, reg.Platform).Scan(&reg.RegisteredAt)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// Get returns a registration by token.
func (r *Repository) Get(ctx context.Context, token string) (*domain.DeviceRegistration, error) {
	reg := &domain.DeviceRegistration{}
	err := r.pool.QueryRow(ctx, `
		SELECT token, responder, platform, registered_at
		FROM device_registrations WHERE token = $1
	`, token).Scan(&reg.Token, &reg.Responder, &reg.Platform, &reg.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, device.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return reg, nil
}

// Delete removes a registration by token.
func (r *Repository) Delete(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM device_registrations WHERE token = $1
	`, token)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return device.ErrDeviceNotFound
	}
	return nil
}

// ListByResponder returns all devices registered by a responder.
func (r *Repository) ListByResponder(ctx context.Context, responder string) ([]*domain.DeviceRegistration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token, responder, platform, registered_at
		FROM device_registrations
		WHERE responder = $1
		ORDER BY registered_at
	`, responder)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var regs []*domain.DeviceRegistration
	for rows.Next() {
		reg := &domain.DeviceRegistration{}
		if err := rows.Scan(&reg.Token, &reg.Responder, &reg.Platform, &reg.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}
