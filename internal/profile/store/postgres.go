package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ravegate/internal/profile"
	"ravegate/pkg/domain"
	"ravegate/pkg/platform/sentinel"
)

// Postgres reads profile records from the profiles table. The registration
// service owns the schema; this store is read-only.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, id domain.UserID) (*profile.Record, error) {
	const query = `
		SELECT user_id, phone, full_name, created_at
		FROM profiles
		WHERE user_id = $1`

	var (
		rec   profile.Record
		rawID string
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).
		Scan(&rawID, &rec.Phone, &rec.FullName, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query profile %s: %w", id, err)
	}

	rec.UserID, err = domain.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("profile %s has invalid user_id: %w", id, err)
	}
	return &rec, nil
}
