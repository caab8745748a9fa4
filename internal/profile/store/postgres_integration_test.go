//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ravegate/internal/profile"
	profilestore "ravegate/internal/profile/store"
	"ravegate/pkg/domain"
	"ravegate/pkg/platform/sentinel"
	"ravegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *profilestore.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.pg.Exec(s.T(), `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id    UUID PRIMARY KEY,
			phone      TEXT NOT NULL,
			full_name  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	s.store = profilestore.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.pg.Exec(s.T(), `TRUNCATE profiles`)
}

func (s *PostgresStoreSuite) seed(rec profile.Record) {
	_, err := s.pg.DB.Exec(
		`INSERT INTO profiles (user_id, phone, full_name, created_at) VALUES ($1, $2, $3, $4)`,
		rec.UserID.String(), rec.Phone, rec.FullName, rec.CreatedAt,
	)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestGetExisting() {
	ctx := context.Background()
	rec := profile.Record{
		UserID:    domain.NewUserID(),
		Phone:     "+905551234567",
		FullName:  "Ada Lovelace",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.seed(rec)

	got, err := s.store.Get(ctx, rec.UserID)
	s.Require().NoError(err)
	s.Equal(rec.UserID, got.UserID)
	s.Equal(rec.Phone, got.Phone)
	s.Equal(rec.FullName, got.FullName)
	s.WithinDuration(rec.CreatedAt, got.CreatedAt, time.Second)
}

func (s *PostgresStoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), domain.NewUserID())
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
