package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravegate/internal/profile"
	"ravegate/pkg/domain"
	"ravegate/pkg/platform/sentinel"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	id := domain.NewUserID()
	_, err := s.Get(ctx, id)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	rec := profile.Record{UserID: id, Phone: "+905551234567", FullName: "Ada", CreatedAt: time.Now()}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.FullName, got.FullName)

	// The returned record is a copy.
	got.FullName = "mutated"
	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.FullName)
}
