package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/formfill-cli/internal/store"
)

func newGuard(t *testing.T, limit int) *Guard {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewGuard(s, limit)
}

func TestGuardReserve(t *testing.T) {
	g := newGuard(t, 2)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, "user-1"))
	require.NoError(t, g.Reserve(ctx, "user-1"))

	err := g.Reserve(ctx, "user-1")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Other users are unaffected.
	assert.NoError(t, g.Reserve(ctx, "user-2"))
}

func TestGuardRemaining(t *testing.T) {
	g := newGuard(t, 3)
	ctx := context.Background()

	left, err := g.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, left)

	require.NoError(t, g.Reserve(ctx, "user-1"))
	left, err = g.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestGuardResetsAtMidnightUTC(t *testing.T) {
	g := newGuard(t, 1)
	ctx := context.Background()

	day := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	g.nowFunc = func() time.Time { return day }

	require.NoError(t, g.Reserve(ctx, "user-1"))
	assert.ErrorIs(t, g.Reserve(ctx, "user-1"), ErrQuotaExceeded)

	// The next UTC day starts a fresh counter.
	g.nowFunc = func() time.Time { return day.Add(2 * time.Hour) }
	assert.NoError(t, g.Reserve(ctx, "user-1"))
}

func TestGuardUnlimited(t *testing.T) {
	g := newGuard(t, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Reserve(ctx, "user-1"))
	}

	left, err := g.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, -1, left)
}
