// Package quota enforces per-user daily processing limits.
package quota

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/store"
)

// ErrQuotaExceeded is returned when a user has used up their daily allowance.
var ErrQuotaExceeded = eris.New("quota: daily limit exceeded")

// Guard meters document processing per user per UTC day. The count is
// reserved before work starts, so a crashed run still consumes quota.
type Guard struct {
	store   store.Store
	limit   int
	nowFunc func() time.Time
}

// NewGuard creates a Guard with the given daily limit. A limit of zero or
// less disables metering.
func NewGuard(s store.Store, limit int) *Guard {
	return &Guard{
		store:   s,
		limit:   limit,
		nowFunc: time.Now,
	}
}

// Reserve consumes one unit of the user's daily quota. Returns
// ErrQuotaExceeded when the limit is reached; the counter is untouched in
// that case, so concurrent reservations never overshoot.
func (g *Guard) Reserve(ctx context.Context, userID string) error {
	day := g.nowFunc().UTC().Format("2006-01-02")
	count, err := g.store.IncrementUsage(ctx, userID, day, g.limit)
	if err != nil {
		if eris.Is(err, store.ErrUsageExceeded) {
			zap.L().Warn("quota exceeded",
				zap.String("user_id", userID),
				zap.String("day", day),
				zap.Int("limit", g.limit))
			return ErrQuotaExceeded
		}
		return eris.Wrap(err, "quota: reserve")
	}

	zap.L().Debug("quota reserved",
		zap.String("user_id", userID),
		zap.String("day", day),
		zap.Int("count", count),
		zap.Int("limit", g.limit))
	return nil
}

// Remaining reports how many units the user has left today. Unlimited guards
// report -1.
func (g *Guard) Remaining(ctx context.Context, userID string) (int, error) {
	if g.limit <= 0 {
		return -1, nil
	}
	day := g.nowFunc().UTC().Format("2006-01-02")
	count, err := g.store.GetUsage(ctx, userID, day)
	if err != nil {
		return 0, eris.Wrap(err, "quota: remaining")
	}
	left := g.limit - count
	if left < 0 {
		left = 0
	}
	return left, nil
}
