package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ScheduleRevocationSweep registers a job on c that drops revocation records
// whose tokens have already expired.
func ScheduleRevocationSweep(c *cron.Cron, spec string, purger Purger, lgr *slog.Logger) (cron.EntryID, error) {
	const op = "service.ScheduleRevocationSweep"

	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		SweepRevokedTokens(ctx, purger, lgr, time.Now())
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// SweepRevokedTokens runs one purge. Failures are logged and swallowed; an
// unpurged record only names a token the expiry check already rejects.
func SweepRevokedTokens(ctx context.Context, purger Purger, lgr *slog.Logger, now time.Time) {
	const op = "service.SweepRevokedTokens"

	log := lgr.With(slog.String("op", op))

	n, err := purger.PurgeExpired(ctx, now)
	if err != nil {
		log.Error("failed to purge expired revoked tokens", slog.Any("error", err))

		return
	}

	log.Info("purged expired revoked tokens", slog.Int64("count", n))
}
