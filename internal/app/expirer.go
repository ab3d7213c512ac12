package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type overdueExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// runExpirer marks overdue coupons expired every interval until ctx is
// done. Failures are logged and retried on the next tick.
func runExpirer(ctx context.Context, lg *zap.Logger, svc overdueExpirer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireOverdue(ctx)
			if err != nil {
				if ctx.Err() == nil {
					lg.Error("Expire overdue coupons", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				lg.Info("Expired overdue coupons", zap.Int64("count", n))
			}
		}
	}
}
