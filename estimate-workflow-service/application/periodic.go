package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPeriodically calls fn every interval until ctx is cancelled. Errors are
// logged and the loop keeps going.
func RunPeriodically(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("background job started", zap.String("job", name), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("background job stopped", zap.String("job", name))
			return
		case <-ticker.C:
			if _, err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("background job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
