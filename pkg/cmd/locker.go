package cmd

import (
	"context"
	"log/slog"

	"github.com/fractal-assets/flowengine/pkg/locker"
)

// NewLocker returns a Redis locker when redisURL is set and an in-process one otherwise.
// nolint:ireturn
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (locker.Locker, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "No Redis configured, schedule ticks are locked in process")

		return locker.NewMemoryLocker(), nil
	}

	l, err := locker.NewRedisLocker(ctx, logger, redisURL)
	if err != nil {
		return nil, err
	}

	return l, nil
}
