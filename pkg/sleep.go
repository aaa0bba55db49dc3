package pkg

import (
	"context"
	"time"
)

// SleepWithContext waits for d or returns early with ctx.Err().
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
