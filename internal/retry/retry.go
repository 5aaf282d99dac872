// Package retry re-runs short database transactions that lost a write race.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/store"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig suits sub-millisecond SQLite transactions contended by at
// most a handful of writers.
var DefaultConfig = Config{
	MaxAttempts: 5,
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// Do runs fn, retrying with exponential backoff while it returns
// store.ErrWriteConflict. All other errors, including
// store.ErrAssignmentConflict, return immediately: a lost precondition is
// not transient. The last conflict error is returned when the attempt
// budget runs out.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, store.ErrWriteConflict) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
