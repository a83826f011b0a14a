// Package util holds small helpers shared across commands.
package util

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Retry runs fn up to attempts times, sleeping backoff between failures and
// logging each retried attempt. It returns the final attempt's error;
// cancellation between attempts stops early.
func Retry(ctx context.Context, attempts int, backoff time.Duration, log zerolog.Logger, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("operation failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("aborted after %d attempt(s): %w", attempt, ctx.Err())
		}
	}
	return err
}
