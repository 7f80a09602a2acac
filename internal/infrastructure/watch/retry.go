package watch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pasarchat/pkg/errors"
	"pasarchat/pkg/logger"
)

type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds how long a listener keeps failing before the watch
	// gives up. Zero retries forever.
	MaxElapsed time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      15 * time.Minute,
	}
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return b
}

// Attempt runs one listener session. It calls healthy after each snapshot it
// delivers, and returns when the listener breaks or ctx is done.
type Attempt func(ctx context.Context, healthy func()) error

// Loop keeps a listener alive: sessions that fail with a transient store
// error are restarted after backoff, which makes the new session deliver a
// fresh full snapshot. Loop returns nil once ctx is done.
func Loop(ctx context.Context, policy Policy, name string, attempt Attempt) error {
	b := policy.newBackOff()
	for {
		err := attempt(ctx, b.Reset)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if !errors.IsTransient(err) {
			logger.Error("watch %s stopped: %v", name, err)
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			logger.Error("watch %s gave up after retries: %v", name, err)
			return err
		}
		logger.Warn("watch %s interrupted, resuming in %v: %v", name, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
