package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Janitor periodically purges revocation records whose tokens can no longer
// be valid. Purging is an optimization; correctness never depends on it.
type Janitor struct {
	store     RevocationStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onPurge   func(removed int64)
}

// JanitorOption configures Janitor behavior.
type JanitorOption func(*Janitor)

// WithJanitorClock overrides the time source.
func WithJanitorClock(fn func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if fn != nil {
			j.now = fn
		}
	}
}

// WithJanitorLogger sets the logger.
func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithPurgeHook registers fn to receive the number of removed records per sweep.
func WithPurgeHook(fn func(removed int64)) JanitorOption {
	return func(j *Janitor) {
		j.onPurge = fn
	}
}

// NewJanitor constructs a Janitor. retention should be the maximum token lifetime.
func NewJanitor(store RevocationStore, retention, interval time.Duration, opts ...JanitorOption) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("auth: revocation store is required")
	}
	if retention <= 0 || interval <= 0 {
		return nil, errors.New("auth: janitor retention and interval must be positive")
	}
	j := &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Sweep runs a single purge pass.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	before := j.now().UTC().Add(-j.retention)
	removed, err := j.store.Purge(ctx, before)
	if err != nil {
		return 0, err
	}
	if j.onPurge != nil {
		j.onPurge(removed)
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				j.logger.ErrorContext(ctx, "revocation purge failed", "error", err)
				continue
			}
			if removed > 0 {
				j.logger.InfoContext(ctx, "revocation records purged", "removed", removed)
			}
		}
	}
}
