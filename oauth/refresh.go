// Package oauth schedules background refreshes for stored OAuth tokens. It
// wakes on a jittered interval and refreshes when the remaining lifetime falls
// inside a window, so uploads and the chat bot rarely see an expired token.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// Store is the token persistence the refresher reads and writes.
type Store interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
}

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// RefreshOnce refreshes provider's token if it expires within window. It
// reports whether a refresh happened.
func RefreshOnce(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, scope, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" {
		return false, nil
	}
	if !exp.IsZero() && time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	return true, nil
}

// StartRefresher runs RefreshOnce for provider until ctx is cancelled.
// interval: how often to wake up and check (default 5m).
// window: refresh when remaining lifetime <= window (default 15m).
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	logger := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("provider", provider))
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshOnce(ctx, store, provider, window, fn)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				logger.Info("token refreshed")
			}

			// ±20% jitter per iteration.
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			next := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if next < interval/2 {
				next = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}
