package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/clip-tender/telemetry"
)

// DefaultHeartbeat is how often a throttle wait logs its remaining time.
const DefaultHeartbeat = 30 * time.Second

// Interval spreads maxPerRun uploads across a day: floor(24h/maxPerRun) in
// whole seconds. A non-positive cap disables throttling.
func Interval(maxPerRun int) time.Duration {
	if maxPerRun <= 0 {
		return 0
	}
	secs := int64(24*time.Hour/time.Second) / int64(maxPerRun)
	return time.Duration(secs) * time.Second
}

// Wait sleeps for d unless ctx is cancelled first, logging the remaining time
// every heartbeat. It returns ctx.Err() on cancellation and nil otherwise.
func Wait(ctx context.Context, d, heartbeat time.Duration, logger *slog.Logger) error {
	if d <= 0 {
		return ctx.Err()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	deadline := time.Now().Add(d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	tick := time.NewTicker(heartbeat)
	defer tick.Stop()
	defer telemetry.SetThrottleRemaining(0)

	logger.Info("throttling before next upload", slog.Duration("wait", d), slog.Time("resume_at", deadline))
	telemetry.SetThrottleRemaining(d)
	for {
		select {
		case <-ctx.Done():
			logger.Info("throttle wait interrupted", slog.Duration("remaining", time.Until(deadline).Round(time.Second)))
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick.C:
			left := time.Until(deadline)
			telemetry.SetThrottleRemaining(left)
			logger.Debug("throttle wait", slog.Duration("remaining", left.Round(time.Second)))
		}
	}
}
