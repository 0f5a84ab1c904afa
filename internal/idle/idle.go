// Package idle locks the session after a period without user activity.
package idle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/veil/internal/visibility"
)

// DefaultInterval is how often the monitor checks for idleness.
const DefaultInterval = time.Second

// Target is the session the monitor locks.
type Target interface {
	Level() visibility.Level
	Settings() visibility.Settings
	SetLevel(level visibility.Level) error
}

// Monitor tracks the last user activity across all windows.
type Monitor struct {
	target Target
	logger *slog.Logger
	now    func() time.Time

	last atomic.Int64 // unix nanoseconds
}

// NewMonitor creates a monitor whose activity clock starts now.
func NewMonitor(target Target, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{target: target, logger: logger, now: time.Now}
	m.Touch()
	return m
}

// Touch records activity at the current time.
func (m *Monitor) Touch() {
	m.TouchAt(m.now())
}

// TouchAt records activity at t.
func (m *Monitor) TouchAt(t time.Time) {
	m.last.Store(t.UnixNano())
}

// LastActivity returns the time of the most recent activity.
func (m *Monitor) LastActivity() time.Time {
	return time.Unix(0, m.last.Load())
}

// Tick evaluates idleness at now and locks the session when the configured
// timeout has elapsed. It reports whether it changed the level.
func (m *Monitor) Tick(now time.Time) bool {
	settings := m.target.Settings()
	if !settings.IdleLockEnabled() {
		return false
	}
	if m.target.Level() == visibility.HideAll {
		return false
	}

	timeout := time.Duration(settings.BlurOnIdleTimeoutSeconds) * time.Second
	elapsed := now.Sub(m.LastActivity())
	if elapsed < timeout {
		return false
	}

	if err := m.target.SetLevel(visibility.HideAll); err != nil {
		m.logger.Warn("idle: lock failed", slog.String("error", err.Error()))
		return false
	}
	m.logger.Info("idle: session locked",
		slog.Duration("idle", elapsed),
		slog.Int("timeout_seconds", settings.BlurOnIdleTimeoutSeconds))
	return true
}

// Run ticks every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}
