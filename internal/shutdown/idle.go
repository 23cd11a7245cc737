// Package shutdown stops an idle ledgerd so the platform can scale it to zero.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IdleConfig configures an IdleMonitor.
type IdleConfig struct {
	// Timeout of 0 disables the monitor.
	Timeout time.Duration
	// Requests under these prefixes are not activity (probes, scrapes).
	ExcludePaths []string
	// Busy reports background work, such as webhook deliveries.
	Busy func() bool
	// CheckInterval defaults to Timeout/6, clamped to [5s, 30s].
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// IdleMonitor closes Done once no request or background work has been seen
// for the configured timeout.
type IdleMonitor struct {
	cfg    IdleConfig
	active atomic.Int64

	mu   sync.Mutex
	last time.Time

	done chan struct{}
}

// NewIdleMonitor creates a monitor. Call Run to start it.
func NewIdleMonitor(cfg IdleConfig) *IdleMonitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = min(max(cfg.Timeout/6, 5*time.Second), 30*time.Second)
	}
	return &IdleMonitor{
		cfg:  cfg,
		last: time.Now(),
		done: make(chan struct{}),
	}
}

// Enabled reports whether a timeout is configured.
func (m *IdleMonitor) Enabled() bool { return m.cfg.Timeout > 0 }

// Done is closed when the idle timeout is reached. It never closes for a
// disabled monitor.
func (m *IdleMonitor) Done() <-chan struct{} { return m.done }

// Middleware counts requests outside the excluded paths as activity.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.cfg.ExcludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// Run blocks until ctx is cancelled or the monitor goes idle.
func (m *IdleMonitor) Run(ctx context.Context) {
	if !m.Enabled() {
		return
	}

	m.cfg.Logger.Info("idle monitoring started", "timeout", m.cfg.Timeout, "exclude_paths", m.cfg.ExcludePaths)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			busy := m.active.Load() > 0 || (m.cfg.Busy != nil && m.cfg.Busy())
			if busy {
				// Full grace period after the work ends.
				m.touch()
				continue
			}

			m.mu.Lock()
			idle := time.Since(m.last)
			m.mu.Unlock()

			if idle >= m.cfg.Timeout {
				m.cfg.Logger.Info("idle timeout reached, shutting down", "idle_time", idle)
				close(m.done)
				return
			}
		}
	}
}
