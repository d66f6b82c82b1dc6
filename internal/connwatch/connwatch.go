// Package connwatch monitors Home Assistant reachability for the MCP
// server and the bridge. Transport-level retry in httpkit covers
// sub-second dial blips; connwatch covers real outages: HA restarts,
// network partitions, and slow boots where HA comes up minutes after
// Samuel does.
//
// A Watcher probes in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition callbacks
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config configures a service watcher. Zero-value timing fields are
// replaced with defaults.
type Config struct {
	// Name identifies the service in logs and status output.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// OnReady is called when the service transitions to ready, including
	// the initial startup connection. Runs in its own goroutine. Optional.
	OnReady func()

	// OnDown is called when the service transitions from ready to
	// not-ready. Runs in its own goroutine. Optional.
	OnDown func(err error)

	// InitialDelay is the delay before the first startup retry (default 2s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default 60s).
	MaxDelay time.Duration

	// MaxRetries bounds startup probe attempts before falling back to
	// background polling (default 10).
	MaxRetries int

	// PollInterval is the background check interval (default 60s).
	PollInterval time.Duration

	// ProbeTimeout limits each individual probe call (default 10s).
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ServiceStatus is a point-in-time health snapshot, suitable for JSON
// serialization in health endpoints.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service's health in a background goroutine.
type Watcher struct {
	config Config
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Watch starts a watcher. It runs until ctx is cancelled or Stop is
// called. Panics if Name is empty or Probe is nil; those are wiring
// mistakes, not runtime conditions.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	cfg.applyDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current health snapshot.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config
	logger := cfg.Logger

	// Phase 1: startup probing with exponential backoff.
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		w.recordResult(err)

		if err == nil {
			w.ready.Store(true)
			logger.Info("service connected", "service", cfg.Name, "after_attempts", attempt)
			if cfg.OnReady != nil {
				go cfg.OnReady()
			}
			break
		}

		if attempt == cfg.MaxRetries {
			logger.Info("startup connection failed, entering background polling",
				"service", cfg.Name, "attempts", attempt, "error", err)
			break
		}

		logger.Debug("startup probe failed, retrying",
			"service", cfg.Name, "attempt", attempt, "next_delay", delay.String(), "error", err)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	// Phase 2: background polling with transition callbacks.
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			w.recordResult(err)
			wasReady := w.ready.Load()

			switch {
			case wasReady && err != nil:
				w.ready.Store(false)
				logger.Info("service became unreachable", "service", cfg.Name, "error", err)
				if cfg.OnDown != nil {
					go cfg.OnDown(err)
				}
			case !wasReady && err == nil:
				w.ready.Store(true)
				logger.Info("service recovered", "service", cfg.Name)
				if cfg.OnReady != nil {
					go cfg.OnReady()
				}
			case !wasReady && err != nil:
				logger.Debug("service still unreachable", "service", cfg.Name, "error", err)
			}
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
