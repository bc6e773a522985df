package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lookback/internal/domain"
)

// CycleRunner abstracts the pipeline engine for the coordinator.
type CycleRunner interface {
	RunCycle(ctx context.Context) domain.CycleResult
}

// Coordinator owns the single recording session: it drives the pipeline on a
// fixed interval and exposes thread-safe Start/Stop/CaptureNow/Status entry
// points. All cycle executions — scheduled or manual — are serialized through
// runMu, so no two cycles ever run concurrently.
type Coordinator struct {
	engine         CycleRunner
	bus            domain.EventBus
	settings       domain.SettingsSource
	captureTimeout time.Duration
	logger         *slog.Logger

	runMu sync.Mutex // serializes cycle execution

	mu     sync.Mutex // guards the session snapshot and channels below
	sess   domain.RecordingSession
	stopCh chan struct{} // closed by Stop; nil when idle
	done   chan struct{} // closed when the session loop has exited
	closed bool
}

// New creates a coordinator. captureTimeout bounds how long CaptureNow
// callers wait for a result.
func New(engine CycleRunner, bus domain.EventBus, settings domain.SettingsSource, captureTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if captureTimeout <= 0 {
		captureTimeout = 30 * time.Second
	}
	return &Coordinator{
		engine:         engine,
		bus:            bus,
		settings:       settings,
		captureTimeout: captureTimeout,
		logger:         logger,
		sess:           domain.RecordingSession{State: domain.SessionIdle},
	}
}

// Start transitions Idle -> Running and begins the session loop. An interval
// of zero falls back to the configured default. Returns ErrAlreadyRunning if
// a session exists (Running or Stopping).
func (c *Coordinator) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = c.settings.Current().Interval
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrShuttingDown
	}
	if c.sess.State != domain.SessionIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	c.stopCh = stopCh
	c.done = done
	c.sess = domain.RecordingSession{
		State:     domain.SessionRunning,
		Interval:  interval,
		StartedAt: time.Now(),
	}
	c.mu.Unlock()

	c.logger.Info("recording started", "interval", interval)
	c.bus.Publish(domain.NewEvent(domain.EventRecordingStarted, map[string]any{
		"interval": int(interval.Seconds()),
	}))

	go c.loop(interval, stopCh, done)
	return nil
}

// Stop signals cancellation and returns immediately. A sleeping session loop
// wakes at once; an in-flight cycle finishes naturally before the loop exits
// and the state returns to Idle. Returns ErrNotRunning when Idle; a second
// Stop during Stopping is a no-op.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.sess.State {
	case domain.SessionIdle:
		return domain.ErrNotRunning
	case domain.SessionStopping:
		return nil
	}

	c.sess.State = domain.SessionStopping
	close(c.stopCh)
	c.stopCh = nil
	c.logger.Info("recording stop requested")
	return nil
}

// CaptureNow runs exactly one cycle outside the schedule, serialized with any
// scheduled cycle through runMu. The caller waits at most the configured
// capture timeout; on timeout the cycle keeps running in the background (and
// its result is still stored), but ErrTimeout is returned.
func (c *Coordinator) CaptureNow(ctx context.Context) (domain.CycleResult, error) {
	reply := make(chan domain.CycleResult, 1)

	// Detach from the caller's deadline: an abandoned call must be allowed
	// to complete and store its result.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		reply <- c.runOne(runCtx)
	}()

	timer := time.NewTimer(c.captureTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res, nil
	case <-timer.C:
		c.logger.Warn("capture_now timed out", "timeout", c.captureTimeout)
		return domain.CycleResult{}, domain.ErrTimeout
	case <-ctx.Done():
		return domain.CycleResult{}, ctx.Err()
	}
}

// Status returns a snapshot of the recording session.
func (c *Coordinator) Status() domain.RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Shutdown attempts a graceful Stop and waits up to grace for the session
// loop to exit. A loop that fails to exit in time is logged and abandoned,
// never silently lost.
func (c *Coordinator) Shutdown(grace time.Duration) {
	c.mu.Lock()
	c.closed = true
	done := c.done
	running := c.sess.State == domain.SessionRunning
	c.mu.Unlock()

	if running {
		if err := c.Stop(); err != nil {
			c.logger.Warn("shutdown stop failed", "error", err)
		}
	}
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-time.After(grace):
		c.logger.Error("session loop did not exit within grace period, abandoning worker",
			"grace", grace)
	}
}

// loop is the worker: run a cycle, wait the interval unless stopped, repeat.
// The interval wait is the interruptible suspension point; a cycle, once
// started, always finishes.
func (c *Coordinator) loop(interval time.Duration, stopCh, done chan struct{}) {
	defer close(done)
	defer c.finishSession()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		res := c.runOne(context.Background())
		if res.Success {
			c.logger.Info("cycle completed", "description", res.Description)
		} else {
			c.logger.Error("cycle failed", "error", res.Error)
		}

		timer := time.NewTimer(interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOne executes a single cycle under runMu and publishes its result.
func (c *Coordinator) runOne(ctx context.Context) domain.CycleResult {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	res := c.engine.RunCycle(ctx)
	c.bus.Publish(domain.NewEvent(domain.EventCycleCompleted, res))
	return res
}

func (c *Coordinator) finishSession() {
	c.mu.Lock()
	c.sess = domain.RecordingSession{State: domain.SessionIdle}
	c.stopCh = nil
	c.mu.Unlock()

	c.logger.Info("recording stopped")
	c.bus.Publish(domain.NewEvent(domain.EventRecordingStopped, nil))
}
