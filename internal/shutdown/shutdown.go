// Package shutdown coordinates graceful daemon termination: drain intake,
// stop the watchdog, stop all processes in parallel, then force-kill
// stragglers when the deadline fires.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/hostd/internal/metrics"
)

// Phase is the coordinator's progress marker. Phases only move forward.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseDraining
	PhaseForcedTermination
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseDraining:
		return "draining"
	case PhaseForcedTermination:
		return "forced_termination"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// DefaultDeadline bounds the graceful window before force-kill.
const DefaultDeadline = 30 * time.Second

type Config struct {
	// Deadline is the overall graceful window. Zero means DefaultDeadline.
	Deadline time.Duration `json:"deadline" mapstructure:"deadline"`
	// StopWait is the per-process stop wait; zero lets each process use its
	// own stop timeout.
	StopWait time.Duration `json:"stop_wait" mapstructure:"stop_wait"`
	// TempDirs are removed once all processes are down.
	TempDirs []string `json:"temp_dirs" mapstructure:"temp_dirs"`
}

// DefaultTempDirs are the scratch locations cleaned on shutdown.
func DefaultTempDirs() []string {
	return []string{"data/temp", "data/backups/temp"}
}

// Hooks are the actions the coordinator drives, in order. Nil hooks are
// skipped.
type Hooks struct {
	StopIntake   func()
	StopWatchdog func()
	StopAll      func(wait time.Duration)
	ForceKillAll func()
	ReleasePorts func()
}

// Coordinator runs the shutdown sequence exactly once, no matter how many
// signals or Trigger calls arrive.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	hooks   Hooks
	phase   Phase
	trigger chan struct{}
	subs    []chan struct{}
}

func New(cfg Config, hooks Hooks) *Coordinator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Coordinator{
		cfg:     cfg,
		hooks:   hooks,
		trigger: make(chan struct{}),
	}
}

// Trigger starts the shutdown sequence. Idempotent; every call after the
// first is a no-op.
func (c *Coordinator) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.trigger:
		return
	default:
	}
	close(c.trigger)
	for _, sub := range c.subs {
		close(sub)
	}
	c.subs = nil
}

// Triggered reports whether shutdown has started.
func (c *Coordinator) Triggered() bool {
	select {
	case <-c.trigger:
		return true
	default:
		return false
	}
}

// Subscribe returns a channel closed when shutdown is triggered. A channel
// obtained after the trigger is already closed.
func (c *Coordinator) Subscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	select {
	case <-c.trigger:
		close(ch)
	default:
		c.subs = append(c.subs, ch)
	}
	return ch
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	metrics.SetShutdownPhase(int(p))
	slog.Info("shutdown phase", "phase", p.String())
}

// Run blocks until triggered (or ctx is cancelled, which also triggers),
// then drives the sequence: stop intake, stop watchdog, stop all processes
// within the deadline, force-kill leftovers, release ports, remove temp
// dirs. Returns when the sequence is complete.
func (c *Coordinator) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.Trigger()
	case <-c.trigger:
	}

	c.setPhase(PhaseDraining)
	if c.hooks.StopIntake != nil {
		c.hooks.StopIntake()
	}
	if c.hooks.StopWatchdog != nil {
		c.hooks.StopWatchdog()
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if c.hooks.StopAll != nil {
			c.hooks.StopAll(c.cfg.StopWait)
		}
	}()

	timer := time.NewTimer(c.cfg.Deadline)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		c.setPhase(PhaseForcedTermination)
		if c.hooks.ForceKillAll != nil {
			c.hooks.ForceKillAll()
		}
		// StopAll unblocks once its processes are gone
		<-stopped
	}

	if c.hooks.ReleasePorts != nil {
		c.hooks.ReleasePorts()
	}
	c.cleanTempDirs()
	c.setPhase(PhaseComplete)
}

func (c *Coordinator) cleanTempDirs() {
	for _, dir := range c.cfg.TempDirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("temp dir cleanup failed", "dir", dir, "err", err)
		}
	}
}
