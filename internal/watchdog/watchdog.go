// Package watchdog detects hung processes by watching heartbeats and emits
// crash events for consumers to act on. It never restarts anything itself.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotRegistered is returned by Heartbeat for an unknown process.
var ErrNotRegistered = errors.New("watchdog: process not registered")

// Defaults for a zero Config.
const (
	DefaultCheckInterval   = time.Second
	DefaultHangThreshold   = 5 * time.Second
	DefaultRestartCooldown = 30 * time.Second
)

type Config struct {
	CheckInterval   time.Duration `json:"check_interval" mapstructure:"check_interval"`
	HangThreshold   time.Duration `json:"hang_threshold" mapstructure:"hang_threshold"`
	RestartCooldown time.Duration `json:"restart_cooldown" mapstructure:"restart_cooldown"`
}

func (c *Config) normalize() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.HangThreshold <= 0 {
		c.HangThreshold = DefaultHangThreshold
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = DefaultRestartCooldown
	}
}

// Event reports one hang episode for one process.
type Event struct {
	ProcessID uuid.UUID
	SilentFor time.Duration
	At        time.Time
}

type record struct {
	lastBeat  time.Time
	flagged   bool
	flaggedAt time.Time
}

// Watchdog tracks heartbeats for registered processes. A record that stays
// silent past HangThreshold produces one Event per episode; the episode ends
// on a fresh heartbeat or re-registration. While an episode is flagged a new
// event is only emitted again after RestartCooldown of continued silence.
type Watchdog struct {
	mu      sync.Mutex
	cfg     Config
	records map[uuid.UUID]*record
	events  chan Event
	now     func() time.Time
}

func New(cfg Config) *Watchdog {
	cfg.normalize()
	return &Watchdog{
		cfg:     cfg,
		records: make(map[uuid.UUID]*record),
		events:  make(chan Event, 16),
		now:     time.Now,
	}
}

// Events is the crash-event stream. Consumers subscribe once and drain it;
// events are dropped (with a warning) if nobody keeps up.
func (w *Watchdog) Events() <-chan Event { return w.events }

// Register starts tracking a process. Registering an already tracked id
// resets its episode and heartbeat.
func (w *Watchdog) Register(id uuid.UUID) {
	w.mu.Lock()
	w.records[id] = &record{lastBeat: w.now()}
	w.mu.Unlock()
}

// Unregister stops tracking a process. Idempotent.
func (w *Watchdog) Unregister(id uuid.UUID) {
	w.mu.Lock()
	delete(w.records, id)
	w.mu.Unlock()
}

// Heartbeat records liveness for a process and ends any flagged episode.
func (w *Watchdog) Heartbeat(id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[id]
	if !ok {
		return ErrNotRegistered
	}
	rec.lastBeat = w.now()
	rec.flagged = false
	return nil
}

// Registered reports whether the id is currently tracked.
func (w *Watchdog) Registered(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.records[id]
	return ok
}

// Size returns the number of tracked processes.
func (w *Watchdog) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// Run drives the poll loop until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep flags records silent past the threshold and emits events.
func (w *Watchdog) sweep() {
	now := w.now()
	var out []Event

	w.mu.Lock()
	for id, rec := range w.records {
		silent := now.Sub(rec.lastBeat)
		if silent <= w.cfg.HangThreshold {
			continue
		}
		if rec.flagged && now.Sub(rec.flaggedAt) < w.cfg.RestartCooldown {
			continue
		}
		rec.flagged = true
		rec.flaggedAt = now
		out = append(out, Event{ProcessID: id, SilentFor: silent, At: now})
	}
	w.mu.Unlock()

	for _, ev := range out {
		select {
		case w.events <- ev:
		default:
			slog.Warn("watchdog event dropped, consumer not draining", "process_id", ev.ProcessID)
		}
	}
}
