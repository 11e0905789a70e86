// Package manager owns the lifecycle of all supervised processes: port
// reservation, spawning, graceful stop, crash handling, and restart policy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/env"
	"github.com/loykin/hostd/internal/history"
	"github.com/loykin/hostd/internal/metrics"
	"github.com/loykin/hostd/internal/portreg"
	"github.com/loykin/hostd/internal/process"
	"github.com/loykin/hostd/internal/rcon"
	"github.com/loykin/hostd/internal/store"
)

var (
	ErrUnknownProcess = errors.New("manager: unknown process")
	ErrDraining       = errors.New("manager: draining, no new starts")
)

// killGrace bounds the wait after a SIGKILL escalation.
const killGrace = 2 * time.Second

// HeartbeatRegistry is the watchdog surface the manager needs. Crash events
// flow back on a separate channel wired at the composition root.
type HeartbeatRegistry interface {
	Register(id uuid.UUID)
	Unregister(id uuid.UUID)
}

// entry pairs a process with the mutex serializing its lifecycle operations.
// Operations on different entries run fully in parallel.
type entry struct {
	mu   sync.Mutex
	proc *process.Process
}

// Manager starts, stops, and supervises processes.
type Manager struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]*entry
	byName   map[string]uuid.UUID
	ports    *portreg.Registry
	hb       HeartbeatRegistry
	st       store.Store
	sinks    []history.Sink
	envM     *env.Env
	draining bool
}

func New(ports *portreg.Registry) *Manager {
	if ports == nil {
		ports = portreg.New()
	}
	return &Manager{
		entries: make(map[uuid.UUID]*entry),
		byName:  make(map[string]uuid.UUID),
		ports:   ports,
		envM:    env.New(),
	}
}

// SetHeartbeats wires the watchdog registration surface.
func (m *Manager) SetHeartbeats(hb HeartbeatRegistry) {
	m.mu.Lock()
	m.hb = hb
	m.mu.Unlock()
}

// SetStore configures the persistence store and ensures its schema.
func (m *Manager) SetStore(s store.Store) error {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistorySinks configures external history sinks (ClickHouse etc.).
// Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetGlobalEnv records daemon-wide environment overrides in "K=V" form.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m.envM.Set(kv[:i], kv[i+1:])
				break
			}
		}
	}
}

// Ports exposes the registry for status surfaces and shutdown cleanup.
func (m *Manager) Ports() *portreg.Registry { return m.ports }

// SetDraining blocks or unblocks new starts; used during shutdown.
func (m *Manager) SetDraining(v bool) {
	m.mu.Lock()
	m.draining = v
	m.mu.Unlock()
}

// Start registers the spec (or updates an existing registration by ID) and
// launches the process: reserve ports, spawn, mark Running, register
// heartbeats, persist. A failed start rolls everything back to Stopped.
func (m *Manager) Start(spec process.Spec) (uuid.UUID, error) {
	spec.Normalize()

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return uuid.Nil, ErrDraining
	}
	e := m.entries[spec.ID]
	if e == nil {
		if other, ok := m.byName[spec.Name]; ok && other != spec.ID {
			m.mu.Unlock()
			return uuid.Nil, fmt.Errorf("manager: name %q already used by %s", spec.Name, other)
		}
		e = &entry{proc: process.New(spec)}
		m.entries[spec.ID] = e
		m.byName[spec.Name] = spec.ID
	} else {
		e.proc.UpdateSpec(spec)
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return spec.ID, m.startLocked(e)
}

// startLocked runs the start sequence with the entry lock held.
func (m *Manager) startLocked(e *entry) error {
	p := e.proc
	spec := p.Spec()

	if err := p.Transition(process.StateStarting); err != nil {
		return err
	}
	if len(spec.Ports) > 0 {
		if err := m.ports.Reserve(spec.ID, spec.Ports); err != nil {
			_ = p.Transition(process.StateStopped)
			return err
		}
	}

	id := spec.ID
	p.SetOnExit(func(exitErr error) { m.handleExit(id, exitErr) })

	m.mu.RLock()
	merged := m.envM.Merge(spec.Env)
	m.mu.RUnlock()

	if err := p.Spawn(merged); err != nil {
		m.ports.Release(spec.ID)
		_ = p.Transition(process.StateStopped)
		return err
	}
	_ = p.Transition(process.StateRunning)

	m.mu.RLock()
	hb := m.hb
	m.mu.RUnlock()
	if hb != nil {
		hb.Register(spec.ID)
	}

	metrics.IncStart(spec.Name, string(spec.Kind))
	m.markState(spec.Name, process.StateRunning)
	metrics.SetPortsReserved(len(m.ports.Assignments()))
	m.record(p, history.EventStart, "")
	slog.Info("process started", "name", spec.Name, "id", spec.ID, "pid", p.PID(), "ports", spec.Ports)
	return nil
}

// Stop gracefully stops a running process, escalating to SIGKILL after wait.
// Ports are always released and heartbeats unregistered, even on kill.
func (m *Manager) Stop(id uuid.UUID, wait time.Duration) error {
	e := m.entry(id)
	if e == nil {
		return ErrUnknownProcess
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.stopLocked(e, wait)
}

func (m *Manager) stopLocked(e *entry, wait time.Duration) error {
	p := e.proc
	spec := p.Spec()
	if p.State().Terminal() {
		return nil // already stopped
	}
	if err := p.Transition(process.StateStopping); err != nil {
		return err
	}
	p.SetStopRequested(true)
	if wait <= 0 {
		wait = spec.StopTimeout
	}

	// Primary channel: the stop command over stdin. RCON `stop` is the
	// fallback when the pipe is already gone.
	if err := p.WriteStdin(spec.StopCommand); err != nil && spec.Rcon.Enabled() {
		c := rcon.New(spec.Rcon.Host, spec.Rcon.Port, spec.Rcon.Password)
		if _, rerr := c.Stop(); rerr != nil {
			slog.Debug("rcon stop fallback failed", "name", spec.Name, "err", rerr)
		}
	}

	killed := false
	if !p.WaitExit(wait) {
		slog.Warn("graceful stop timed out, killing process group", "name", spec.Name, "pid", p.PID())
		p.KillGroup()
		killed = true
		if !p.WaitExit(killGrace) {
			return &process.StopError{ID: spec.ID, Step: "kill", Err: errors.New("process survived SIGKILL")}
		}
	}

	_ = p.Transition(process.StateStopped)
	m.release(spec.ID)
	metrics.IncStop(spec.Name, string(spec.Kind))
	m.markState(spec.Name, process.StateStopped)
	detail := ""
	if killed {
		detail = "killed after stop timeout"
	}
	m.record(p, history.EventStop, detail)
	slog.Info("process stopped", "name", spec.Name, "id", spec.ID, "killed", killed)
	return nil
}

// Restart bumps the restart counter, stops the process if needed, waits the
// configured delay, and starts it again with the same spec. Beyond
// MaxRestarts the process stays down until ResetRestarts.
func (m *Manager) Restart(id uuid.UUID) error {
	e := m.entry(id)
	if e == nil {
		return ErrUnknownProcess
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.proc
	spec := p.Spec()
	if p.Restarts() >= spec.MaxRestarts {
		return &process.RestartError{ID: spec.ID, Attempts: p.Restarts(), Max: spec.MaxRestarts}
	}
	attempt := p.IncRestarts()

	if !p.State().Terminal() {
		if err := m.stopLocked(e, spec.StopTimeout); err != nil {
			return &process.RestartError{ID: spec.ID, Attempts: attempt, Max: spec.MaxRestarts, Err: err}
		}
	}

	metrics.IncRestart(spec.Name, string(spec.Kind))
	m.record(p, history.EventRestart, fmt.Sprintf("attempt %d/%d", attempt, spec.MaxRestarts))
	time.Sleep(spec.RestartDelay)

	if err := m.startLocked(e); err != nil {
		return &process.RestartError{ID: spec.ID, Attempts: attempt, Max: spec.MaxRestarts, Err: err}
	}
	slog.Info("process restarted", "name", spec.Name, "attempt", attempt, "max", spec.MaxRestarts)
	return nil
}

// HandleCrash marks a Running process as Crashed: kill whatever is left,
// release its ports, unregister heartbeats, persist, and kick off an
// auto-restart when the spec allows it. Observing an already non-Running
// process is a no-op, which makes duplicate crash reports harmless.
func (m *Manager) HandleCrash(id uuid.UUID, detail string) {
	e := m.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	p := e.proc
	spec := p.Spec()
	if p.State() != process.StateRunning {
		e.mu.Unlock()
		return
	}
	_ = p.Transition(process.StateCrashed)
	if p.Alive() {
		p.KillGroup()
		_ = p.WaitExit(killGrace)
	}
	m.release(spec.ID)
	metrics.IncCrashDetected(spec.Name)
	m.markState(spec.Name, process.StateCrashed)
	m.record(p, history.EventCrash, detail)
	autoRestart := spec.AutoRestart && p.Restarts() < spec.MaxRestarts
	e.mu.Unlock()

	slog.Error("process crashed", "name", spec.Name, "id", spec.ID, "detail", detail)
	if autoRestart {
		go func() {
			if err := m.Restart(id); err != nil {
				slog.Error("auto restart failed", "name", spec.Name, "err", err)
			}
		}()
	}
}

// handleExit is the process exit callback. A requested stop is finalized by
// the stop path; anything else is a crash.
func (m *Manager) handleExit(id uuid.UUID, exitErr error) {
	e := m.entry(id)
	if e == nil {
		return
	}
	if e.proc.StopRequested() {
		return
	}
	detail := "exited unexpectedly"
	if exitErr != nil {
		detail = exitErr.Error()
	}
	m.HandleCrash(id, detail)
}

// IsHealthy reports whether the process is Running with a live PID.
func (m *Manager) IsHealthy(id uuid.UUID) bool {
	e := m.entry(id)
	if e == nil {
		return false
	}
	return e.proc.State() == process.StateRunning && e.proc.Alive()
}

// ResetRestarts clears the restart counter so a capped process can be
// restarted again.
func (m *Manager) ResetRestarts(id uuid.UUID) error {
	e := m.entry(id)
	if e == nil {
		return ErrUnknownProcess
	}
	e.proc.ResetRestarts()
	return nil
}

// Status returns the snapshot for one process.
func (m *Manager) Status(id uuid.UUID) (process.Status, error) {
	e := m.entry(id)
	if e == nil {
		return process.Status{}, ErrUnknownProcess
	}
	return e.proc.Snapshot(), nil
}

// Lookup resolves a process name to its ID.
func (m *Manager) Lookup(name string) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	return id, ok
}

// Statuses returns snapshots for all registered processes.
func (m *Manager) Statuses() []process.Status {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	out := make([]process.Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.proc.Snapshot())
	}
	return out
}

// Stats summarizes the fleet for the control API.
type Stats struct {
	Total     int              `json:"total"`
	Running   int              `json:"running"`
	Crashed   int              `json:"crashed"`
	Restarts  int              `json:"restarts"`
	Processes []process.Status `json:"processes"`
}

func (m *Manager) Stats() Stats {
	sts := m.Statuses()
	s := Stats{Total: len(sts), Processes: sts}
	for _, st := range sts {
		switch st.State {
		case process.StateRunning:
			s.Running++
		case process.StateCrashed:
			s.Crashed++
		}
		s.Restarts += st.Restarts
	}
	return s
}

// Spec returns the registered spec for a process.
func (m *Manager) Spec(id uuid.UUID) (process.Spec, error) {
	e := m.entry(id)
	if e == nil {
		return process.Spec{}, ErrUnknownProcess
	}
	return e.proc.Spec(), nil
}

// Rcon runs one command against the process's remote console.
func (m *Manager) Rcon(id uuid.UUID, command string) (string, error) {
	e := m.entry(id)
	if e == nil {
		return "", ErrUnknownProcess
	}
	spec := e.proc.Spec()
	if !spec.Rcon.Enabled() {
		return "", fmt.Errorf("manager: rcon not configured for %s", spec.Name)
	}
	c := rcon.New(spec.Rcon.Host, spec.Rcon.Port, spec.Rcon.Password)
	out, err := c.SendCommand(command)
	if err != nil {
		metrics.IncRconCommand("error")
		return "", err
	}
	metrics.IncRconCommand("ok")
	return out, nil
}

// Remove deletes a terminal process from the registry and the store.
func (m *Manager) Remove(id uuid.UUID) error {
	e := m.entry(id)
	if e == nil {
		return ErrUnknownProcess
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.proc.State().Terminal() {
		return fmt.Errorf("manager: %s still active, stop it first", e.proc.Spec().Name)
	}
	spec := e.proc.Spec()

	m.mu.Lock()
	delete(m.entries, id)
	delete(m.byName, spec.Name)
	st := m.st
	m.mu.Unlock()
	if st != nil {
		_ = st.Delete(context.Background(), id)
	}
	return nil
}

// StopAll stops every non-terminal process in parallel, each with its own
// stop timeout capped by wait. Used by the shutdown coordinator.
func (m *Manager) StopAll(wait time.Duration) {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := m.Stop(id, wait); err != nil {
				slog.Error("stop during shutdown failed", "id", id, "err", err)
			}
		}(id)
	}
	wg.Wait()
}

// KillAll force-kills whatever is still alive. Last resort on a blown
// shutdown deadline.
func (m *Manager) KillAll() {
	for _, e := range m.allEntries() {
		if e.proc.Alive() {
			e.proc.KillGroup()
		}
	}
}

func (m *Manager) entry(id uuid.UUID) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *Manager) allEntries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// release drops the process's port reservations and heartbeat registration.
func (m *Manager) release(id uuid.UUID) {
	m.ports.Release(id)
	metrics.SetPortsReserved(len(m.ports.Assignments()))
	m.mu.RLock()
	hb := m.hb
	m.mu.RUnlock()
	if hb != nil {
		hb.Unregister(id)
	}
}

// markState flips the per-state gauges so exactly one state reads 1.
func (m *Manager) markState(name string, active process.State) {
	for _, s := range []process.State{
		process.StateStopped, process.StateStarting, process.StateRunning,
		process.StateStopping, process.StateCrashed,
	} {
		metrics.SetCurrentState(name, string(s), s == active)
	}
}

// record persists the status row, appends a transition, and fans the event
// out to history sinks. All writes are best-effort.
func (m *Manager) record(p *process.Process, typ history.EventType, detail string) {
	m.mu.RLock()
	st := m.st
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.RUnlock()
	if st == nil && len(sinks) == 0 {
		return
	}

	snap := p.Snapshot()
	rec := store.Record{
		ProcessID: snap.ID,
		Name:      snap.Name,
		Kind:      string(snap.Kind),
		State:     string(snap.State),
		PID:       snap.PID,
		Ports:     snap.Ports,
		Restarts:  snap.Restarts,
		Detail:    detail,
	}
	if rec.Detail == "" {
		rec.Detail = snap.ExitErr
	}
	ctx := context.Background()
	if st != nil {
		_ = st.UpsertStatus(ctx, rec)
		_ = st.RecordTransition(ctx, rec)
	}
	if len(sinks) > 0 {
		evt := history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
		for _, s := range sinks {
			_ = s.Send(ctx, evt)
		}
	}
}
