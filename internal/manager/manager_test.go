//go:build !windows

package manager

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/history"
	"github.com/loykin/hostd/internal/portreg"
	"github.com/loykin/hostd/internal/process"
)

func shSpec(name, script string) process.Spec {
	return process.Spec{
		Name:        name,
		Exec:        "/bin/sh",
		Args:        []string{"-c", script},
		StopTimeout: 5 * time.Second,
	}
}

// noProbe skips OS-level port probing so tests can use arbitrary port numbers.
func noProbe(uint16) bool { return true }

func waitState(t *testing.T, m *Manager, id uuid.UUID, want process.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := m.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", st.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// fakeHeartbeats records watchdog register/unregister calls.
type fakeHeartbeats struct {
	mu         sync.Mutex
	registered map[uuid.UUID]bool
}

func newFakeHeartbeats() *fakeHeartbeats {
	return &fakeHeartbeats{registered: make(map[uuid.UUID]bool)}
}

func (f *fakeHeartbeats) Register(id uuid.UUID) {
	f.mu.Lock()
	f.registered[id] = true
	f.mu.Unlock()
}

func (f *fakeHeartbeats) Unregister(id uuid.UUID) {
	f.mu.Lock()
	delete(f.registered, id)
	f.mu.Unlock()
}

func (f *fakeHeartbeats) has(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[id]
}

// captureSink collects history events in memory.
type captureSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (c *captureSink) Send(_ context.Context, e history.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) types() []history.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]history.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestStartStopLifecycle(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	hb := newFakeHeartbeats()
	m.SetHeartbeats(hb)
	sink := &captureSink{}
	m.SetHistorySinks(sink)

	spec := shSpec("lobby", "read line; exit 0")
	spec.Ports = []uint16{35565, 35575}
	id, err := m.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, m, id, process.StateRunning)
	if !m.IsHealthy(id) {
		t.Fatalf("expected healthy after start")
	}
	if !hb.has(id) {
		t.Fatalf("not registered with heartbeats")
	}
	if owner, ok := m.Ports().Owner(35565); !ok || owner != id {
		t.Fatalf("port 35565 owner = %v %v", owner, ok)
	}

	if err := m.Stop(id, 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitState(t, m, id, process.StateStopped)
	if hb.has(id) {
		t.Fatalf("still registered after stop")
	}
	if _, ok := m.Ports().Owner(35565); ok {
		t.Fatalf("port still reserved after stop")
	}
	got := sink.types()
	if len(got) != 2 || got[0] != history.EventStart || got[1] != history.EventStop {
		t.Fatalf("events = %v", got)
	}
}

func TestStartPortConflict(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))

	a := shSpec("a", "sleep 60")
	a.Ports = []uint16{35600}
	idA, err := m.Start(a)
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	t.Cleanup(func() { m.KillAll() })

	b := shSpec("b", "sleep 60")
	b.Ports = []uint16{35600}
	if _, err := m.Start(b); err == nil {
		t.Fatalf("expected port conflict")
	} else {
		var ce *portreg.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("error type = %T (%v)", err, err)
		}
		if ce.Port != 35600 || ce.Owner != idA {
			t.Fatalf("conflict = %+v", ce)
		}
	}
	// the failed start must leave b Stopped, startable once the conflict clears
	idB, ok := m.Lookup("b")
	if !ok {
		t.Fatalf("b not registered")
	}
	if st, _ := m.Status(idB); st.State != process.StateStopped {
		t.Fatalf("b state = %s", st.State)
	}
}

func TestStartRealPortProbe(t *testing.T) {
	// occupy a real port so the system probe rejects it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	m := New(portreg.New())
	spec := shSpec("probe", "sleep 60")
	spec.Ports = []uint16{port}
	_, err = m.Start(spec)
	if err == nil {
		m.KillAll()
		t.Fatalf("expected unavailable-port error for %d", port)
	}
	var ue *portreg.UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("error type: %v", err)
	}
	if ue.Port != port {
		t.Fatalf("unavailable port = %d, want %d", ue.Port, port)
	}
}

func TestUnexpectedExitBecomesCrash(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	sink := &captureSink{}
	m.SetHistorySinks(sink)

	id, err := m.Start(shSpec("flaky", "exit 7"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, m, id, process.StateCrashed)
	if m.IsHealthy(id) {
		t.Fatalf("crashed process reported healthy")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		types := sink.types()
		if len(types) >= 2 && types[len(types)-1] == history.EventCrash {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events = %v, want trailing crash", types)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAutoRestartAfterCrash(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))

	spec := shSpec("phoenix", "sleep 60")
	spec.AutoRestart = true
	spec.MaxRestarts = 3
	spec.RestartDelay = 10 * time.Millisecond
	id, err := m.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.KillAll() })
	waitState(t, m, id, process.StateRunning)

	m.HandleCrash(id, "heartbeat silent for 6s")
	waitState(t, m, id, process.StateRunning)

	st, _ := m.Status(id)
	if st.Restarts != 1 {
		t.Fatalf("restarts = %d, want 1", st.Restarts)
	}
	_ = m.Stop(id, 2*time.Second)
}

func TestHandleCrashIdempotent(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	sink := &captureSink{}
	m.SetHistorySinks(sink)

	id, err := m.Start(shSpec("solid", "read line; exit 0"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(id, 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// stale crash reports for a stopped process must be no-ops
	m.HandleCrash(id, "stale report")
	m.HandleCrash(id, "stale report")
	if st, _ := m.Status(id); st.State != process.StateStopped {
		t.Fatalf("state = %s after stale crash reports", st.State)
	}
	for _, typ := range sink.types() {
		if typ == history.EventCrash {
			t.Fatalf("stale report produced a crash event")
		}
	}
}

func TestRestartCap(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))

	spec := shSpec("capped", "sleep 60")
	spec.MaxRestarts = 2
	spec.RestartDelay = 10 * time.Millisecond
	spec.StopTimeout = 200 * time.Millisecond // sleep ignores stdin, go straight to kill
	id, err := m.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.KillAll() })
	waitState(t, m, id, process.StateRunning)

	for i := 0; i < 2; i++ {
		if err := m.Restart(id); err != nil {
			t.Fatalf("restart %d: %v", i+1, err)
		}
		waitState(t, m, id, process.StateRunning)
	}

	err = m.Restart(id)
	var re *process.RestartError
	if !errors.As(err, &re) {
		t.Fatalf("expected RestartError at the cap, got %v", err)
	}

	if err := m.ResetRestarts(id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := m.Restart(id); err != nil {
		t.Fatalf("restart after reset: %v", err)
	}
	waitState(t, m, id, process.StateRunning)
	_ = m.Stop(id, 2*time.Second)
}

func TestStopUnknown(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	if err := m.Stop(uuid.New(), time.Second); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopAlreadyStoppedNoop(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	id, err := m.Start(shSpec("once", "read line; exit 0"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(id, 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(id, 5*time.Second); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}

func TestDrainingBlocksStarts(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	m.SetDraining(true)
	if _, err := m.Start(shSpec("late", "sleep 1")); !errors.Is(err, ErrDraining) {
		t.Fatalf("err = %v, want ErrDraining", err)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	if _, err := m.Start(shSpec("dup", "sleep 60")); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.KillAll() })
	if _, err := m.Start(shSpec("dup", "sleep 60")); err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestStopAllParallel(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	var ids []uuid.UUID
	for _, name := range []string{"w1", "w2", "w3"} {
		id, err := m.Start(shSpec(name, "read line; exit 0"))
		if err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitState(t, m, id, process.StateRunning)
	}

	start := time.Now()
	m.StopAll(5 * time.Second)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("StopAll took %v", elapsed)
	}
	for _, id := range ids {
		if st, _ := m.Status(id); st.State != process.StateStopped {
			t.Fatalf("process %s state = %s", id, st.State)
		}
	}
}

func TestRemoveRequiresTerminal(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	id, err := m.Start(shSpec("rm", "sleep 60"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, m, id, process.StateRunning)
	if err := m.Remove(id); err == nil {
		t.Fatalf("remove of running process must fail")
	}
	_ = m.Stop(id, 5*time.Second)
	if err := m.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Status(id); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("status after remove = %v", err)
	}
}

func TestStatsCounts(t *testing.T) {
	m := New(portreg.NewWithProbe(noProbe))
	idRun, err := m.Start(shSpec("runner", "sleep 60"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.KillAll() })
	idCrash, err := m.Start(shSpec("crasher", "exit 1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, m, idRun, process.StateRunning)
	waitState(t, m, idCrash, process.StateCrashed)

	s := m.Stats()
	if s.Total != 2 || s.Running != 1 || s.Crashed != 1 {
		t.Fatalf("stats = %+v", s)
	}
	_ = m.Stop(idRun, 2*time.Second)
}
