package watchdog

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func newTestWatchdog(cfg Config) (*Watchdog, *fakeClock) {
	w := New(cfg)
	clk := newFakeClock()
	w.now = clk.now
	return w, clk
}

func TestHeartbeatUnknown(t *testing.T) {
	w, _ := newTestWatchdog(Config{})
	if err := w.Heartbeat(uuid.New()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	w, _ := newTestWatchdog(Config{})
	id := uuid.New()
	w.Register(id)
	w.Unregister(id)
	w.Unregister(id)
	if w.Registered(id) {
		t.Fatalf("still registered after unregister")
	}
}

func TestSilentProcessEmitsOneEventPerEpisode(t *testing.T) {
	w, clk := newTestWatchdog(Config{HangThreshold: 5 * time.Second, RestartCooldown: time.Hour})
	id := uuid.New()
	w.Register(id)

	clk.advance(4 * time.Second)
	w.sweep()
	select {
	case ev := <-w.Events():
		t.Fatalf("event before threshold: %+v", ev)
	default:
	}

	clk.advance(2 * time.Second) // 6s silent, past the 5s threshold
	w.sweep()
	select {
	case ev := <-w.Events():
		if ev.ProcessID != id {
			t.Fatalf("event for %s, want %s", ev.ProcessID, id)
		}
		if ev.SilentFor < 5*time.Second {
			t.Fatalf("SilentFor = %v", ev.SilentFor)
		}
	default:
		t.Fatalf("no event after threshold")
	}

	// still silent, same episode: no second event
	clk.advance(10 * time.Second)
	w.sweep()
	select {
	case ev := <-w.Events():
		t.Fatalf("duplicate event in one episode: %+v", ev)
	default:
	}
}

func TestHeartbeatResetsEpisode(t *testing.T) {
	w, clk := newTestWatchdog(Config{HangThreshold: 5 * time.Second, RestartCooldown: time.Hour})
	id := uuid.New()
	w.Register(id)

	clk.advance(6 * time.Second)
	w.sweep()
	<-w.Events()

	if err := w.Heartbeat(id); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	clk.advance(6 * time.Second)
	w.sweep()
	select {
	case <-w.Events():
		// new episode after the heartbeat reset is expected
	default:
		t.Fatalf("no event for the new episode")
	}
}

func TestReRegisterResetsEpisode(t *testing.T) {
	w, clk := newTestWatchdog(Config{HangThreshold: 5 * time.Second, RestartCooldown: time.Hour})
	id := uuid.New()
	w.Register(id)
	clk.advance(6 * time.Second)
	w.sweep()
	<-w.Events()

	w.Register(id) // restart path re-registers
	clk.advance(4 * time.Second)
	w.sweep()
	select {
	case ev := <-w.Events():
		t.Fatalf("event right after re-register: %+v", ev)
	default:
	}
}

func TestCooldownReDeclaresSustainedHang(t *testing.T) {
	w, clk := newTestWatchdog(Config{HangThreshold: 5 * time.Second, RestartCooldown: 30 * time.Second})
	id := uuid.New()
	w.Register(id)

	clk.advance(6 * time.Second)
	w.sweep()
	<-w.Events()

	clk.advance(10 * time.Second) // inside cooldown
	w.sweep()
	select {
	case <-w.Events():
		t.Fatalf("re-declared inside cooldown")
	default:
	}

	clk.advance(25 * time.Second) // past cooldown, still silent
	w.sweep()
	select {
	case <-w.Events():
	default:
		t.Fatalf("sustained hang not re-declared after cooldown")
	}
}

func TestOnlySilentProcessesFlagged(t *testing.T) {
	w, clk := newTestWatchdog(Config{HangThreshold: 5 * time.Second, RestartCooldown: time.Hour})
	quiet := uuid.New()
	chatty := uuid.New()
	w.Register(quiet)
	w.Register(chatty)

	for i := 0; i < 3; i++ {
		clk.advance(3 * time.Second)
		if err := w.Heartbeat(chatty); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
		w.sweep()
	}

	got := map[uuid.UUID]bool{}
	for {
		select {
		case ev := <-w.Events():
			got[ev.ProcessID] = true
			continue
		default:
		}
		break
	}
	if !got[quiet] {
		t.Fatalf("silent process never flagged")
	}
	if got[chatty] {
		t.Fatalf("heartbeating process flagged")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.normalize()
	if c.CheckInterval != DefaultCheckInterval || c.HangThreshold != DefaultHangThreshold || c.RestartCooldown != DefaultRestartCooldown {
		t.Fatalf("defaults = %+v", c)
	}
}
