package process

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeDefaults(t *testing.T) {
	s := Spec{Name: "alpha", Exec: "java"}
	s.Normalize()
	if s.ID == uuid.Nil {
		t.Fatalf("expected id to be assigned")
	}
	if s.Kind != KindGameServer {
		t.Fatalf("kind = %s, want %s", s.Kind, KindGameServer)
	}
	if s.StopCommand != DefaultStopCommand {
		t.Fatalf("stop command = %q", s.StopCommand)
	}
	if s.StopTimeout != DefaultStopTimeout || s.RestartDelay != DefaultRestartDelay || s.MaxRestarts != DefaultMaxRestarts {
		t.Fatalf("defaults not applied: %v %v %d", s.StopTimeout, s.RestartDelay, s.MaxRestarts)
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	id := uuid.New()
	s := Spec{
		ID:           id,
		Kind:         KindComputeWorker,
		StopCommand:  "quit",
		StopTimeout:  5 * time.Second,
		RestartDelay: time.Second,
		MaxRestarts:  9,
	}
	s.Normalize()
	if s.ID != id || s.Kind != KindComputeWorker || s.StopCommand != "quit" {
		t.Fatalf("explicit values overwritten: %+v", s)
	}
	if s.StopTimeout != 5*time.Second || s.RestartDelay != time.Second || s.MaxRestarts != 9 {
		t.Fatalf("explicit timings overwritten: %+v", s)
	}
}

func TestNormalizeRconHostDefault(t *testing.T) {
	s := Spec{Rcon: RconSpec{Port: 25575, Password: "pw"}}
	s.Normalize()
	if s.Rcon.Host != "127.0.0.1" {
		t.Fatalf("rcon host = %q", s.Rcon.Host)
	}
	if !s.Rcon.Enabled() {
		t.Fatalf("rcon should be enabled")
	}
}

func TestBuildArgsOrdering(t *testing.T) {
	s := Spec{
		HeapGB:      4,
		JavaProfile: "g1gc-balanced",
		ExtraFlags:  []string{"-Dfile.encoding=UTF-8"},
		Args:        []string{"-jar", "server.jar", "nogui"},
	}
	got := s.BuildArgs()
	if got[0] != "-Xmx4G" {
		t.Fatalf("first arg = %q, want heap flag", got[0])
	}
	profile, _ := ResolveJavaProfile("g1gc-balanced")
	if !reflect.DeepEqual(got[1:1+len(profile)], profile) {
		t.Fatalf("profile flags missing or reordered: %v", got)
	}
	tail := got[1+len(profile):]
	want := []string{"-Dfile.encoding=UTF-8", "-jar", "server.jar", "nogui"}
	if !reflect.DeepEqual(tail, want) {
		t.Fatalf("tail = %v, want %v", tail, want)
	}
}

func TestBuildArgsUnknownProfile(t *testing.T) {
	s := Spec{JavaProfile: "does-not-exist", Args: []string{"run"}}
	got := s.BuildArgs()
	if !reflect.DeepEqual(got, []string{"run"}) {
		t.Fatalf("unknown profile must contribute nothing, got %v", got)
	}
}

func TestRegisterJavaProfile(t *testing.T) {
	RegisterJavaProfile("custom-test", []string{"-XX:+UseZGC"})
	flags, ok := ResolveJavaProfile("custom-test")
	if !ok || len(flags) != 1 || flags[0] != "-XX:+UseZGC" {
		t.Fatalf("custom profile not registered: %v %v", flags, ok)
	}
	// returned slice is a copy
	flags[0] = "mutated"
	again, _ := ResolveJavaProfile("custom-test")
	if again[0] != "-XX:+UseZGC" {
		t.Fatalf("ResolveJavaProfile must return a copy")
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateStopped, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateStopped, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateCrashed, true},
		{StateStopping, StateStopped, true},
		{StateCrashed, StateStarting, true},
		{StateCrashed, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateStopped, false},
		{StateStopping, StateRunning, false},
		{StateStopped, StateStopped, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateStopped, StateCrashed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateStarting, StateRunning, StateStopping} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
