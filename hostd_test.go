//go:build !windows

package hostd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/hostd/internal/process"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "hostd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewDaemonMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[log]
level = "error"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if d.Manager() == nil {
		t.Fatalf("manager not wired")
	}
}

func TestDaemonRunStopsProcessesOnTrigger(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "scratch")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := writeConfig(t, dir, `
[log]
level = "error"

[shutdown]
deadline = "10s"
temp_dirs = ["`+tmp+`"]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	id, err := d.Manager().Start(process.Spec{
		Name:        "facade-test",
		Exec:        "/bin/sh",
		Args:        []string{"-c", "read line; exit 0"},
		StopTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	d.Trigger()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("run did not complete after trigger")
	}

	st, err := d.Manager().Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != process.StateStopped {
		t.Fatalf("state after shutdown = %s", st.State)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("temp dir not cleaned: %v", err)
	}
}

func TestDaemonStartsConfiguredServers(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[log]
level = "error"

[[servers]]
name = "boot-me"
exec = "/bin/sh"
args = ["-c", "read line; exit 0"]
stop_timeout = "5s"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	var running bool
	for time.Now().Before(deadline) {
		for _, st := range d.Manager().Statuses() {
			if st.Name == "boot-me" && st.State == process.StateRunning {
				running = true
			}
		}
		if running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !running {
		t.Fatalf("configured server never reached running")
	}

	d.Trigger()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("run did not complete")
	}
}
