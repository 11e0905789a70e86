//go:build !windows

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/manager"
	"github.com/loykin/hostd/internal/portreg"
	"github.com/loykin/hostd/internal/process"
	"github.com/loykin/hostd/internal/server"
)

func newTestDaemon(t *testing.T) (*manager.Manager, *Client) {
	t.Helper()
	m := manager.New(portreg.NewWithProbe(func(uint16) bool { return true }))
	r := server.NewRouter(m, "")
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		m.KillAll()
		srv.Close()
	})
	return m, New(Config{BaseURL: srv.URL})
}

func TestClientLifecycle(t *testing.T) {
	_, c := newTestDaemon(t)
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatalf("daemon not reachable")
	}

	id, err := c.Start(ctx, process.Spec{
		Name:        "api-test",
		Exec:        "/bin/sh",
		Args:        []string{"-c", "read line; exit 0"},
		StopTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("no id assigned")
	}

	st, err := c.Status(ctx, "api-test")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ID != id || st.Name != "api-test" {
		t.Fatalf("status = %+v", st)
	}

	sts, err := c.Statuses(ctx)
	if err != nil || len(sts) != 1 {
		t.Fatalf("statuses = %v, %v", sts, err)
	}

	stats, err := c.Stats(ctx)
	if err != nil || stats.Total != 1 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}

	if err := c.Stop(ctx, "api-test", 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, err = c.Status(ctx, "api-test")
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if st.State != process.StateStopped {
		t.Fatalf("state = %s", st.State)
	}
}

func TestClientErrorsSurfaceDaemonMessage(t *testing.T) {
	_, c := newTestDaemon(t)
	ctx := context.Background()

	if err := c.Stop(ctx, "missing", 0); err == nil {
		t.Fatalf("expected error for unknown process")
	}
	if _, err := c.Start(ctx, process.Spec{}); err == nil {
		t.Fatalf("expected error for empty spec")
	}
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if c.IsReachable(ctx) {
		t.Fatalf("closed port reported reachable")
	}
}
