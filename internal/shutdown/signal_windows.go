//go:build windows

package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals funnels SIGINT and SIGTERM into Trigger. The goroutine exits
// when ctx is cancelled.
func (c *Coordinator) HandleSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			slog.Info("signal received, shutting down", "signal", sig.String())
			c.Trigger()
		case <-ctx.Done():
		}
	}()
}
