// Package hostd supervises game-server and compute-worker processes: port
// reservation, JVM command assembly, crash detection with bounded restarts,
// RCON access, and coordinated graceful shutdown.
package hostd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/config"
	"github.com/loykin/hostd/internal/history"
	chsink "github.com/loykin/hostd/internal/history/clickhouse"
	"github.com/loykin/hostd/internal/logger"
	"github.com/loykin/hostd/internal/manager"
	"github.com/loykin/hostd/internal/metrics"
	"github.com/loykin/hostd/internal/portreg"
	"github.com/loykin/hostd/internal/process"
	"github.com/loykin/hostd/internal/rcon"
	"github.com/loykin/hostd/internal/server"
	"github.com/loykin/hostd/internal/shutdown"
	"github.com/loykin/hostd/internal/store"
	storefactory "github.com/loykin/hostd/internal/store/factory"
	"github.com/loykin/hostd/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Kind = process.Kind

const (
	KindGameServer    = process.KindGameServer
	KindComputeWorker = process.KindComputeWorker
)

// LoadConfig reads the daemon TOML configuration.
func LoadConfig(path string) (*config.FileConfig, error) {
	return config.Load(path)
}

// RegisterMetricsDefault registers the Prometheus collectors with the
// default registry.
func RegisterMetricsDefault() error {
	return metrics.Register(prometheus.DefaultRegisterer)
}

// Daemon is the composition root: manager, watchdog, control API, and
// shutdown coordinator wired together from one config.
type Daemon struct {
	cfg     *config.FileConfig
	mgr     *manager.Manager
	wd      *watchdog.Watchdog
	coord   *shutdown.Coordinator
	st      store.Store
	httpSrv *http.Server

	stopWatchdog context.CancelFunc
}

// NewDaemon builds a daemon from configuration. Nothing runs until Run.
func NewDaemon(cfg *config.FileConfig) (*Daemon, error) {
	logger.Setup(cfg.Log.Level, cfg.Log.Color)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	cfg.RegisterJavaProfiles()

	mgr := manager.New(portreg.New())
	kvs, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("global env: %w", err)
	}
	mgr.SetGlobalEnv(kvs)

	d := &Daemon{cfg: cfg, mgr: mgr}

	if cfg.Store.DSN != "" {
		st, err := storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := mgr.SetStore(st); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("store schema: %w", err)
		}
		d.st = st
	}

	if sink, err := buildHistorySink(cfg.History.ClickHouse); err != nil {
		return nil, err
	} else if sink != nil {
		mgr.SetHistorySinks(sink)
	}

	d.wd = watchdog.New(cfg.Watchdog)
	mgr.SetHeartbeats(d.wd)

	shCfg := cfg.Shutdown
	if len(shCfg.TempDirs) == 0 {
		shCfg.TempDirs = shutdown.DefaultTempDirs()
	}
	d.coord = shutdown.New(shCfg, shutdown.Hooks{
		StopIntake: func() {
			mgr.SetDraining(true)
			if d.httpSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = d.httpSrv.Shutdown(shutdownCtx)
			}
		},
		StopWatchdog: func() {
			if d.stopWatchdog != nil {
				d.stopWatchdog()
			}
		},
		StopAll:      mgr.StopAll,
		ForceKillAll: mgr.KillAll,
		ReleasePorts: mgr.Ports().ReleaseAll,
	})
	return d, nil
}

func buildHistorySink(cc config.ClickHouseConfig) (history.Sink, error) {
	table := cc.Table
	if table == "" {
		table = "process_events"
	}
	switch {
	case cc.Addr != "":
		sink, err := chsink.New(cc.Addr, table)
		if err != nil {
			return nil, fmt.Errorf("clickhouse sink: %w", err)
		}
		if err := sink.EnsureTable(context.Background()); err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("clickhouse table: %w", err)
		}
		return sink, nil
	case cc.HTTPURL != "":
		return history.NewClickHouseHTTPSink(cc.HTTPURL, table), nil
	default:
		return nil, nil
	}
}

// Manager exposes the process manager for embedding and tests.
func (d *Daemon) Manager() *manager.Manager { return d.mgr }

// Trigger starts the shutdown sequence.
func (d *Daemon) Trigger() { d.coord.Trigger() }

// Run starts the configured processes, the watchdog, and the control API,
// then blocks until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	wdCtx, cancelWd := context.WithCancel(context.Background())
	d.stopWatchdog = cancelWd
	go d.wd.Run(wdCtx)
	go d.pumpCrashEvents(wdCtx)
	go d.probeLoop(wdCtx)

	specs, err := d.cfg.Specs()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if _, err := d.mgr.Start(spec); err != nil {
			slog.Error("configured process failed to start", "name", spec.Name, "err", err)
		}
	}

	if d.cfg.HTTP.Listen != "" {
		srv, router := server.NewServer(d.cfg.HTTP.Listen, "", d.mgr)
		router.SetShutdownFunc(d.coord.Trigger)
		router.SetHeartbeatFunc(d.Heartbeat)
		d.httpSrv = srv
		slog.Info("control api listening", "addr", d.cfg.HTTP.Listen)
	}

	d.coord.HandleSignals(ctx)
	d.coord.Run(ctx)

	if d.st != nil {
		_ = d.st.Close()
	}
	return nil
}

// Heartbeat forwards a liveness report to the watchdog.
func (d *Daemon) Heartbeat(id uuid.UUID) error {
	return d.wd.Heartbeat(id)
}

// pumpCrashEvents feeds watchdog hang episodes into the manager.
func (d *Daemon) pumpCrashEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.wd.Events():
			d.mgr.HandleCrash(ev.ProcessID, fmt.Sprintf("heartbeat silent for %s", ev.SilentFor.Round(time.Millisecond)))
		}
	}
}

// probeLoop generates heartbeats for processes that cannot push their own:
// game servers answer an RCON ping, everything else counts as live while the
// OS process runs. Workers that push via the control API simply refresh
// sooner.
func (d *Daemon) probeLoop(ctx context.Context) {
	interval := d.cfg.Watchdog.CheckInterval
	if interval <= 0 {
		interval = watchdog.DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range d.mgr.Statuses() {
				if st.State != process.StateRunning {
					continue
				}
				spec, err := d.mgr.Spec(st.ID)
				if err != nil {
					continue
				}
				if spec.Kind == process.KindGameServer && spec.Rcon.Enabled() {
					if rcon.New(spec.Rcon.Host, spec.Rcon.Port, spec.Rcon.Password).Ping() {
						_ = d.wd.Heartbeat(st.ID)
					}
					continue
				}
				if d.mgr.IsHealthy(st.ID) {
					_ = d.wd.Heartbeat(st.ID)
				}
			}
		}
	}
}
