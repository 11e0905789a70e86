package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/hostd"
	"github.com/loykin/hostd/internal/process"
	"github.com/loykin/hostd/pkg/client"
)

// command carries the method-style handlers the cobra layer binds to.
type command struct{}

func newClient(apiURL string, timeout time.Duration) *client.Client {
	cfg := client.DefaultConfig()
	if apiURL != "" {
		cfg.BaseURL = apiURL
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return client.New(cfg)
}

func (c command) reach(apiURL string, timeout time.Duration) (*client.Client, context.Context, context.CancelFunc, error) {
	if timeout <= 0 {
		timeout = client.DefaultConfig().Timeout
	}
	cl := newClient(apiURL, timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if !cl.IsReachable(ctx) {
		cancel()
		return nil, nil, nil, fmt.Errorf("daemon not reachable - start it first with 'hostd serve'")
	}
	return cl, ctx, cancel, nil
}

// Serve runs the daemon in the foreground until a signal or API shutdown.
func (c command) Serve(f ServeFlags) error {
	if f.ConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := hostd.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	d, err := hostd.NewDaemon(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func specFromFlags(f StartFlags) (process.Spec, error) {
	ports := make([]uint16, 0, len(f.Ports))
	for _, p := range f.Ports {
		if p == 0 || p > math.MaxUint16 {
			return process.Spec{}, fmt.Errorf("invalid port %d", p)
		}
		ports = append(ports, uint16(p))
	}
	return process.Spec{
		Name:        f.Name,
		Kind:        process.Kind(f.Kind),
		Exec:        f.Exec,
		WorkDir:     f.WorkDir,
		Env:         f.EnvKVs,
		HeapGB:      f.HeapGB,
		JavaProfile: f.JavaProfile,
		ExtraFlags:  f.ExtraFlags,
		Args:        f.Args,
		Ports:       ports,
		StopCommand: f.StopCommand,
		StopTimeout: f.StopTimeout,
		MaxRestarts: f.MaxRestarts,
		AutoRestart: f.AutoRestart,
	}, nil
}

func (c command) Start(f StartFlags) error {
	spec, err := specFromFlags(f)
	if err != nil {
		return err
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	id, err := cl.Start(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Printf("started %s (%s)\n", f.Name, id)
	return nil
}

func (c command) Status(f StatusFlags) error {
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	if f.Name == "" {
		sts, err := cl.Statuses(ctx)
		if err != nil {
			return err
		}
		printJSON(sts)
		return nil
	}
	st, err := cl.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Stop(f StopFlags) error {
	if f.Name == "" {
		return fmt.Errorf("process name is required")
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := cl.Stop(ctx, f.Name, f.Wait); err != nil {
		return err
	}
	st, err := cl.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Restart(f StopFlags) error {
	if f.Name == "" {
		return fmt.Errorf("process name is required")
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return cl.Restart(ctx, f.Name)
}

func (c command) ResetRestarts(f StopFlags) error {
	if f.Name == "" {
		return fmt.Errorf("process name is required")
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return cl.ResetRestarts(ctx, f.Name)
}

func (c command) Rcon(f RconFlags) error {
	if f.Name == "" || f.Command == "" {
		return fmt.Errorf("both --name and --command are required")
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	out, err := cl.Rcon(ctx, f.Name, f.Command)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (c command) Stats(f APIFlags) error {
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	stats, err := cl.Stats(ctx)
	if err != nil {
		return err
	}
	printJSON(stats)
	return nil
}

func (c command) Shutdown(f APIFlags) error {
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := cl.Shutdown(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "shutdown initiated")
	return nil
}

func (c command) Heartbeat(f StopFlags) error {
	if f.Name == "" {
		return fmt.Errorf("process name is required")
	}
	cl, ctx, cancel, err := c.reach(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return cl.Heartbeat(ctx, f.Name)
}
