package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	serveFlags := &ServeFlags{}
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}
	restartFlags := &StopFlags{}
	resetFlags := &StopFlags{}
	rconFlags := &RconFlags{}
	statsFlags := &APIFlags{}
	shutdownFlags := &APIFlags{}
	heartbeatFlags := &StopFlags{}

	hostdCommand := command{}

	root := createRootCommand()
	root.AddCommand(
		createServeCommand(hostdCommand, serveFlags),
		createStartCommand(hostdCommand, startFlags),
		createStatusCommand(hostdCommand, statusFlags),
		createStopCommand(hostdCommand, stopFlags),
		createRestartCommand(hostdCommand, restartFlags),
		createResetRestartsCommand(hostdCommand, resetFlags),
		createRconCommand(hostdCommand, rconFlags),
		createStatsCommand(hostdCommand, statsFlags),
		createShutdownCommand(hostdCommand, shutdownFlags),
		createHeartbeatCommand(hostdCommand, heartbeatFlags),
	)
	return root
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hostd",
		Short: "Game-server and compute-worker supervision daemon",
		Long: `hostd supervises game servers and compute workers: port reservation,
JVM flag assembly, crash detection with bounded restarts, RCON access,
and coordinated graceful shutdown.

Examples:
  hostd serve --config=hostd.toml
  hostd start --name=lobby --exec=/usr/bin/java --heap-gb=8 --java-profile=g1gc-balanced --args=-jar,server.jar
  hostd status --name=lobby
  hostd rcon --name=lobby --command="save-all"`,
	}
}

func addAPIFlags(cmd *cobra.Command, url *string, timeout *time.Duration) {
	cmd.Flags().StringVar(url, "api-url", "", "daemon URL (default http://localhost:8555)")
	cmd.Flags().DurationVar(timeout, "api-timeout", 10*time.Second, "request timeout")
}

func createServeCommand(c command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(*f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to TOML config file (required)")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func createStartCommand(c command, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "game-server or compute-worker")
	cmd.Flags().StringVar(&f.Exec, "exec", "", "executable path (required)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory (absolute)")
	cmd.Flags().StringSliceVar(&f.Args, "args", nil, "positional arguments")
	cmd.Flags().StringSliceVar(&f.EnvKVs, "env", nil, "extra K=V environment entries")
	cmd.Flags().UintSliceVar(&f.Ports, "ports", nil, "ports to reserve before spawning")
	cmd.Flags().IntVar(&f.HeapGB, "heap-gb", 0, "JVM heap size in GiB (emits -Xmx<n>G)")
	cmd.Flags().StringVar(&f.JavaProfile, "java-profile", "", "named JVM flag profile")
	cmd.Flags().StringSliceVar(&f.ExtraFlags, "extra-flags", nil, "extra JVM flags")
	cmd.Flags().StringVar(&f.StopCommand, "stop-command", "", "in-band stop line written to stdin")
	cmd.Flags().DurationVar(&f.StopTimeout, "stop-timeout", 0, "graceful stop window")
	cmd.Flags().BoolVar(&f.AutoRestart, "auto-restart", false, "restart automatically after a crash")
	cmd.Flags().IntVar(&f.MaxRestarts, "max-restarts", 0, "restart cap before giving up")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("exec"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(c command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of one process, or all when --name is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createStopCommand(c command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "graceful wait; zero uses the spec's stop timeout")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createRestartCommand(c command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createResetRestartsCommand(c command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-restarts",
		Short: "Clear a capped process's restart counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ResetRestarts(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createRconCommand(c command, f *RconFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rcon",
		Short: "Run a remote-console command against a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Rcon(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&f.Command, "command", "", "console command (required)")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatsCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fleet summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stats(*f)
		},
	}
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createShutdownCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to begin graceful shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Shutdown(*f)
		},
	}
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createHeartbeatCommand(c command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Report liveness for a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Heartbeat(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}
