// Package process holds the per-process spec, state machine, and the runtime
// record for one supervised OS process.
package process

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/logger"
)

// Kind distinguishes the two supervised process classes.
type Kind string

const (
	KindGameServer    Kind = "game-server"
	KindComputeWorker Kind = "compute-worker"
)

// DefaultStopCommand is the conventional in-band shutdown line written to a
// game server's stdin.
const DefaultStopCommand = "stop"

// RconSpec points at a process's remote console, used as the fallback
// graceful-stop channel and for operator commands. A zero Port disables it.
type RconSpec struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     uint16 `json:"port" mapstructure:"port"`
	Password string `json:"password" mapstructure:"password"`
}

func (r RconSpec) Enabled() bool { return r.Port != 0 }

// Spec describes one process to supervise.
type Spec struct {
	ID      uuid.UUID `json:"id" mapstructure:"id"`
	Name    string    `json:"name" mapstructure:"name"`
	Kind    Kind      `json:"kind" mapstructure:"kind"`
	Exec    string    `json:"exec" mapstructure:"exec"`         // executable path, e.g. "java" or "./gpu-worker"
	WorkDir string    `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env     []string  `json:"env" mapstructure:"env"`           // extra "K=V" entries

	// JVM-style surface; ignored for processes that take no such flags.
	HeapGB      int      `json:"heap_gb" mapstructure:"heap_gb"`
	JavaProfile string   `json:"java_profile" mapstructure:"java_profile"` // named GC-tuning profile
	ExtraFlags  []string `json:"extra_flags" mapstructure:"extra_flags"`
	Args        []string `json:"args" mapstructure:"args"` // trailing positional args

	Ports []uint16 `json:"ports" mapstructure:"ports"` // ports to reserve before spawning
	Rcon  RconSpec `json:"rcon" mapstructure:"rcon"`

	StopCommand  string        `json:"stop_command" mapstructure:"stop_command"`
	StopTimeout  time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	RestartDelay time.Duration `json:"restart_delay" mapstructure:"restart_delay"`
	MaxRestarts  int           `json:"max_restarts" mapstructure:"max_restarts"`
	AutoRestart  bool          `json:"auto_restart" mapstructure:"auto_restart"`

	PIDFile string        `json:"pid_file" mapstructure:"pid_file"`
	Log     logger.Config `json:"log" mapstructure:"log"`
}

// Defaults applied when the spec leaves them zero.
const (
	DefaultStopTimeout  = 30 * time.Second
	DefaultRestartDelay = 2 * time.Second
	DefaultMaxRestarts  = 3
)

// Normalize fills defaults and assigns an ID when missing.
func (s *Spec) Normalize() {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Kind == "" {
		s.Kind = KindGameServer
	}
	if s.StopCommand == "" {
		s.StopCommand = DefaultStopCommand
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.RestartDelay <= 0 {
		s.RestartDelay = DefaultRestartDelay
	}
	if s.MaxRestarts <= 0 {
		s.MaxRestarts = DefaultMaxRestarts
	}
	if s.Rcon.Enabled() && s.Rcon.Host == "" {
		s.Rcon.Host = "127.0.0.1"
	}
}

// BuildArgs assembles the command line after the executable: heap flag,
// profile flags, extra flags, then positional args. An unknown profile is
// non-fatal; it logs a warning and contributes nothing.
func (s *Spec) BuildArgs() []string {
	var args []string
	if s.HeapGB > 0 {
		args = append(args, heapFlag(s.HeapGB))
	}
	if s.JavaProfile != "" {
		flags, ok := ResolveJavaProfile(s.JavaProfile)
		if ok {
			args = append(args, flags...)
		} else {
			slog.Warn("unknown JVM flags profile", "profile", s.JavaProfile, "process", s.Name)
		}
	}
	args = append(args, s.ExtraFlags...)
	args = append(args, s.Args...)
	return args
}
