// Package config loads the daemon's TOML configuration: global env, logging,
// control API, watchdog and shutdown tuning, persistence, history sinks,
// extra JVM profiles, and the supervised server/worker specs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/logger"
	"github.com/loykin/hostd/internal/process"
	"github.com/loykin/hostd/internal/shutdown"
	"github.com/loykin/hostd/internal/watchdog"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`

	Log      LogConfig       `toml:"log" mapstructure:"log"`
	HTTP     HTTPConfig      `toml:"http" mapstructure:"http"`
	Watchdog watchdog.Config `toml:"watchdog" mapstructure:"watchdog"`
	Shutdown shutdown.Config `toml:"shutdown" mapstructure:"shutdown"`
	Store    StoreConfig     `toml:"store" mapstructure:"store"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`

	// JavaProfiles adds or overrides named JVM flag profiles.
	JavaProfiles map[string][]string `toml:"java_profiles" mapstructure:"java_profiles"`

	Servers []ServerConfig `toml:"servers" mapstructure:"servers"`
}

// LogConfig covers both the daemon's own slog output (Level, Color) and the
// default rotating-file settings for process stdout/stderr.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HTTPConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryConfig struct {
	ClickHouse ClickHouseConfig `toml:"clickhouse" mapstructure:"clickhouse"`
}

type ClickHouseConfig struct {
	// Addr is a native-protocol host:port; HTTPURL selects the HTTP sink
	// instead. At most one should be set.
	Addr    string `toml:"addr" mapstructure:"addr"`
	HTTPURL string `toml:"http_url" mapstructure:"http_url"`
	Table   string `toml:"table" mapstructure:"table"`
}

// ServerConfig is one [[servers]] entry.
type ServerConfig struct {
	ID          string   `toml:"id" mapstructure:"id"`
	Name        string   `toml:"name" mapstructure:"name"`
	Kind        string   `toml:"kind" mapstructure:"kind"`
	Exec        string   `toml:"exec" mapstructure:"exec"`
	WorkDir     string   `toml:"workdir" mapstructure:"workdir"`
	Env         []string `toml:"env" mapstructure:"env"`
	HeapGB      int      `toml:"heap_gb" mapstructure:"heap_gb"`
	JavaProfile string   `toml:"java_profile" mapstructure:"java_profile"`
	ExtraFlags  []string `toml:"extra_flags" mapstructure:"extra_flags"`
	Args        []string `toml:"args" mapstructure:"args"`
	Ports       []uint16 `toml:"ports" mapstructure:"ports"`

	Rcon struct {
		Host     string `toml:"host" mapstructure:"host"`
		Port     uint16 `toml:"port" mapstructure:"port"`
		Password string `toml:"password" mapstructure:"password"`
	} `toml:"rcon" mapstructure:"rcon"`

	StopCommand  string        `toml:"stop_command" mapstructure:"stop_command"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	RestartDelay time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	MaxRestarts  int           `toml:"max_restarts" mapstructure:"max_restarts"`
	AutoRestart  bool          `toml:"autorestart" mapstructure:"autorestart"`

	PIDFile string     `toml:"pidfile" mapstructure:"pidfile"`
	Log     *LogConfig `toml:"log" mapstructure:"log"`
}

// Load reads and unmarshals the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// GlobalEnv merges env_files contents and the top-level env list, the list
// winning. Entries are "KEY=VALUE".
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// Specs converts the [[servers]] entries into process specs, applying the
// top-level log defaults with per-server overrides.
func (fc *FileConfig) Specs() ([]process.Spec, error) {
	out := make([]process.Spec, 0, len(fc.Servers))
	for _, sc := range fc.Servers {
		if sc.Name == "" {
			return nil, fmt.Errorf("server entry missing name")
		}
		if sc.Exec == "" {
			return nil, fmt.Errorf("server %s missing exec", sc.Name)
		}
		var id uuid.UUID
		if sc.ID != "" {
			parsed, err := uuid.Parse(sc.ID)
			if err != nil {
				return nil, fmt.Errorf("server %s: invalid id: %w", sc.Name, err)
			}
			id = parsed
		}

		logCfg := logger.Config{
			Dir:        fc.Log.Dir,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		}
		if sc.Log != nil {
			if sc.Log.Dir != "" {
				logCfg.Dir = sc.Log.Dir
			}
			if sc.Log.MaxSizeMB != 0 {
				logCfg.MaxSizeMB = sc.Log.MaxSizeMB
			}
			if sc.Log.MaxBackups != 0 {
				logCfg.MaxBackups = sc.Log.MaxBackups
			}
			if sc.Log.MaxAgeDays != 0 {
				logCfg.MaxAgeDays = sc.Log.MaxAgeDays
			}
			if sc.Log.Compress {
				logCfg.Compress = true
			}
		}

		s := process.Spec{
			ID:          id,
			Name:        sc.Name,
			Kind:        process.Kind(sc.Kind),
			Exec:        sc.Exec,
			WorkDir:     sc.WorkDir,
			Env:         sc.Env,
			HeapGB:      sc.HeapGB,
			JavaProfile: sc.JavaProfile,
			ExtraFlags:  sc.ExtraFlags,
			Args:        sc.Args,
			Ports:       sc.Ports,
			Rcon: process.RconSpec{
				Host:     sc.Rcon.Host,
				Port:     sc.Rcon.Port,
				Password: sc.Rcon.Password,
			},
			StopCommand:  sc.StopCommand,
			StopTimeout:  sc.StopTimeout,
			RestartDelay: sc.RestartDelay,
			MaxRestarts:  sc.MaxRestarts,
			AutoRestart:  sc.AutoRestart,
			PIDFile:      sc.PIDFile,
			Log:          logCfg,
		}
		s.Normalize()
		out = append(out, s)
	}
	return out, nil
}

// RegisterJavaProfiles installs the configured profile overrides.
func (fc *FileConfig) RegisterJavaProfiles() {
	for name, flags := range fc.JavaProfiles {
		process.RegisterJavaProfile(name, flags)
	}
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
