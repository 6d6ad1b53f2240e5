// Package config loads the server's tunable parameters from an optional
// YAML file, falling back to built-in defaults. The rate-limiter
// constants and similar knobs are deliberately tunable parameters, not
// package constants; this package is where they come from.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the core leaves to deployment: addresses,
// timeouts, buffer watermarks, and the rate-limiter constants.
type Config struct {
	// Listen is the address the Listener binds in Standalone flavor.
	// Ignored for the Systemd flavor, which inherits its listening socket
	// on fd 3, and for the Persistent flavor, which serves over fds 0/1.
	Listen string `yaml:"listen"`

	// IdleTimeout is the keepalive cadence a connection worker arms on
	// Running entry.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RatelimitInterval and RatelimitThreshold are the Idle->Active->
	// Limited constants, deliberately tunable rather than fixed.
	RatelimitInterval  time.Duration `yaml:"ratelimit_interval"`
	RatelimitThreshold time.Duration `yaml:"ratelimit_threshold"`

	// SchedulerWarnThreshold mirrors scheduler.WarnThreshold. It is loaded
	// but not applied: the scheduler always uses its package constant.
	SchedulerWarnThreshold int `yaml:"scheduler_warn_threshold"`

	// TaskChunkSize and TaskWindowSize are the default backpressure
	// parameters for newly created tasks.
	TaskChunkSize  int `yaml:"task_chunk_size"`
	TaskWindowSize int `yaml:"task_window_size"`

	// MaxOrphans mirrors reaper.MaxOrphans. It is loaded but not applied:
	// the reaper always uses its package constant.
	MaxOrphans int `yaml:"max_orphans"`
}

// Default returns the built-in configuration used when no file is given
// or the file omits a field.
func Default() Config {
	return Config{
		Listen:                 "",
		IdleTimeout:            60 * time.Second,
		RatelimitInterval:      2 * time.Second,
		RatelimitThreshold:     200 * time.Millisecond,
		SchedulerWarnThreshold: 256 * 1024,
		TaskChunkSize:          64 * 1024,
		TaskWindowSize:         4,
		MaxOrphans:             128,
	}
}

// Load reads path as YAML and overlays it onto Default(); a missing file
// is not an error — it simply yields the defaults, matching the usual
// "config file doesn't exist, use defaults" convention.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
