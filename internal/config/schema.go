// Package config provides typed, validated configuration for planrt.
// Configuration resolution order (highest priority first):
// 1. Environment variables (PLAN_*)
// 2. Config file (~/.planrt/config.json or PLAN_CONFIG_PATH)
// 3. Defaults
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Partition controls the partitioner's default compilation options.
	Partition PartitionConfig `json:"partition"`

	// Cache controls the cache-token store.
	Cache CacheConfig `json:"cache"`

	// Telemetry controls logging verbosity.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Devices names the device catalogue to assemble, in preference order;
	// the software fallback device always ends the catalogue, whatever its
	// position in the list.
	Devices DevicesConfig `json:"devices"`
}

// PartitionConfig controls the partitioner's default compilation options.
type PartitionConfig struct {
	// Preference selects which performance figure the partitioner
	// minimizes: "low-power", "fast-single-answer", "sustained-speed".
	Preference string `json:"preference" env:"PLAN_PARTITION_PREFERENCE" default:"fast-single-answer"`

	// Priority is the compilation priority: "low", "medium", "high",
	// "default".
	Priority string `json:"priority" env:"PLAN_PARTITION_PRIORITY" default:"default"`

	// Mode is the partitioning mode: "disabled", "with-fallback",
	// "without-fallback".
	Mode string `json:"mode" env:"PLAN_PARTITION_MODE" default:"with-fallback"`

	// LoopTimeout is the default time limit for one WHILE loop, measured
	// from the start of its first iteration.
	LoopTimeout time.Duration `json:"loop_timeout" env:"PLAN_LOOP_TIMEOUT" default:"2s"`

	// LoopTimeoutMax records the hard ceiling for a caller-requested loop
	// timeout. The clamp itself is interpreter.ClampLoopTimeout, which uses
	// its own 15s maximum; this field is not read when clamping.
	LoopTimeoutMax time.Duration `json:"loop_timeout_max" env:"PLAN_LOOP_TIMEOUT_MAX" default:"15s"`
}

// CacheConfig controls the cache-token store.
type CacheConfig struct {
	// Dir is where the optional sqlite-backed token store is kept; empty
	// means in-memory only.
	Dir string `json:"dir" env:"PLAN_CACHE_DIR" default:""`
}

// TelemetryConfig controls logging verbosity.
type TelemetryConfig struct {
	// LogLevel is the minimum log level: "debug", "info", "warn", "error".
	LogLevel string `json:"log_level" env:"PLAN_LOG_LEVEL" default:"info"`
}

// DevicesConfig names the device catalogue to assemble.
type DevicesConfig struct {
	// Names is the ordered device-name list. "cpu-fallback" may appear
	// anywhere or not at all: the fallback device is always added last.
	Names []string `json:"names" env:"PLAN_DEVICES" default:"accelerator,dsp,cpu-fallback"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Partition: PartitionConfig{
			Preference:     "fast-single-answer",
			Priority:       "default",
			Mode:           "with-fallback",
			LoopTimeout:    2 * time.Second,
			LoopTimeoutMax: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{LogLevel: "info"},
		Devices:   DevicesConfig{Names: []string{"accelerator", "dsp", "cpu-fallback"}},
	}
}
