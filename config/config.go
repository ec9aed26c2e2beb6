// Package config loads and validates the measurement core's
// configuration, the recognized-options surface spec.md §6 names:
// monitor mode, target, trace output location, ring sizing, sampling
// event selection, and the feature toggles (block I/O, POSIX I/O,
// callgraphs, DWARF resolution depth). This is deliberately a thin,
// ambient ingress layer — the core (control.Controller et al.) only
// ever consumes the resulting Config struct, never this package's
// YAML decoding machinery — grounded on the pack's own YAML-config
// loading convention (tripwire/agent's internal/config).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MonitorType selects process mode or CPU-set mode, per spec.md §4.10.
type MonitorType string

const (
	MonitorProcess MonitorType = "process"
	MonitorCpuSet  MonitorType = "cpu-set"
)

// DwarfMode selects how much DWARF-derived source info is resolved
// and attached to calling-context samples, per spec.md §6.
type DwarfMode string

const (
	DwarfFull  DwarfMode = "full"
	DwarfLocal DwarfMode = "local"
	DwarfNone  DwarfMode = "none"
)

// Config is the recognized-options object spec.md §6's "CLI surface"
// paragraph enumerates. Field names mirror the snake_case option names
// via yaml tags, so the on-disk file reads the same as the spec's
// vocabulary; the one exception is read_interval, spelled
// read_interval_ms to carry its unit.
type Config struct {
	MonitorType MonitorType `yaml:"monitor_type"`
	Process     int32       `yaml:"process"`
	Command     []string    `yaml:"command"`

	TracePath string `yaml:"trace_path"`
	SocketPath string `yaml:"socket_path"`

	MmapPages    int `yaml:"mmap_pages"`
	ReadInterval int `yaml:"read_interval_ms"`

	PerfSamplingEvent  string `yaml:"perf_sampling_event"`
	PerfSamplingPeriod uint64 `yaml:"perf_sampling_period"`
	UsePebs            bool   `yaml:"use_pebs"`
	ExcludeKernel      bool   `yaml:"exclude_kernel"`
	EnableCallgraph    bool   `yaml:"enable_callgraph"`
	ClockID            string `yaml:"clockid"`

	MetricLeader    string `yaml:"metric_leader"`
	MetricCount     uint64 `yaml:"metric_count"`
	MetricFrequency uint64 `yaml:"metric_frequency"`

	GroupCounters     []string `yaml:"group_counters"`
	UserspaceCounters []string `yaml:"userspace_counters"`
	TracepointEvents  []string `yaml:"tracepoint_events"`

	UseBlockIO bool `yaml:"use_block_io"`
	UsePosixIO bool `yaml:"use_posix_io"`
	UseNEC     bool `yaml:"use_nec"`

	Dwarf       DwarfMode `yaml:"dwarf"`
	Disassemble bool      `yaml:"disassemble"`

	// CgroupFd is a dup'd fd number for a pre-opened cgroup directory
	// (spec.md's "cgroup_fd?" — optional, only meaningful in
	// process-mode-over-cgroup setups). Zero means "not configured".
	CgroupFd int `yaml:"cgroup_fd"`
}

// Default returns a Config populated with the same defaults lo2s ships
// (16 ring pages, a 100ms read interval, full DWARF resolution, cycles
// sampling at a period chosen to land near 1kHz on typical hardware).
func Default() Config {
	return Config{
		MonitorType:        MonitorCpuSet,
		TracePath:          "./arrowtrace-trace-{DATE}",
		SocketPath:         "/run/arrowtrace/control.sock",
		MmapPages:          16,
		ReadInterval:       100,
		PerfSamplingEvent:  "cycles",
		PerfSamplingPeriod: 4000000,
		ClockID:            "monotonic",
		Dwarf:              DwarfFull,
	}
}

// Load reads and validates a Config from the YAML file at path,
// starting from Default() so an omitted field keeps its default rather
// than zeroing out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a Config, applies ARROWTRACE_* env
// overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}

	applyEnvOverrides(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return &cfg, nil
}

// applyEnvOverrides lets a small set of deployment-time knobs be set
// without editing the YAML file, the same ARROWTRACE_*-prefixed
// convention used for the rest of this project's environment-sourced
// behavior (see TracePath's {ENV=NAME} expansion in ExpandTracePath).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARROWTRACE_TRACE_PATH"); v != "" {
		cfg.TracePath = v
	}
	if v := os.Getenv("ARROWTRACE_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("ARROWTRACE_MMAP_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MmapPages = n
		}
	}
}

// Validate checks cfg for semantic errors and returns all of them at
// once, so an operator sees every problem in one pass rather than
// fixing one typo at a time.
func Validate(cfg *Config) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.MonitorType {
	case MonitorProcess, MonitorCpuSet:
	default:
		add("monitor_type %q must be one of process, cpu-set", cfg.MonitorType)
	}

	if cfg.MonitorType == MonitorProcess && cfg.Process == 0 && len(cfg.Command) == 0 {
		add("monitor_type=process requires either process or command to be set")
	}

	if cfg.TracePath == "" {
		add("trace_path must not be empty")
	}

	if cfg.MmapPages <= 0 || cfg.MmapPages&(cfg.MmapPages-1) != 0 {
		add("mmap_pages %d must be a positive power of two", cfg.MmapPages)
	}

	if cfg.ReadInterval <= 0 {
		add("read_interval_ms %d must be positive", cfg.ReadInterval)
	}

	if cfg.PerfSamplingEvent == "" && len(cfg.GroupCounters) == 0 && len(cfg.UserspaceCounters) == 0 {
		add("at least one of perf_sampling_event, group_counters, or userspace_counters must be set")
	}

	if cfg.MetricCount != 0 && cfg.MetricFrequency != 0 {
		add("metric_count and metric_frequency are mutually exclusive, set at most one")
	}

	switch cfg.Dwarf {
	case DwarfFull, DwarfLocal, DwarfNone:
	default:
		add("dwarf %q must be one of full, local, none", cfg.Dwarf)
	}

	if cfg.SocketPath == "" {
		add("socket_path must not be empty")
	}

	return errs
}
