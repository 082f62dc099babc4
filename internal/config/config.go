package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Defaults applied to program fields left unset in the catalog.
const (
	DefaultNumProcs     = 1
	DefaultUmask        = 0o022
	DefaultAutoStart    = true
	DefaultAutoRestart  = RestartUnexpected
	DefaultStartRetries = 3
	DefaultStartTime    = 10
	DefaultStopSignal   = "TERM"
	DefaultStopTime     = 10
	DefaultSocket       = "taskmaster.socket"
)

// RestartPolicy decides whether an exited child is respawned.
type RestartPolicy string

const (
	RestartAlways     RestartPolicy = "always"
	RestartNever      RestartPolicy = "never"
	RestartUnexpected RestartPolicy = "unexpected"
)

func parseRestartPolicy(s string) (RestartPolicy, error) {
	switch RestartPolicy(s) {
	case RestartAlways, RestartNever, RestartUnexpected:
		return RestartPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid autorestart value %q (allowed: always, never, unexpected)", s)
	}
}

// Program is the immutable declarative spec for one supervised program.
type Program struct {
	Name         string            `yaml:"-"`
	Cmd          string            `yaml:"cmd"`
	NumProcs     int               `yaml:"numprocs"`
	Umask        uint32            `yaml:"-"`
	WorkingDir   string            `yaml:"workingdir,omitempty"`
	AutoStart    bool              `yaml:"autostart"`
	AutoRestart  RestartPolicy     `yaml:"autorestart"`
	ExitCodes    []int             `yaml:"exitcodes"`
	StartRetries int               `yaml:"startretries"`
	StartTime    int               `yaml:"starttime"`
	StopSignal   string            `yaml:"stopsignal"`
	StopTime     int               `yaml:"stoptime"`
	Stdout       LogTarget         `yaml:"stdout"`
	Stderr       LogTarget         `yaml:"stderr"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// StartDuration is the time a child must stay alive to count as started.
func (p *Program) StartDuration() time.Duration { return time.Duration(p.StartTime) * time.Second }

// StopDuration is the grace period before a stop escalates to SIGKILL.
func (p *Program) StopDuration() time.Duration { return time.Duration(p.StopTime) * time.Second }

// InstanceNames derives the process-table keys for this program:
// the bare name for a single instance, name0..name(n-1) otherwise.
func (p *Program) InstanceNames() []string {
	if p.NumProcs <= 1 {
		return []string{p.Name}
	}
	names := make([]string, 0, p.NumProcs)
	for i := 0; i < p.NumProcs; i++ {
		names = append(names, fmt.Sprintf("%s%d", p.Name, i))
	}
	return names
}

// ExpectedExit reports whether code is in the program's exitcodes set.
func (p *Program) ExpectedExit(code int) bool {
	for _, c := range p.ExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Equal is structural equality over every declarative field. Defaults are
// filled in at load time, so two loads of semantically equal sources compare
// equal regardless of which fields the source spelled out.
func (p *Program) Equal(o *Program) bool {
	if p.Name != o.Name || p.Cmd != o.Cmd || p.NumProcs != o.NumProcs ||
		p.Umask != o.Umask || p.WorkingDir != o.WorkingDir ||
		p.AutoStart != o.AutoStart || p.AutoRestart != o.AutoRestart ||
		p.StartRetries != o.StartRetries || p.StartTime != o.StartTime ||
		p.StopSignal != o.StopSignal || p.StopTime != o.StopTime ||
		p.Stdout != o.Stdout || p.Stderr != o.Stderr {
		return false
	}
	if len(p.ExitCodes) != len(o.ExitCodes) {
		return false
	}
	for i := range p.ExitCodes {
		if p.ExitCodes[i] != o.ExitCodes[i] {
			return false
		}
	}
	if len(p.Env) != len(o.Env) {
		return false
	}
	for k, v := range p.Env {
		if ov, ok := o.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// LogSettings configures the daemon's own slog output.
type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level,omitempty"`
}

// MetricsSettings configures the optional Prometheus listener.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Listen  string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// StoreSettings configures last-known-state persistence.
type StoreSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	DSN     string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// HistorySettings configures external lifecycle event sinks.
type HistorySettings struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	ClickHouseAddr  string `mapstructure:"clickhouse_addr" yaml:"clickhouse_addr,omitempty"`
	ClickHouseTable string `mapstructure:"clickhouse_table" yaml:"clickhouse_table,omitempty"`
}

// Config is the parsed catalog plus daemon-level sections. Immutable once
// loaded; reload builds a fresh Config and diffs against the old one.
type Config struct {
	Socket   string
	Log      LogSettings
	Metrics  MetricsSettings
	Store    StoreSettings
	History  HistorySettings
	Programs map[string]Program
}

// rawProgram mirrors the YAML attribute map. Pointer fields distinguish
// "absent, use default" from an explicit zero.
type rawProgram struct {
	Cmd          string             `mapstructure:"cmd"`
	NumProcs     *int               `mapstructure:"numprocs"`
	Umask        any                `mapstructure:"umask"`
	WorkingDir   string             `mapstructure:"workingdir"`
	AutoStart    *bool              `mapstructure:"autostart"`
	AutoRestart  *string            `mapstructure:"autorestart"`
	ExitCodes    *[]int             `mapstructure:"exitcodes"`
	StartRetries *int               `mapstructure:"startretries"`
	StartTime    *int               `mapstructure:"starttime"`
	StopSignal   *string            `mapstructure:"stopsignal"`
	StopTime     *int               `mapstructure:"stoptime"`
	Stdout       *string            `mapstructure:"stdout"`
	Stderr       *string            `mapstructure:"stderr"`
	Env          *map[string]string `mapstructure:"env"`
}

type rawConfig struct {
	Programs map[string]rawProgram `mapstructure:"programs"`
	Socket   string                `mapstructure:"socket"`
	Log      LogSettings           `mapstructure:"log"`
	Metrics  MetricsSettings       `mapstructure:"metrics"`
	Store    StoreSettings         `mapstructure:"store"`
	History  HistorySettings       `mapstructure:"history"`
}

// Load reads and validates the catalog at path.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is operator-provided by design
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadBytes(doc)
}

// LoadBytes parses a catalog from an in-memory YAML document. The YAML tree
// is decoded through mapstructure with ErrorUnused so unknown fields are
// rejected at every nesting level; map key case is preserved (env variable
// names are case-sensitive).
func LoadBytes(doc []byte) (*Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(doc, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	var raw rawConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "mapstructure",
		ErrorUnused: true,
		Result:      &raw,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	if len(raw.Programs) == 0 {
		return nil, fmt.Errorf("config has no programs")
	}
	cfg := &Config{
		Socket:   raw.Socket,
		Log:      raw.Log,
		Metrics:  raw.Metrics,
		Store:    raw.Store,
		History:  raw.History,
		Programs: make(map[string]Program, len(raw.Programs)),
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	for name, rp := range raw.Programs {
		p, err := normalizeProgram(name, rp)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", name, err)
		}
		cfg.Programs[name] = p
	}
	if err := checkInstanceNames(cfg.Programs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalizeProgram(name string, rp rawProgram) (Program, error) {
	var zero Program
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
		return zero, fmt.Errorf("invalid program name")
	}
	if strings.TrimSpace(rp.Cmd) == "" {
		return zero, fmt.Errorf("missing value for field: cmd")
	}
	p := Program{
		Name:         name,
		Cmd:          rp.Cmd,
		NumProcs:     DefaultNumProcs,
		Umask:        DefaultUmask,
		WorkingDir:   rp.WorkingDir,
		AutoStart:    DefaultAutoStart,
		AutoRestart:  DefaultAutoRestart,
		ExitCodes:    []int{0},
		StartRetries: DefaultStartRetries,
		StartTime:    DefaultStartTime,
		StopSignal:   DefaultStopSignal,
		StopTime:     DefaultStopTime,
		Stdout:       LogAuto,
		Stderr:       LogAuto,
		Env:          map[string]string{},
	}
	if rp.NumProcs != nil {
		if *rp.NumProcs < 1 {
			return zero, fmt.Errorf("numprocs must be >= 1")
		}
		p.NumProcs = *rp.NumProcs
	}
	if rp.Umask != nil {
		m, err := parseUmask(rp.Umask)
		if err != nil {
			return zero, err
		}
		p.Umask = m
	}
	if rp.AutoStart != nil {
		p.AutoStart = *rp.AutoStart
	}
	if rp.AutoRestart != nil {
		pol, err := parseRestartPolicy(*rp.AutoRestart)
		if err != nil {
			return zero, err
		}
		p.AutoRestart = pol
	}
	if rp.ExitCodes != nil {
		p.ExitCodes = normalizeExitCodes(*rp.ExitCodes)
	}
	if rp.StartRetries != nil {
		if *rp.StartRetries < 0 {
			return zero, fmt.Errorf("startretries must be >= 0")
		}
		p.StartRetries = *rp.StartRetries
	}
	if rp.StartTime != nil {
		if *rp.StartTime < 0 {
			return zero, fmt.Errorf("starttime must be >= 0")
		}
		p.StartTime = *rp.StartTime
	}
	if rp.StopSignal != nil {
		if _, err := SignalByName(*rp.StopSignal); err != nil {
			return zero, err
		}
		p.StopSignal = normalizeSignalName(*rp.StopSignal)
	}
	if rp.StopTime != nil {
		if *rp.StopTime < 0 {
			return zero, fmt.Errorf("stoptime must be >= 0")
		}
		p.StopTime = *rp.StopTime
	}
	if rp.Stdout != nil {
		p.Stdout = LogTarget(*rp.Stdout)
	}
	if rp.Stderr != nil {
		p.Stderr = LogTarget(*rp.Stderr)
	}
	if rp.Env != nil {
		p.Env = *rp.Env
	}
	return p, nil
}

// normalizeExitCodes treats exitcodes as a set: sorted, deduplicated.
func normalizeExitCodes(codes []int) []int {
	seen := make(map[int]struct{}, len(codes))
	out := make([]int, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// checkInstanceNames enforces global uniqueness of derived instance names
// (program "cat" with numprocs 2 collides with a program literally named "cat0").
func checkInstanceNames(programs map[string]Program) error {
	seen := make(map[string]string)
	names := make([]string, 0, len(programs))
	for n := range programs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := programs[n]
		for _, inst := range p.InstanceNames() {
			if prev, ok := seen[inst]; ok {
				return fmt.Errorf("instance name %q of program %q collides with program %q", inst, n, prev)
			}
			seen[inst] = n
		}
	}
	return nil
}

// parseUmask accepts an integer whose decimal digits are octal (the catalog
// convention: umask: 022 means 0o022) or a string of octal digits.
func parseUmask(v any) (uint32, error) {
	var digits string
	switch t := v.(type) {
	case int:
		digits = fmt.Sprintf("%d", t)
	case int64:
		digits = fmt.Sprintf("%d", t)
	case uint64:
		digits = fmt.Sprintf("%d", t)
	case string:
		digits = t
	default:
		return 0, fmt.Errorf("field is not an umask: %v", v)
	}
	m, err := strconv.ParseUint(digits, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to convert umask: %q", digits)
	}
	if m > 0o777 {
		return 0, fmt.Errorf("umask out of range: %q", digits)
	}
	return uint32(m), nil
}
