package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"gnss-replay/internal/correction"
	"gnss-replay/internal/gnss"
)

// StartLayout is the layout of run.start, in GPS time.
const StartLayout = "2006-01-02 15:04:05"

const envPrefix = "GNSS_REPLAY_"

type Config struct {
	Log         LogConfig                `yaml:"log"`
	Workers     int                      `yaml:"workers"`
	Run         RunConfig                `yaml:"run"`
	Service     StreamConfig             `yaml:"service"`
	Secondary   *StreamConfig            `yaml:"secondary"`
	Mode        string                   `yaml:"mode"`
	Modes       map[string]string        `yaml:"modes"`
	Network     NetworkConfig            `yaml:"network"`
	Staleness   map[string]time.Duration `yaml:"staleness"`
	Convergence ConvergenceConfig        `yaml:"convergence"`
	Solver      SolverConfig             `yaml:"solver"`
	Output      OutputConfig             `yaml:"output"`

	// Defaults for a single run; each site may override them.
	Observations string       `yaml:"observations"`
	Reference    []float64    `yaml:"reference"`
	Sites        []SiteConfig `yaml:"sites"`

	// Resolved during Load.
	Required  gnss.Mask                            `yaml:"-"`
	StartTime time.Time                            `yaml:"-"`
	Kinds     map[gnss.ComponentKind]time.Duration `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RunConfig struct {
	// Start in GPS time, StartLayout. Empty starts at the first epoch.
	Start  string        `yaml:"start"`
	Epochs int           `yaml:"epochs"`
	Step   time.Duration `yaml:"step"`
	// Interval between synthetic epochs when no observation file is given.
	Interval time.Duration `yaml:"interval"`
}

// StreamConfig describes one correction input.
type StreamConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// Format: table, sqlite, chunk or rtcm.
	Format string `yaml:"format"`
	// DB is the SQLite database for format sqlite.
	DB string `yaml:"db"`
	// Sources is a PRN or an inclusive "lo-hi" range; empty matches all.
	Sources string `yaml:"sources"`
	// Channel is the message type assigned to chunk archive frames.
	Channel int `yaml:"channel"`
}

type NetworkConfig struct {
	Cell     int    `yaml:"cell"`
	Required string `yaml:"required"`

	RequiredMask gnss.Mask `yaml:"-"`
}

type ConvergenceConfig struct {
	Limit float64 `yaml:"limit"`
}

type SolverConfig struct {
	Kind         string `yaml:"kind"`
	Path         string `yaml:"path"`
	Continuation string `yaml:"continuation"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	SolutionLog bool   `yaml:"solution_log"`
	MetricsFile string `yaml:"metrics_file"`
}

type SiteConfig struct {
	ID           string    `yaml:"id"`
	Observations string    `yaml:"observations"`
	Corrections  string    `yaml:"corrections"`
	Secondary    string    `yaml:"secondary"`
	Solution     string    `yaml:"solution"`
	Reference    []float64 `yaml:"reference"`
}

// envOverrides are read from GNSS_REPLAY_* variables after the file.
type envOverrides struct {
	LogLevel    string `env:"LOG_LEVEL"`
	Workers     int    `env:"WORKERS"`
	MetricsFile string `env:"METRICS_FILE"`
}

// Required component masks of the solving modes.
var defaultModes = map[string]string{
	"sbas":    "ORBIT|CLOCK",
	"dgps":    "MASK|ORBIT|CLOCK",
	"ppp":     "MASK|ORBIT|CLOCK|CODE_BIAS",
	"ppp-rtk": "MASK|ORBIT|CLOCK|CODE_BIAS",
}

func Load(path string) (Config, error) {
	return load(path, env.Options{Prefix: envPrefix})
}

// LoadWithEnv is Load with an explicit environment instead of the process one.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	return load(path, env.Options{Prefix: envPrefix, Environment: environ})
}

func load(path string, opts env.Options) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && strings.Contains(te.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}

	var ov envOverrides
	if err := env.ParseWithOptions(&ov, opts); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.Workers != 0 {
		cfg.Workers = ov.Workers
	}
	if ov.MetricsFile != "" {
		cfg.Output.MetricsFile = ov.MetricsFile
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Run.Interval == 0 {
		cfg.Run.Interval = time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = "ppp"
	}
	if cfg.Modes == nil {
		cfg.Modes = make(map[string]string, len(defaultModes))
	}
	for name, mask := range defaultModes {
		if _, ok := cfg.Modes[name]; !ok {
			cfg.Modes[name] = mask
		}
	}
	if cfg.Convergence.Limit == 0 {
		cfg.Convergence.Limit = 0.1
	}
	if cfg.Solver.Kind == "" {
		cfg.Solver.Kind = "recorded"
	}
	if cfg.Solver.Continuation == "" {
		cfg.Solver.Continuation = "none"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "."
	}
	defaultStream(&cfg.Service)
	if cfg.Secondary != nil {
		if cfg.Secondary.Name == "" {
			cfg.Secondary.Name = cfg.Service.Name
		}
		defaultStream(cfg.Secondary)
	}
}

func defaultStream(s *StreamConfig) {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	if s.Format == "" {
		s.Format = "table"
		if s.Name == "rtcm-ssr" {
			s.Format = "rtcm"
		}
	}
	if s.Format == "sqlite" && s.DB == "" {
		s.DB = ":memory:"
	}
}

func (cfg *Config) validate() error {
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if cfg.Run.Epochs < 0 {
		return fmt.Errorf("run.epochs must be >= 0")
	}
	if cfg.Run.Step < 0 {
		return fmt.Errorf("run.step must be >= 0")
	}
	if cfg.Run.Interval < 0 {
		return fmt.Errorf("run.interval must be > 0")
	}
	if cfg.Run.Start != "" {
		t, err := time.Parse(StartLayout, cfg.Run.Start)
		if err != nil {
			return fmt.Errorf("run.start must use layout %q", StartLayout)
		}
		cfg.StartTime = t
	}

	if err := validateStream("service", &cfg.Service); err != nil {
		return err
	}
	if cfg.Secondary != nil {
		if err := validateStream("secondary", cfg.Secondary); err != nil {
			return err
		}
	}

	if _, ok := cfg.Modes[cfg.Mode]; !ok {
		return fmt.Errorf("mode %q is not defined in modes", cfg.Mode)
	}
	names := make([]string, 0, len(cfg.Modes))
	for name := range cfg.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m, err := gnss.ParseMask(cfg.Modes[name])
		if err != nil {
			return fmt.Errorf("modes.%s: %w", name, err)
		}
		// An empty mask would leave the gate permanently ready.
		if m == 0 {
			return fmt.Errorf("modes.%s must require at least one component", name)
		}
		if name == cfg.Mode {
			cfg.Required = m
		}
	}

	if cfg.Network.Required != "" {
		nm, err := gnss.ParseMask(cfg.Network.Required)
		if err != nil {
			return fmt.Errorf("network.required: %w", err)
		}
		cfg.Network.RequiredMask = nm
	}

	cfg.Kinds = make(map[gnss.ComponentKind]time.Duration, len(cfg.Staleness))
	for name, d := range cfg.Staleness {
		k, err := gnss.ParseKind(name)
		if err != nil {
			return fmt.Errorf("staleness: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("staleness.%s must be >= 0", name)
		}
		cfg.Kinds[k] = d
	}

	if cfg.Convergence.Limit < 0 {
		return fmt.Errorf("convergence.limit must be > 0")
	}
	if err := validateReference("reference", cfg.Reference); err != nil {
		return err
	}

	switch cfg.Solver.Kind {
	case "recorded":
	default:
		return fmt.Errorf("solver.kind %q is not supported", cfg.Solver.Kind)
	}
	switch cfg.Solver.Continuation {
	case "none", "hold":
	default:
		return fmt.Errorf("solver.continuation must be none or hold")
	}

	seen := make(map[string]bool, len(cfg.Sites))
	for i, s := range cfg.Sites {
		if s.ID == "" {
			return fmt.Errorf("sites[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate site id %q", s.ID)
		}
		seen[s.ID] = true
		if err := validateReference(fmt.Sprintf("sites[%d].reference", i), s.Reference); err != nil {
			return err
		}
	}
	return nil
}

func validateStream(key string, s *StreamConfig) error {
	if s.Name == "" {
		return fmt.Errorf("%s.name is required", key)
	}
	if _, err := correction.LookupService(s.Name); err != nil {
		return fmt.Errorf("%s.name: %w", key, err)
	}
	switch s.Format {
	case "table", "sqlite", "chunk", "rtcm":
	default:
		return fmt.Errorf("%s.format must be table, sqlite, chunk or rtcm", key)
	}
	if _, _, _, err := ParseSources(s.Sources); err != nil {
		return fmt.Errorf("%s.sources: %w", key, err)
	}
	return nil
}

func validateReference(key string, ref []float64) error {
	if len(ref) != 0 && len(ref) != 3 {
		return fmt.Errorf("%s must have 3 ECEF coordinates", key)
	}
	return nil
}

// ParseSources parses "193" or "193-199". all is true for the empty string.
func ParseSources(s string) (lo, hi int, all bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, true, nil
	}
	a, b, isRange := strings.Cut(s, "-")
	lo, err = strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid source %q", s)
	}
	hi = lo
	if isRange {
		hi, err = strconv.Atoi(strings.TrimSpace(b))
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid source range %q", s)
		}
	}
	if hi < lo {
		return 0, 0, false, fmt.Errorf("invalid source range %q", s)
	}
	return lo, hi, false, nil
}

// ReferenceECEF returns ref as a position, or false if it is unset.
func ReferenceECEF(ref []float64) ([3]float64, bool) {
	if len(ref) != 3 {
		return [3]float64{}, false
	}
	return [3]float64{ref[0], ref[1], ref[2]}, true
}

// SiteList returns the configured sites, or a single "default" site built
// from the top-level inputs when none are configured.
func (cfg Config) SiteList() []SiteConfig {
	if len(cfg.Sites) > 0 {
		return cfg.Sites
	}
	return []SiteConfig{{
		ID:           "default",
		Observations: cfg.Observations,
		Reference:    cfg.Reference,
	}}
}
