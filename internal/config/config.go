// Package config loads the YAML run configuration and validates it against
// the embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"workyard-sim/internal/clock"
	"workyard-sim/internal/fault"
	"workyard-sim/internal/resource"
)

// ErrInvalid marks configuration that failed schema or semantic checks.
var ErrInvalid = errors.New("invalid configuration")

//go:embed schema.cue
var schema []byte

// DefaultStart is the simulated date a colony starts at unless configured.
const DefaultStart = "2100-01-01T00:00:00Z"

// ClockConfig selects the tick scale and frame length.
type ClockConfig struct {
	Scale  string `yaml:"scale"`
	TickMs uint64 `yaml:"tick_ms"`
	Start  string `yaml:"start"`
}

// YardConfig describes one workyard and its workers.
type YardConfig struct {
	Name       string  `yaml:"name"`
	HeatCap    float64 `yaml:"heat_cap"`
	Workers    int     `yaml:"workers"`
	Discipline float64 `yaml:"discipline,omitempty"`
}

// GameConfig is the root configuration read once at simulation start.
type GameConfig struct {
	Seed              uint64            `yaml:"seed"`
	TargetUptime      float64           `yaml:"target_uptime"`
	PowerCapacityKW   float64           `yaml:"power_capacity_kw"`
	BandwidthCapacity float64           `yaml:"bandwidth_capacity"`
	Clock             ClockConfig       `yaml:"clock"`
	Resource          resource.Tunables `yaml:"resource"`
	Corruption        fault.Tunables    `yaml:"corruption"`
	Yards             []YardConfig      `yaml:"yards"`
	PipelineFiles     []string          `yaml:"pipeline_files,omitempty"`
}

// Default returns the configuration written on first run.
func Default() *GameConfig {
	return &GameConfig{
		Seed:              0x5EED,
		TargetUptime:      0.99,
		PowerCapacityKW:   60,
		BandwidthCapacity: 2048,
		Clock:             ClockConfig{Scale: "realtime", TickMs: 100, Start: DefaultStart},
		Resource:          resource.DefaultTunables(),
		Corruption:        fault.DefaultTunables(),
		Yards: []YardConfig{
			{Name: "north", HeatCap: 40, Workers: 8, Discipline: 0.6},
			{Name: "south", HeatCap: 30, Workers: 6, Discipline: 0.3},
		},
	}
}

// Scale parses the configured tick scale.
func (c *GameConfig) Scale() (clock.TickScale, error) {
	return clock.ParseScale(c.Clock.Scale)
}

// Frame returns the frame length one tick integrates over.
func (c *GameConfig) Frame() time.Duration {
	return time.Duration(c.Clock.TickMs) * time.Millisecond
}

// StartTime parses the configured start date.
func (c *GameConfig) StartTime() (time.Time, error) {
	if c.Clock.Start == "" {
		return time.Parse(time.RFC3339, DefaultStart)
	}
	return time.Parse(time.RFC3339, c.Clock.Start)
}

// Validate performs the semantic checks the schema cannot express.
func (c *GameConfig) Validate() error {
	if _, err := c.Scale(); err != nil {
		return fmt.Errorf("%w: clock: %v", ErrInvalid, err)
	}
	if c.Clock.TickMs == 0 {
		return fmt.Errorf("%w: clock.tick_ms must be positive", ErrInvalid)
	}
	if _, err := c.StartTime(); err != nil {
		return fmt.Errorf("%w: clock.start: %v", ErrInvalid, err)
	}
	if len(c.Yards) == 0 {
		return fmt.Errorf("%w: no yards defined", ErrInvalid)
	}
	seen := make(map[string]bool)
	for i, y := range c.Yards {
		if y.Name == "" {
			return fmt.Errorf("%w: yard %d has no name", ErrInvalid, i)
		}
		if seen[y.Name] {
			return fmt.Errorf("%w: yard %q defined twice", ErrInvalid, y.Name)
		}
		seen[y.Name] = true
		if y.Workers <= 0 || y.HeatCap <= 0 {
			return fmt.Errorf("%w: yard %q needs workers and heat_cap > 0", ErrInvalid, y.Name)
		}
	}
	if c.Corruption.Base < 0 || c.Corruption.Base > fault.MaxProbability {
		return fmt.Errorf("%w: corruption.base must be within [0, %.2f]", ErrInvalid, fault.MaxProbability)
	}
	if c.Corruption.MaxRetries < 0 {
		return fmt.Errorf("%w: corruption.max_retries must not be negative", ErrInvalid)
	}
	return nil
}

// Load reads a YAML config, validates it against the embedded CUE schema and
// fills unset fields from Default.
func Load(path string) (*GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse is Load for an in-memory document; name is used in error messages.
func Parse(name string, data []byte) (*GameConfig, error) {
	if err := ValidateWithCue(name, data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

// LoadOrCreate loads path, or writes Default there when the file does not
// exist. The second result reports whether the file was created.
func LoadOrCreate(path string) (*GameConfig, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg = Default()
	if err := Save(path, cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *GameConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ValidateWithCue checks a YAML document against the embedded CUE schema.
func ValidateWithCue(name string, yamlBytes []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(schema)
	if schemaVal.Err() != nil {
		return fmt.Errorf("compile CUE schema: %w", schemaVal.Err())
	}

	file, err := cueyaml.Extract(name, yamlBytes)
	if err != nil {
		return fmt.Errorf("%w: cannot parse YAML config: %v", ErrInvalid, err)
	}
	configVal := ctx.BuildFile(file)
	if configVal.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, configVal.Err())
	}

	final := schemaVal.Unify(configVal)
	if err := final.Validate(); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrInvalid, err)
	}
	return nil
}
