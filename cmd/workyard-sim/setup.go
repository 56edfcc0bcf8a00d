package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"workyard-sim/internal/config"
	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/scenario"
)

// loadConfig reads the config at path, writing defaults there on first run,
// and applies the WORKYARD_SEED override.
func loadConfig(ctx context.Context, path string) (*config.GameConfig, error) {
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, err
	}
	if created {
		logging.FromContext(ctx).Info("wrote default config", "path", path)
	}
	if env := os.Getenv("WORKYARD_SEED"); env != "" {
		seed, err := strconv.ParseUint(env, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKYARD_SEED: %w", err)
		}
		cfg.Seed = seed
	}
	return cfg, nil
}

// tickInterval resolves the wall-clock tick: TICK_INTERVAL wins over the
// flag, and a zero flag falls back to the configured frame.
func tickInterval(flag time.Duration) (time.Duration, error) {
	if env := os.Getenv("TICK_INTERVAL"); env != "" {
		d, err := time.ParseDuration(env)
		if err != nil {
			return 0, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		return d, nil
	}
	return flag, nil
}

// pipelineFiles joins the config's content files with the ones named on the
// command line.
func pipelineFiles(cfg *config.GameConfig, extra []string) []string {
	return append(append([]string(nil), cfg.PipelineFiles...), extra...)
}

// loadCatalog builds the catalog from the built-in definitions plus files.
func loadCatalog(files []string) (*pipeline.Catalog, error) {
	defs := pipeline.BuiltIn()
	for _, f := range files {
		more, err := pipeline.LoadDefs(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, more...)
	}
	return pipeline.NewCatalog(defs)
}

// loadScenario resolves a built-in workload name or a YAML file.
func loadScenario(name string) (scenario.Scenario, error) {
	if sc, ok := scenario.BuiltIn()[name]; ok {
		return sc, nil
	}
	if _, err := os.Stat(name); err != nil {
		return scenario.Scenario{}, fmt.Errorf("scenario %q is neither built in nor a readable file", name)
	}
	sc, err := scenario.Load(name)
	if err != nil {
		return scenario.Scenario{}, err
	}
	return *sc, nil
}

// sourceOptions selects where arrivals come from.
type sourceOptions struct {
	Scenario   string
	Script     string
	RedisAddr  string
	RedisKey   string
	MaxPerTick int
}

// newSource combines every configured arrival source. The scenario runner
// is returned separately so callers can report its phase.
func newSource(ctx context.Context, opts sourceOptions, cat *pipeline.Catalog, seed uint64) (ingest.Source, *scenario.Runner, error) {
	var srcs ingest.Multi
	var runner *scenario.Runner
	if opts.Scenario != "" {
		sc, err := loadScenario(opts.Scenario)
		if err != nil {
			return nil, nil, err
		}
		if runner, err = scenario.NewRunner(sc, cat, seed, opts.MaxPerTick); err != nil {
			return nil, nil, err
		}
		srcs = append(srcs, runner)
	}
	if opts.Script != "" {
		s, err := ingest.OpenScript(opts.Script)
		if err != nil {
			return nil, nil, err
		}
		srcs = append(srcs, s)
	}
	if opts.RedisAddr != "" {
		rs := ingest.NewRedisSource(opts.RedisAddr, opts.RedisKey, opts.MaxPerTick)
		if err := rs.Ping(ctx); err != nil {
			return nil, nil, err
		}
		logging.FromContext(ctx).Info("polling redis for arrivals", "addr", opts.RedisAddr, "key", opts.RedisKey)
		srcs = append(srcs, rs)
	}
	switch len(srcs) {
	case 0:
		return nil, nil, nil
	case 1:
		return srcs[0], runner, nil
	}
	return srcs, runner, nil
}
