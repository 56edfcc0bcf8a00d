package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"workyard-sim/internal/admin"
	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/sim"
)

var (
	simConfigPath string
	simPipelines  []string
	simTick       time.Duration
	simTicks      int
	simPrintOnly  bool
	simNoTUI      bool
	simProgress   bool
	simStates     bool
	simLogFile    string
	simLogOutput  string
	simRecord     string
	simAdminAddr  string
	simSources    sourceOptions
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the colony simulator",
	Long:  "simulate runs the colony on a wall-clock ticker, feeding it jobs from a scenario, a script or Redis, and streams events to the TUI, STDOUT or GreptimeDB.",
	RunE: func(cmd *cobra.Command, args []string) error {
		useTUI := !simNoTUI && !simPrintOnly && simTicks == 0 && term.IsTerminal(int(os.Stdout.Fd()))
		if useTUI {
			// the TUI owns the terminal; logs go to a file or nowhere
			var dst io.Writer = io.Discard
			if simLogOutput != "" {
				f, err := os.OpenFile(simLogOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			setLogger(cmd, logging.NewWithWriter(dst, logFormat, logLevel))
		}
		ctx := cmd.Context()
		log := logging.FromContext(ctx)

		cfg, err := loadConfig(ctx, simConfigPath)
		if err != nil {
			return err
		}
		files := pipelineFiles(cfg, simPipelines)
		catalog, err := loadCatalog(files)
		if err != nil {
			return err
		}
		interval, err := tickInterval(simTick)
		if err != nil {
			return err
		}

		metrics := sim.NewMetrics()
		yards := make([]string, len(cfg.Yards))
		for i, y := range cfg.Yards {
			yards[i] = y.Name
		}
		ws, err := newWriters(ctx, writerOptions{
			PrintOnly: simPrintOnly,
			TUI:       useTUI,
			Progress:  simProgress,
			States:    simStates || useTUI,
			LogFile:   simLogFile,
			Yards:     yards,
			Metrics:   metrics,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := ws.Close(); err != nil {
				log.Error("closing writers", "err", err)
			}
		}()

		simulator, err := sim.NewSimulator(cfg, catalog, ws.Events, interval)
		if err != nil {
			return err
		}
		simulator.SetStateWriter(ws.States)
		simulator.SetMetrics(metrics)
		if ws.TUI != nil {
			simulator.OnStatus(ws.TUI.SetStatus)
		}

		src, runner, err := newSource(ctx, simSources, catalog, cfg.Seed)
		if err != nil {
			return err
		}
		if src != nil {
			simulator.SetSource(src)
		}
		if simRecord != "" {
			rec, err := ingest.NewRecorder(simRecord)
			if err != nil {
				return err
			}
			defer rec.Close()
			simulator.SetRecorder(rec)
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if simAdminAddr != "" {
			srv := admin.NewServer(simulator, metrics)
			srv.PipelineFiles = files
			changes := make(chan pipeline.Change, 16)
			srv.Changes = changes
			go catalog.Watch(ctx, changes)
			go func() {
				if ws.TUI != nil {
					ws.TUI.SetAdminStatus(true)
				}
				if err := srv.Start(ctx, simAdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin server failed", "err", err)
					if ws.TUI != nil {
						ws.TUI.SetAdminStatus(false)
					}
				}
			}()
		}

		log.Info("simulation configured", "run_id", simulator.RunID(), "seed", cfg.Seed, "yards", len(cfg.Yards), "pipelines", catalog.Names())
		if simTicks > 0 {
			simulator.RunTicks(ctx, simTicks)
		} else {
			simulator.Run(ctx)
		}

		st := simulator.Status()
		attrs := []any{"run_id", simulator.RunID(), "tick", st.Tick, "uptime", st.Uptime, "target", st.TargetUptime, "dropped_events", simulator.Bus().Dropped()}
		if runner != nil {
			attrs = append(attrs, "scenario_phases", runner.Transitions())
		}
		log.Info("simulation stopped", attrs...)
		return nil
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simConfigPath, "config", "workyard.yaml", "Path to colony configuration YAML (created with defaults if missing)")
	f.StringSliceVar(&simPipelines, "pipelines", nil, "Extra pipeline definition files")
	f.DurationVar(&simTick, "tick", 0, "Wall-clock tick interval (default: the configured tick length)")
	f.IntVar(&simTicks, "ticks", 0, "Run this many ticks as fast as possible and exit")
	f.BoolVar(&simPrintOnly, "print-only", false, "Print events to STDOUT instead of writing to DB")
	f.BoolVar(&simNoTUI, "no-tui", false, "Disable the terminal UI even on a terminal")
	f.BoolVar(&simProgress, "progress", false, "Show per-tick progress events in the TUI")
	f.BoolVar(&simStates, "states", false, "Also emit per-tick yard state rows")
	f.StringVar(&simLogFile, "log-file", "", "Path to export events as JSONL (states go to <path>.state)")
	f.StringVar(&simLogOutput, "log-output", "", "Where logs go while the TUI is active")
	f.StringVar(&simRecord, "record", "", "Record admitted arrivals as a JSONL script for replay")
	f.StringVar(&simAdminAddr, "admin-addr", ":8080", "Admin HTTP listen address (empty disables)")
	f.StringVar(&simSources.Scenario, "scenario", "", "Built-in workload (steady, surge, brownout) or scenario YAML file")
	f.StringVar(&simSources.Script, "script", "", "JSONL arrival script to feed")
	f.StringVar(&simSources.RedisAddr, "redis-addr", "", "Redis address to pop arrivals from")
	f.StringVar(&simSources.RedisKey, "redis-key", ingest.DefaultRedisKey, "Redis list holding arrivals")
	f.IntVar(&simSources.MaxPerTick, "max-per-tick", 0, "Cap on burst or Redis arrivals admitted per tick (0: no cap)")
}
