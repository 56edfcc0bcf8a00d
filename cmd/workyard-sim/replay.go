package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/sim"
	"workyard-sim/internal/telemetry"
)

var (
	replayConfigPath string
	replayPipelines  []string
	replayScript     string
	replayEvents     string
	replayDigest     string
	replayTicks      int
	replayPlayback   bool
	replaySpeed      float64
	replayPrintOnly  bool
)

var errDigestMismatch = errors.New("replay diverged from the recorded run")

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run a recorded arrival script and verify its event digest",
	Long: "replay feeds a recorded arrival script through a fresh colony with the same configuration and checks that the event stream matches the recorded log or digest. " +
		"With --playback it instead streams a recorded event log to STDOUT or GreptimeDB.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if replayPlayback {
			if replayEvents == "" {
				return fmt.Errorf("--playback needs --events")
			}
			ws, err := newWriters(ctx, writerOptions{PrintOnly: replayPrintOnly})
			if err != nil {
				return err
			}
			defer ws.Close()
			return sim.ReplayLogFile(replayEvents, ws.Events, replaySpeed)
		}
		if replayScript == "" {
			return fmt.Errorf("--script is required unless --playback is set")
		}
		res, err := runReplay(ctx, replayOptions{
			ConfigPath: replayConfigPath,
			Pipelines:  replayPipelines,
			Script:     replayScript,
			Events:     replayEvents,
			Digest:     replayDigest,
			Ticks:      replayTicks,
		})
		if res != nil {
			printReplay(cmd.OutOrStdout(), res)
		}
		return err
	},
}

type replayOptions struct {
	ConfigPath string
	Pipelines  []string
	Script     string
	Events     string
	Digest     string
	Ticks      int
}

type replayResult struct {
	Ticks      int
	Events     int
	Digest     string
	Want       string
	Divergence int
}

// runReplay reruns the script and compares digests. Divergence is the index
// of the first differing event, or -1.
func runReplay(ctx context.Context, opts replayOptions) (*replayResult, error) {
	log := logging.FromContext(ctx)
	cfg, err := loadConfig(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(pipelineFiles(cfg, opts.Pipelines))
	if err != nil {
		return nil, err
	}
	script, err := ingest.OpenScript(opts.Script)
	if err != nil {
		return nil, err
	}

	var recorded []telemetry.Event
	if opts.Events != "" {
		if recorded, err = sim.ReadEventLog(opts.Events); err != nil {
			return nil, err
		}
	}
	ticks := opts.Ticks
	if ticks <= 0 {
		switch {
		case len(recorded) > 0:
			ticks = int(recorded[len(recorded)-1].Tick) + 1
		default:
			return nil, fmt.Errorf("--ticks is required without a recorded event log")
		}
	}

	var collector sim.EventCollector
	s, err := sim.NewSimulator(cfg, catalog, &collector, 0)
	if err != nil {
		return nil, err
	}
	s.SetSource(script)
	log.Info("replaying", "script", opts.Script, "ticks", ticks, "seed", cfg.Seed)
	s.RunTicks(ctx, ticks)

	res := &replayResult{Ticks: ticks, Events: len(collector.Events), Digest: telemetry.Digest(collector.Events), Divergence: -1}
	switch {
	case opts.Events != "":
		res.Want = telemetry.Digest(recorded)
		res.Divergence = firstDivergence(collector.Events, recorded)
	case opts.Digest != "":
		res.Want = opts.Digest
	}
	if res.Want != "" && res.Want != res.Digest {
		return res, errDigestMismatch
	}
	if left := script.Remaining(); left > 0 {
		log.Warn("script arrivals past the last replayed tick", "remaining", left)
	}
	return res, nil
}

func firstDivergence(got, want []telemetry.Event) int {
	n := min(len(got), len(want))
	for i := range n {
		a, b := got[i], want[i]
		a.RunID, b.RunID = "", ""
		if telemetry.Digest([]telemetry.Event{a}) != telemetry.Digest([]telemetry.Event{b}) {
			return i
		}
	}
	if len(got) != len(want) {
		return n
	}
	return -1
}

func printReplay(w io.Writer, r *replayResult) {
	fmt.Fprintf(w, "ticks:  %d\nevents: %d\ndigest: %s\n", r.Ticks, r.Events, r.Digest)
	if r.Want == "" {
		return
	}
	if r.Want == r.Digest {
		fmt.Fprintln(w, "match:  yes")
		return
	}
	fmt.Fprintf(w, "want:   %s\nmatch:  no\n", r.Want)
	if r.Divergence >= 0 {
		fmt.Fprintf(w, "first divergence at event %d\n", r.Divergence)
	}
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayConfigPath, "config", "workyard.yaml", "Colony configuration the run used")
	f.StringSliceVar(&replayPipelines, "pipelines", nil, "Extra pipeline definition files the run used")
	f.StringVar(&replayScript, "script", "", "Arrival script recorded with simulate --record")
	f.StringVar(&replayEvents, "events", "", "Event log recorded with simulate --log-file")
	f.StringVar(&replayDigest, "expect-digest", "", "Digest the replay must reproduce")
	f.IntVar(&replayTicks, "ticks", 0, "Ticks to run (default: up to the last recorded event)")
	f.BoolVar(&replayPlayback, "playback", false, "Stream the --events log to the writers instead of re-simulating")
	f.Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0: as fast as possible)")
	f.BoolVar(&replayPrintOnly, "print-only", false, "Print played-back events to STDOUT instead of writing to DB")
}
