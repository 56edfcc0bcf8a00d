package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"workyard-sim/internal/ingest"
	"workyard-sim/internal/sim"
	"workyard-sim/internal/telemetry"
)

// recordRun simulates a scenario while recording arrivals and events.
func recordRun(t *testing.T, dir string) (cfgPath, script, events string) {
	t.Helper()
	ctx := context.Background()
	cfgPath = filepath.Join(dir, "workyard.yaml")
	script = filepath.Join(dir, "arrivals.jsonl")
	events = filepath.Join(dir, "events.jsonl")

	cfg, err := loadConfig(ctx, cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := loadCatalog(nil)
	if err != nil {
		t.Fatal(err)
	}
	fw, err := sim.NewFileWriter(events, "")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := ingest.NewRecorder(script)
	if err != nil {
		t.Fatal(err)
	}
	s, err := sim.NewSimulator(cfg, cat, fw, 0)
	if err != nil {
		t.Fatal(err)
	}
	src, _, err := newSource(ctx, sourceOptions{Scenario: "surge"}, cat, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	s.SetSource(src)
	s.SetRecorder(rec)
	s.RunTicks(ctx, 150)
	if _, err := s.EnqueueMaintenance(ctx, 0); err != nil {
		t.Fatal(err)
	}
	s.RunTicks(ctx, 150)
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	return cfgPath, script, events
}

func TestReplayReproducesRecordedRun(t *testing.T) {
	t.Setenv("WORKYARD_SEED", "")
	cfgPath, script, events := recordRun(t, t.TempDir())

	res, err := runReplay(context.Background(), replayOptions{ConfigPath: cfgPath, Script: script, Events: events})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Events == 0 || res.Divergence != -1 || res.Digest != res.Want {
		t.Fatalf("unexpected result %+v", res)
	}

	var out bytes.Buffer
	printReplay(&out, res)
	if !strings.Contains(out.String(), "match:  yes") {
		t.Fatalf("unexpected report %q", out.String())
	}

	// the same digest is reproduced from the digest alone
	again, err := runReplay(context.Background(), replayOptions{ConfigPath: cfgPath, Script: script, Digest: res.Digest, Ticks: res.Ticks})
	if err != nil || again.Digest != res.Digest {
		t.Fatalf("digest replay: %v %+v", err, again)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	t.Setenv("WORKYARD_SEED", "")
	cfgPath, script, events := recordRun(t, t.TempDir())
	ctx := context.Background()

	// stopping early leaves the replay a strict prefix of the log
	res, err := runReplay(ctx, replayOptions{ConfigPath: cfgPath, Script: script, Events: events, Ticks: 20})
	if !errors.Is(err, errDigestMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if res.Divergence != res.Events {
		t.Fatalf("expected divergence at %d, got %d", res.Events, res.Divergence)
	}

	_, err = runReplay(ctx, replayOptions{ConfigPath: cfgPath, Script: script, Digest: "deadbeef", Ticks: 20})
	if !errors.Is(err, errDigestMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	if _, err := runReplay(ctx, replayOptions{ConfigPath: cfgPath, Script: script}); err == nil {
		t.Fatalf("expected error without ticks or event log")
	}
}

func TestFirstDivergence(t *testing.T) {
	a := []telemetry.Event{{Tick: 0, Kind: telemetry.EventDispatched, JobID: 1}, {Tick: 1, Kind: telemetry.EventCompleted, JobID: 1}}
	b := []telemetry.Event{{RunID: "other", Tick: 0, Kind: telemetry.EventDispatched, JobID: 1}, {Tick: 1, Kind: telemetry.EventFault, JobID: 1}}
	if got := firstDivergence(a, a); got != -1 {
		t.Fatalf("expected no divergence, got %d", got)
	}
	if got := firstDivergence(a, b); got != 1 {
		t.Fatalf("expected divergence at 1, got %d", got)
	}
	if got := firstDivergence(a[:1], b[:1]); got != -1 {
		t.Fatalf("run ids must not count as divergence, got %d", got)
	}
	if got := firstDivergence(a, a[:1]); got != 1 {
		t.Fatalf("expected length divergence at 1, got %d", got)
	}
}
