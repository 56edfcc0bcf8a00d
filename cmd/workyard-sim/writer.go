package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"workyard-sim/internal/logging"
	"workyard-sim/internal/sim"
)

const defaultGreptimePort = 4001

// writerOptions selects the sinks a run writes to.
type writerOptions struct {
	PrintOnly bool
	TUI       bool
	Progress  bool
	States    bool
	LogFile   string
	Yards     []string
	Metrics   *sim.Metrics
}

// writers is the assembled sink set for one run.
type writers struct {
	Events sim.EventWriter
	States sim.StateWriter
	TUI    *sim.TUIWriter
	close  []func() error
}

// Close releases every sink that holds a resource.
func (w *writers) Close() error {
	var first error
	for _, c := range w.close {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newWriters sets up event and state writers based on flags and env vars.
func newWriters(ctx context.Context, opts writerOptions) (*writers, error) {
	out := &writers{}
	ew, sw, err := baseWriters(ctx, opts, out)
	if err != nil {
		return nil, err
	}
	ews := []sim.EventWriter{ew}
	sws := []sim.StateWriter{}
	if sw != nil {
		sws = append(sws, sw)
	}
	if opts.LogFile != "" {
		statePath := ""
		if opts.States {
			statePath = opts.LogFile + ".state"
		}
		fw, err := sim.NewFileWriter(opts.LogFile, statePath)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out.close = append(out.close, fw.Close)
		ews = append(ews, fw)
		if opts.States {
			sws = append(sws, fw)
		}
	}
	// Metrics are fed by the simulator directly; only events pass through here.
	if opts.Metrics != nil {
		ews = append(ews, opts.Metrics)
	}
	if len(ews) == 1 && len(sws) <= 1 {
		out.Events = ew
		out.States = sw
		return out, nil
	}
	mw := sim.NewMultiWriter(ews, sws)
	out.Events, out.States = mw, mw
	return out, nil
}

// baseWriters chooses the primary sink: the TUI on a terminal, GreptimeDB
// when GREPTIMEDB_ENDPOINT is set, JSON on STDOUT otherwise.
func baseWriters(ctx context.Context, opts writerOptions, out *writers) (sim.EventWriter, sim.StateWriter, error) {
	if opts.TUI {
		tw := sim.NewTUIWriter(opts.Yards, opts.Progress)
		out.TUI = tw
		out.close = append(out.close, tw.Close)
		return tw, tw, nil
	}
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if opts.PrintOnly || endpoint == "" {
		w := sim.NewJSONStdoutWriter(opts.States)
		if opts.States {
			return w, w, nil
		}
		return w, nil, nil
	}
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}
	db := os.Getenv("GREPTIMEDB_DATABASE")
	if db == "" {
		db = "public"
	}
	w, err := sim.NewGreptimeDBWriter(host, port, db)
	if err != nil {
		return nil, nil, err
	}
	logging.FromContext(ctx).Info("writing to greptimedb", "host", host, "port", port, "database", db)
	return w, w, nil
}

// splitEndpoint parses host[:port].
func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid GREPTIMEDB_ENDPOINT port %q", portStr)
	}
	return host, port, nil
}
