package sim

import (
	"context"
	"time"

	"workyard-sim/internal/logging"
	"workyard-sim/internal/telemetry"
)

// Run starts the simulation loop and stops when the context is done. Events
// are delivered by the bus on its own goroutine.
func (s *Simulator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting simulator", "run_id", s.runID, "tick_interval", s.tickInterval, "seed", s.colony.Seed)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	busDone := make(chan struct{})
	go func() {
		s.bus.Run(ctx)
		close(busDone)
	}()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			<-busDone
			st := s.Status()
			log.Info("stopping simulator", "tick", st.Tick, "uptime", st.Uptime, "meets_target", st.Uptime >= st.TargetUptime, "dropped_events", s.bus.Dropped())
			return
		}
	}
}

// RunTicks runs n ticks back to back on the calling goroutine and delivers
// their events before returning.
func (s *Simulator) RunTicks(ctx context.Context, n int) {
	for range n {
		if ctx.Err() != nil {
			break
		}
		s.tick(ctx)
		s.bus.Flush(ctx)
	}
}

// tick admits due arrivals, steps the colony and hands the results to the
// writers.
func (s *Simulator) tick(ctx context.Context) {
	log := logging.FromContext(ctx)

	s.mu.Lock()
	tick := s.colony.Tick()
	if s.source != nil {
		arrivals, err := s.source.Poll(ctx, tick)
		if err != nil {
			log.Error("poll arrivals failed", "tick", tick, "err", err)
		}
		for _, a := range arrivals {
			if _, err := s.admit(ctx, a); err != nil {
				log.Warn("arrival rejected", "tick", tick, "pipeline", a.Pipeline, "err", err)
			}
		}
	}
	events := s.colony.Step()
	for i := range events {
		events[i].RunID = s.runID
	}
	states := s.colony.YardStates(s.runID)
	status := s.colony.Status()
	s.mu.Unlock()

	s.bus.Publish(events)
	if obs, ok := s.source.(EventObserver); ok {
		obs.Observe(events)
	}

	if s.stateWriter != nil {
		if err := writeStates(s.stateWriter, states); err != nil {
			log.Error("state write failed", "tick", tick, "err", err)
		}
	}
	if s.metrics != nil {
		for _, r := range states {
			_ = s.metrics.WriteState(r)
		}
		s.metrics.ObserveStatus(status, s.bus.Dropped())
	}
	for _, fn := range s.onStatus {
		fn(status)
	}

	if n := countKind(events, telemetry.EventFault); n > 0 {
		log.Debug("tick faults", "tick", tick, "faults", n, "global_corruption", status.GlobalCorruption)
	}
}

func countKind(events []telemetry.Event, kind telemetry.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
