package sim

import "workyard-sim/internal/telemetry"

// EventWriter receives the events a tick produced. Implementations must not
// block for long; the bus drops the oldest events when they fall behind.
type EventWriter interface {
	WriteEvent(telemetry.Event) error
}

// Optional: event writers may support batch mode
type batchEventWriter interface {
	WriteEvents([]telemetry.Event) error
}

// StateWriter handles per-yard state rows written once per tick.
type StateWriter interface {
	WriteState(telemetry.YardStateRow) error
}

// Optional: writers may support batch mode for state rows.
type batchStateWriter interface {
	WriteStates([]telemetry.YardStateRow) error
}

// writeEvents uses the batch path when w supports it.
func writeEvents(w EventWriter, events []telemetry.Event) error {
	if bw, ok := w.(batchEventWriter); ok {
		return bw.WriteEvents(events)
	}
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func writeStates(w StateWriter, rows []telemetry.YardStateRow) error {
	if bw, ok := w.(batchStateWriter); ok {
		return bw.WriteStates(rows)
	}
	for _, r := range rows {
		if err := w.WriteState(r); err != nil {
			return err
		}
	}
	return nil
}
