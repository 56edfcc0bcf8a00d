package sim

import (
	"errors"

	"workyard-sim/internal/telemetry"
)

// MultiWriter fans events and state rows out to multiple writers.
type MultiWriter struct {
	events []EventWriter
	states []StateWriter
}

// NewMultiWriter creates a new MultiWriter. Writers implementing both
// interfaces may appear in both lists.
func NewMultiWriter(ews []EventWriter, sws []StateWriter) *MultiWriter {
	return &MultiWriter{events: ews, states: sws}
}

// WriteEvent sends an event to all event writers.
func (mw *MultiWriter) WriteEvent(ev telemetry.Event) error {
	return mw.WriteEvents([]telemetry.Event{ev})
}

// WriteEvents sends a batch to every writer, using batch mode if supported.
// A failing writer does not starve the others; all errors are joined.
func (mw *MultiWriter) WriteEvents(events []telemetry.Event) error {
	var errs []error
	for _, w := range mw.events {
		if err := writeEvents(w, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteState sends a state row to all state writers.
func (mw *MultiWriter) WriteState(row telemetry.YardStateRow) error {
	return mw.WriteStates([]telemetry.YardStateRow{row})
}

// WriteStates sends state rows to all state writers.
func (mw *MultiWriter) WriteStates(rows []telemetry.YardStateRow) error {
	var errs []error
	for _, w := range mw.states {
		if err := writeStates(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
