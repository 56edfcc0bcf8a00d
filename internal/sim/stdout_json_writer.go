package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"workyard-sim/internal/telemetry"
)

// JSONStdoutWriter prints events and yard state as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	out    io.Writer
	states bool
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout. State
// rows are printed only when withStates is set.
func NewJSONStdoutWriter(withStates bool) *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout, states: withStates}
}

// WriteEvent outputs an event in JSON format.
func (w *JSONStdoutWriter) WriteEvent(ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteEvents outputs multiple events in JSON format.
func (w *JSONStdoutWriter) WriteEvents(events []telemetry.Event) error {
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// WriteState outputs a yard state row in JSON format.
func (w *JSONStdoutWriter) WriteState(row telemetry.YardStateRow) error {
	if !w.states {
		return nil
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
