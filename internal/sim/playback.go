package sim

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"workyard-sim/internal/telemetry"
)

// ReplayLog replays events from a JSONL log to writer. A speed >0 paces
// playback by the recorded simulated timestamps, accelerated by speed. If
// speed <= 0, no artificial delay is inserted.
func ReplayLog(r io.Reader, writer EventWriter, speed float64) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var ev telemetry.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := ev.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				time.Sleep(diff)
			}
		}
		if err := writer.WriteEvent(ev); err != nil {
			return err
		}
		prev = ev.Timestamp
	}
}

// ReplayLogFile opens a file and replays its events.
func ReplayLogFile(path string, writer EventWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(f, writer, speed)
}

// EventCollector is an EventWriter that keeps every event in memory.
type EventCollector struct {
	Events []telemetry.Event
}

// WriteEvent appends ev.
func (c *EventCollector) WriteEvent(ev telemetry.Event) error {
	c.Events = append(c.Events, ev)
	return nil
}

// ReadEventLog loads every event in a JSONL log.
func ReadEventLog(path string) ([]telemetry.Event, error) {
	var c EventCollector
	if err := ReplayLogFile(path, &c, 0); err != nil {
		return nil, err
	}
	return c.Events, nil
}
