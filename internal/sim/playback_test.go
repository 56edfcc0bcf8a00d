package sim

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"workyard-sim/internal/telemetry"
)

func TestReplayLog(t *testing.T) {
	events := []telemetry.Event{
		{RunID: "r1", Tick: 0, Kind: telemetry.EventDispatched, JobID: 1, Timestamp: time.Unix(0, 0)},
		{RunID: "r1", Tick: 1, Kind: telemetry.EventCompleted, JobID: 1, Timestamp: time.Unix(1, 0)},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	var c EventCollector
	if err := ReplayLog(&buf, &c, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if len(c.Events) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(c.Events))
	}
	for i, ev := range events {
		if c.Events[i].Kind != ev.Kind || c.Events[i].Tick != ev.Tick {
			t.Fatalf("event %d mismatch: %+v vs %+v", i, c.Events[i], ev)
		}
	}
	if telemetry.Digest(c.Events) != telemetry.Digest(events) {
		t.Fatalf("digest changed across a log round trip")
	}
}

func TestReplayLogRejectsGarbage(t *testing.T) {
	var c EventCollector
	if err := ReplayLog(bytes.NewBufferString("{not json"), &c, 0); err == nil {
		t.Fatalf("expected decode error")
	}
}
