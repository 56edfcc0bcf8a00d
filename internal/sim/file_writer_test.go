package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"workyard-sim/internal/telemetry"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	ts := time.Unix(0, 0).UTC()
	ev := telemetry.Event{RunID: "r1", Tick: 3, Kind: telemetry.EventFault, WorkerID: 2, JobID: 9, Op: "decode", FaultKind: "thermal", Attempt: 1, Probability: 0.2, Timestamp: ts}
	st := telemetry.YardStateRow{RunID: "r1", Tick: 3, YardID: 1, Name: "north", Heat: 12.5, Running: 4, Timestamp: ts}

	cases := []struct {
		name   string
		path   string
		write  func(*FileWriter) error
		decode func([]byte)
	}{
		{
			name:  "event",
			path:  filepath.Join(dir, "events.jsonl"),
			write: func(fw *FileWriter) error { return fw.WriteEvents([]telemetry.Event{ev}) },
			decode: func(b []byte) {
				var got telemetry.Event
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				if got.FaultKind != ev.FaultKind || got.JobID != ev.JobID || got.Probability != ev.Probability {
					t.Fatalf("unexpected event: %#v", got)
				}
			},
		},
		{
			name:  "state",
			path:  filepath.Join(dir, "state.jsonl"),
			write: func(fw *FileWriter) error { return fw.WriteState(st) },
			decode: func(b []byte) {
				var got telemetry.YardStateRow
				if err := json.Unmarshal(b, &got); err != nil {
					t.Fatalf("decode state: %v", err)
				}
				if got.Name != st.Name || got.Heat != st.Heat || got.Running != st.Running {
					t.Fatalf("unexpected state: %#v", got)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := filepath.Join(dir, tc.name+"_events.jsonl")
			var state string
			switch tc.name {
			case "event":
				events = tc.path
			case "state":
				state = tc.path
			}
			fw, err := NewFileWriter(events, state)
			if err != nil {
				t.Fatalf("NewFileWriter: %v", err)
			}
			if err := tc.write(fw); err != nil {
				t.Fatalf("write: %v", err)
			}
			fw.Close()
			data, err := os.ReadFile(tc.path)
			if err != nil {
				t.Fatalf("read file: %v", err)
			}
			tc.decode(data)
		})
	}
}

func TestFileWriterCloseFlushesSingleEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	fw, err := NewFileWriter(path, "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	for i := range 3 {
		if err := fw.WriteEvent(telemetry.Event{Tick: uint64(i), Kind: telemetry.EventProgress}); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := fw.WriteState(telemetry.YardStateRow{}); err != nil {
		t.Fatalf("state write without a state file should be a no-op: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}
