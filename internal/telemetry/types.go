// Package telemetry defines the event and state rows emitted by the
// simulation.
package telemetry

import (
	"os"
	"time"
)

// EventKind names what happened to a job or worker.
type EventKind string

const (
	EventDispatched EventKind = "dispatched"
	EventProgress   EventKind = "progress"
	EventFault      EventKind = "fault"
	EventCompleted  EventKind = "completed"
	EventAbandoned  EventKind = "abandoned"
)

// Event is one externally observable outcome of a tick. Events flow one way,
// from the colony to its sinks.
type Event struct {
	RunID       string    `json:"run_id,omitempty"` // TAG
	Tick        uint64    `json:"tick"`
	Kind        EventKind `json:"kind"`      // TAG
	YardID      uint64    `json:"yard_id"`   // FIELD
	WorkerID    uint64    `json:"worker_id"` // FIELD
	JobID       uint64    `json:"job_id"`    // FIELD
	Op          string    `json:"op,omitempty"`
	Ms          float64   `json:"ms,omitempty"`
	FaultKind   string    `json:"fault_kind,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Probability float64   `json:"p,omitempty"`
	Timestamp   time.Time `json:"ts"` // TIME INDEX, simulated
}

// YardStateRow captures one workyard at the end of a tick.
type YardStateRow struct {
	RunID            string    `json:"run_id"`
	Tick             uint64    `json:"tick"`
	YardID           uint64    `json:"yard_id"`
	Name             string    `json:"name"`
	Heat             float64   `json:"heat"`
	HeatCap          float64   `json:"heat_cap"`
	Throttle         float64   `json:"throttle"`
	PowerDraw        float64   `json:"power_draw_kw"`
	Utilization      float64   `json:"utilization"`
	Running          int       `json:"running"`
	Maintenance      int       `json:"maintenance"`
	Idle             int       `json:"idle"`
	Faulted          int       `json:"faulted"`
	MeanCorruption   float64   `json:"mean_corruption"`
	GlobalCorruption float64   `json:"global_corruption"`
	QueueDepth       int       `json:"queue_depth"`
	Timestamp        time.Time `json:"ts"`
}

// EventTableName is the GreptimeDB table for events. It defaults to
// "workyard_events" and can be overridden via WORKYARD_EVENT_TABLE.
var EventTableName = func() string {
	if env := os.Getenv("WORKYARD_EVENT_TABLE"); env != "" {
		return env
	}
	return "workyard_events"
}()

// StateTableName is the GreptimeDB table for yard state rows, overridable via
// WORKYARD_STATE_TABLE.
var StateTableName = func() string {
	if env := os.Getenv("WORKYARD_STATE_TABLE"); env != "" {
		return env
	}
	return "workyard_state"
}()
