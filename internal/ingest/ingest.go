// Package ingest turns externally produced job requests into queue jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/queue"
	"workyard-sim/internal/telemetry"
)

// ErrUnknownPipeline is returned when an arrival names a pipeline the
// catalog does not hold.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Arrival is a request to enqueue one job. Zero-valued optional fields take
// the catalog entry's values.
type Arrival struct {
	Tick        uint64 `json:"tick"`
	ID          uint64 `json:"id,omitempty"`
	Pipeline    string `json:"pipeline"`
	QoS         string `json:"qos,omitempty"`
	DeadlineMs  uint64 `json:"deadline_ms,omitempty"`
	PayloadSize int    `json:"payload_size,omitempty"`
	// Worker pins a maintenance arrival to one worker. Zero lets any worker
	// take it.
	Worker uint64 `json:"worker,omitempty"`
}

// IsMaintenance reports whether the arrival asks for a maintenance job.
func (a Arrival) IsMaintenance() bool {
	return a.Pipeline == pipeline.OpMaintenance.String()
}

// Source yields the arrivals due at a tick. Ticks passed to Poll never
// decrease.
type Source interface {
	Poll(ctx context.Context, tick uint64) ([]Arrival, error)
}

// Resolve builds the job for an arrival. id is used when the arrival does
// not carry its own.
func Resolve(cat *pipeline.Catalog, a Arrival, id uint64) (queue.Job, error) {
	if a.ID != 0 {
		id = a.ID
	}
	if a.PayloadSize < 0 {
		return queue.Job{}, fmt.Errorf("arrival %d: negative payload size %d", id, a.PayloadSize)
	}
	spec, ok := cat.Lookup(a.Pipeline)
	if !ok {
		return queue.Job{}, fmt.Errorf("arrival %d: %w: %q", id, ErrUnknownPipeline, a.Pipeline)
	}
	job := queue.NewJob(id, spec)
	if a.QoS != "" {
		q, err := pipeline.ParseQoS(a.QoS)
		if err != nil {
			return queue.Job{}, fmt.Errorf("arrival %d: %w", id, err)
		}
		job.QoS = q
	}
	if a.DeadlineMs != 0 {
		job.DeadlineMs = a.DeadlineMs
	}
	if a.PayloadSize != 0 {
		job.PayloadSize = a.PayloadSize
	}
	return job, nil
}

// Multi polls several sources in order and concatenates their arrivals.
type Multi []Source

// Poll implements Source. It stops at the first failing source.
func (m Multi) Poll(ctx context.Context, tick uint64) ([]Arrival, error) {
	var out []Arrival
	for _, s := range m {
		as, err := s.Poll(ctx, tick)
		if err != nil {
			return out, err
		}
		out = append(out, as...)
	}
	return out, nil
}

// Observe forwards tick events to every member that reacts to them.
func (m Multi) Observe(events []telemetry.Event) {
	for _, s := range m {
		if o, ok := s.(interface{ Observe([]telemetry.Event) }); ok {
			o.Observe(events)
		}
	}
}
