package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"workyard-sim/internal/config"
	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/telemetry"
)

// ArrivalRecorder persists admitted arrivals for later replay.
type ArrivalRecorder interface {
	Record(ingest.Arrival) error
}

// EventObserver is implemented by sources that react to what the colony did,
// such as scenario triggers.
type EventObserver interface {
	Observe([]telemetry.Event)
}

// Simulator owns a colony and serialises every access to it.
type Simulator struct {
	runID        string
	colony       *Colony
	catalog      *pipeline.Catalog
	bus          *Bus
	stateWriter  StateWriter
	source       ingest.Source
	recorder     ArrivalRecorder
	metrics      *Metrics
	onStatus     []func(Status)
	tickInterval time.Duration
	mu           sync.Mutex
}

// NewSimulator builds the colony described by cfg. Events go to writer
// through a non-blocking bus; writer may be nil.
func NewSimulator(cfg *config.GameConfig, catalog *pipeline.Catalog, writer EventWriter, tickInterval time.Duration) (*Simulator, error) {
	colony, err := NewColony(cfg)
	if err != nil {
		return nil, err
	}
	if tickInterval <= 0 {
		tickInterval = cfg.Frame()
	}
	return &Simulator{
		runID:        uuid.NewString(),
		colony:       colony,
		catalog:      catalog,
		bus:          NewBus(writer, 0),
		tickInterval: tickInterval,
	}, nil
}

// RunID tags every row this run emits.
func (s *Simulator) RunID() string { return s.runID }

// SetStateWriter registers the writer for per-tick yard state rows.
func (s *Simulator) SetStateWriter(w StateWriter) { s.stateWriter = w }

// SetSource registers the producer polled at the start of every tick.
func (s *Simulator) SetSource(src ingest.Source) { s.source = src }

// SetRecorder registers where admitted arrivals are recorded.
func (s *Simulator) SetRecorder(r ArrivalRecorder) { s.recorder = r }

// SetMetrics registers the Prometheus exporter.
func (s *Simulator) SetMetrics(m *Metrics) { s.metrics = m }

// OnStatus registers a callback receiving colony status after every tick.
func (s *Simulator) OnStatus(fn func(Status)) { s.onStatus = append(s.onStatus, fn) }

// Bus exposes the event bus.
func (s *Simulator) Bus() *Bus { return s.bus }

// Catalog returns the pipeline catalog jobs are resolved against.
func (s *Simulator) Catalog() *pipeline.Catalog { return s.catalog }

// Enqueue admits one arrival before the next tick and returns the job id.
func (s *Simulator) Enqueue(ctx context.Context, a ingest.Arrival) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admit(ctx, a)
}

// EnqueueMaintenance queues a maintenance job, pinned to workerID when it is
// non-zero.
func (s *Simulator) EnqueueMaintenance(ctx context.Context, workerID uint64) (uint64, error) {
	return s.Enqueue(ctx, ingest.Arrival{Pipeline: pipeline.OpMaintenance.String(), Worker: workerID})
}

// admit must be called with s.mu held.
func (s *Simulator) admit(ctx context.Context, a ingest.Arrival) (uint64, error) {
	var id uint64
	if a.IsMaintenance() {
		var err error
		if id, err = s.colony.EnqueueMaintenance(a.Worker); err != nil {
			return 0, err
		}
	} else {
		job, err := ingest.Resolve(s.catalog, a, s.colony.NextJobID())
		if err != nil {
			return 0, err
		}
		if err := s.colony.Enqueue(job); err != nil {
			return 0, err
		}
		id = job.ID
	}
	if s.recorder != nil {
		a.Tick, a.ID = s.colony.Tick(), id
		if err := s.recorder.Record(a); err != nil {
			logging.FromContext(ctx).Warn("record arrival failed", "job_id", id, "err", err)
		}
	}
	return id, nil
}

// Status returns the colony meters.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colony.Status()
}

// Yards returns a deep copy of every workyard.
func (s *Simulator) Yards() []Workyard {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Workyard, len(s.colony.Yards))
	for i, y := range s.colony.Yards {
		out[i] = *y
		out[i].Workers = append([]Worker(nil), y.Workers...)
	}
	return out
}

// Worker returns a copy of one worker.
func (s *Simulator) Worker(id uint64) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.colony.Worker(id)
	if !ok {
		return Worker{}, fmt.Errorf("worker %d: %w", id, ErrUnknownWorker)
	}
	return w, nil
}

// ReloadPipelines replaces the catalog with the built-in definitions plus
// those in files. On any error the catalog is left untouched.
func (s *Simulator) ReloadPipelines(files []string) error {
	defs := pipeline.BuiltIn()
	for _, f := range files {
		more, err := pipeline.LoadDefs(f)
		if err != nil {
			return err
		}
		defs = append(defs, more...)
	}
	return s.catalog.Replace(defs)
}
