// Package sim runs the colony: workyards, workers, the job queue and the
// event writers fed by each tick.
package sim

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"workyard-sim/internal/clock"
	"workyard-sim/internal/config"
	"workyard-sim/internal/fault"
	"workyard-sim/internal/queue"
	"workyard-sim/internal/resource"
)

// ErrUnknownWorker is returned when a worker id does not exist in the colony.
var ErrUnknownWorker = errors.New("unknown worker id")

// WorkerState is the run state of a worker.
type WorkerState uint8

const (
	Idle WorkerState = iota
	Running
	Faulted
	Maintenance
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	case Maintenance:
		return "maintenance"
	}
	return fmt.Sprintf("worker_state(%d)", uint8(s))
}

// MarshalText lets worker states appear by name in JSON.
func (s WorkerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (s *WorkerState) UnmarshalText(b []byte) error {
	for _, st := range []WorkerState{Idle, Running, Faulted, Maintenance} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", b)
}

// Worker is one compute host. It refers to its job by id only.
type Worker struct {
	ID         uint64      `json:"id"`
	State      WorkerState `json:"state"`
	Discipline float64     `json:"discipline"`
	Corruption float64     `json:"corruption"`
	JobID      uint64      `json:"job_id,omitempty"`
	Progress   float64     `json:"progress_ms,omitempty"`
}

// Workyard is a resource pool owning its workers.
type Workyard struct {
	ID        uint64   `json:"id"`
	Name      string   `json:"name"`
	PowerDraw float64  `json:"power_draw_kw"`
	Heat      float64  `json:"heat"`
	HeatCap   float64  `json:"heat_cap"`
	Workers   []Worker `json:"workers"`
}

// HeatFraction is heat relative to capacity, clamped to [0,1].
func (y *Workyard) HeatFraction() float64 {
	if y.HeatCap <= 0 {
		return 1
	}
	return min(1, max(0, y.Heat/y.HeatCap))
}

// Count returns how many workers are in state st.
func (y *Workyard) Count(st WorkerState) int {
	n := 0
	for i := range y.Workers {
		if y.Workers[i].State == st {
			n++
		}
	}
	return n
}

// MeanCorruption averages worker corruption across the yard.
func (y *Workyard) MeanCorruption() float64 {
	if len(y.Workers) == 0 {
		return 0
	}
	var sum float64
	for i := range y.Workers {
		sum += y.Workers[i].Corruption
	}
	return sum / float64(len(y.Workers))
}

// Colony is the aggregate root of a simulation run. It is not safe for
// concurrent use; Simulator serialises access.
type Colony struct {
	Seed              uint64
	TargetUptime      float64
	PowerCapacity     float64
	BandwidthCapacity float64
	PowerDraw         float64
	BandwidthUtil     float64
	Field             fault.Field
	Resource          resource.Tunables
	Corruption        fault.Tunables
	Yards             []*Workyard
	Queue             *queue.JobQueue
	Clock             *clock.Clock

	tickMs      uint64
	tick        uint64
	nextJobID   uint64
	pinned      map[uint64]uint64 // maintenance job id -> target worker id
	workerTicks uint64
	faultTicks  uint64

	// decide reports whether an op with fault probability p faults. Replaced
	// only in tests.
	decide func(rng *rand.Rand, p float64) bool
}

// NewColony builds a colony from a validated configuration. Worker ids are
// assigned sequentially from 1 across yards in configuration order.
func NewColony(cfg *config.GameConfig) (*Colony, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scale, err := cfg.Scale()
	if err != nil {
		return nil, err
	}
	start, err := cfg.StartTime()
	if err != nil {
		return nil, err
	}
	c := &Colony{
		Seed:              cfg.Seed,
		TargetUptime:      cfg.TargetUptime,
		PowerCapacity:     cfg.PowerCapacityKW,
		BandwidthCapacity: cfg.BandwidthCapacity,
		Resource:          cfg.Resource,
		Corruption:        cfg.Corruption,
		Queue:             queue.New(cfg.Clock.TickMs),
		Clock:             clock.New(scale, cfg.Frame(), start),
		tickMs:            cfg.Clock.TickMs,
		nextJobID:         1,
		pinned:            make(map[uint64]uint64),
		decide:            func(rng *rand.Rand, p float64) bool { return rng.Float64() < p },
	}
	var wid uint64
	for i, yc := range cfg.Yards {
		y := &Workyard{ID: uint64(i + 1), Name: yc.Name, HeatCap: yc.HeatCap}
		for range yc.Workers {
			wid++
			y.Workers = append(y.Workers, Worker{ID: wid, Discipline: yc.Discipline})
		}
		y.PowerDraw = resource.PowerDraw(0, len(y.Workers), c.Resource)
		c.PowerDraw += y.PowerDraw
		c.Yards = append(c.Yards, y)
	}
	return c, nil
}

// Tick returns the number of the next tick to run.
func (c *Colony) Tick() uint64 { return c.tick }

// TickMs is the frame length of one tick in milliseconds.
func (c *Colony) TickMs() uint64 { return c.tickMs }

// Now returns the simulated date.
func (c *Colony) Now() time.Time { return c.Clock.Now }

// NextJobID returns an id no job admitted so far has used.
func (c *Colony) NextJobID() uint64 { return c.nextJobID }

// Enqueue admits job at the current tick.
func (c *Colony) Enqueue(job queue.Job) error {
	if err := c.Queue.Push(job, c.tick); err != nil {
		return err
	}
	if job.ID >= c.nextJobID {
		c.nextJobID = job.ID + 1
	}
	return nil
}

// EnqueueMaintenance queues a maintenance job. A non-zero workerID pins it to
// that worker; zero lets any idle worker take it.
func (c *Colony) EnqueueMaintenance(workerID uint64) (uint64, error) {
	if workerID != 0 {
		if _, _, ok := c.findWorker(workerID); !ok {
			return 0, fmt.Errorf("maintenance for worker %d: %w", workerID, ErrUnknownWorker)
		}
	}
	id := c.nextJobID
	if err := c.Enqueue(queue.NewMaintenanceJob(id)); err != nil {
		return 0, err
	}
	if workerID != 0 {
		c.pinned[id] = workerID
	}
	return id, nil
}

// Worker returns a copy of the worker with id.
func (c *Colony) Worker(id uint64) (Worker, bool) {
	yi, wi, ok := c.findWorker(id)
	if !ok {
		return Worker{}, false
	}
	return c.Yards[yi].Workers[wi], true
}

func (c *Colony) findWorker(id uint64) (int, int, bool) {
	for yi, y := range c.Yards {
		for wi := range y.Workers {
			if y.Workers[wi].ID == id {
				return yi, wi, true
			}
		}
	}
	return 0, 0, false
}

// Uptime is the fraction of worker-ticks not spent faulted. It is 1 before
// the first tick.
func (c *Colony) Uptime() float64 {
	if c.workerTicks == 0 {
		return 1
	}
	return 1 - float64(c.faultTicks)/float64(c.workerTicks)
}

// MeetsTarget reports whether uptime is at or above the configured target.
func (c *Colony) MeetsTarget() bool { return c.Uptime() >= c.TargetUptime }

// Status summarises the colony for operators.
type Status struct {
	Tick             uint64    `json:"tick"`
	Now              time.Time `json:"now"`
	Scale            string    `json:"scale"`
	PowerDraw        float64   `json:"power_draw_kw"`
	PowerCapacity    float64   `json:"power_capacity_kw"`
	BandwidthUtil    float64   `json:"bandwidth_util"`
	GlobalCorruption float64   `json:"global_corruption"`
	Queued           int       `json:"queued"`
	BackingOff       int       `json:"backing_off"`
	InFlight         int       `json:"in_flight"`
	Uptime           float64   `json:"uptime"`
	TargetUptime     float64   `json:"target_uptime"`
}

// Status returns a snapshot of the colony meters.
func (c *Colony) Status() Status {
	return Status{
		Tick:             c.tick,
		Now:              c.Clock.Now,
		Scale:            c.Clock.Scale.String(),
		PowerDraw:        c.PowerDraw,
		PowerCapacity:    c.PowerCapacity,
		BandwidthUtil:    c.BandwidthUtil,
		GlobalCorruption: c.Field.Global,
		Queued:           c.Queue.Ready(),
		BackingOff:       c.Queue.BackingOff(),
		InFlight:         c.Queue.Len() - c.Queue.Ready() - c.Queue.BackingOff(),
		Uptime:           c.Uptime(),
		TargetUptime:     c.TargetUptime,
	}
}
