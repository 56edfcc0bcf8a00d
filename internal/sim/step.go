package sim

import (
	"cmp"
	"math"
	"slices"

	"workyard-sim/internal/fault"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/queue"
	"workyard-sim/internal/resource"
	"workyard-sim/internal/telemetry"
)

// stress is the tick-start view every fault decision in a tick reads.
type stress struct {
	global     float64
	bandwidth  float64
	starvation float64
	heatFrac   []float64
	throttle   []float64
	corruption [][]float64
}

func (c *Colony) snapshot() stress {
	s := stress{
		global:     c.Field.Global,
		bandwidth:  c.BandwidthUtil,
		starvation: c.starvation(),
		heatFrac:   make([]float64, len(c.Yards)),
		throttle:   make([]float64, len(c.Yards)),
		corruption: make([][]float64, len(c.Yards)),
	}
	for yi, y := range c.Yards {
		s.heatFrac[yi] = y.HeatFraction()
		s.throttle[yi] = resource.Throttle(y.Heat, y.HeatCap, c.Resource)
		s.corruption[yi] = make([]float64, len(y.Workers))
		for wi := range y.Workers {
			s.corruption[yi][wi] = y.Workers[wi].Corruption
		}
	}
	return s
}

// starvation maps the oldest ready job's wait onto [0,1].
func (c *Colony) starvation() float64 {
	if c.Corruption.StarvationHorizonMs == 0 {
		return 0
	}
	waitMs := c.Queue.OldestReadyWait(c.tick) * c.tickMs
	return min(1, float64(waitMs)/float64(c.Corruption.StarvationHorizonMs))
}

// Step runs one tick and returns the events it produced in yard id, worker
// id order. Every stress signal is read from a snapshot taken before any
// mutation, so the result depends only on the previous tick's settled state.
func (c *Colony) Step() []telemetry.Event {
	tick := c.tick
	now := c.Clock.Now
	dtMs := float64(c.tickMs)
	dt := dtMs / 1000

	// a fault occupies the worker for the rest of the tick it happened in
	for _, y := range c.Yards {
		for wi := range y.Workers {
			if y.Workers[wi].State == Faulted {
				y.Workers[wi].State = Idle
			}
		}
	}

	snap := c.snapshot()

	for _, y := range c.Yards {
		util := resource.Utilization(y.Count(Running), len(y.Workers))
		y.Heat = resource.StepHeat(y.Heat, y.PowerDraw, util, dt, c.Resource)
		for wi := range y.Workers {
			w := &y.Workers[wi]
			w.Corruption = fault.StepWorkerCorruption(w.Corruption, w.Discipline, w.State == Running, w.State == Maintenance, dt, c.Corruption)
		}
	}

	c.Queue.Release(tick)
	rng := fault.TickRNG(c.Seed, tick)

	var events []telemetry.Event
	emit := func(ev telemetry.Event) {
		ev.Tick = tick
		ev.Timestamp = now
		events = append(events, ev)
	}
	var raised float64

	for yi, y := range c.Yards {
		for wi := range y.Workers {
			w := &y.Workers[wi]
			if w.State != Running && w.State != Maintenance {
				continue
			}
			e, ok := c.Queue.Get(w.JobID)
			if !ok {
				w.State, w.JobID, w.Progress = Idle, 0, 0
				continue
			}
			op := e.Op()
			need := resource.OpWorkMs(e.Job.PayloadSize, c.Resource)
			gain := min(dtMs*snap.throttle[yi], need-w.Progress)
			w.Progress += gain
			emit(telemetry.Event{Kind: telemetry.EventProgress, YardID: y.ID, WorkerID: w.ID, JobID: e.Job.ID, Op: op.String(), Ms: gain, Attempt: e.Attempt})
			if w.Progress < need {
				continue
			}

			p := fault.Probability(c.Corruption.Base, snap.global, snap.corruption[yi][wi], snap.heatFrac[yi], snap.bandwidth, snap.starvation, c.Corruption)
			if c.decide(rng, p) {
				kind := fault.Classify(snap.global, snap.corruption[yi][wi], snap.heatFrac[yi], snap.bandwidth, snap.starvation, c.Corruption)
				emit(telemetry.Event{Kind: telemetry.EventFault, YardID: y.ID, WorkerID: w.ID, JobID: e.Job.ID, Op: op.String(), FaultKind: string(kind), Attempt: e.Attempt, Probability: p})
				raised += c.Corruption.FaultRaise
				w.State, w.JobID, w.Progress = Faulted, 0, 0
				if e.Attempt <= c.Corruption.MaxRetries {
					// retry resumes at the failing op; a job the queue cannot park
					// is abandoned rather than left running without a worker
					if err := c.Queue.Fail(e.Job.ID, tick+c.backoffTicks(e.Attempt)); err == nil {
						continue
					}
				}
				if _, err := c.Queue.Abandon(e.Job.ID); err == nil {
					delete(c.pinned, e.Job.ID)
					emit(telemetry.Event{Kind: telemetry.EventAbandoned, YardID: y.ID, WorkerID: w.ID, JobID: e.Job.ID, Op: op.String(), Attempt: e.Attempt})
				}
				continue
			}

			w.Progress = 0
			e.OpIndex++
			if e.OpIndex < e.Job.Pipeline.Len() {
				continue
			}
			if _, err := c.Queue.Complete(e.Job.ID); err == nil {
				delete(c.pinned, e.Job.ID)
				emit(telemetry.Event{Kind: telemetry.EventCompleted, YardID: y.ID, WorkerID: w.ID, JobID: e.Job.ID, Attempt: e.Attempt})
			}
			w.State, w.JobID = Idle, 0
		}
	}

	for _, ev := range c.dispatch(snap) {
		emit(ev)
	}

	c.Field.Step(dt, raised, c.Corruption)
	c.settleMeters()
	c.Clock.AdvanceTime()
	c.tick++
	return events
}

// backoffTicks converts the retry delay for attempt into whole ticks.
func (c *Colony) backoffTicks(attempt int) uint64 {
	ms := uint64(c.Corruption.Backoff(attempt).Milliseconds())
	return uint64(math.Ceil(float64(ms) / float64(c.tickMs)))
}

// yardOrder lists yard indices by descending tick-start thermal headroom,
// ties by id.
func (c *Colony) yardOrder(snap stress) []int {
	order := make([]int, len(c.Yards))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if r := cmp.Compare(snap.heatFrac[a], snap.heatFrac[b]); r != 0 {
			return r
		}
		return cmp.Compare(c.Yards[a].ID, c.Yards[b].ID)
	})
	return order
}

// dispatch hands ready jobs to idle workers. Yards at or above heat
// capacity take only maintenance jobs, new work must fit the colony power
// capacity, and throughput jobs wait for the yard with the most headroom.
// Heat is read from the tick-start snapshot.
func (c *Colony) dispatch(snap stress) []telemetry.Event {
	if c.Queue.Ready() == 0 || len(c.Yards) == 0 {
		return nil
	}
	var events []telemetry.Event
	order := c.yardOrder(snap)
	best := order[0]
	power := c.PowerDraw
	extra := c.Resource.OpPowerKW - c.Resource.IdlePowerKW

	for _, yi := range order {
		y := c.Yards[yi]
		hot := snap.heatFrac[yi] >= 1
		for wi := range y.Workers {
			if c.Queue.Ready() == 0 {
				return events
			}
			w := &y.Workers[wi]
			if w.State != Idle {
				continue
			}
			e, ok := c.Queue.Select(func(e *queue.Entry) bool {
				if e.Job.IsMaintenance() {
					target, pinned := c.pinned[e.Job.ID]
					return !pinned || target == w.ID
				}
				if hot || power+extra > c.PowerCapacity {
					return false
				}
				return e.Job.QoS != pipeline.QoSThroughput || yi == best
			})
			if !ok {
				continue
			}
			if err := c.Queue.Start(e.Job.ID); err != nil {
				continue
			}
			w.JobID, w.Progress = e.Job.ID, 0
			if e.Job.IsMaintenance() {
				w.State = Maintenance
			} else {
				w.State = Running
				power += extra
			}
			events = append(events, telemetry.Event{Kind: telemetry.EventDispatched, YardID: y.ID, WorkerID: w.ID, JobID: e.Job.ID, Op: e.Op().String(), Attempt: e.Attempt})
		}
	}
	return events
}

// settleMeters recomputes the colony meters from end-of-tick occupancy.
func (c *Colony) settleMeters() {
	c.PowerDraw = 0
	var bandwidth float64
	for _, y := range c.Yards {
		running := y.Count(Running)
		y.PowerDraw = resource.PowerDraw(running, len(y.Workers), c.Resource)
		c.PowerDraw += y.PowerDraw
		for wi := range y.Workers {
			w := &y.Workers[wi]
			if w.State != Running {
				continue
			}
			if e, ok := c.Queue.Get(w.JobID); ok {
				bandwidth += float64(e.Job.PayloadSize) * c.Resource.BandwidthPerKB
			}
		}
		c.workerTicks += uint64(len(y.Workers))
		c.faultTicks += uint64(y.Count(Faulted))
	}
	if c.BandwidthCapacity > 0 {
		c.BandwidthUtil = bandwidth / c.BandwidthCapacity
	} else {
		c.BandwidthUtil = 0
	}
}

// YardStates returns one state row per yard for the tick just run.
func (c *Colony) YardStates(runID string) []telemetry.YardStateRow {
	rows := make([]telemetry.YardStateRow, 0, len(c.Yards))
	tick := uint64(0)
	if c.tick > 0 {
		tick = c.tick - 1
	}
	for _, y := range c.Yards {
		rows = append(rows, telemetry.YardStateRow{
			RunID:            runID,
			Tick:             tick,
			YardID:           y.ID,
			Name:             y.Name,
			Heat:             y.Heat,
			HeatCap:          y.HeatCap,
			Throttle:         resource.Throttle(y.Heat, y.HeatCap, c.Resource),
			PowerDraw:        y.PowerDraw,
			Utilization:      resource.Utilization(y.Count(Running), len(y.Workers)),
			Running:          y.Count(Running),
			Maintenance:      y.Count(Maintenance),
			Idle:             y.Count(Idle),
			Faulted:          y.Count(Faulted),
			MeanCorruption:   y.MeanCorruption(),
			GlobalCorruption: c.Field.Global,
			QueueDepth:       c.Queue.Len(),
			Timestamp:        c.Clock.Now,
		})
	}
	return rows
}
