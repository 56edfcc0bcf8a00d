// Package queue holds jobs awaiting dispatch and the bookkeeping kept beside
// them while they are in flight.
package queue

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/addrummond/heap"

	"workyard-sim/internal/pipeline"
)

// ErrDuplicateJob is returned when a job id is already present.
var ErrDuplicateJob = errors.New("duplicate job id")

// ErrUnknownJob is returned for bookkeeping calls on ids the queue does not hold.
var ErrUnknownJob = errors.New("unknown job id")

// MaintenanceDeadlineMs is the fixed deadline of synthetic maintenance jobs.
const MaintenanceDeadlineMs = 500

// Job is an immutable unit of work.
type Job struct {
	ID          uint64            `json:"id"`
	Pipeline    pipeline.Pipeline `json:"-"`
	QoS         pipeline.QoS      `json:"qos"`
	DeadlineMs  uint64            `json:"deadline_ms"`
	PayloadSize int               `json:"payload_size"`
}

// NewJob builds a job from a catalog spec.
func NewJob(id uint64, s pipeline.Spec) Job {
	return Job{ID: id, Pipeline: s.Pipeline, QoS: s.QoS, DeadlineMs: s.DeadlineMs, PayloadSize: s.PayloadSize}
}

// NewMaintenanceJob builds the synthetic job that parks a worker in
// maintenance for one op.
func NewMaintenanceJob(id uint64) Job {
	return Job{
		ID:         id,
		Pipeline:   pipeline.New("", pipeline.OpMaintenance),
		QoS:        pipeline.QoSLatency,
		DeadlineMs: MaintenanceDeadlineMs,
	}
}

// IsMaintenance reports whether the job is a maintenance job.
func (j Job) IsMaintenance() bool {
	return j.Pipeline.Len() == 1 && j.Pipeline.At(0) == pipeline.OpMaintenance
}

// State is where a job sits in its lifecycle.
type State uint8

const (
	Queued State = iota
	Running
	Faulted
	Completed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Entry is the bookkeeping tracked alongside a job.
type Entry struct {
	Job          Job
	State        State
	EnqueueTick  uint64
	DeadlineMs   uint64 // absolute, in simulated ms since tick 0
	ReadySince   uint64 // tick the entry last became eligible
	EligibleTick uint64
	Attempt      int
	OpIndex      int
}

// Op returns the op the job is currently on.
func (e *Entry) Op() pipeline.Op {
	return e.Job.Pipeline.At(e.OpIndex)
}

type readyItem struct {
	deadline uint64
	latency  bool
	id       uint64
}

// Cmp orders by absolute deadline, then latency jobs first, then id.
func (a *readyItem) Cmp(b *readyItem) int {
	if c := cmp.Compare(a.deadline, b.deadline); c != 0 {
		return c
	}
	if a.latency != b.latency {
		if a.latency {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.id, b.id)
}

type backoffItem struct {
	eligible uint64
	id       uint64
}

func (a *backoffItem) Cmp(b *backoffItem) int {
	if c := cmp.Compare(a.eligible, b.eligible); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// JobQueue holds queued, backing-off and running jobs. Every id appears at
// most once. It is not safe for concurrent use; the dispatcher owns it.
type JobQueue struct {
	tickMs   uint64
	entries  map[uint64]*Entry
	ready    heap.Heap[readyItem, heap.Min]
	backoff  heap.Heap[backoffItem, heap.Min]
	nReady   int
	nBackoff int
	order    []uint64
}

// New returns an empty queue. tickMs is the simulated length of one tick
// and converts relative deadlines into absolute ones.
func New(tickMs uint64) *JobQueue {
	if tickMs == 0 {
		tickMs = 1
	}
	return &JobQueue{tickMs: tickMs, entries: make(map[uint64]*Entry)}
}

// TickMs returns the tick length the queue was built with.
func (q *JobQueue) TickMs() uint64 { return q.tickMs }

// Push admits a job at tick. Duplicate ids are rejected.
func (q *JobQueue) Push(job Job, tick uint64) error {
	if _, ok := q.entries[job.ID]; ok {
		return fmt.Errorf("push job %d: %w", job.ID, ErrDuplicateJob)
	}
	if job.Pipeline.Len() == 0 {
		return fmt.Errorf("push job %d: %w", job.ID, pipeline.ErrEmptyPipeline)
	}
	e := &Entry{
		Job:          job,
		State:        Queued,
		EnqueueTick:  tick,
		DeadlineMs:   tick*q.tickMs + job.DeadlineMs,
		ReadySince:   tick,
		EligibleTick: tick,
	}
	q.entries[job.ID] = e
	q.order = append(q.order, job.ID)
	q.pushReady(e)
	return nil
}

func (q *JobQueue) pushReady(e *Entry) {
	heap.PushOrderable(&q.ready, readyItem{deadline: e.DeadlineMs, latency: e.Job.QoS == pipeline.QoSLatency, id: e.Job.ID})
	q.nReady++
}

// Get returns the entry for id.
func (q *JobQueue) Get(id uint64) (*Entry, bool) {
	e, ok := q.entries[id]
	return e, ok
}

// Release moves backing-off jobs whose eligibility has arrived back into the
// ready set and returns how many moved.
func (q *JobQueue) Release(tick uint64) int {
	n := 0
	for {
		top, ok := heap.Peek(&q.backoff)
		if !ok || top.eligible > tick {
			return n
		}
		heap.PopOrderable(&q.backoff)
		q.nBackoff--
		e := q.entries[top.id]
		e.State = Queued
		e.ReadySince = tick
		q.pushReady(e)
		n++
	}
}

// Select pops the best ready job that accept admits. Rejected jobs stay
// queued in their original order. The returned entry is still Queued; call
// Start to dispatch it.
func (q *JobQueue) Select(accept func(*Entry) bool) (*Entry, bool) {
	var skipped []readyItem
	defer func() {
		for _, it := range skipped {
			heap.PushOrderable(&q.ready, it)
		}
	}()
	for {
		it, ok := heap.PopOrderable(&q.ready)
		if !ok {
			return nil, false
		}
		e := q.entries[it.id]
		if accept == nil || accept(e) {
			q.nReady--
			return e, true
		}
		skipped = append(skipped, it)
	}
}

// Start marks a selected job as running and counts the attempt.
func (q *JobQueue) Start(id uint64) error {
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("start job %d: %w", id, ErrUnknownJob)
	}
	e.State = Running
	e.Attempt++
	return nil
}

// Fail records a fault on a running job and parks it until eligible.
func (q *JobQueue) Fail(id, eligible uint64) error {
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("fail job %d: %w", id, ErrUnknownJob)
	}
	e.State = Faulted
	e.EligibleTick = eligible
	heap.PushOrderable(&q.backoff, backoffItem{eligible: eligible, id: id})
	q.nBackoff++
	return nil
}

// Complete removes a finished job.
func (q *JobQueue) Complete(id uint64) (*Entry, error) {
	return q.finish(id, Completed)
}

// Abandon removes a job whose retries are exhausted. It never re-enters.
func (q *JobQueue) Abandon(id uint64) (*Entry, error) {
	return q.finish(id, Abandoned)
}

func (q *JobQueue) finish(id uint64, st State) (*Entry, error) {
	e, ok := q.entries[id]
	if !ok {
		return nil, fmt.Errorf("finish job %d: %w", id, ErrUnknownJob)
	}
	e.State = st
	delete(q.entries, id)
	q.order = slices.DeleteFunc(q.order, func(v uint64) bool { return v == id })
	return e, nil
}

// Len returns the number of jobs held in any state.
func (q *JobQueue) Len() int { return len(q.entries) }

// Ready returns the number of jobs eligible for dispatch.
func (q *JobQueue) Ready() int { return q.nReady }

// BackingOff returns the number of faulted jobs waiting out their backoff.
func (q *JobQueue) BackingOff() int { return q.nBackoff }

// OldestReadyWait returns how many ticks the longest-waiting ready job has
// been eligible without being dispatched.
func (q *JobQueue) OldestReadyWait(tick uint64) uint64 {
	var oldest uint64
	found := false
	for _, id := range q.order {
		e := q.entries[id]
		if e.State != Queued {
			continue
		}
		if !found || e.ReadySince < oldest {
			oldest, found = e.ReadySince, true
		}
	}
	if !found || oldest > tick {
		return 0
	}
	return tick - oldest
}

// Snapshot returns copies of all entries in admission order.
func (q *JobQueue) Snapshot() []Entry {
	var out []Entry
	for _, id := range q.order {
		out = append(out, *q.entries[id])
	}
	return out
}
