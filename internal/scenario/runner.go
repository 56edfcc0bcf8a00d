package scenario

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/gammazero/deque"

	"workyard-sim/internal/fault"
	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/telemetry"
)

// Runner generates arrivals for a scenario. It implements ingest.Source and
// watches the colony's events to fire phase triggers.
type Runner struct {
	sc         Scenario
	seed       uint64
	maxPerTick int

	mu      sync.Mutex
	phase   Phase
	entered uint64
	started bool
	counts  map[string]int
	backlog deque.Deque[ingest.Arrival]
	changes []string
}

// NewRunner validates sc against the catalog and starts it in its first
// phase. maxPerTick bounds how many backlogged burst arrivals leave per tick;
// zero means no bound.
func NewRunner(sc Scenario, cat *pipeline.Catalog, seed uint64, maxPerTick int) (*Runner, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	for _, name := range sc.Pipelines() {
		if _, ok := cat.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: %q uses pipeline %q: %w", ErrInvalid, sc.Name, name, ingest.ErrUnknownPipeline)
		}
	}
	return &Runner{
		sc:         sc,
		seed:       seed,
		maxPerTick: maxPerTick,
		phase:      sc.Phases[0],
		counts:     make(map[string]int),
	}, nil
}

// Phase returns the name of the current phase.
func (r *Runner) Phase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase.Name
}

// Transitions lists the phases entered so far, oldest first.
func (r *Runner) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changes...)
}

// Observe implements the simulator's event observer.
func (r *Runner) Observe(events []telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		switch ev.Kind {
		case telemetry.EventCompleted:
			r.counts[Completed]++
		case telemetry.EventFault:
			r.counts[Faults]++
		case telemetry.EventAbandoned:
			r.counts[Abandoned]++
		}
	}
}

// Poll implements ingest.Source. Triggers are evaluated first so a phase
// change takes effect on the tick it is detected.
func (r *Runner) Poll(ctx context.Context, tick uint64) ([]ingest.Arrival, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		r.enter(r.phase, tick)
		r.started = true
	}
	if next, ok := r.trigger(tick); ok {
		logging.FromContext(ctx).Info("scenario phase change", "scenario", r.sc.Name, "from", r.phase.Name, "to", next.Name, "tick", tick)
		r.enter(next, tick)
	}

	// keyed differently from fault.TickRNG so arrivals and faults draw
	// independent streams from one seed
	rng := rand.New(rand.NewPCG(r.seed^fault.Golden, tick))
	var out []ingest.Arrival
	for range arrivals(rng, r.phase.Rate) {
		out = append(out, ingest.Arrival{Tick: tick, Pipeline: pick(rng, r.phase.Mix)})
	}
	if n := r.phase.MaintenanceEvery; n > 0 && (tick-r.entered)%uint64(n) == uint64(n-1) {
		out = append(out, ingest.Arrival{Tick: tick, Pipeline: pipeline.OpMaintenance.String()})
	}
	for i := 0; r.backlog.Len() > 0 && (r.maxPerTick <= 0 || i < r.maxPerTick); i++ {
		a := r.backlog.PopFront()
		a.Tick = tick
		out = append(out, a)
	}
	return out, nil
}

// Pending reports how many burst arrivals are still backlogged.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backlog.Len()
}

func (r *Runner) trigger(tick uint64) (Phase, bool) {
	counts := []Event{
		{Type: TicksElapsed, Value: int(tick - r.entered)},
		{Type: Completed, Value: r.counts[Completed]},
		{Type: Faults, Value: r.counts[Faults]},
		{Type: Abandoned, Value: r.counts[Abandoned]},
	}
	for _, tr := range r.phase.Triggers {
		for _, ev := range counts {
			if ev.Type != tr.Event {
				continue
			}
			if name, ok := r.sc.NextPhase(r.phase.Name, ev); ok && name == tr.Next {
				p, _ := r.sc.Phase(name)
				return p, true
			}
		}
	}
	return Phase{}, false
}

func (r *Runner) enter(p Phase, tick uint64) {
	r.phase = p
	r.entered = tick
	clear(r.counts)
	r.changes = append(r.changes, p.Name)
	name := p.BurstPipeline
	if name == "" {
		name = defaultPipeline
	}
	for range p.Burst {
		r.backlog.PushBack(ingest.Arrival{Pipeline: name})
	}
}

const defaultPipeline = "ingest"

// arrivals returns floor(rate) plus one more with probability equal to the
// fractional part.
func arrivals(rng *rand.Rand, rate float64) int {
	whole, frac := math.Modf(rate)
	n := int(whole)
	if frac > 0 && rng.Float64() < frac {
		n++
	}
	return n
}

// pick draws a pipeline name from mix. Names are visited in sorted order so
// the draw depends only on the random stream.
func pick(rng *rand.Rand, mix map[string]float64) string {
	if len(mix) == 0 {
		return defaultPipeline
	}
	names := make([]string, 0, len(mix))
	total := 0.0
	for name, w := range mix {
		names = append(names, name)
		total += w
	}
	sort.Strings(names)
	if total <= 0 {
		return names[0]
	}
	x := rng.Float64() * total
	for _, name := range names {
		x -= mix[name]
		if x < 0 {
			return name
		}
	}
	return names[len(names)-1]
}
