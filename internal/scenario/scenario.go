package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Trigger event names.
const (
	TicksElapsed = "ticks_elapsed"
	Completed    = "completed"
	Faults       = "faults"
	Abandoned    = "abandoned"
)

// ErrInvalid wraps every scenario validation failure.
var ErrInvalid = errors.New("invalid scenario")

// Scenario defines a workload with ordered phases and an overall description.
// The first phase is where a run starts.
type Scenario struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase describes one stretch of load on the colony and the triggers that
// end it.
type Phase struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Rate is the mean number of arrivals per tick. The fractional part is
	// drawn from the seeded generator.
	Rate float64 `yaml:"rate"`
	// Mix weights pipeline names. Empty means every arrival uses "ingest".
	Mix map[string]float64 `yaml:"mix,omitempty"`
	// Burst arrivals are backlogged when the phase starts and drained at
	// the scenario's MaxPerTick.
	Burst            int       `yaml:"burst,omitempty"`
	BurstPipeline    string    `yaml:"burst_pipeline,omitempty"`
	MaintenanceEvery int       `yaml:"maintenance_every,omitempty"`
	Triggers         []Trigger `yaml:"triggers,omitempty"`
}

// Trigger moves the scenario to another phase once the phase's count for
// Event reaches Value.
type Trigger struct {
	Event string `yaml:"event"`
	Value int    `yaml:"value"`
	Next  string `yaml:"next"`
}

// Event represents a runtime occurrence that may advance the scenario.
type Event struct {
	Type  string
	Value int
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks phase names, rates and trigger targets. Pipeline names are
// checked against a catalog when the scenario is run.
func (s *Scenario) Validate() error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: %q has no phases", ErrInvalid, s.Name)
	}
	names := make(map[string]bool, len(s.Phases))
	for _, p := range s.Phases {
		if p.Name == "" {
			return fmt.Errorf("%w: phase without a name", ErrInvalid)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate phase %q", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		if p.Rate < 0 || p.Burst < 0 || p.MaintenanceEvery < 0 {
			return fmt.Errorf("%w: phase %q has a negative rate", ErrInvalid, p.Name)
		}
		for name, w := range p.Mix {
			if w < 0 {
				return fmt.Errorf("%w: phase %q weights %q negatively", ErrInvalid, p.Name, name)
			}
		}
	}
	for _, p := range s.Phases {
		for _, tr := range p.Triggers {
			switch tr.Event {
			case TicksElapsed, Completed, Faults, Abandoned:
			default:
				return fmt.Errorf("%w: phase %q triggers on unknown event %q", ErrInvalid, p.Name, tr.Event)
			}
			if !names[tr.Next] {
				return fmt.Errorf("%w: phase %q moves to unknown phase %q", ErrInvalid, p.Name, tr.Next)
			}
		}
	}
	return nil
}

// Phase returns the phase called name.
func (s *Scenario) Phase(name string) (Phase, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// NextPhase returns the name of the next phase given the current phase and event.
// If no trigger matches, ok will be false.
func (s *Scenario) NextPhase(current string, ev Event) (next string, ok bool) {
	for _, p := range s.Phases {
		if p.Name != current {
			continue
		}
		for _, tr := range p.Triggers {
			if tr.Event == ev.Type && ev.Value >= tr.Value {
				return tr.Next, true
			}
		}
	}
	return "", false
}

// Pipelines lists every pipeline name the scenario refers to, sorted.
func (s *Scenario) Pipelines() []string {
	seen := map[string]bool{}
	for _, p := range s.Phases {
		for name := range p.Mix {
			seen[name] = true
		}
		if len(p.Mix) == 0 && p.Rate > 0 {
			seen[defaultPipeline] = true
		}
		switch {
		case p.BurstPipeline != "":
			seen[p.BurstPipeline] = true
		case p.Burst > 0:
			seen[defaultPipeline] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
