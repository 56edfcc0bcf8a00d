package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"workyard-sim/internal/logging"
)

// File is the on-disk layout of a pipeline definition file.
type File struct {
	Pipelines []Def `yaml:"pipelines"`
}

// LoadDefs reads pipeline definitions from a YAML file.
func LoadDefs(path string) ([]Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse pipelines %s: %w", path, err)
	}
	return f.Pipelines, nil
}

// BuiltIn returns the stock pipeline definitions available without any
// content files.
func BuiltIn() []Def {
	return []Def{
		{Name: "ingest", Ops: []string{"demux", "decode", "filter", "export"}, QoS: "balanced", DeadlineMs: 4000, PayloadSize: 64},
		{Name: "telemetry", Ops: []string{"parse", "map", "estimate", "export"}, QoS: "latency", DeadlineMs: 1500, PayloadSize: 8},
		{Name: "archive", Ops: []string{"demux", "decode", "export"}, QoS: "throughput", DeadlineMs: 20000, PayloadSize: 512},
		{Name: "maintenance", Ops: []string{"maintenance"}, QoS: "latency", DeadlineMs: 500},
	}
}

// Change notifies the catalog that a named pipeline was edited or removed.
// A nil Def removes the entry.
type Change struct {
	Name string
	Def  *Def
}

// Catalog holds materialized pipelines by name. Reads never block; updates
// build a new map and swap it in whole.
type Catalog struct {
	mu    sync.Mutex
	specs atomic.Pointer[map[string]Spec]
}

// NewCatalog materializes defs into a catalog.
func NewCatalog(defs []Def) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the spec registered under name.
func (c *Catalog) Lookup(name string) (Spec, bool) {
	m := c.specs.Load()
	if m == nil {
		return Spec{}, false
	}
	s, ok := (*m)[name]
	return s, ok
}

// Names lists registered pipeline names in sorted order.
func (c *Catalog) Names() []string {
	m := c.specs.Load()
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(*m))
	for n := range *m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Defs returns the catalog contents in their string form, sorted by name.
func (c *Catalog) Defs() []Def {
	var defs []Def
	for _, n := range c.Names() {
		s, _ := c.Lookup(n)
		defs = append(defs, Describe(s))
	}
	return defs
}

// Replace validates every definition and swaps the whole catalog. On error
// the previous catalog stays in place.
func (c *Catalog) Replace(defs []Def) error {
	next := make(map[string]Spec, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("pipeline definition without name")
		}
		if _, dup := next[d.Name]; dup {
			return fmt.Errorf("pipeline %q defined twice", d.Name)
		}
		s, err := Materialize(d)
		if err != nil {
			return err
		}
		next[d.Name] = s
	}
	c.mu.Lock()
	c.specs.Store(&next)
	c.mu.Unlock()
	return nil
}

// Apply revalidates a single changed entry and swaps it in.
func (c *Catalog) Apply(ch Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.specs.Load()
	next := make(map[string]Spec)
	if prev != nil {
		for k, v := range *prev {
			next[k] = v
		}
	}
	if ch.Def == nil {
		delete(next, ch.Name)
		c.specs.Store(&next)
		return nil
	}
	d := *ch.Def
	if d.Name == "" {
		d.Name = ch.Name
	}
	if d.Name != ch.Name {
		return fmt.Errorf("change for %q carries definition %q", ch.Name, d.Name)
	}
	s, err := Materialize(d)
	if err != nil {
		return err
	}
	next[ch.Name] = s
	c.specs.Store(&next)
	return nil
}

// Watch applies changes until ctx is done or changes is closed. Rejected
// changes are logged and leave the catalog untouched.
func (c *Catalog) Watch(ctx context.Context, changes <-chan Change) {
	log := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if err := c.Apply(ch); err != nil {
				log.Warn("pipeline change rejected", "pipeline", ch.Name, "err", err)
				continue
			}
			log.Info("pipeline updated", "pipeline", ch.Name, "removed", ch.Def == nil)
		}
	}
}
