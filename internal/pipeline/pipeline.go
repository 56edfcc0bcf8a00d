package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// ErrEmptyPipeline is returned when a definition lists no ops.
var ErrEmptyPipeline = errors.New("pipeline has no ops")

// Pipeline is an immutable ordered sequence of ops with an optional mutation
// tag correlating it with a mod-provided modification.
type Pipeline struct {
	ops      []Op
	mutation string
}

// New builds a pipeline from ops. The slice is copied.
func New(mutation string, ops ...Op) Pipeline {
	return Pipeline{ops: slices.Clone(ops), mutation: mutation}
}

// Len returns the number of ops.
func (p Pipeline) Len() int { return len(p.ops) }

// At returns the op at index i.
func (p Pipeline) At(i int) Op { return p.ops[i] }

// Ops returns a copy of the op sequence.
func (p Pipeline) Ops() []Op { return slices.Clone(p.ops) }

// Mutation returns the mutation tag, empty when unset.
func (p Pipeline) Mutation() string { return p.mutation }

// Names returns the op names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p.ops))
	for i, op := range p.ops {
		names[i] = op.String()
	}
	return names
}

// Equal reports whether two pipelines have the same ops and mutation tag.
func (p Pipeline) Equal(o Pipeline) bool {
	return p.mutation == o.mutation && slices.Equal(p.ops, o.ops)
}

func (p Pipeline) String() string {
	return fmt.Sprintf("%v", p.Names())
}

// Def is a pipeline as described by content providers: plain strings that
// still need translating.
type Def struct {
	Name        string   `yaml:"name" json:"name"`
	Ops         []string `yaml:"ops" json:"ops"`
	QoS         string   `yaml:"qos" json:"qos"`
	DeadlineMs  uint64   `yaml:"deadline_ms" json:"deadline_ms"`
	PayloadSize int      `yaml:"payload_size" json:"payload_size"`
	Mutation    string   `yaml:"mutation,omitempty" json:"mutation,omitempty"`
}

// Spec is a materialized Def with typed values.
type Spec struct {
	Name        string
	Pipeline    Pipeline
	QoS         QoS
	DeadlineMs  uint64
	PayloadSize int
}

// Materialize translates a definition. The first unknown op or QoS name
// aborts with an error naming the offending token.
func Materialize(def Def) (Spec, error) {
	if len(def.Ops) == 0 {
		return Spec{}, fmt.Errorf("pipeline %q: %w", def.Name, ErrEmptyPipeline)
	}
	ops := make([]Op, 0, len(def.Ops))
	for _, name := range def.Ops {
		op, err := ParseOp(name)
		if err != nil {
			return Spec{}, fmt.Errorf("pipeline %q: %w", def.Name, err)
		}
		ops = append(ops, op)
	}
	qos, err := ParseQoS(def.QoS)
	if err != nil {
		return Spec{}, fmt.Errorf("pipeline %q: %w", def.Name, err)
	}
	if def.PayloadSize < 0 {
		return Spec{}, fmt.Errorf("pipeline %q: negative payload size %d", def.Name, def.PayloadSize)
	}
	return Spec{
		Name:        def.Name,
		Pipeline:    Pipeline{ops: ops, mutation: def.Mutation},
		QoS:         qos,
		DeadlineMs:  def.DeadlineMs,
		PayloadSize: def.PayloadSize,
	}, nil
}

// Describe converts a spec back into its string form.
func Describe(s Spec) Def {
	return Def{
		Name:        s.Name,
		Ops:         s.Pipeline.Names(),
		QoS:         s.QoS.String(),
		DeadlineMs:  s.DeadlineMs,
		PayloadSize: s.PayloadSize,
		Mutation:    s.Pipeline.Mutation(),
	}
}
