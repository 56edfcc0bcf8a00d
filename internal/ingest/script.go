package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/gammazero/deque"
)

// ScriptSource replays arrivals from a JSONL script, one Arrival per line.
type ScriptSource struct {
	pending deque.Deque[Arrival]
}

// NewScriptSource reads every arrival from r. Lines are ordered by tick;
// arrivals sharing a tick keep their file order.
func NewScriptSource(r io.Reader) (*ScriptSource, error) {
	var all []Arrival
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var a Arrival
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		all = append(all, a)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(all, func(a, b Arrival) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		}
		return 0
	})
	s := &ScriptSource{}
	for _, a := range all {
		s.pending.PushBack(a)
	}
	return s, nil
}

// OpenScript loads a script file.
func OpenScript(path string) (*ScriptSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewScriptSource(f)
}

// Poll implements Source.
func (s *ScriptSource) Poll(_ context.Context, tick uint64) ([]Arrival, error) {
	var out []Arrival
	for s.pending.Len() > 0 && s.pending.Front().Tick <= tick {
		out = append(out, s.pending.PopFront())
	}
	return out, nil
}

// Remaining is the number of arrivals not yet delivered.
func (s *ScriptSource) Remaining() int { return s.pending.Len() }

// LastTick is the tick of the final arrival, or zero for an empty script.
func (s *ScriptSource) LastTick() uint64 {
	if s.pending.Len() == 0 {
		return 0
	}
	return s.pending.Back().Tick
}

// Recorder appends admitted arrivals to a JSONL script so a run can be
// replayed from its exact inputs.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewRecorder creates or truncates path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{f: f, enc: json.NewEncoder(f)}, nil
}

// Record writes one arrival.
func (r *Recorder) Record(a Arrival) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(a)
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
