package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workyard-sim/internal/ingest"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/telemetry"
)

type memRecorder struct{ arrivals []ingest.Arrival }

func (m *memRecorder) Record(a ingest.Arrival) error {
	m.arrivals = append(m.arrivals, a)
	return nil
}

type stateCollector struct{ rows []telemetry.YardStateRow }

func (s *stateCollector) WriteState(r telemetry.YardStateRow) error {
	s.rows = append(s.rows, r)
	return nil
}

func newTestSimulator(t *testing.T, w EventWriter) *Simulator {
	cat, err := pipeline.NewCatalog(pipeline.BuiltIn())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Corruption.Base = 0.1
	s, err := NewSimulator(cfg, cat, w, time.Millisecond)
	require.NoError(t, err)
	return s
}

const script = `{"tick":0,"pipeline":"ingest"}
{"tick":0,"pipeline":"telemetry"}
{"tick":2,"pipeline":"archive"}
{"tick":3,"pipeline":"maintenance","worker":2}
{"tick":5,"pipeline":"bogus"}
{"tick":8,"pipeline":"telemetry","qos":"throughput"}
`

func TestSimulatorTickStampsRunAndWritesState(t *testing.T) {
	var events EventCollector
	s := newTestSimulator(t, &events)
	states := &stateCollector{}
	s.SetStateWriter(states)
	src, err := ingest.NewScriptSource(strings.NewReader(script))
	require.NoError(t, err)
	s.SetSource(src)
	var last Status
	s.OnStatus(func(st Status) { last = st })

	s.RunTicks(context.Background(), 20)

	require.NotEmpty(t, events.Events)
	for _, ev := range events.Events {
		require.Equal(t, s.RunID(), ev.RunID)
	}
	require.Len(t, states.rows, 2*20)
	require.Equal(t, uint64(19), states.rows[len(states.rows)-1].Tick)
	require.Equal(t, uint64(20), last.Tick)
	require.Zero(t, src.Remaining())
}

func TestSimulatorRecordingReplaysIdentically(t *testing.T) {
	var first EventCollector
	s := newTestSimulator(t, &first)
	rec := &memRecorder{}
	s.SetRecorder(rec)
	src, err := ingest.NewScriptSource(strings.NewReader(script))
	require.NoError(t, err)
	s.SetSource(src)

	ctx := context.Background()
	s.RunTicks(ctx, 5)
	// arrivals from outside the script are recorded too
	id, err := s.EnqueueMaintenance(ctx, 0)
	require.NoError(t, err)
	require.NotZero(t, id)
	s.RunTicks(ctx, 40)

	// the unknown pipeline was rejected and never recorded
	require.Len(t, rec.arrivals, 6)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range rec.arrivals {
		require.NoError(t, enc.Encode(a))
	}
	replaySrc, err := ingest.NewScriptSource(&buf)
	require.NoError(t, err)

	var second EventCollector
	r := newTestSimulator(t, &second)
	r.SetSource(replaySrc)
	r.RunTicks(ctx, 45)

	require.NotEqual(t, s.RunID(), r.RunID())
	require.Equal(t, telemetry.Digest(first.Events), telemetry.Digest(second.Events))
}

func TestSimulatorEnqueueErrors(t *testing.T) {
	s := newTestSimulator(t, nil)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, ingest.Arrival{Pipeline: "nope"})
	require.ErrorIs(t, err, ingest.ErrUnknownPipeline)

	id, err := s.Enqueue(ctx, ingest.Arrival{Pipeline: "ingest", ID: 10})
	require.NoError(t, err)
	require.Equal(t, uint64(10), id)
	_, err = s.Enqueue(ctx, ingest.Arrival{Pipeline: "ingest", ID: 10})
	require.Error(t, err)

	_, err = s.EnqueueMaintenance(ctx, 999)
	require.ErrorIs(t, err, ErrUnknownWorker)
	_, err = s.Worker(999)
	require.ErrorIs(t, err, ErrUnknownWorker)
}

func TestSimulatorRunStopsOnCancel(t *testing.T) {
	var events EventCollector
	s := newTestSimulator(t, &events)
	_, err := s.Enqueue(context.Background(), ingest.Arrival{Pipeline: "telemetry"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Status().Tick >= 10 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
	require.NotEmpty(t, events.Events)
	require.Equal(t, telemetry.EventDispatched, events.Events[0].Kind)
}

type observingSource struct {
	seen int
}

func (o *observingSource) Poll(context.Context, uint64) ([]ingest.Arrival, error) { return nil, nil }
func (o *observingSource) Observe(evs []telemetry.Event)                          { o.seen += len(evs) }

func TestSimulatorFeedsObservers(t *testing.T) {
	s := newTestSimulator(t, nil)
	obs := &observingSource{}
	s.SetSource(obs)
	_, err := s.Enqueue(context.Background(), ingest.Arrival{Pipeline: "ingest"})
	require.NoError(t, err)
	s.RunTicks(context.Background(), 3)
	require.Positive(t, obs.seen)
}

func TestSimulatorYardsIsACopy(t *testing.T) {
	s := newTestSimulator(t, nil)
	yards := s.Yards()
	yards[0].Workers[0].State = Faulted
	w, err := s.Worker(yards[0].Workers[0].ID)
	require.NoError(t, err)
	require.Equal(t, Idle, w.State)
}
