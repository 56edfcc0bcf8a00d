package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"workyard-sim/internal/config"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/queue"
	"workyard-sim/internal/telemetry"
)

func testConfig() *config.GameConfig {
	cfg := config.Default()
	cfg.Yards = []config.YardConfig{
		{Name: "a", HeatCap: 40, Workers: 2, Discipline: 0.5},
		{Name: "b", HeatCap: 40, Workers: 2, Discipline: 0.2},
	}
	return cfg
}

func newColony(t require.TestingT, cfg *config.GameConfig) *Colony {
	c, err := NewColony(cfg)
	require.NoError(t, err)
	return c
}

func testJob(id uint64, qos pipeline.QoS, ops ...pipeline.Op) queue.Job {
	return queue.Job{ID: id, Pipeline: pipeline.New("", ops...), QoS: qos, DeadlineMs: 1000}
}

func alwaysFault(*rand.Rand, float64) bool { return true }
func neverFault(*rand.Rand, float64) bool  { return false }

func runUntil(c *Colony, maxTicks int, done func([]telemetry.Event) bool) []telemetry.Event {
	var all []telemetry.Event
	for range maxTicks {
		evs := c.Step()
		all = append(all, evs...)
		if done(all) {
			break
		}
	}
	return all
}

func kinds(events []telemetry.Event, jobID uint64) map[telemetry.EventKind]int {
	out := make(map[telemetry.EventKind]int)
	for _, ev := range events {
		if ev.JobID == jobID {
			out[ev.Kind]++
		}
	}
	return out
}

func TestNewColonyAssignsWorkers(t *testing.T) {
	c := newColony(t, testConfig())
	require.Len(t, c.Yards, 2)
	require.Equal(t, uint64(1), c.Yards[0].Workers[0].ID)
	require.Equal(t, uint64(4), c.Yards[1].Workers[1].ID)
	require.Equal(t, 0.5, c.Yards[0].Workers[1].Discipline)
	require.InDelta(t, 4*c.Resource.IdlePowerKW, c.PowerDraw, 1e-9)
	w, ok := c.Worker(3)
	require.True(t, ok)
	require.Equal(t, Idle, w.State)
}

func TestEnqueueRejectsDuplicateIDs(t *testing.T) {
	c := newColony(t, testConfig())
	require.NoError(t, c.Enqueue(testJob(5, pipeline.QoSBalanced, pipeline.OpDecode)))
	require.ErrorIs(t, c.Enqueue(testJob(5, pipeline.QoSLatency, pipeline.OpDecode)), queue.ErrDuplicateJob)
	require.Equal(t, uint64(6), c.NextJobID())
}

func TestJobCompletesThroughPipeline(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDemux, pipeline.OpDecode, pipeline.OpExport)))

	events := runUntil(c, 50, func(evs []telemetry.Event) bool { return kinds(evs, 1)[telemetry.EventCompleted] > 0 })
	got := kinds(events, 1)
	require.Equal(t, 1, got[telemetry.EventDispatched])
	require.Equal(t, 1, got[telemetry.EventCompleted])
	require.Zero(t, got[telemetry.EventFault])
	// one 100ms op per 100ms tick at full throttle
	require.Equal(t, 3, got[telemetry.EventProgress])

	var ops []string
	for _, ev := range events {
		if ev.Kind == telemetry.EventProgress {
			ops = append(ops, ev.Op)
		}
	}
	require.Equal(t, []string{"demux", "decode", "export"}, ops)
	require.Zero(t, c.Queue.Len())
	for _, y := range c.Yards {
		require.Equal(t, len(y.Workers), y.Count(Idle))
	}
}

func TestAlwaysFaultingJobIsAbandonedAfterRetries(t *testing.T) {
	cfg := testConfig()
	cfg.Corruption.MaxRetries = 2
	c := newColony(t, cfg)
	c.decide = alwaysFault
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDecode, pipeline.OpExport)))

	states := []queue.State{queue.Queued}
	var events []telemetry.Event
	for range 100 {
		evs := c.Step()
		events = append(events, evs...)
		for _, ev := range evs {
			if ev.JobID != 1 {
				continue
			}
			switch ev.Kind {
			case telemetry.EventDispatched:
				states = append(states, queue.Running)
			case telemetry.EventFault:
				states = append(states, queue.Faulted)
			case telemetry.EventAbandoned:
				states = append(states, queue.Abandoned)
			}
		}
		// a retried fault parks the job in the queue until its backoff ends
		if e, ok := c.Queue.Get(1); ok && states[len(states)-1] == queue.Faulted {
			require.Equal(t, queue.Faulted, e.State)
		}
		if kinds(events, 1)[telemetry.EventAbandoned] > 0 {
			break
		}
	}

	got := kinds(events, 1)
	require.Equal(t, 3, got[telemetry.EventFault])
	require.Equal(t, 1, got[telemetry.EventAbandoned])
	require.Zero(t, got[telemetry.EventCompleted])
	require.Equal(t, []queue.State{
		queue.Queued,
		queue.Running, queue.Faulted,
		queue.Running, queue.Faulted,
		queue.Running, queue.Faulted, queue.Abandoned,
	}, states)
	_, held := c.Queue.Get(1)
	require.False(t, held)

	// every fault names the failing op; retries resume at the op that faulted
	for _, ev := range events {
		if ev.Kind == telemetry.EventFault {
			require.Equal(t, "decode", ev.Op)
			require.NotZero(t, ev.WorkerID)
		}
	}

	// abandoned jobs never come back
	for range 50 {
		require.Zero(t, kinds(c.Step(), 1)[telemetry.EventDispatched])
	}
	require.Zero(t, c.Queue.Len())
}

func TestRetryBackoffIsExponential(t *testing.T) {
	cfg := testConfig()
	cfg.Corruption.RetryBackoffMs = 200
	cfg.Corruption.MaxRetries = 3
	c := newColony(t, cfg)
	c.decide = alwaysFault
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDecode)))

	var faultTicks, dispatchTicks []uint64
	for range 100 {
		for _, ev := range c.Step() {
			switch ev.Kind {
			case telemetry.EventFault:
				faultTicks = append(faultTicks, ev.Tick)
			case telemetry.EventDispatched:
				dispatchTicks = append(dispatchTicks, ev.Tick)
			}
		}
	}
	require.Len(t, faultTicks, 4)
	require.Len(t, dispatchTicks, 4)
	// 200ms, 400ms, 800ms at 100ms per tick
	for i, want := range []uint64{2, 4, 8} {
		require.Equal(t, want, dispatchTicks[i+1]-faultTicks[i])
	}
}

func TestSameSeedSameEvents(t *testing.T) {
	run := func(seed uint64) []telemetry.Event {
		cfg := testConfig()
		cfg.Seed = seed
		cfg.Corruption.Base = 0.2
		c := newColony(t, cfg)
		var events []telemetry.Event
		next := uint64(1)
		for tick := range 300 {
			if tick%3 == 0 {
				qos := []pipeline.QoS{pipeline.QoSBalanced, pipeline.QoSLatency, pipeline.QoSThroughput}[tick%9/3]
				require.NoError(t, c.Enqueue(testJob(next, qos, pipeline.OpParse, pipeline.OpMap, pipeline.OpExport)))
				next++
			}
			events = append(events, c.Step()...)
		}
		return events
	}

	a, b := run(42), run(42)
	require.Equal(t, a, b)
	require.Equal(t, telemetry.Digest(a), telemetry.Digest(b))
	require.NotZero(t, countKind(a, telemetry.EventFault), "workload should exercise faults")

	other := run(43)
	require.NotEqual(t, telemetry.Digest(a), telemetry.Digest(other))
}

func TestMaintenancePinsWorkerAndCoolsCorruption(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	for _, y := range c.Yards {
		for i := range y.Workers {
			y.Workers[i].Corruption = 0.5
			y.Workers[i].Discipline = 0
		}
	}
	id, err := c.EnqueueMaintenance(3)
	require.NoError(t, err)

	evs := c.Step()
	require.Len(t, evs, 1)
	require.Equal(t, telemetry.EventDispatched, evs[0].Kind)
	require.Equal(t, uint64(3), evs[0].WorkerID)
	require.Equal(t, "maintenance", evs[0].Op)
	w, _ := c.Worker(3)
	require.Equal(t, Maintenance, w.State)

	evs = c.Step()
	require.Equal(t, 1, kinds(evs, id)[telemetry.EventCompleted])
	maintained, _ := c.Worker(3)
	idle, _ := c.Worker(4)
	require.Less(t, maintained.Corruption, idle.Corruption)
	require.Equal(t, Idle, maintained.State)

	_, err = c.EnqueueMaintenance(99)
	require.ErrorIs(t, err, ErrUnknownWorker)
}

func TestThroughputWaitsForMostHeadroom(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	c.Yards[0].Heat = 20
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSThroughput, pipeline.OpDecode)))
	require.NoError(t, c.Enqueue(testJob(2, pipeline.QoSThroughput, pipeline.OpDecode)))
	require.NoError(t, c.Enqueue(testJob(3, pipeline.QoSThroughput, pipeline.OpDecode)))

	evs := c.Step()
	var yards []uint64
	for _, ev := range evs {
		if ev.Kind == telemetry.EventDispatched {
			yards = append(yards, ev.YardID)
		}
	}
	// yard b has the most headroom and two workers; the third job waits
	require.Equal(t, []uint64{2, 2}, yards)
	require.Equal(t, 1, c.Queue.Ready())
}

func TestHotYardTakesNoNewWork(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	c.Yards[1].Heat = 100
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, c.Enqueue(testJob(i, pipeline.QoSBalanced, pipeline.OpDecode)))
	}
	for _, ev := range c.Step() {
		if ev.Kind == telemetry.EventDispatched {
			require.Equal(t, uint64(1), ev.YardID)
		}
	}
	require.Equal(t, 2, c.Queue.Ready())
}

func TestHotYardAtTickStartStaysHotForDispatch(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	for _, y := range c.Yards {
		y.Heat = y.HeatCap * 1.001
	}
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDecode)))

	// idle yards cool below capacity during the tick, but dispatch must see
	// the heat they started it with
	require.Zero(t, countKind(c.Step(), telemetry.EventDispatched))
	for _, y := range c.Yards {
		require.Less(t, y.Heat, y.HeatCap)
	}
	require.Equal(t, 1, c.Queue.Ready())

	require.Equal(t, 1, countKind(c.Step(), telemetry.EventDispatched))
}

func TestHotYardStillTakesMaintenance(t *testing.T) {
	c := newColony(t, testConfig())
	c.decide = neverFault
	for _, y := range c.Yards {
		y.Heat = y.HeatCap * 2
	}
	_, err := c.EnqueueMaintenance(1)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(testJob(100, pipeline.QoSBalanced, pipeline.OpDecode)))

	evs := c.Step()
	require.Equal(t, 1, countKind(evs, telemetry.EventDispatched))
	w, _ := c.Worker(1)
	require.Equal(t, Maintenance, w.State)
}

func TestWorkerStateText(t *testing.T) {
	for _, st := range []WorkerState{Idle, Running, Faulted, Maintenance} {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var got WorkerState
		require.NoError(t, got.UnmarshalText(b))
		require.Equal(t, st, got)
	}
	var st WorkerState
	require.Error(t, st.UnmarshalText([]byte("sleeping")))
}

func TestPowerCapacityLimitsDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.PowerCapacityKW = 4*cfg.Resource.IdlePowerKW + (cfg.Resource.OpPowerKW - cfg.Resource.IdlePowerKW) + 0.01
	c := newColony(t, cfg)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, c.Enqueue(testJob(i, pipeline.QoSBalanced, pipeline.OpDecode, pipeline.OpExport)))
	}
	require.Equal(t, 1, countKind(c.Step(), telemetry.EventDispatched))
	require.Equal(t, 2, c.Queue.Ready())
}

func TestLatencyDispatchedFirstOnEqualDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Yards = cfg.Yards[:1]
	cfg.Yards[0].Workers = 1
	c := newColony(t, cfg)
	c.decide = neverFault
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDecode)))
	require.NoError(t, c.Enqueue(testJob(2, pipeline.QoSLatency, pipeline.OpDecode)))
	evs := c.Step()
	require.Equal(t, 1, countKind(evs, telemetry.EventDispatched))
	require.Equal(t, uint64(2), evs[0].JobID)
}

func TestHeatRisesUnderLoadAndThrottles(t *testing.T) {
	cfg := testConfig()
	cfg.Resource.HeatGain = 5
	c := newColony(t, cfg)
	c.decide = neverFault
	for i := uint64(1); i <= 400; i++ {
		require.NoError(t, c.Enqueue(testJob(i, pipeline.QoSBalanced, pipeline.OpDecode, pipeline.OpFilter, pipeline.OpEstimate)))
	}
	var minProgress = 100.0
	for range 200 {
		for _, ev := range c.Step() {
			if ev.Kind == telemetry.EventProgress {
				minProgress = min(minProgress, ev.Ms)
			}
		}
	}
	require.Greater(t, c.Yards[0].Heat, 0.0)
	require.Less(t, minProgress, 100.0, "a hot yard should slow its workers")
}

func TestUptimeCountsFaultedWorkerTicks(t *testing.T) {
	c := newColony(t, testConfig())
	require.Equal(t, 1.0, c.Uptime())
	c.decide = alwaysFault
	require.NoError(t, c.Enqueue(testJob(1, pipeline.QoSBalanced, pipeline.OpDecode)))
	c.Step()
	c.Step()
	// one of four workers faulted in the second tick
	require.InDelta(t, 1-1.0/8, c.Uptime(), 1e-9)
	c.TargetUptime = 0.99
	require.False(t, c.MeetsTarget())
}

func TestJobsAreNeverSilentlyDropped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := testConfig()
		cfg.Seed = rapid.Uint64().Draw(rt, "seed")
		cfg.Corruption.Base = rapid.Float64Range(0, 0.35).Draw(rt, "base")
		cfg.Corruption.MaxRetries = rapid.IntRange(0, 3).Draw(rt, "retries")
		c := newColony(rt, cfg)
		n := rapid.IntRange(1, 30).Draw(rt, "jobs")
		ops := pipeline.AllOps()
		for i := 1; i <= n; i++ {
			k := rapid.IntRange(1, 4).Draw(rt, "len")
			var p []pipeline.Op
			for range k {
				p = append(p, rapid.SampledFrom(ops[:len(ops)-1]).Draw(rt, "op"))
			}
			qos := rapid.SampledFrom([]pipeline.QoS{pipeline.QoSBalanced, pipeline.QoSLatency, pipeline.QoSThroughput}).Draw(rt, "qos")
			require.NoError(rt, c.Enqueue(testJob(uint64(i), qos, p...)))
		}
		terminal := make(map[uint64]int)
		for range 400 {
			for _, ev := range c.Step() {
				if ev.Kind == telemetry.EventCompleted || ev.Kind == telemetry.EventAbandoned {
					terminal[ev.JobID]++
				}
			}
		}
		for i := 1; i <= n; i++ {
			_, queued := c.Queue.Get(uint64(i))
			switch terminal[uint64(i)] {
			case 0:
				require.True(rt, queued, "job %d vanished without a terminal event", i)
			case 1:
				require.False(rt, queued, "job %d finished but is still queued", i)
			default:
				require.Fail(rt, "job finished twice", "job %d", i)
			}
		}
	})
}
