package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"workyard-sim/internal/pipeline"
)

func catalog(t *testing.T) *pipeline.Catalog {
	c, err := pipeline.NewCatalog(pipeline.BuiltIn())
	require.NoError(t, err)
	return c
}

func TestResolveUsesCatalogDefaults(t *testing.T) {
	job, err := Resolve(catalog(t), Arrival{Pipeline: "telemetry"}, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), job.ID)
	require.Equal(t, pipeline.QoSLatency, job.QoS)
	require.Equal(t, uint64(1500), job.DeadlineMs)
	require.Equal(t, []string{"parse", "map", "estimate", "export"}, job.Pipeline.Names())
}

func TestResolveOverrides(t *testing.T) {
	a := Arrival{ID: 42, Pipeline: "ingest", QoS: "throughput", DeadlineMs: 99, PayloadSize: 3}
	job, err := Resolve(catalog(t), a, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(42), job.ID)
	require.Equal(t, pipeline.QoSThroughput, job.QoS)
	require.Equal(t, uint64(99), job.DeadlineMs)
	require.Equal(t, 3, job.PayloadSize)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(catalog(t), Arrival{Pipeline: "nope"}, 1)
	require.ErrorIs(t, err, ErrUnknownPipeline)

	_, err = Resolve(catalog(t), Arrival{Pipeline: "ingest", QoS: "urgent"}, 1)
	var qe *pipeline.UnknownQoSError
	require.True(t, errors.As(err, &qe))
	require.Equal(t, "urgent", qe.Token)

	_, err = Resolve(catalog(t), Arrival{Pipeline: "ingest", PayloadSize: -5000}, 1)
	require.ErrorContains(t, err, "negative payload size")
}

func TestScriptSourceOrdersByTick(t *testing.T) {
	script := `{"tick":3,"pipeline":"ingest","id":3}
{"tick":0,"pipeline":"ingest","id":1}

{"tick":3,"pipeline":"telemetry","id":4}
{"tick":1,"pipeline":"archive","id":2}
`
	s, err := NewScriptSource(strings.NewReader(script))
	require.NoError(t, err)
	require.Equal(t, 4, s.Remaining())
	require.Equal(t, uint64(3), s.LastTick())

	ctx := context.Background()
	got, _ := s.Poll(ctx, 0)
	require.Len(t, got, 1)
	require.Equal(t, uint64(1), got[0].ID)

	got, _ = s.Poll(ctx, 2)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].ID)

	got, _ = s.Poll(ctx, 5)
	require.Len(t, got, 2)
	require.Equal(t, uint64(3), got[0].ID)
	require.Equal(t, uint64(4), got[1].ID)
	require.Equal(t, 0, s.Remaining())
}

func TestScriptSourceRejectsMalformedLine(t *testing.T) {
	_, err := NewScriptSource(strings.NewReader("{\"tick\":1}\nnot json\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrivals.jsonl")
	r, err := NewRecorder(path)
	require.NoError(t, err)
	want := []Arrival{
		{Tick: 0, ID: 1, Pipeline: "ingest"},
		{Tick: 4, ID: 2, Pipeline: "maintenance", Worker: 3},
	}
	for _, a := range want {
		require.NoError(t, r.Record(a))
	}
	require.NoError(t, r.Close())

	s, err := OpenScript(path)
	require.NoError(t, err)
	got, err := s.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, got[1].IsMaintenance())
}

type fakeRedis struct {
	items []string
	err   error
}

func (f *fakeRedis) LPop(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	if len(f.items) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	v := f.items[0]
	f.items = f.items[1:]
	return redis.NewStringResult(v, nil)
}

func TestRedisSourcePoll(t *testing.T) {
	fr := &fakeRedis{items: []string{
		`{"pipeline":"ingest","id":1,"tick":99}`,
		`garbage`,
		`{"pipeline":"telemetry","id":2}`,
		`{"pipeline":"archive","id":3}`,
	}}
	s := newRedisSource(fr, "", 2)
	require.Equal(t, DefaultRedisKey, s.key)

	got, err := s.Poll(context.Background(), 5)
	require.NoError(t, err)
	// the malformed element counts against the per-tick budget
	require.Len(t, got, 1)
	require.Equal(t, uint64(5), got[0].Tick)

	got, err = s.Poll(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.Poll(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRedisSourceError(t *testing.T) {
	s := newRedisSource(&fakeRedis{err: errors.New("conn refused")}, "k", 1)
	_, err := s.Poll(context.Background(), 0)
	require.ErrorContains(t, err, "conn refused")
}

func TestMultiConcatenates(t *testing.T) {
	a, err := NewScriptSource(strings.NewReader(`{"tick":0,"pipeline":"ingest","id":1}`))
	require.NoError(t, err)
	b, err := NewScriptSource(strings.NewReader(`{"tick":0,"pipeline":"ingest","id":2}`))
	require.NoError(t, err)
	got, err := Multi{a, b}.Poll(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
