package sim

import (
	"context"
	"fmt"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"workyard-sim/internal/telemetry"
)

// greptimeClient is the subset of the ingester client the writer uses.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes events and yard state to GreptimeDB via the
// ingester client. Tables are created on first write.
type GreptimeDBWriter struct {
	client     greptimeClient
	eventTable string
	stateTable string
	timeout    time.Duration
}

// NewGreptimeDBWriter connects to a GreptimeDB gRPC endpoint.
func NewGreptimeDBWriter(host string, port int, database string) (*GreptimeDBWriter, error) {
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:     client,
		eventTable: telemetry.EventTableName,
		stateTable: telemetry.StateTableName,
		timeout:    5 * time.Second,
	}, nil
}

// WriteEvent inserts a single event.
func (w *GreptimeDBWriter) WriteEvent(ev telemetry.Event) error {
	return w.WriteEvents([]telemetry.Event{ev})
}

// WriteEvents inserts a batch of events as one table write.
func (w *GreptimeDBWriter) WriteEvents(events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	for _, col := range []string{"run_id", "kind"} {
		if err := tbl.AddTagColumn(col, types.STRING); err != nil {
			return err
		}
	}
	fields := []struct {
		name string
		typ  types.ColumnType
	}{
		{"tick", types.UINT64},
		{"yard_id", types.UINT64},
		{"worker_id", types.UINT64},
		{"job_id", types.UINT64},
		{"op", types.STRING},
		{"ms", types.FLOAT64},
		{"fault_kind", types.STRING},
		{"attempt", types.INT64},
		{"p", types.FLOAT64},
	}
	for _, f := range fields {
		if err := tbl.AddFieldColumn(f.name, f.typ); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, ev := range events {
		if err := tbl.AddRow(ev.RunID, string(ev.Kind), ev.Tick, ev.YardID, ev.WorkerID, ev.JobID,
			ev.Op, ev.Ms, ev.FaultKind, int64(ev.Attempt), ev.Probability, ev.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl)
}

// WriteState inserts a single yard state row.
func (w *GreptimeDBWriter) WriteState(row telemetry.YardStateRow) error {
	return w.WriteStates([]telemetry.YardStateRow{row})
}

// WriteStates inserts yard state rows.
func (w *GreptimeDBWriter) WriteStates(rows []telemetry.YardStateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.stateTable)
	if err != nil {
		return err
	}
	for _, col := range []string{"run_id", "yard"} {
		if err := tbl.AddTagColumn(col, types.STRING); err != nil {
			return err
		}
	}
	fields := []struct {
		name string
		typ  types.ColumnType
	}{
		{"tick", types.UINT64},
		{"heat", types.FLOAT64},
		{"heat_cap", types.FLOAT64},
		{"throttle", types.FLOAT64},
		{"power_draw_kw", types.FLOAT64},
		{"utilization", types.FLOAT64},
		{"running", types.INT64},
		{"maintenance", types.INT64},
		{"faulted", types.INT64},
		{"mean_corruption", types.FLOAT64},
		{"global_corruption", types.FLOAT64},
		{"queue_depth", types.INT64},
	}
	for _, f := range fields {
		if err := tbl.AddFieldColumn(f.name, f.typ); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, r.Name, r.Tick, r.Heat, r.HeatCap, r.Throttle, r.PowerDraw,
			r.Utilization, int64(r.Running), int64(r.Maintenance), int64(r.Faulted),
			r.MeanCorruption, r.GlobalCorruption, int64(r.QueueDepth), r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl)
}

func (w *GreptimeDBWriter) write(tbl *table.Table) error {
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		name, _ := tbl.GetName()
		return fmt.Errorf("greptime write %s: %w", name, err)
	}
	return nil
}
