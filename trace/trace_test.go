package trace_test

import (
	"path/filepath"
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/trace"
)

func TestRecordAndReadAll(t *testing.T) {
	dir := t.TempDir()
	tr, err := trace.Open(dir, 3)
	tassert.CheckFatal(t, err)

	tr.Record(trace.AsyncSubmit, 7, 128)
	tr.Record(trace.BarrierEnd, 100, 100)
	tassert.CheckFatal(t, tr.Close())

	events, err := trace.ReadAll(filepath.Join(dir, "rank-3.trace"))
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, len(events) == 2, "want 2 events, got", len(events))

	tassert.Fatal(t, events[0].Kind == trace.AsyncSubmit && events[0].A == 7 && events[0].B == 128,
		"first event mismatch:", events[0])
	tassert.Fatal(t, events[1].Kind == trace.BarrierEnd && events[1].A == 100 && events[1].B == 100,
		"second event mismatch:", events[1])
	tassert.Fatal(t, events[1].TimeNanos >= events[0].TimeNanos, "timestamps must be non-decreasing")
}
