package stats_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/stats"
)

func TestCountersAccumulate(t *testing.T) {
	c := stats.New(prometheus.NewRegistry())

	c.ISend(100)
	c.ISend(50)
	tassert.Fatal(t, c.ISendCount.Load() == 2, "want 2 isends, got", c.ISendCount.Load())
	tassert.Fatal(t, c.ISendBytes.Load() == 150, "want 150 bytes, got", c.ISendBytes.Load())

	c.IRecv(10)
	tassert.Fatal(t, c.IRecvCount.Load() == 1, "want 1 irecv, got", c.IRecvCount.Load())

	c.AllReduce()
	c.Barrier()
	tassert.Fatal(t, c.AllReduceCount.Load() == 1, "want 1 all-reduce")
	tassert.Fatal(t, c.BarrierCount.Load() == 1, "want 1 barrier")

	c.SetQueuedBytes(42)
	c.SetInFlightBytes(7)
	tassert.Fatal(t, c.QueuedBytes.Load() == 42, "want queued bytes 42")
	tassert.Fatal(t, c.InFlightBytes.Load() == 7, "want in-flight bytes 7")
}

func TestWaitsomeMean(t *testing.T) {
	c := stats.New(nil)
	tassert.Fatal(t, c.WaitsomeMeanNanos() == 0, "want zero mean with no samples")

	c.ObserveWaitsome(10 * time.Millisecond)
	c.ObserveWaitsome(30 * time.Millisecond)
	mean := c.WaitsomeMeanNanos()
	tassert.Fatal(t, mean == int64(20*time.Millisecond), "want mean 20ms, got", time.Duration(mean))
}
