// Package stats tracks the engine's counters and exposes them as
// Prometheus gauges/counters. Field naming follows aistore's
// stats/common_statsd.go convention (a coreStats tracker keyed by metric
// name); the counter set itself -- isend/irecv counts and bytes, Waitsome
// timings, iallreduce counts -- is ported from comm_stats.hpp.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llnl/ygm/cmn/atomic"
)

// Counters is the engine's live counter set, safe for concurrent read by
// an external Prometheus scraper while the single-threaded progress
// context updates it.
type Counters struct {
	ISendCount atomic.Int64
	ISendBytes atomic.Int64
	IRecvCount atomic.Int64
	IRecvBytes atomic.Int64

	AllReduceCount atomic.Int64
	BarrierCount   atomic.Int64

	QueuedBytes   atomic.Int64
	InFlightBytes atomic.Int64

	waitsomeTotal atomic.Int64 // nanoseconds, accumulated
	waitsomeCalls atomic.Int64

	prom promCollectors
}

type promCollectors struct {
	isendCount     prometheus.Counter
	isendBytes     prometheus.Counter
	irecvCount     prometheus.Counter
	irecvBytes     prometheus.Counter
	allReduceCount prometheus.Counter
	barrierCount   prometheus.Counter
	queuedBytes    prometheus.Gauge
	inFlightBytes  prometheus.Gauge
	waitsomeSecs   prometheus.Histogram
}

// New registers a fresh Counters set with reg (pass prometheus.NewRegistry()
// for test isolation, or prometheus.DefaultRegisterer in a single-engine
// process).
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{}
	c.prom = promCollectors{
		isendCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "isend_total", Help: "non-blocking sends posted",
		}),
		isendBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "isend_bytes_total", Help: "bytes posted via non-blocking send",
		}),
		irecvCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "irecv_total", Help: "non-blocking receives completed",
		}),
		irecvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "irecv_bytes_total", Help: "bytes completed via non-blocking receive",
		}),
		allReduceCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "allreduce_total", Help: "all-reduce collectives issued",
		}),
		barrierCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "barrier_total", Help: "barriers completed",
		}),
		queuedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "queued_bytes", Help: "bytes queued in per-destination send buffers",
		}),
		inFlightBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "inflight_bytes", Help: "bytes posted to the substrate and not yet completed",
		}),
		waitsomeSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ygm", Subsystem: "comm", Name: "waitsome_seconds", Help: "time spent blocked in a progress step",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.prom.isendCount, c.prom.isendBytes, c.prom.irecvCount, c.prom.irecvBytes,
			c.prom.allReduceCount, c.prom.barrierCount, c.prom.queuedBytes, c.prom.inFlightBytes,
			c.prom.waitsomeSecs,
		)
	}
	return c
}

func (c *Counters) ISend(n int) {
	c.ISendCount.Inc()
	c.ISendBytes.Add(int64(n))
	c.prom.isendCount.Inc()
	c.prom.isendBytes.Add(float64(n))
}

func (c *Counters) IRecv(n int) {
	c.IRecvCount.Inc()
	c.IRecvBytes.Add(int64(n))
	c.prom.irecvCount.Inc()
	c.prom.irecvBytes.Add(float64(n))
}

func (c *Counters) AllReduce() {
	c.AllReduceCount.Inc()
	c.prom.allReduceCount.Inc()
}

func (c *Counters) Barrier() {
	c.BarrierCount.Inc()
	c.prom.barrierCount.Inc()
}

func (c *Counters) SetQueuedBytes(n int64) {
	c.QueuedBytes.Store(n)
	c.prom.queuedBytes.Set(float64(n))
}

func (c *Counters) SetInFlightBytes(n int64) {
	c.InFlightBytes.Store(n)
	c.prom.inFlightBytes.Set(float64(n))
}

// ObserveWaitsome records the wall-clock cost of one progress step's
// blocking wait, mirroring comm_stats.hpp's Waitsome timing histogram.
func (c *Counters) ObserveWaitsome(d time.Duration) {
	c.waitsomeTotal.Add(int64(d))
	c.waitsomeCalls.Inc()
	c.prom.waitsomeSecs.Observe(d.Seconds())
}

func (c *Counters) WaitsomeMeanNanos() int64 {
	calls := c.waitsomeCalls.Load()
	if calls == 0 {
		return 0
	}
	return c.waitsomeTotal.Load() / calls
}
