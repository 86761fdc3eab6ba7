// Package barrier implements the quiescence barrier: the fixed-point
// two-counter protocol that detects when every in-flight send has been
// matched by a receive across the whole communicator. Grounded on
// comm_impl.hpp's barrier()/barrier_reduce_counts, with the "refcounted
// quiescence" result vocabulary adapted from aistore's
// xact.RefcntQuiCB/cluster.QuiRes.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package barrier

import (
	"github.com/llnl/ygm/cmn/nlog"
	"github.com/llnl/ygm/progress"
)

// QuiRes mirrors aistore's cluster.QuiRes enum: the outcome of one
// quiescence attempt, named for parity with that vocabulary even though
// this protocol always eventually succeeds or the substrate errors fatally
// (spec section 5: no cancellation/timeouts).
type QuiRes int

const (
	QuiDone QuiRes = iota
	QuiActive
)

// AllReducer sums a pair of uint64 counters across the whole world,
// without itself calling barrier.Quiesce (that would recurse) -- this is
// the narrow primitive collective.AllReduceUint64Pair provides over the
// dedicated barrier realm.
type AllReducer interface {
	AllReduceUint64Pair(a, b uint64) (sa, sb uint64)
}

// PreBarrierCallback runs once per Quiesce call, after the initial drain
// and before the first counter snapshot is taken, matching comm_impl.hpp's pre-barrier callback
// list (e.g. container flush hooks in the original; here, an open
// extension point for callers via RegisterPreBarrierCallback at the
// engine layer).
type PreBarrierCallback func()

// Quiesce runs the barrier protocol to completion against loop/reducer:
// flush and drain until locally idle, then iterate the (recv,send)
// all-reduce until two consecutive rounds agree and are balanced.
func Quiesce(loop *progress.Loop, reducer AllReducer, preBarrier []PreBarrierCallback) {
	loop.DrainUntilIdle()
	for _, cb := range preBarrier {
		cb()
	}

	var prevRecv, prevSend uint64
	first := true

	for {
		loop.DrainUntilIdle()

		localRecv := uint64(loop.RecvCount)
		localSend := uint64(loop.SendCount())

		sumRecv, sumSend := reducer.AllReduceUint64Pair(localRecv, localSend)

		if !first && sumRecv == sumSend && sumRecv == prevRecv && sumSend == prevSend {
			return
		}
		first = false
		prevRecv, prevSend = sumRecv, sumSend

		nlog.InfoDepth(1, "barrier: round sum_recv=", sumRecv, "sum_send=", sumSend)
	}
}

// CFBarrier is the cheap control-flow-only synchronization issued after
// quiescence is reached, to ensure no straggler issues further async
// during the return path (spec section 4.9, "Termination").
func CFBarrier(reducer AllReducer) {
	reducer.AllReduceUint64Pair(0, 0)
}
