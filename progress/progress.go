// Package progress drives the single-threaded cooperative event loop: one
// Step tests or blocks on the pair {head-of-send-queue, head-of-recv-queue}
// and reacts to whichever completes, translating comm_impl.hpp's
// process_receive_queue / flush_all_local_and_process_incoming from MPI's
// Waitsome polling onto a select over the substrate's completion channels.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package progress

import (
	"github.com/llnl/ygm/cmn/cos"
	"github.com/llnl/ygm/cmn/debug"
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/router"
	"github.com/llnl/ygm/substrate"
	"github.com/llnl/ygm/transport"
	"github.com/llnl/ygm/transport/bundle"
)

// Config bundles everything a Loop needs to react to completions.
type Config struct {
	Sock         *substrate.Socket
	Agg          *bundle.Aggregator
	Recv         *transport.RecvPool
	Registry     *lambda.Registry
	Routing      router.Mode
	Tracing      bool
	Realm        substrate.Realm
	NumISendWait int // send queue length above which Step blocks instead of testing
}

// Loop is the engine's single progress context. It is not safe for
// concurrent use -- per spec section 5, exactly one goroutine (the one
// driving the engine's public API) may call into it at a time.
type Loop struct {
	cfg Config
	e   lambda.Caller

	interruptsMasked bool // true while inside a trampoline; never reentered, so a bool suffices

	RecvCount int64 // local trampoline invocations; cumulative send count lives on Agg
}

// SendCount mirrors the aggregator's running send total, exposed here so
// callers needing both counters (the barrier) have one source.
func (l *Loop) SendCount() int64 { return l.cfg.Agg.SendCount() }

func New(e lambda.Caller, cfg Config) *Loop {
	return &Loop{cfg: cfg, e: e}
}

// InTrampoline reports whether the calling code is itself running from
// inside a dispatched trampoline. Used to enforce the reentrancy guard:
// nested async() calls must be safe to enqueue without invoking Step.
func (l *Loop) InTrampoline() bool { return l.interruptsMasked }

// IncRecvCount accounts for a trampoline invoked outside the normal
// dispatch path (the engine's local-delivery fast path for a
// self-addressed async), so the barrier's counter law still holds: every
// local execution of a trampoline increments recv_count exactly once.
func (l *Loop) IncRecvCount() { l.RecvCount++ }

// Step performs one iteration: if the send queue is short, test both
// completion channels non-blockingly via select-default; otherwise block
// on whichever fires first. It must never be called while
// interruptsMasked (spec section 4.8's reentrancy guard).
func (l *Loop) Step() {
	debug.Assert(!l.interruptsMasked, "progress: Step called with interrupts masked")

	blocking := l.cfg.Agg.PendingSends() > l.cfg.NumISendWait

	sendCh := l.cfg.Sock.SendDone()
	recvCh := l.cfg.Recv.Done()

	if blocking {
		select {
		case sr := <-sendCh:
			l.handleSend(sr)
		case rr := <-recvCh:
			l.handleRecv(rr)
		}
		return
	}

	select {
	case sr := <-sendCh:
		l.handleSend(sr)
	case rr := <-recvCh:
		l.handleRecv(rr)
	default:
	}
}

// handleSend reaps a completed send. A substrate error here is fatal per
// spec section 7's error taxonomy -- there is no retry or degraded mode for
// a broken connection, so the process exits rather than silently dropping
// the completion and leaving the barrier's send/recv counter law unable to
// ever converge.
func (l *Loop) handleSend(sr substrate.SendResult) {
	if sr.Err != nil {
		cos.ExitLogf("substrate send error: %v", sr.Err)
	}
	l.cfg.Agg.ReapSendCompletion(sr.ID)
}

// handleRecv dispatches a completed receive. Both a substrate error and an
// error escaping a trampoline (transport.Dispatch) are fatal per spec
// section 7 -- "User errors in trampolines: fatal at the receiving rank" --
// so neither is logged-and-continued; both exit the process.
func (l *Loop) handleRecv(rr substrate.RecvResult) {
	if rr.Err != nil {
		cos.ExitLogf("substrate recv error from rank %d: %v", rr.Peer, rr.Err)
	}

	l.interruptsMasked = true
	err := transport.Dispatch(l.e, l.cfg.Registry, l.cfg.Agg, l.cfg.Routing, l.cfg.Tracing, rr.Buf, &l.RecvCount)
	l.interruptsMasked = false

	if err != nil {
		cos.ExitLogf("trampoline/dispatch error: %v", err)
	}
	l.cfg.Recv.Repost()
}

// LocalProgress performs spec section 4.8's local_progress(): one Step,
// then flush any destination left dirty by it.
func (l *Loop) LocalProgress() {
	l.Step()
	l.cfg.Agg.FlushToCapacity()
}

// DrainUntilIdle loops flush_all_local_and_process_incoming until a pass
// does no work: process receives, flush every queued destination, drain
// completed sends.
func (l *Loop) DrainUntilIdle() {
	for {
		before := l.RecvCount + l.SendCount()
		pendingBefore := l.cfg.Agg.PendingSends()

		l.Step()
		l.cfg.Agg.FlushToCapacity()

		idle := l.RecvCount+l.SendCount() == before && l.cfg.Agg.PendingSends() == pendingBefore
		if idle {
			return
		}
	}
}
