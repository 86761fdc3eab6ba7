// Package bundle provides the send aggregator: one growable buffer per
// destination rank, flushed to the substrate when full or on demand.
// Generalized from aistore's transport/bundle.Streams (per-destination
// fan-out, round-robin stream bundle) from "HTTP stream bundle" to
// "byte-buffer aggregator," and from comm_impl.hpp's async/
// flush_send_buffer for the exact byte-level protocol.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bundle

import (
	"github.com/eapache/queue"

	"github.com/llnl/ygm/buffer"
	"github.com/llnl/ygm/cmn/atomic"
	"github.com/llnl/ygm/cmn/debug"
	"github.com/llnl/ygm/cmn/nlog"
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/router"
	"github.com/llnl/ygm/substrate"
	"github.com/llnl/ygm/wire"
)

// Args configures an Aggregator.
type Args struct {
	Size        int // capacity, in bytes, at which a destination auto-flushes
	FreqIssend  int // every k-th flush per destination alternates send mode; 0 disables
	FreeListCap int // buffer.Pool capacity
	Routing     router.Mode
	Tracing     bool
	Realm       substrate.Realm
}

// inFlightSend pairs a posted send's substrate id with the buffer that
// must be recycled once the substrate signals completion.
type inFlightSend struct {
	id  uint64
	buf *buffer.Buffer
}

// Aggregator is the per-process send side: one destination buffer per
// rank, a dirty-destination FIFO, and the free list recycling flushed
// buffers. It is owned solely by the progress context -- no locks, per
// spec section 5's "no locks required" resource model.
type Aggregator struct {
	args Args
	sock *substrate.Socket
	r    *router.Router

	destBufs []*buffer.Buffer // indexed by next-hop rank
	dirty    *queue.Queue     // FIFO of dirty (non-empty) destination ranks, matching send_dest_queue
	inDirty  []bool           // dirty[d] membership, avoids duplicate enqueues

	patchOffset []int // pending routing-header payload_size offset per destination, -1 if none pending

	free        *buffer.Pool
	flushCount  []int64 // per-destination flush count, for freq_issend alternation
	inflight    []*inFlightSend

	sendBufferBytes atomic.Int64
	sendCount       atomic.Int64 // every frame written by Enqueue increments this once; forwarded frames are not counted
}

// IncSendCount accounts for a send that never touched the substrate --
// the engine's local-delivery fast path for a self-addressed async, which
// must still balance the barrier's counter law (every send matched by a
// receive, including a loopback one).
func (a *Aggregator) IncSendCount() { a.sendCount.Inc() }

// SendCount is the running total of frames originated through Enqueue,
// used by the barrier's quiescence fixed point. A frame forwarded through
// EnqueueRaw is counted neither here nor as a receive by the dispatcher,
// so the sums still balance once every frame has reached its final rank.
func (a *Aggregator) SendCount() int64 { return a.sendCount.Load() }

// NewAggregator constructs an Aggregator sized for numRanks destinations.
func NewAggregator(sock *substrate.Socket, r *router.Router, numRanks int, args Args) *Aggregator {
	a := &Aggregator{
		args:        args,
		sock:        sock,
		r:           r,
		destBufs:    make([]*buffer.Buffer, numRanks),
		dirty:       queue.New(),
		inDirty:     make([]bool, numRanks),
		patchOffset: make([]int, numRanks),
		free:        buffer.NewPool(args.FreeListCap),
		flushCount:  make([]int64, numRanks),
		inflight:    make([]*inFlightSend, 0, 16),
	}
	for i := range a.patchOffset {
		a.patchOffset[i] = -1
	}
	return a
}

// QueuedBytes reports the total live bytes sitting in not-yet-flushed
// destination buffers, exposed for stats.Counters.
func (a *Aggregator) QueuedBytes() int64 { return a.sendBufferBytes.Load() }

func (a *Aggregator) bufFor(dest int) *buffer.Buffer {
	b := a.destBufs[dest]
	if b == nil {
		b = a.free.Get()
		a.destBufs[dest] = b
	}
	return b
}

// Enqueue performs spec section 4.5 steps 1-7: route, optionally write a
// routing header with a deferred payload_size patch, optionally write a
// tracing header, write the tag, the closure-capture image, and the
// serialized arguments; flush that destination once its buffer reaches
// args.Size. With tracing on and a nil traceHdr, a header naming this rank
// as origin (trace id 0) is written, so every frame carries one.
func (a *Aggregator) Enqueue(dest int, tag lambda.Tag, traceHdr *wire.TraceHeader, captures, args []byte) {
	next := a.r.NextHop(dest)
	b := a.bufFor(next)

	if b.Empty() && !a.inDirty[next] {
		a.dirty.Add(next)
		a.inDirty[next] = true
	}

	frameStart := b.Len()
	var hdrOffset = -1
	if a.r.Mode() != router.None {
		hdrOffset = b.Len()
		var h wire.RoutingHeader
		h.FinalDest = int32(dest)
		h.PayloadSize = 0 // placeholder, patched in step 6
		hdr := make([]byte, wire.RoutingHeaderSize)
		h.Encode(hdr)
		b.PushBytes(hdr)
	}

	if a.args.Tracing {
		if traceHdr == nil {
			traceHdr = &wire.TraceHeader{OriginRank: int32(a.sock.Rank())}
		}
		hdr := make([]byte, wire.TraceHeaderSize)
		traceHdr.Encode(hdr)
		b.PushBytes(hdr)
	}

	bodyStart := b.Len()

	tagBytes := make([]byte, wire.TagSize)
	wire.EncodeTag(tagBytes, uint16(tag))
	b.PushBytes(tagBytes)
	if len(captures) > 0 {
		b.PushBytes(captures)
	}
	if len(args) > 0 {
		b.PushBytes(args)
	}

	if hdrOffset >= 0 {
		payloadSize := uint32(b.Len() - bodyStart)
		b.PatchUint32(hdrOffset+4, payloadSize)
	}

	a.sendBufferBytes.Add(int64(b.Len() - frameStart))
	a.sendCount.Inc()

	if b.Len() >= a.args.Size {
		a.FlushOne(next)
	}
}

// EnqueueRaw re-buffers an already-framed body (a forwarded frame's
// payload, tag included) toward next_hop(dest) verbatim, per spec section
// 4.7's forwarding step: copy the routing header, any tracing header, and
// raw-copy the payload bytes into the next-hop send buffer.
func (a *Aggregator) EnqueueRaw(dest int, traceHdr *wire.TraceHeader, body []byte) {
	next := a.r.NextHop(dest)
	b := a.bufFor(next)

	if b.Empty() && !a.inDirty[next] {
		a.dirty.Add(next)
		a.inDirty[next] = true
	}

	frameStart := b.Len()
	if a.r.Mode() != router.None {
		hdr := make([]byte, wire.RoutingHeaderSize)
		h := wire.RoutingHeader{FinalDest: int32(dest), PayloadSize: uint32(len(body))}
		h.Encode(hdr)
		b.PushBytes(hdr)
	}
	if a.args.Tracing && traceHdr != nil {
		hdr := make([]byte, wire.TraceHeaderSize)
		traceHdr.Encode(hdr)
		b.PushBytes(hdr)
	}
	b.PushBytes(body)

	a.sendBufferBytes.Add(int64(b.Len() - frameStart))

	if b.Len() >= a.args.Size {
		a.FlushOne(next)
	}
}

// FlushOne moves dest's buffer into flight, posts a non-blocking send,
// and replaces it with a fresh buffer from the free list.
func (a *Aggregator) FlushOne(dest int) {
	b := a.destBufs[dest]
	if b == nil || b.Empty() {
		return
	}

	mode := substrate.SendEager
	a.flushCount[dest]++
	if a.args.FreqIssend > 0 && a.flushCount[dest]%int64(a.args.FreqIssend) == 0 {
		mode = substrate.SendSynchronous
	}

	a.sendBufferBytes.Add(-int64(b.Len()))
	id := a.sock.PostSend(a.args.Realm, dest, b.Data(), mode)
	a.inflight = append(a.inflight, &inFlightSend{id: id, buf: b})

	a.destBufs[dest] = a.free.Get()
	nlog.InfoDepth(1, "bundle: flushed", b.Len(), "bytes to rank", dest)
}

// FlushToCapacity drains the entire dirty-destination queue, flushing
// every destination with a non-empty buffer. Called at send_buffer_bytes
// overflow and as part of barrier entry.
func (a *Aggregator) FlushToCapacity() {
	for a.dirty.Length() > 0 {
		dest := a.dirty.Remove().(int)
		a.inDirty[dest] = false
		a.FlushOne(dest)
	}
}

// ReapSendCompletion recycles the in-flight buffer whose substrate send id
// just completed, returning it to the free list (or dropping it if the
// list is already at capacity, per spec section 3's in-flight-send note).
func (a *Aggregator) ReapSendCompletion(id uint64) {
	for i, f := range a.inflight {
		if f.id == id {
			a.free.Put(f.buf)
			a.inflight = append(a.inflight[:i], a.inflight[i+1:]...)
			return
		}
	}
	debug.Assert(false, "bundle: reaped unknown send id", id)
}

// PendingSends reports the number of sends currently in flight, used by
// the progress loop's num_isends_wait back-pressure check.
func (a *Aggregator) PendingSends() int { return len(a.inflight) }
