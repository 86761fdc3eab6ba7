// Package engine exposes the runtime's public surface: construction,
// async/async_bcast/async_mcast, barrier/cf_barrier, the all_reduce
// family, bcast, and mpi_send/recv. It wires together layout, router,
// lambda, buffer, transport/bundle, transport, progress, barrier, and
// collective exactly as spec.md's component table lays them out, over
// three substrate realms (data, barrier, collective) so the engine's own
// traffic never interferes with user-issued collectives.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llnl/ygm/barrier"
	"github.com/llnl/ygm/cmn/cos"
	"github.com/llnl/ygm/cmn/nlog"
	"github.com/llnl/ygm/collective"
	"github.com/llnl/ygm/config"
	"github.com/llnl/ygm/hk"
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/layout"
	"github.com/llnl/ygm/progress"
	"github.com/llnl/ygm/router"
	"github.com/llnl/ygm/stats"
	"github.com/llnl/ygm/substrate"
	"github.com/llnl/ygm/trace"
	"github.com/llnl/ygm/transport"
	"github.com/llnl/ygm/transport/bundle"
	"github.com/llnl/ygm/wire"
)

const (
	hkTick       = 500 * time.Millisecond
	hkFlushEvery = 2 * time.Second
	hkStatsEvery = 30 * time.Second
)

// Engine is one process's handle to the communicator. Exactly one
// goroutine may drive its public API at a time (spec section 5's
// single-threaded cooperative scheduling model).
type Engine struct {
	opts   config.Options
	layout *layout.Layout
	router *router.Router
	sock   *substrate.Socket

	registry *lambda.Registry
	agg      *bundle.Aggregator
	recv     *transport.RecvPool
	loop     *progress.Loop

	barrierComm *collective.Comm
	otherComm   *collective.Comm

	preBarrier []barrier.PreBarrierCallback

	bcastSeen map[bcastKey]struct{} // origin+generation dedup, see AsyncBcast; cleared at each Barrier
	bcastGen  int64

	stats *stats.Counters
	tr    *trace.Tracer
	hk    *hk.Housekeeper
}

type bcastKey struct {
	origin int
	gen    int64
}

// Caller re-exports lambda.Caller so call sites registering trampolines
// via Register/RegisterBcast need not import the lambda package directly.
type Caller = lambda.Caller

// Register registers a plain (non-broadcast) trampoline for tag name: fn
// receives the calling engine and a gob-decoded argument value, matching
// the call shape of an Async(dest, tag, args) submission one-to-one.
func Register[A any](e *Engine, name string, fn func(Caller, A)) lambda.Tag {
	return e.registry.Register(name, func(caller lambda.Caller, c *wire.Cursor) error {
		var a A
		if err := c.DecodeGob(&a); err != nil {
			return err
		}
		fn(caller, a)
		return nil
	})
}

// New dials the peer mesh (errgroup + bounded backoff inside substrate.Dial),
// constructs every component per SPEC_FULL.md's component table, and
// returns a ready-to-use Engine. The caller must invoke Close before
// process exit to assert quiescence, mirroring the original C++ RAII
// destructor's ASSERT_RELEASE checks (spec section 9 supplemented
// feature).
func New(ctx context.Context, rank int, listenAddr string, peerAddrs []string, nodeSize int, opts config.Options) (*Engine, error) {
	if len(peerAddrs)%nodeSize != 0 {
		return nil, fmt.Errorf("engine: layout: %w", layout.ErrUnevenNodes)
	}
	l, err := layout.Uniform(rank, len(peerAddrs)/nodeSize, nodeSize)
	if err != nil {
		return nil, fmt.Errorf("engine: layout: %w", err)
	}

	sock, err := substrate.Dial(ctx, rank, listenAddr, peerAddrs)
	if err != nil {
		return nil, fmt.Errorf("engine: substrate dial: %w", err)
	}

	r := router.New(l, opts.Routing)
	reg := lambda.NewRegistry()

	agg := bundle.NewAggregator(sock, r, l.Size(), bundle.Args{
		Size:        int(opts.BufferSizeBytes),
		FreqIssend:  opts.FreqIssend,
		FreeListCap: opts.FreeListCap,
		Routing:     opts.Routing,
		Tracing:     opts.Trace,
		Realm:       substrate.RealmData,
	})
	recv := transport.NewRecvPool(sock, substrate.RealmData, opts.NumIrecvs, opts.IrecvSizeBytes)

	e := &Engine{
		opts:      opts,
		layout:    l,
		router:    r,
		sock:      sock,
		registry:  reg,
		agg:       agg,
		recv:      recv,
		bcastSeen: make(map[bcastKey]struct{}),
		stats:     stats.New(prometheus.DefaultRegisterer),
	}

	e.loop = progress.New(e, progress.Config{
		Sock:         sock,
		Agg:          agg,
		Recv:         recv,
		Registry:     reg,
		Routing:      opts.Routing,
		Tracing:      opts.Trace,
		Realm:        substrate.RealmData,
		NumISendWait: opts.NumISendsWait,
	})
	e.barrierComm = collective.New(sock, e.loop, rank, l.Size(), substrate.RealmBarrier)
	e.otherComm = collective.New(sock, e.loop, rank, l.Size(), substrate.RealmCollective)

	if opts.Trace {
		tr, err := trace.Open(opts.TracePath, rank)
		if err != nil {
			return nil, fmt.Errorf("engine: trace: %w", err)
		}
		e.tr = tr
	}

	e.hk = hk.New(hkTick)
	go e.hk.Run()
	e.hk.WaitStarted()
	e.hk.Register("nlog-flush", func() time.Duration {
		nlog.Flush()
		return hkFlushEvery
	}, hkFlushEvery)
	e.hk.Register("stats-snapshot", func() time.Duration {
		e.stats.SetQueuedBytes(e.agg.QueuedBytes())
		nlog.InfoDepth(1, "ygm: rank", rank,
			"isend", e.stats.ISendCount.Load(), "irecv", e.stats.IRecvCount.Load(),
			"queued_bytes", e.agg.QueuedBytes())
		return hkStatsEvery
	}, hkStatsEvery)

	if opts.Welcome && rank == 0 {
		nlog.Infof("ygm: communicator of %d ranks across %d nodes ready", l.Size(), l.NumNodes())
	}

	return e, nil
}

// Rank implements lambda.Caller for trampolines and collectives.
func (e *Engine) Rank() int { return e.layout.Rank() }
func (e *Engine) Size() int { return e.layout.Size() }

// Async enqueues a remote invocation of the function registered under tag
// with args, per spec section 4.5. args must be gob-encodable.
func (e *Engine) Async(dest int, tag lambda.Tag, args any) error {
	payload, err := wire.EncodeGob(args)
	if err != nil {
		return fmt.Errorf("engine: async: %w", err)
	}
	e.backPressure()
	if err := e.enqueueOrLocal(dest, tag, payload); err != nil {
		return err
	}
	if e.tr != nil {
		e.tr.Record(trace.AsyncSubmit, int64(dest), int64(len(payload)))
	}
	return nil
}

// enqueueOrLocal is the "local-delivery fast path" referenced in
// DESIGN.md's Open Question resolution: a destination equal to this
// rank's own never touches the substrate -- the trampoline runs inline,
// and the counter law is kept balanced by incrementing both sides of the
// send/recv pair manually (a loopback still counts as one send matched by
// one receive).
func (e *Engine) enqueueOrLocal(dest int, tag lambda.Tag, payload []byte) error {
	if dest == e.Rank() {
		c := wire.NewCursor(payload)
		if err := e.registry.Dispatch(tag, e, c); err != nil {
			return err
		}
		e.agg.IncSendCount()
		e.loop.IncRecvCount()
		return nil
	}
	e.agg.Enqueue(dest, tag, nil, nil, payload)
	return nil
}

// backPressure forces local progress when queued bytes exceed the soft
// cap, per spec section 4.8's back-pressure rule; a no-op inside a
// trampoline, where interrupts are masked and nested async must only
// enqueue (spec section 5's reentrancy rule).
func (e *Engine) backPressure() {
	if e.loop.InTrampoline() {
		return
	}
	if e.agg.QueuedBytes() > e.opts.BufferSizeBytes {
		e.loop.LocalProgress()
	}
}

// bcastRole drives which half of the two-level overlay a received copy is
// still responsible for; see fanoutFrame.
type bcastRole byte

const (
	// bcastRoleOrigin is the submitter's own first-receipt copy: it both
	// fans out locally and starts this node's share of the remote relay.
	bcastRoleOrigin bcastRole = iota
	// bcastRoleLocalPeer is a copy received via on-node fan-out from the
	// origin: the node is already locally covered, so this copy only
	// continues the remote relay, using the receiver's own local id.
	bcastRoleLocalPeer
	// bcastRoleRemoteLeaf is a copy received via a remote relay hop: it
	// fans out locally on its (newly reached) node, but the relay stops
	// here -- it does not continue to a further remote hop.
	bcastRoleRemoteLeaf
	// bcastRoleTerminal is a local-fanout copy handed out by a remote
	// leaf: purely run fn, nothing further.
	bcastRoleTerminal
)

const bcastHeaderSize = 17 // origin (int64 LE) + generation (int64 LE) + role (1 byte)

func encodeBcastHeader(origin int, gen int64, role bcastRole) []byte {
	hdr := make([]byte, bcastHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(origin))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(gen))
	hdr[16] = byte(role)
	return hdr
}

func decodeBcastHeader(hdr []byte) (origin int, gen int64, role bcastRole) {
	return int(binary.LittleEndian.Uint64(hdr[0:8])),
		int64(binary.LittleEndian.Uint64(hdr[8:16])),
		bcastRole(hdr[16])
}

// AsyncBcast invokes the function registered under tag (via RegisterBcast)
// on every rank exactly once, per spec section 4.5's two-level
// dissemination overlay. Per this module's resolved Open Question (see
// DESIGN.md), the call is queued like any other async rather than
// executed synchronously inline: the submitter dispatches its own copy
// through the local-delivery fast path, and the bcast trampoline itself
// -- not the submitter -- fans out to every other destination once it
// runs, so submission never blocks on the overlay's shape.
func (e *Engine) AsyncBcast(tag lambda.Tag, args any) error {
	e.bcastGen++
	gen := e.bcastGen

	argsPayload, err := wire.EncodeGob(args)
	if err != nil {
		return fmt.Errorf("engine: async_bcast: %w", err)
	}
	full := append(encodeBcastHeader(e.Rank(), gen, bcastRoleOrigin), argsPayload...)
	return e.enqueueOrLocal(e.Rank(), tag, full)
}

// RegisterBcast registers the trampoline for a broadcastable call site: it
// decodes the origin/generation/role header and the gob-encoded args,
// invokes fn exactly once per (origin, generation) pair via the engine's
// dedup set, then continues whichever half of the overlay this copy's
// role still owes, per spec section 4.5.
func RegisterBcast[A any](e *Engine, name string, fn func(Caller, A)) lambda.Tag {
	var tag lambda.Tag
	tag = e.registry.Register(name, func(caller lambda.Caller, c *wire.Cursor) error {
		hdr, err := c.Take(bcastHeaderSize)
		if err != nil {
			return err
		}
		origin, gen, role := decodeBcastHeader(hdr)

		argsStart := c.Pos()
		var a A
		if err := c.DecodeGob(&a); err != nil {
			return err
		}
		full := append(append([]byte(nil), hdr...), c.Buf()[argsStart:c.Pos()]...)

		key := bcastKey{origin: origin, gen: gen}
		if _, dup := e.bcastSeen[key]; dup {
			return nil
		}
		e.bcastSeen[key] = struct{}{}

		fn(caller, a)
		e.fanoutFrame(tag, full, role)
		return nil
	})
	return tag
}

// fanoutFrame continues the two-level dissemination overlay of spec
// section 4.5 for a frame that just ran its first receipt at this rank,
// per the role it arrived with:
//
//   - bcastRoleOrigin:     local fan-out (role -> localPeer) + remote relay
//   - bcastRoleLocalPeer:  remote relay only (node already covered locally)
//   - bcastRoleRemoteLeaf: local fan-out only (role -> terminal), relay stops
//   - bcastRoleTerminal:   nothing -- fn already ran above
//
// Splitting responsibility this way keeps every rank's share of the work
// O(1) (a fixed on-node fan-out plus at most ceil(nodes/L) relay hops),
// instead of every first-receiver re-flooding all N destinations.
func (e *Engine) fanoutFrame(tag lambda.Tag, full []byte, role bcastRole) {
	switch role {
	case bcastRoleOrigin:
		e.bcastLocalFanout(tag, full, bcastRoleLocalPeer)
		e.bcastRemoteRelay(tag, full)
	case bcastRoleLocalPeer:
		e.bcastRemoteRelay(tag, full)
	case bcastRoleRemoteLeaf:
		e.bcastLocalFanout(tag, full, bcastRoleTerminal)
	case bcastRoleTerminal:
	}
}

// bcastLocalFanout re-frames full with nextRole and sends it to every
// other rank sharing this process's node ("sends one copy to every rank
// on its own node", spec section 4.5).
func (e *Engine) bcastLocalFanout(tag lambda.Tag, full []byte, nextRole bcastRole) {
	reframed := append([]byte(nil), full...)
	reframed[16] = byte(nextRole)
	for _, r := range e.layout.RanksOnMyNode() {
		if r != e.Rank() {
			e.agg.Enqueue(r, tag, nil, nil, reframed)
		}
	}
}

// bcastRemoteRelay sends full, re-tagged bcastRoleRemoteLeaf, to one rank
// per "layer" of spec section 4.5's overlay: nodes are grouped into
// ceil(nodes/L) layers of up to L nodes each, and this rank's partner
// offset within every layer is (l - n) mod L, where l is this rank's own
// local id and n its own node id. Because that offset is a bijection over
// l for a fixed n, the L local ranks that shared this node's origin/
// local-peer copies collectively cover all L positions of every layer --
// i.e. every other node exactly once -- without any single rank's link
// carrying more than ceil(nodes/L) remote sends.
func (e *Engine) bcastRemoteRelay(tag lambda.Tag, full []byte) {
	l := e.layout.LocalOf(e.Rank())
	n := e.layout.NodeOf(e.Rank())
	nodeSize := e.layout.NodeSize()
	numNodes := e.layout.NumNodes()
	numLayers := (numNodes + nodeSize - 1) / nodeSize

	offset := ((l-n)%nodeSize + nodeSize) % nodeSize

	reframed := append([]byte(nil), full...)
	reframed[16] = byte(bcastRoleRemoteLeaf)

	for layer := 0; layer < numLayers; layer++ {
		target := layer*nodeSize + offset
		if target == n || target >= numNodes {
			continue
		}
		dest := e.layout.StridedRank(target, l)
		e.agg.Enqueue(dest, tag, nil, nil, reframed)
	}
}

// AsyncMcast invokes the function registered under tag on every rank in
// dests exactly once.
func (e *Engine) AsyncMcast(dests []int, tag lambda.Tag, args any) error {
	payload, err := wire.EncodeGob(args)
	if err != nil {
		return fmt.Errorf("engine: async_mcast: %w", err)
	}
	for _, d := range dests {
		if err := e.enqueueOrLocal(d, tag, payload); err != nil {
			return err
		}
	}
	return nil
}

// RegisterPreBarrierCallback runs fn once before each barrier's first
// quiescence iteration.
func (e *Engine) RegisterPreBarrierCallback(fn func()) {
	e.preBarrier = append(e.preBarrier, fn)
}

// Barrier returns only when the whole communicator is quiescent.
func (e *Engine) Barrier() {
	var cbs []barrier.PreBarrierCallback
	for _, fn := range e.preBarrier {
		cbs = append(cbs, barrier.PreBarrierCallback(fn))
	}
	barrier.Quiesce(e.loop, e.barrierComm, cbs)
	barrier.CFBarrier(e.barrierComm)
	clear(e.bcastSeen)
	e.stats.Barrier()
	if e.tr != nil {
		e.tr.Record(trace.BarrierEnd, e.loop.RecvCount, e.agg.SendCount())
	}
	cos.Assert(e.agg.QueuedBytes() == 0, "engine: non-zero queued bytes after barrier")
}

// CFBarrier is the cheap control-flow-only synchronization.
func (e *Engine) CFBarrier() { barrier.CFBarrier(e.barrierComm) }

// AllReduceSum returns the sum of v across every rank.
func AllReduceSum[T int | int32 | int64 | float64](e *Engine, v T) T {
	e.Barrier()
	e.stats.AllReduce()
	return collective.AllReduce(e.otherComm, v, func(a, b T) T { return a + b })
}

// AllReduceMin returns the minimum of v across every rank.
func AllReduceMin[T int | int32 | int64 | float64](e *Engine, v T) T {
	e.Barrier()
	e.stats.AllReduce()
	return collective.AllReduce(e.otherComm, v, func(a, b T) T {
		if a < b {
			return a
		}
		return b
	})
}

// AllReduceMax returns the maximum of v across every rank.
func AllReduceMax[T int | int32 | int64 | float64](e *Engine, v T) T {
	e.Barrier()
	e.stats.AllReduce()
	return collective.AllReduce(e.otherComm, v, func(a, b T) T {
		if a > b {
			return a
		}
		return b
	})
}

// AllReduce performs a general binary-associative reduction of v using merge.
func AllReduce[T any](e *Engine, v T, merge func(a, b T) T) T {
	e.Barrier()
	e.stats.AllReduce()
	return collective.AllReduce(e.otherComm, v, merge)
}

// Bcast serializes v at root and ships it to every other rank.
func Bcast[T any](e *Engine, root int, v T) T {
	e.Barrier()
	return collective.Bcast(e.otherComm, root, v)
}

// MPISend ships v to dest as a typed point-to-point message.
func MPISend[T any](e *Engine, dest int, v T) { collective.MPISend(e.otherComm, dest, v) }

// MPIRecv receives a typed point-to-point message from src.
func MPIRecv[T any](e *Engine, src int) T { return collective.MPIRecv[T](e.otherComm, src) }

// Close tears down the substrate after asserting quiescence -- Go has no
// destructor-timing guarantee, so unlike the original's RAII teardown,
// the caller must invoke this explicitly (spec section 9 supplemented
// feature).
func (e *Engine) Close() error {
	e.Barrier()
	cos.Assert(e.agg.PendingSends() == 0, "engine: pending sends at close")
	e.hk.Stop()
	nlog.Flush()
	if e.tr != nil {
		e.tr.Close()
	}
	return e.sock.Close()
}

// Registry exposes the lambda registry so call-site packages can register
// trampolines before any Async call (spec section 4.3: registration order
// must be identical on every rank).
func (e *Engine) Registry() *lambda.Registry { return e.registry }

// Counters returns this rank's cumulative send and receive counts, the
// same pair the quiescence protocol itself compares (spec section 4.6's
// counter law: summed across every rank, send_count must equal
// recv_count once the whole communicator is quiescent).
func (e *Engine) Counters() (sendCount, recvCount int64) {
	return e.agg.SendCount(), e.loop.RecvCount
}
