package transport

import (
	"github.com/llnl/ygm/lambda"
	"github.com/llnl/ygm/router"
	"github.com/llnl/ygm/transport/bundle"
	"github.com/llnl/ygm/wire"
)

// Dispatch walks buf frame by frame per spec section 4.7, invoking the
// registered trampoline for frames addressed to this rank and forwarding
// everything else through agg toward its next hop. routing selects
// whether routing headers are present on the wire at all; tracing selects
// whether a trace header follows each routing header.
func Dispatch(e lambda.Caller, reg *lambda.Registry, agg *bundle.Aggregator, routing router.Mode, tracing bool, buf []byte, recvCount *int64) error {
	c := wire.NewCursor(buf)

	for c.Remaining() > 0 {
		var (
			h        wire.RoutingHeader
			trace    *wire.TraceHeader
			haveHdr  bool
			err      error
		)

		if routing != router.None {
			h, err = c.TakeRoutingHeader()
			if err != nil {
				return err
			}
			haveHdr = true
		}

		if tracing {
			th, err := c.TakeTraceHeader()
			if err != nil {
				return err
			}
			trace = &th
		}

		isLocal := !haveHdr || h.FinalDest == int32(e.Rank())

		if isLocal {
			tag, err := c.TakeTag()
			if err != nil {
				return err
			}
			if err := reg.Dispatch(lambda.Tag(tag), e, c); err != nil {
				return err
			}
			*recvCount++
			continue
		}

		// Transit: forward the remaining payload_size bytes (which
		// include the tag and the call's captures+args, but not another
		// copy of the headers) to the next hop.
		body, err := c.Take(int(h.PayloadSize))
		if err != nil {
			return err
		}
		forwardFrame(agg, h, trace, body)
	}
	return nil
}

func forwardFrame(agg *bundle.Aggregator, h wire.RoutingHeader, trace *wire.TraceHeader, body []byte) {
	// EnqueueRaw re-buffers an already-framed body toward next_hop(final_dest)
	// verbatim, rather than re-deriving tag/captures/args, matching spec
	// section 4.7's "raw-copy h.payload_size bytes ... apply flush-to-capacity".
	agg.EnqueueRaw(int(h.FinalDest), trace, body)
}
