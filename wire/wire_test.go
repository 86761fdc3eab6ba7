package wire_test

import (
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/wire"
)

func TestRoutingHeaderRoundTrip(t *testing.T) {
	h := wire.RoutingHeader{FinalDest: 7, PayloadSize: 128}
	buf := make([]byte, wire.RoutingHeaderSize)
	h.Encode(buf)

	got := wire.DecodeRoutingHeader(buf)
	tassert.Fatal(t, got == h, "round-trip mismatch:", got)
}

func TestTraceHeaderRoundTrip(t *testing.T) {
	h := wire.TraceHeader{OriginRank: 3, TraceID: 42}
	buf := make([]byte, wire.TraceHeaderSize)
	h.Encode(buf)

	got := wire.DecodeTraceHeader(buf)
	tassert.Fatal(t, got == h, "round-trip mismatch:", got)
}

func TestTagRoundTrip(t *testing.T) {
	buf := make([]byte, wire.TagSize)
	wire.EncodeTag(buf, 1234)
	tassert.Fatal(t, wire.DecodeTag(buf) == 1234, "tag round-trip mismatch")
}

func TestCursorTakeSequence(t *testing.T) {
	var buf []byte
	h := wire.RoutingHeader{FinalDest: 2, PayloadSize: 3}
	hdr := make([]byte, wire.RoutingHeaderSize)
	h.Encode(hdr)
	buf = append(buf, hdr...)
	buf = append(buf, []byte{1, 2, 3}...)

	c := wire.NewCursor(buf)
	got, err := c.TakeRoutingHeader()
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == h, "routing header mismatch")

	body, err := c.Take(3)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, string(body) == string([]byte{1, 2, 3}), "body mismatch")
	tassert.Fatal(t, c.Remaining() == 0, "cursor should be exhausted")
}

func TestCursorUnderflow(t *testing.T) {
	c := wire.NewCursor([]byte{1, 2})
	_, err := c.Take(3)
	tassert.Fatal(t, err != nil, "want underflow error")
}

func TestGobDecodeAdvancesExactly(t *testing.T) {
	type args struct {
		A int
		B string
	}
	payload, err := wire.EncodeGob(args{A: 9, B: "x"})
	tassert.CheckFatal(t, err)

	trailer := []byte{0xaa, 0xbb, 0xcc}
	buf := append(append([]byte(nil), payload...), trailer...)

	c := wire.NewCursor(buf)
	var got args
	tassert.CheckFatal(t, c.DecodeGob(&got))
	tassert.Fatal(t, got == args{A: 9, B: "x"}, "decoded value mismatch:", got)

	rest, err := c.Take(len(trailer))
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, string(rest) == string(trailer), "gob decode must consume exactly its own bytes")
}
