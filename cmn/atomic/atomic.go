// Package atomic provides lightweight typed wrappers over sync/atomic,
// used in place of raw int64/int32 fields throughout the engine so that
// counters, queue offsets, and flags are unambiguously lock-free.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Int32 struct{ v int32 }
	Int64 struct{ v int64 }
	Uint64 struct{ v uint64 }
	Bool  struct{ v int32 }
)

func (i *Int32) Load() int32       { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(n int32)     { atomic.StoreInt32(&i.v, n) }
func (i *Int32) Inc() int32        { return atomic.AddInt32(&i.v, 1) }
func (i *Int32) Dec() int32        { return atomic.AddInt32(&i.v, -1) }
func (i *Int32) Add(n int32) int32 { return atomic.AddInt32(&i.v, n) }

func (i *Int64) Load() int64       { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(n int64)     { atomic.StoreInt64(&i.v, n) }
func (i *Int64) Inc() int64        { return atomic.AddInt64(&i.v, 1) }
func (i *Int64) Dec() int64        { return atomic.AddInt64(&i.v, -1) }
func (i *Int64) Add(n int64) int64 { return atomic.AddInt64(&i.v, n) }

func (u *Uint64) Load() uint64       { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(n uint64)     { atomic.StoreUint64(&u.v, n) }
func (u *Uint64) Inc() uint64        { return atomic.AddUint64(&u.v, 1) }
func (u *Uint64) Add(n uint64) uint64 { return atomic.AddUint64(&u.v, n) }

func (b *Bool) Load() bool {
	return atomic.LoadInt32(&b.v) != 0
}

func (b *Bool) Store(v bool) {
	if v {
		atomic.StoreInt32(&b.v, 1)
	} else {
		atomic.StoreInt32(&b.v, 0)
	}
}

// CAS performs compare-and-swap, returning whether the swap happened.
func (b *Bool) CAS(old, new bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&b.v, o, n)
}
