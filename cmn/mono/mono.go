//go:build !mono

// Package mono provides low-level monotonic time, used by nlog for flush
// cadence and by trace for event timestamps.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic nanosecond counter. The "mono" build tag
// variant (fast_nanotime.go) links directly against the runtime clock for
// lower overhead; this default is portable but allocation-free.
func NanoTime() int64 { return int64(time.Since(start)) }
