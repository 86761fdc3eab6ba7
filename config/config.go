// Package config carries every engine construction knob, loaded from
// YGM_* environment variables with programmatic override via Options,
// ported 1:1 from comm_environment.hpp's YGM_COMM_* variables renamed to
// this module's prefix.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strconv"

	"github.com/llnl/ygm/router"
)

// Options is the full set of engine construction knobs (spec section 6's
// "Engine configuration" table), in bytes/counts, with memory-bound
// defaults per spec section 5: ~16 MiB / 1 GiB / 8 / 4.
type Options struct {
	BufferSizeBytes int64       // soft cap on queued outbound bytes per destination
	NumIrecvs       int         // pre-posted receive slot count
	IrecvSizeBytes  int         // size of each receive slot
	NumISendsWait   int         // send-queue length above which progress blocks
	Routing         router.Mode // NONE | NR | NLNR
	FreqIssend      int         // every k-th flush alternates send mode; 0 disables
	FreeListCap     int         // send-buffer free-list cap
	Welcome         bool        // emit a one-time rank-0 banner

	Trace     bool   // enable event tracing
	TracePath string // directory for per-rank trace files
}

// Default mirrors the baseline in spec section 5's memory-bounds note.
func Default() Options {
	return Options{
		BufferSizeBytes: 16 << 20,
		NumIrecvs:       8,
		IrecvSizeBytes:  1 << 30 / 8, // irecv_size * num_irecvs ~= 1 GiB total staging
		NumISendsWait:   4,
		Routing:         router.None,
		FreqIssend:      0,
		FreeListCap:     4,
		Welcome:         false,
	}
}

// FromEnv starts from Default() and overrides every field whose YGM_*
// variable is set, matching comm_environment.hpp's env-first precedence.
func FromEnv() Options {
	o := Default()

	if v, ok := envInt64("YGM_BUFFER_SIZE_KB"); ok {
		o.BufferSizeBytes = v * 1024
	}
	if v, ok := envInt("YGM_NUM_IRECVS"); ok {
		o.NumIrecvs = v
	}
	if v, ok := envInt("YGM_IRECV_SIZE_KB"); ok {
		o.IrecvSizeBytes = v * 1024
	}
	if v, ok := envInt("YGM_NUM_ISENDS_WAIT"); ok {
		o.NumISendsWait = v
	}
	if v, ok := os.LookupEnv("YGM_ROUTING"); ok {
		o.Routing = parseRouting(v)
	}
	if v, ok := envInt("YGM_FREQ_ISSEND"); ok {
		o.FreqIssend = v
	}
	if v, ok := envInt("YGM_FREE_LIST_CAP"); ok {
		o.FreeListCap = v
	}
	if v, ok := envBool("YGM_WELCOME"); ok {
		o.Welcome = v
	}
	if v, ok := envBool("YGM_TRACE"); ok {
		o.Trace = v
	}
	if v, ok := os.LookupEnv("YGM_TRACE_PATH"); ok {
		o.TracePath = v
	}
	return o
}

func parseRouting(s string) router.Mode {
	switch s {
	case "NR":
		return router.NR
	case "NLNR":
		return router.NLNR
	default:
		return router.None
	}
}

func envInt(name string) (int, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}
