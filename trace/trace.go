// Package trace implements the per-rank event tracer: a stream of
// fixed-width (25-byte) tagged event records with no length prefix, gated
// by config.Options.Trace. Grounded
// on tracer.hpp; matches the tagged-union format spec section 6 requires
// so a global timeline can be reconstructed from the per-rank files.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/llnl/ygm/cmn/mono"
)

// EventKind tags one record's shape, matching spec section 6's required
// tagged union: { async_submit, async_recv, isend, irecv, barrier_begin,
// barrier_end }.
type EventKind uint8

const (
	AsyncSubmit EventKind = iota
	AsyncRecv
	ISend
	IRecv
	BarrierBegin
	BarrierEnd
)

// Event is one trace record: a timestamp, a kind, and two numeric fields
// whose meaning depends on kind (e.g. dest+bytes for AsyncSubmit,
// this rank's recv_count+send_count for BarrierEnd).
type Event struct {
	TimeNanos int64
	Kind      EventKind
	A, B      int64
}

// Tracer writes one rank's event stream to <path>/rank-<n>.trace as
// fixed-width little-endian records: timestamp(8) kind(1) a(8) b(8).
type Tracer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	f   *os.File
	buf [25]byte
}

// Open creates (or truncates) the trace file for rank under dir.
func Open(dir string, rank int) (*Tracer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("rank-%d.trace", rank))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}
	return &Tracer{w: bufio.NewWriterSize(f, 64*1024), f: f}, nil
}

func (t *Tracer) Record(kind EventKind, a, b int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	binary.LittleEndian.PutUint64(t.buf[0:8], uint64(mono.NanoTime()))
	t.buf[8] = byte(kind)
	binary.LittleEndian.PutUint64(t.buf[9:17], uint64(a))
	binary.LittleEndian.PutUint64(t.buf[17:25], uint64(b))
	t.w.Write(t.buf[:])
}

func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// ReadAll parses a rank's trace file back into Events, used by offline
// timeline reconstruction and by tests.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	rec := make([]byte, 25)
	for {
		if _, err := io.ReadFull(f, rec); err != nil {
			break
		}
		out = append(out, Event{
			TimeNanos: int64(binary.LittleEndian.Uint64(rec[0:8])),
			Kind:      EventKind(rec[8]),
			A:         int64(binary.LittleEndian.Uint64(rec[9:17])),
			B:         int64(binary.LittleEndian.Uint64(rec[17:25])),
		})
	}
	return out, nil
}
