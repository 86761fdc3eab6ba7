// Package lambda implements the remote-closure dispatch table: every
// distinct callable used in an async() call is registered exactly once
// per rank under a deterministic 16-bit tag, so a remote peer's dispatcher
// can map the tag back to the same code without shipping it over the wire.
// Grounded on ygm::detail::comm_impl.hpp's pack_lambda /
// handle_next_receive trampoline mechanism.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package lambda

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/llnl/ygm/wire"
)

// Tag identifies a registered callable on the wire.
type Tag uint16

// Caller is the engine as a Trampoline sees it. The interface exposes only
// the rank; it has no method for enqueueing further async calls.
type Caller interface {
	Rank() int
}

// Trampoline decodes a frame's captures and arguments straight off the
// wire cursor and invokes the user closure. It consumes exactly the bytes
// belonging to its call -- no more, no less -- since the dispatcher walks
// a batch of concatenated frames sequentially.
type Trampoline func(e Caller, c *wire.Cursor) error

// Registry assigns deterministic tags to names, in registration order,
// and maps a tag back to its Trampoline at dispatch time.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tag
	byTag  []Trampoline
	names  []string // names[tag] for Fingerprint / diagnostics
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tag{}}
}

// Register assigns name the next sequential tag and binds h to it. Calling
// Register with the same name twice on one rank is a programmer error and
// panics -- lambdas are meant to be registered once, at process startup,
// before any async() calls.
func (r *Registry) Register(name string, h Trampoline) Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		panic(fmt.Sprintf("lambda: %q already registered", name))
	}
	tag := Tag(len(r.byTag))
	r.byTag = append(r.byTag, h)
	r.names = append(r.names, name)
	r.byName[name] = tag
	return tag
}

// TagFor looks up the tag previously assigned to name.
func (r *Registry) TagFor(name string) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Dispatch invokes the trampoline registered under tag, handing it the
// cursor positioned exactly at its captures+args bytes.
func (r *Registry) Dispatch(tag Tag, e Caller, c *wire.Cursor) error {
	r.mu.RLock()
	if int(tag) >= len(r.byTag) {
		r.mu.RUnlock()
		return fmt.Errorf("lambda: no handler registered for tag %d", tag)
	}
	h := r.byTag[tag]
	r.mu.RUnlock()
	return h(e, c)
}

// Fingerprint returns a stable hash of the registered name sequence, for
// comparing across ranks to detect SPMD mismatches: every rank must
// register the same lambdas, in the same order, before any collective that
// depends on tag agreement. Nothing in this module compares it
// automatically.
func (r *Registry) Fingerprint() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := fnv.New64a()
	for _, n := range r.names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Names returns a snapshot of the registered names in tag order (that is,
// registration order), unsorted; see SortedNames for a sorted copy.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.names...)
	return out
}

// SortedNames is a convenience for mismatch error messages.
func SortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
