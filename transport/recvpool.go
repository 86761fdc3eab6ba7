// Package transport implements the receive side of the engine: a
// pre-posted receive pool and the dispatcher that walks a completed
// buffer frame by frame, forwarding or invoking trampolines. Grounded on
// comm_impl.hpp's receive-queue management, generalized from aistore's
// object-stream transport package (same package name and role: the thing
// that turns substrate completions into application-level events) down
// to a byte-buffer active-message substrate.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"github.com/llnl/ygm/substrate"
)

// RecvPool pre-posts NumIrecvs buffers of IrecvSize on a realm, matching
// spec section 4.6: "post num_irecvs receives of size irecv_size with
// wildcard source and tag".
type RecvPool struct {
	sock  *substrate.Socket
	realm substrate.Realm
	size  int
}

func NewRecvPool(sock *substrate.Socket, realm substrate.Realm, numIrecvs, irecvSize int) *RecvPool {
	p := &RecvPool{sock: sock, realm: realm, size: irecvSize}
	for i := 0; i < numIrecvs; i++ {
		p.postOne()
	}
	return p
}

func (p *RecvPool) postOne() {
	buf := make([]byte, p.size)
	p.sock.PostRecv(p.realm, buf)
}

// Repost posts a newly allocated buffer of the pool's configured size after
// the dispatcher has finished walking a completed one, keeping the number
// of posted receives constant. The completed buffer itself is not reused.
func (p *RecvPool) Repost() { p.postOne() }

// Done is the completion channel carrying fully-arrived receive buffers
// for this pool's realm.
func (p *RecvPool) Done() <-chan substrate.RecvResult { return p.sock.RecvDone(p.realm) }
