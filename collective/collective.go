// Package collective implements the tree all-reduce, broadcast, and typed
// point-to-point send/recv primitives used by both the barrier's counter
// reduction and user-facing collectives. Grounded on comm_impl.hpp's
// all_reduce/mpi_send/mpi_recv/mpi_bcast: a binary tree over ranks
// (parent = (r-1)/2, children = 2r+1, 2r+2) built from typed point-to-point
// messages over a dedicated substrate realm, kept apart from the async
// data plane and the barrier's own counter realm (spec section 5).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package collective

import (
	"encoding/binary"
	"encoding/gob"
	"bytes"

	"github.com/llnl/ygm/progress"
	"github.com/llnl/ygm/substrate"
)

// Comm is the collective sub-communicator: a rank/size pair plus the
// substrate socket and data-plane progress loop to keep draining while a
// collective's point-to-point traffic is outstanding.
type Comm struct {
	sock  *substrate.Socket
	loop  *progress.Loop
	rank  int
	size  int
	realm substrate.Realm
	early map[int][][]byte // frames that arrived from a peer other than the one awaited
}

// New builds a Comm bound to realm, one of substrate.RealmBarrier (the
// engine's internal quiescence counter reduction) or substrate.RealmCollective
// (user-facing all_reduce/bcast/mpi_send/mpi_recv), keeping the two traffic
// classes apart on the wire per spec section 5's resource partitioning.
func New(sock *substrate.Socket, loop *progress.Loop, rank, size int, realm substrate.Realm) *Comm {
	return &Comm{sock: sock, loop: loop, rank: rank, size: size, realm: realm}
}

func parent(r int) int    { return (r - 1) / 2 }
func leftChild(r int) int { return 2*r + 1 }
func rightChild(r int) int { return 2*r + 2 }

// recvBlocking posts buf on the collective realm from a specific peer and
// drains the data-plane progress loop while waiting, per spec section
// 4.9's "continue draining receives" while a reduction is outstanding.
func (c *Comm) recvBlocking(peer int, buf []byte) []byte {
	if q := c.early[peer]; len(q) > 0 {
		c.early[peer] = q[1:]
		return q[0]
	}
	c.sock.PostRecv(c.realm, buf)
	done := c.sock.RecvDone(c.realm)
	for {
		select {
		case rr := <-done:
			if rr.Err != nil {
				panic(rr.Err) // substrate error is fatal per spec section 7
			}
			if rr.Peer == peer {
				return rr.Buf
			}
			// Arrived out of order relative to who we expect; keep it for
			// that peer's own later recvBlocking and post a fresh buffer
			// for the expected peer.
			if c.early == nil {
				c.early = make(map[int][][]byte)
			}
			c.early[rr.Peer] = append(c.early[rr.Peer], rr.Buf)
			buf = make([]byte, len(buf))
			c.sock.PostRecv(c.realm, buf)
		default:
			c.loop.Step()
		}
	}
}

func (c *Comm) sendBlocking(dest int, payload []byte) {
	id := c.sock.PostSend(c.realm, dest, payload, substrate.SendEager)
	done := c.sock.SendDone()
	for {
		select {
		case sr := <-done:
			if sr.Err != nil {
				panic(sr.Err)
			}
			if sr.ID == id {
				return
			}
		default:
			c.loop.Step()
		}
	}
}

// AllReduceUint64Pair sums a and b across the whole communicator using
// the binary tree described above, satisfying the barrier package's
// AllReducer interface.
func (c *Comm) AllReduceUint64Pair(a, b uint64) (uint64, uint64) {
	sumA, sumB := a, b

	if lc := leftChild(c.rank); lc < c.size {
		buf := c.recvBlocking(lc, make([]byte, 16))
		sumA += binary.LittleEndian.Uint64(buf[0:8])
		sumB += binary.LittleEndian.Uint64(buf[8:16])
	}
	if rc := rightChild(c.rank); rc < c.size {
		buf := c.recvBlocking(rc, make([]byte, 16))
		sumA += binary.LittleEndian.Uint64(buf[0:8])
		sumB += binary.LittleEndian.Uint64(buf[8:16])
	}

	if c.rank != 0 {
		payload := make([]byte, 16)
		binary.LittleEndian.PutUint64(payload[0:8], sumA)
		binary.LittleEndian.PutUint64(payload[8:16], sumB)
		c.sendBlocking(parent(c.rank), payload)

		result := c.recvBlocking(parent(c.rank), make([]byte, 16))
		sumA = binary.LittleEndian.Uint64(result[0:8])
		sumB = binary.LittleEndian.Uint64(result[8:16])
	}

	c.broadcastFromRoot(sumA, sumB)
	return sumA, sumB
}

func (c *Comm) broadcastFromRoot(a, b uint64) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:8], a)
	binary.LittleEndian.PutUint64(payload[8:16], b)
	if lc := leftChild(c.rank); lc < c.size {
		c.sendBlocking(lc, payload)
	}
	if rc := rightChild(c.rank); rc < c.size {
		c.sendBlocking(rc, payload)
	}
}

// Merge is a generic binary associative reducer over gob-encodable values.
type Merge[T any] func(a, b T) T

// AllReduce performs a tree reduction of v using merge, then broadcasts
// the result to every rank. T must be gob-encodable.
func AllReduce[T any](c *Comm, v T, merge Merge[T]) T {
	acc := v

	if lc := leftChild(c.rank); lc < c.size {
		other := decodeValue[T](c.recvBlocking(lc, make([]byte, 64*1024)))
		acc = merge(acc, other)
	}
	if rc := rightChild(c.rank); rc < c.size {
		other := decodeValue[T](c.recvBlocking(rc, make([]byte, 64*1024)))
		acc = merge(acc, other)
	}

	if c.rank != 0 {
		c.sendBlocking(parent(c.rank), encodeValue(acc))
		acc = decodeValue[T](c.recvBlocking(parent(c.rank), make([]byte, 64*1024)))
	}

	if lc := leftChild(c.rank); lc < c.size {
		c.sendBlocking(lc, encodeValue(acc))
	}
	if rc := rightChild(c.rank); rc < c.size {
		c.sendBlocking(rc, encodeValue(acc))
	}
	return acc
}

// Bcast serializes v at the root and ships it to every other rank:
// broadcast the byte length, then the bytes, per spec section 4.10.
func Bcast[T any](c *Comm, root int, v T) T {
	if c.rank == root {
		payload := encodeValue(v)
		for r := 0; r < c.size; r++ {
			if r == root {
				continue
			}
			lenBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
			c.sendBlocking(r, lenBuf)
			c.sendBlocking(r, payload)
		}
		return v
	}

	lenBuf := c.recvBlocking(root, make([]byte, 4))
	n := binary.LittleEndian.Uint32(lenBuf)
	payload := c.recvBlocking(root, make([]byte, n))
	return decodeValue[T](payload)
}

// MPISend ships v to dest as a typed point-to-point message over the
// collective realm.
func MPISend[T any](c *Comm, dest int, v T) {
	payload := encodeValue(v)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	c.sendBlocking(dest, lenBuf)
	c.sendBlocking(dest, payload)
}

// MPIRecv receives a typed point-to-point message from src.
func MPIRecv[T any](c *Comm, src int) T {
	lenBuf := c.recvBlocking(src, make([]byte, 4))
	n := binary.LittleEndian.Uint32(lenBuf)
	payload := c.recvBlocking(src, make([]byte, n))
	return decodeValue[T](payload)
}

func encodeValue[T any](v T) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decodeValue[T any](b []byte) T {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		panic(err)
	}
	return v
}
