package substrate_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/substrate"
)

// freePort reserves an ephemeral TCP port and releases it immediately, so
// substrate.Dial's own internal Listen can bind the same address.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	tassert.CheckFatal(t, err)
	addr := ln.Addr().String()
	tassert.CheckFatal(t, ln.Close())
	return addr
}

func dialPair(t *testing.T) (*substrate.Socket, *substrate.Socket) {
	t.Helper()
	addrs := []string{freePort(t), freePort(t)}

	ctx := context.Background()
	var s0, s1 *substrate.Socket
	var err0, err1 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s0, err0 = substrate.Dial(ctx, 0, addrs[0], addrs)
	}()
	go func() {
		defer wg.Done()
		s1, err1 = substrate.Dial(ctx, 1, addrs[1], addrs)
	}()
	wg.Wait()

	tassert.CheckFatal(t, err0)
	tassert.CheckFatal(t, err1)
	return s0, s1
}

func TestSendRecvRoundTrip(t *testing.T) {
	s0, s1 := dialPair(t)
	defer s0.Close()
	defer s1.Close()

	buf := make([]byte, 64)
	s1.PostRecv(substrate.RealmData, buf)

	id := s0.PostSend(substrate.RealmData, 1, []byte("ping"), substrate.SendEager)
	select {
	case sr := <-s0.SendDone():
		tassert.Fatal(t, sr.ID == id && sr.Err == nil, "send completion mismatch:", sr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send completion")
	}

	select {
	case rr := <-s1.RecvDone(substrate.RealmData):
		tassert.CheckFatal(t, rr.Err)
		tassert.Fatal(t, rr.Peer == 0, "want peer 0, got", rr.Peer)
		tassert.Fatal(t, string(rr.Buf) == "ping", "want ping, got", string(rr.Buf))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recv completion")
	}
}

func TestRealmsDoNotCrossTalk(t *testing.T) {
	s0, s1 := dialPair(t)
	defer s0.Close()
	defer s1.Close()

	s1.PostRecv(substrate.RealmBarrier, make([]byte, 16))
	s0.PostSend(substrate.RealmCollective, 1, []byte("collective-frame"), substrate.SendEager)

	select {
	case <-s1.RecvDone(substrate.RealmBarrier):
		t.Fatal("a collective-realm send must not complete a barrier-realm receive")
	case <-time.After(200 * time.Millisecond):
		// expected: nothing delivered on the wrong realm
	}

	s1.PostRecv(substrate.RealmCollective, make([]byte, 32))
	select {
	case rr := <-s1.RecvDone(substrate.RealmCollective):
		tassert.CheckFatal(t, rr.Err)
		tassert.Fatal(t, string(rr.Buf) == "collective-frame", "want the collective-realm frame, got", string(rr.Buf))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the correctly realmed receive")
	}
}
