package router_test

import (
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/layout"
	"github.com/llnl/ygm/router"
)

func newRouter(t *testing.T, rank int, mode router.Mode) *router.Router {
	t.Helper()
	l, err := layout.Uniform(rank, 3, 4) // 3 nodes, 4 ranks each
	tassert.CheckFatal(t, err)
	return router.New(l, mode)
}

func TestNoneAlwaysDirect(t *testing.T) {
	r := newRouter(t, 0, router.None)
	tassert.Fatal(t, r.NextHop(11) == 11, "none routing must hop directly")
	tassert.Fatal(t, r.IsFinal(11), "none routing is always final")
}

func TestNRSameNodeDirect(t *testing.T) {
	r := newRouter(t, 0, router.NR)
	tassert.Fatal(t, r.NextHop(2) == 2, "same-node NR hop should be direct, got", r.NextHop(2))
}

func TestNRRemoteViaRepresentative(t *testing.T) {
	r := newRouter(t, 0, router.NR)
	hop := r.NextHop(5) // node 1, local 1
	tassert.Fatal(t, hop == 4, "want node 1's representative sharing rank 0's own local id 0 (rank 4), got", hop)
	tassert.Fatal(t, !r.IsFinal(5), "a relayed destination is not final at this hop")
}

// TestNRRemoteViaStridedRepresentativeNonZeroLocalID exercises a sender
// whose own local id is not 0, which must relay through the destination
// node's rank sharing *that* local id (strided_ranks), not always through
// local id 0 -- the representative rank.NextHop picks must vary with the
// sender, spreading off-node hops across NodeSize() distinct channels.
func TestNRRemoteViaStridedRepresentativeNonZeroLocalID(t *testing.T) {
	r := newRouter(t, 1, router.NR) // rank 1: node 0, local id 1
	hop := r.NextHop(4)             // node 1, local 0
	tassert.Fatal(t, hop == 5, "want node 1's representative sharing rank 1's own local id 1 (rank 5), got", hop)
	tassert.Fatal(t, !r.IsFinal(4), "a relayed destination is not final at this hop")
}

func TestNLNRLocalHopThenRemote(t *testing.T) {
	// Rank 0 is not its node's representative for the (0,1) pair (offset 1
	// picks local rank 1), so it must hop locally first.
	r0 := newRouter(t, 0, router.NLNR)
	hop := r0.NextHop(5)
	tassert.Fatal(t, hop == 1, "want local hop to rank 1, got", hop)

	// Rank 1, being that representative (own local id 1), hops directly to
	// node 1's rank sharing that same local id 1 (rank 5), not node 1's
	// local id 0 (rank 4).
	r1 := newRouter(t, 1, router.NLNR)
	hop = r1.NextHop(5)
	tassert.Fatal(t, hop == 5, "want remote hop to rank 5 (node 1, local id 1), got", hop)
}

// TestNLNRFinalHopUsesSendersLocalIDNotZero pins the final remote hop to a
// case where the representative's local id is neither 0 nor the
// destination rank's own local id, so a regression back to "always relay
// through local id 0" is caught even when that would coincidentally land
// on the destination itself.
func TestNLNRFinalHopUsesSendersLocalIDNotZero(t *testing.T) {
	r2 := newRouter(t, 2, router.NLNR) // rank 2: node 0, local id 2
	// destNode = 2, myNode = 0, nodeSize = 4 -> offset = (2+0)%4 = 2, so
	// rank 2 is already its node's representative for the (0,2) pair.
	hop := r2.NextHop(8) // node 2, local id 0
	tassert.Fatal(t, hop == 10, "want remote hop to rank 10 (node 2, local id 2), got", hop)
	tassert.Fatal(t, !r2.IsFinal(8), "a relayed destination is not final at this hop")
}

func TestNLNRSameNodeDirect(t *testing.T) {
	r := newRouter(t, 0, router.NLNR)
	tassert.Fatal(t, r.NextHop(3) == 3, "same-node NLNR hop should be direct, got", r.NextHop(3))
}

func TestModeString(t *testing.T) {
	tassert.Fatal(t, router.None.String() == "none", "None.String()")
	tassert.Fatal(t, router.NR.String() == "nr", "NR.String()")
	tassert.Fatal(t, router.NLNR.String() == "nlnr", "NLNR.String()")
}
