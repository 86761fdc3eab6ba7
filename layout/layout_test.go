package layout_test

import (
	"testing"

	"github.com/llnl/ygm/internal/tassert"
	"github.com/llnl/ygm/layout"
)

func TestUniformCoordinates(t *testing.T) {
	l, err := layout.Uniform(5, 3, 4) // 3 nodes, 4 ranks each, rank 5 -> node 1, local 1
	tassert.CheckFatal(t, err)

	tassert.Fatal(t, l.Size() == 12, "want size 12, got", l.Size())
	tassert.Fatal(t, l.NumNodes() == 3, "want 3 nodes, got", l.NumNodes())
	tassert.Fatal(t, l.NodeSize() == 4, "want node size 4, got", l.NodeSize())
	tassert.Fatal(t, l.NodeOf(5) == 1, "want rank 5 on node 1, got", l.NodeOf(5))
	tassert.Fatal(t, l.LocalOf(5) == 1, "want rank 5 local id 1, got", l.LocalOf(5))
	tassert.Fatal(t, l.IsLocal(4) && l.IsLocal(7), "ranks 4,7 share node 1 with rank 5")
	tassert.Fatal(t, !l.IsLocal(0), "rank 0 is on a different node")

	onNode := l.RanksOnMyNode()
	tassert.Fatal(t, len(onNode) == 4, "want 4 ranks on node 1, got", len(onNode))
	for _, r := range onNode {
		tassert.Fatal(t, l.NodeOf(r) == 1, "rank", r, "not on node 1")
	}
}

func TestUnevenNodesRejected(t *testing.T) {
	_, err := layout.New(0, []int{0, 0, 1})
	tassert.Fatal(t, err == layout.ErrUnevenNodes, "want ErrUnevenNodes, got", err)
}

func TestInvalidRankRejected(t *testing.T) {
	_, err := layout.New(3, []int{0, 0})
	tassert.Fatal(t, err != nil, "want an error for out-of-range rank")
}
