// Package layout computes the mapping from a flat world rank to its node
// and local-rank coordinates, grounded on
// original_source/include/ygm/detail/layout.hpp. The engine always assumes
// a uniform process-per-node count: every node must run the same number of
// ranks or construction fails with ErrUnevenNodes.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package layout

import "fmt"

// ErrUnevenNodes is returned when the world size is not evenly divisible
// among the given node ids.
var ErrUnevenNodes = fmt.Errorf("layout: ranks are not evenly distributed across nodes")

// Layout answers rank <-> (node, local) queries for the running world.
type Layout struct {
	rank        int
	size        int
	nodeID      []int // nodeID[r] is the node id hosting rank r
	localID     []int // localID[r] is r's local rank within its node
	nodeSize    int   // ranks per node (uniform)
	numNodes    int
	strideRanks []int   // ranks local to this process's node, in rank order
	nlToRank    [][]int // nlToRank[node][localID] is the world rank at that coordinate
}

// New builds a Layout from a per-rank node-id assignment, e.g. one entry
// per world rank naming the physical host it runs on. rank is this
// process's own world rank.
func New(rank int, nodeIDs []int) (*Layout, error) {
	size := len(nodeIDs)
	if size == 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("layout: invalid rank %d for world size %d", rank, size)
	}

	counts := map[int]int{}
	order := []int{}
	for _, id := range nodeIDs {
		if _, seen := counts[id]; !seen {
			order = append(order, id)
		}
		counts[id]++
	}
	nodeSize := counts[nodeIDs[0]]
	for _, id := range order {
		if counts[id] != nodeSize {
			return nil, ErrUnevenNodes
		}
	}

	nodeIndex := make(map[int]int, len(order))
	for i, id := range order {
		nodeIndex[id] = i
	}

	localID := make([]int, size)
	seenOnNode := make([]int, len(order))
	nodeID := make([]int, size)
	for r, id := range nodeIDs {
		ni := nodeIndex[id]
		nodeID[r] = ni
		localID[r] = seenOnNode[ni]
		seenOnNode[ni]++
	}

	var stride []int
	myNode := nodeID[rank]
	for r, n := range nodeID {
		if n == myNode {
			stride = append(stride, r)
		}
	}

	nlToRank := make([][]int, len(order))
	for n := range nlToRank {
		nlToRank[n] = make([]int, nodeSize)
	}
	for r := range nodeIDs {
		nlToRank[nodeID[r]][localID[r]] = r
	}

	return &Layout{
		rank:        rank,
		size:        size,
		nodeID:      nodeID,
		localID:     localID,
		nodeSize:    nodeSize,
		numNodes:    len(order),
		strideRanks: stride,
		nlToRank:    nlToRank,
	}, nil
}

// Uniform builds a Layout for the common case of `nodes` hosts each
// running `perNode` consecutive ranks (rank = node*perNode + local).
func Uniform(rank, nodes, perNode int) (*Layout, error) {
	ids := make([]int, nodes*perNode)
	for n := 0; n < nodes; n++ {
		for l := 0; l < perNode; l++ {
			ids[n*perNode+l] = n
		}
	}
	return New(rank, ids)
}

func (l *Layout) Rank() int     { return l.rank }
func (l *Layout) Size() int     { return l.size }
func (l *Layout) NumNodes() int { return l.numNodes }
func (l *Layout) NodeSize() int { return l.nodeSize }

// NodeOf returns the node id hosting world rank r.
func (l *Layout) NodeOf(r int) int { return l.nodeID[r] }

// LocalOf returns r's local rank within its node.
func (l *Layout) LocalOf(r int) int { return l.localID[r] }

// IsLocal reports whether r shares a node with this process.
func (l *Layout) IsLocal(r int) bool { return l.nodeID[r] == l.nodeID[l.rank] }

// RanksOnMyNode returns, in ascending world-rank order, every rank that
// shares this process's node (including this process itself).
func (l *Layout) RanksOnMyNode() []int { return l.strideRanks }

// StridedRank returns the world rank hosted at (node, localID) -- the
// generalization of ygm::detail::layout::nl_to_rank(). Every node is
// assumed to carry the same set of local ids (NodeSize() of them), so this
// is defined for any localID in [0, NodeSize()).
func (l *Layout) StridedRank(node, localID int) int { return l.nlToRank[node][localID] }
