/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package routing computes the radix tree the daemons of a job are arranged in, as seen by one daemon.
//
// Rank 0 is the root. Initially, the parent of rank r is (r-1)/radix. When a daemon fails,
// each of its live children is adopted by the nearest live ancestor of the failed daemon,
// so that every view built from the same set of failures agrees on the shape of the tree.
package routing

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Tree is the routing tree as seen from one daemon. It implements modules.Topology.
// It is not safe for concurrent use.
type Tree struct {
	self     t.Rank
	numRanks int
	radix    int

	dead     []bool
	parents  []t.Rank
	children [][]t.Rank
	depths   []t.Depth
}

func NewTree(self t.Rank, numRanks, radix int) (*Tree, error) {
	switch {
	case numRanks <= 0:
		return nil, errors.Errorf("invalid number of ranks %d", numRanks)
	case radix <= 0:
		return nil, errors.Errorf("invalid radix %d", radix)
	case !self.Valid(numRanks):
		return nil, errors.Errorf("rank %d out of range for %d ranks", self, numRanks)
	}

	tree := &Tree{
		self:     self,
		numRanks: numRanks,
		radix:    radix,
		dead:     make([]bool, numRanks),
	}
	tree.compute()
	return tree, nil
}

// staticParent returns the parent of rank in the tree without failures.
func (tr *Tree) staticParent(rank t.Rank) t.Rank {
	if rank == 0 {
		return t.RankInvalid
	}
	return (rank - 1) / t.Rank(tr.radix)
}

func (tr *Tree) compute() {
	tr.parents = make([]t.Rank, tr.numRanks)
	tr.children = make([][]t.Rank, tr.numRanks)
	tr.depths = make([]t.Depth, tr.numRanks)

	for r := 0; r < tr.numRanks; r++ {
		rank := t.Rank(r)
		p := tr.staticParent(rank)
		for p != t.RankInvalid && tr.dead[p] {
			p = tr.staticParent(p)
		}
		tr.parents[r] = p
		if !tr.dead[r] && p != t.RankInvalid {
			tr.children[p] = append(tr.children[p], rank)
		}
	}

	// Parents always have lower ranks than their children.
	for r := 1; r < tr.numRanks; r++ {
		if p := tr.parents[r]; p != t.RankInvalid {
			tr.depths[r] = tr.depths[p] + 1
		}
	}

	for _, c := range tr.children {
		sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	}
}

// Fail marks the given daemons as failed and recomputes the tree.
// The root cannot fail: losing it terminates the job.
func (tr *Tree) Fail(ranks ...t.Rank) (modules.Promotion, error) {
	promotion := modules.Promotion{
		PrevParent:   tr.Parent(),
		PrevChildren: tr.Children(),
	}

	for _, rank := range ranks {
		switch {
		case !rank.Valid(tr.numRanks):
			return promotion, errors.Errorf("rank %d out of range", rank)
		case rank == 0:
			return promotion, errors.Errorf("the root daemon cannot fail over")
		}
	}
	for _, rank := range ranks {
		tr.dead[rank] = true
	}
	tr.compute()

	promotion.Self = tr.Parent() != promotion.PrevParent || !sameRanks(tr.Children(), promotion.PrevChildren)
	return promotion, nil
}

func sameRanks(a, b []t.Rank) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (tr *Tree) Self() t.Rank {
	return tr.self
}

func (tr *Tree) NumRanks() int {
	return tr.numRanks
}

func (tr *Tree) Radix() int {
	return tr.radix
}

func (tr *Tree) Parent() t.Rank {
	return tr.parents[tr.self]
}

func (tr *Tree) Children() []t.Rank {
	return append([]t.Rank(nil), tr.children[tr.self]...)
}

// ParentOf returns the current parent of any rank.
func (tr *Tree) ParentOf(rank t.Rank) t.Rank {
	if !rank.Valid(tr.numRanks) {
		return t.RankInvalid
	}
	return tr.parents[rank]
}

func (tr *Tree) Depth(rank t.Rank) t.Depth {
	if !rank.Valid(tr.numRanks) {
		return 0
	}
	return tr.depths[rank]
}

func (tr *Tree) IsReachable(rank t.Rank) bool {
	return rank.Valid(tr.numRanks) && !tr.dead[rank]
}

// NextHop returns the child whose subtree contains rank, or the parent if rank is not below the local daemon.
func (tr *Tree) NextHop(rank t.Rank) t.Rank {
	switch {
	case rank == tr.self:
		return tr.self
	case !tr.IsReachable(rank):
		return t.RankInvalid
	}

	for cur := rank; cur != t.RankInvalid; cur = tr.parents[cur] {
		if tr.parents[cur] == tr.self {
			return cur
		}
	}
	return tr.Parent()
}
