/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

// bitvec is a fixed-size bit vector, one bit per neighbor slot.
type bitvec []uint64

func newBitvec(n int) bitvec {
	return make(bitvec, (n+63)/64)
}

func (b bitvec) set(i int)       { b[i/64] |= 1 << uint(i%64) }
func (b bitvec) clear(i int)     { b[i/64] &^= 1 << uint(i%64) }
func (b bitvec) test(i int) bool { return b[i/64]&(1<<uint(i%64)) != 0 }

type heldBuffer struct {
	data []byte
	done func(error)
}

// linkState tracks, per neighbor slot, whether the link has been resynchronized since the last promotion.
// Children occupy slots 0..len(children)-1, the parent (lifeline) the last slot.
// Slots without a neighbor are always marked as resynchronized.
type linkState struct {
	slots []t.Rank

	// A set bit means that the link update of the neighbor has been received.
	upstream bitvec

	// A set bit means that our link update has been sent to the neighbor.
	downstream bitvec

	// Normal protocol traffic exchanged with a neighbor before its link is resynchronized.
	heldIn  map[t.Rank][]*wire.StateUpdate
	heldOut map[t.Rank][]heldBuffer
}

func newLinkState(topology modules.Topology) *linkState {
	ls := &linkState{
		heldIn:  make(map[t.Rank][]*wire.StateUpdate),
		heldOut: make(map[t.Rank][]heldBuffer),
	}
	ls.resize(topology)
	for i := range ls.slots {
		ls.upstream.set(i)
		ls.downstream.set(i)
	}
	return ls
}

func (ls *linkState) resize(topology modules.Topology) {
	children := topology.Children()
	n := topology.Radix()
	if len(children) > n {
		n = len(children)
	}
	n++

	ls.slots = make([]t.Rank, n)
	for i := range ls.slots {
		ls.slots[i] = t.RankInvalid
	}
	copy(ls.slots, children)
	ls.slots[n-1] = topology.Parent()

	ls.upstream = newBitvec(n)
	ls.downstream = newBitvec(n)
}

// reset requires a full resynchronization with every current neighbor.
// Held traffic toward daemons that are no longer neighbors is returned to the caller.
func (ls *linkState) reset(topology modules.Topology) (dropped []heldBuffer) {
	ls.resize(topology)
	for i, rank := range ls.slots {
		if rank == t.RankInvalid {
			ls.upstream.set(i)
			ls.downstream.set(i)
		}
	}

	for rank, held := range ls.heldOut {
		if ls.slotOf(rank) < 0 {
			dropped = append(dropped, held...)
			delete(ls.heldOut, rank)
		}
	}
	for rank := range ls.heldIn {
		if ls.slotOf(rank) < 0 {
			delete(ls.heldIn, rank)
		}
	}
	return dropped
}

func (ls *linkState) slotOf(rank t.Rank) int {
	if rank == t.RankInvalid {
		return -1
	}
	for i, r := range ls.slots {
		if r == rank {
			return i
		}
	}
	return -1
}

// pendingUpstream returns the slots whose link update has not been received yet.
func (ls *linkState) pendingUpstream() []int {
	var pending []int
	for i := range ls.slots {
		if !ls.upstream.test(i) {
			pending = append(pending, i)
		}
	}
	return pending
}

// owedDownstream returns the slots that are still owed a link update.
func (ls *linkState) owedDownstream() []int {
	var owed []int
	for i := range ls.slots {
		if !ls.downstream.test(i) {
			owed = append(owed, i)
		}
	}
	return owed
}

func (ls *linkState) holdsInbound(rank t.Rank) bool {
	slot := ls.slotOf(rank)
	return slot >= 0 && !ls.upstream.test(slot)
}

func (ls *linkState) holdsOutbound(rank t.Rank) bool {
	slot := ls.slotOf(rank)
	return slot >= 0 && !ls.downstream.test(slot)
}

func (ls *linkState) ranks(slots []int) []t.Rank {
	ranks := make([]t.Rank, len(slots))
	for i, slot := range slots {
		ranks[i] = ls.slots[slot]
	}
	return ranks
}
