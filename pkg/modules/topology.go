/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Topology exposes the current position of the local daemon in the routing tree.
// It is owned by the routing/failure-detection component and only read by the reliable messaging layer.
// All answers reflect the tree after the most recent promotion that was reported.
type Topology interface {

	// Self returns the rank of the local daemon.
	Self() t.Rank

	// NumRanks returns the number of daemons of the job (dead or alive).
	NumRanks() int

	// Radix returns the fan-out the tree was built with.
	Radix() int

	// NextHop returns the neighbor through which rank is reached from the local daemon.
	// NextHop(Self()) is Self(). t.RankInvalid is returned for unreachable ranks.
	NextHop(rank t.Rank) t.Rank

	// Parent returns the rank of the current parent (lifeline) or t.RankInvalid at the root.
	Parent() t.Rank

	// Children returns the ranks of the current children in slot order.
	Children() []t.Rank

	// Depth returns the current distance of rank from the root.
	Depth(rank t.Rank) t.Depth

	// IsReachable returns false for daemons that are known to have failed.
	IsReachable(rank t.Rank) bool
}

// Promotion notifies the reliable messaging layer of a topology change.
// It carries the neighbors the local daemon had before the change;
// the Topology already answers with the new tree when the notification is delivered.
type Promotion struct {
	PrevParent   t.Rank
	PrevChildren []t.Rank

	// Self is true if the parent or the children of the local daemon changed.
	Self bool
}
