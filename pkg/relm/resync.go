/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

// Promote adapts the Relm to a change of the routing tree, after the topology module already reflects it.
// Records that can no longer make progress are dropped. If the neighbors of the local daemon changed,
// every link is resynchronized: normal traffic on a link is held back until the two daemons exchanged
// link updates carrying the state of every message routed through the link.
func (r *Relm) Promote(p modules.Promotion) {
	r.metrics.promotions.Inc()
	r.purge()

	if !p.Self {
		return
	}

	for _, held := range r.links.reset(r.topology) {
		if held.done != nil {
			held.done(errNeighborLost)
		}
	}

	r.logger.Log(logging.LevelInfo, "Resynchronizing links.",
		"prevParent", p.PrevParent, "parent", r.topology.Parent(),
		"prevChildren", p.PrevChildren, "children", r.topology.Children())

	req := wire.MarshalLinkRequest(&wire.LinkRequest{Depth: r.topology.Depth(r.self)})
	for _, rank := range r.links.slots {
		if rank != t.RankInvalid {
			r.rawSend(rank, req, nil)
		}
	}
	r.flushLinkUpdates()
}

// purge drops the records that cannot make progress any more:
// those whose source or destination failed, and those no longer routed through the local daemon.
func (r *Relm) purge() {
	for _, m := range r.store.messages() {
		if !r.store.tracked(m) {
			continue
		}

		reason := ""
		switch {
		case m.sig.Src != r.self && !r.topology.IsReachable(m.sig.Src):
			reason = "source unreachable"
		case m.sig.Dst != r.self && !r.topology.IsReachable(m.sig.Dst):
			reason = "destination unreachable"
		case m.sig.Src != r.self && m.sig.Dst != r.self && r.upstreamOf(m.sig) == r.downstreamOf(m.sig):
			reason = "no longer routed through this daemon"
		default:
			continue
		}

		r.logger.Log(logging.LevelDebug, "Purging message.", append([]interface{}{"reason", reason}, m.logArgs()...)...)
		r.cache.withdraw(m)
		m.data = nil
		if m.sig.Src == r.self && m.state != StateAcked {
			r.logger.Log(logging.LevelWarn, "Dropping undelivered message.", "sig", m.sig, "reason", reason)
		}
		r.store.release(m)
		r.metrics.purged.Inc()
	}
	r.metrics.inFlight.Set(float64(r.store.len()))
}

// adjacent returns true if the daemon is currently a neighbor of the local daemon.
func (r *Relm) adjacent(from t.Rank) bool {
	return r.links.slotOf(from) >= 0 && r.topology.NextHop(from) == from
}

// staleLink returns true if a link update from the given daemon was sent for another shape of the tree.
func (r *Relm) staleLink(from t.Rank, depth t.Depth) bool {
	if !r.adjacent(from) {
		return true
	}

	mine := r.topology.Depth(r.self)
	if from == r.topology.Parent() {
		return depth+1 != mine
	}
	return depth != mine+1
}

// handleLinkRequest schedules a link update for a neighbor that was promoted.
// The depth of the requester is not checked: a requester only ever waits for
// updates it asked for after its own promotion.
func (r *Relm) handleLinkRequest(from t.Rank, lr *wire.LinkRequest) {
	if !r.adjacent(from) {
		r.logger.Log(logging.LevelDebug, "Dropping link request from a non-neighbor.", "from", from, "depth", lr.Depth)
		r.metrics.stale.Inc()
		return
	}

	r.links.downstream.clear(r.links.slotOf(from))
	r.flushLinkUpdates()
}

func (r *Relm) handleLinkUpdate(from t.Rank, lu *wire.LinkUpdate) error {
	if r.staleLink(from, lu.Depth) {
		r.logger.Log(logging.LevelDebug, "Dropping stale link update.", "from", from, "depth", lu.Depth)
		r.metrics.stale.Inc()
		return nil
	}
	r.metrics.linkUpdatesRecvd.Inc()

	// Traffic the neighbor sent before its link update comes first.
	held := r.links.heldIn[from]
	delete(r.links.heldIn, from)
	for _, su := range held {
		if err := r.applyStateUpdate(from, su); err != nil {
			return err
		}
	}
	for _, su := range lu.Updates {
		if err := r.applyStateUpdate(from, su); err != nil {
			return err
		}
	}

	r.links.upstream.set(r.links.slotOf(from))
	r.flushLinkUpdates()
	return nil
}

// flushLinkUpdates sends the link updates that are owed and allowed.
// While updates from more than one neighbor are missing, nothing is sent.
// While exactly one is missing, only that neighbor gets its update, so that two daemons
// waiting for each other always break the tie.
func (r *Relm) flushLinkUpdates() {
	pending := r.links.pendingUpstream()
	owed := r.links.owedDownstream()

	switch len(pending) {
	case 0:
		for _, slot := range owed {
			r.sendLinkUpdate(slot)
		}
	case 1:
		for _, slot := range owed {
			if slot == pending[0] {
				r.sendLinkUpdate(slot)
			}
		}
	}
}

// sendLinkUpdate sends the state of every message routed through the link to the neighbor in slot,
// then releases the traffic held back for it.
func (r *Relm) sendLinkUpdate(slot int) {
	to := r.links.slots[slot]
	lu := &wire.LinkUpdate{Depth: r.topology.Depth(r.self)}
	var sending []t.Signature

	for _, m := range r.store.messages() {
		if !r.store.tracked(m) {
			continue
		}
		if su := r.resyncUpdate(m, to); su != nil {
			lu.Updates = append(lu.Updates, su)
			if m.state == StateSending {
				sending = append(sending, m.sig)
			}
		}
	}

	r.links.downstream.set(slot)
	r.metrics.linkUpdatesSent.Inc()
	r.logger.Log(logging.LevelDebug, "Sending link update.", "to", to, "updates", len(lu.Updates))
	r.rawSend(to, wire.MarshalLinkUpdate(lu), func(err error) {
		for _, sig := range sending {
			r.sendComplete(sig, to, err)
		}
	})

	held := r.links.heldOut[to]
	delete(r.links.heldOut, to)
	for _, h := range held {
		r.rawSend(to, h.data, h.done)
	}
}

// resyncUpdate returns what the neighbor to needs to know about m, or nil.
// A payload travels toward the destination, acknowledgements and replay requests toward the source.
func (r *Relm) resyncUpdate(m *Message, to t.Rank) *wire.StateUpdate {
	switch to {
	case r.downstreamOf(m.sig):
		switch {
		case m.data != nil:
			return stateUpdate(m, RequestSending)
		case m.state == StateSent:
			// The payload was evicted; the new neighbor may never have seen it.
			r.Apply(m, RequestRequested, OriginSelf)
		}
	case r.upstreamOf(m.sig):
		switch m.state {
		case StateAcked:
			return stateUpdate(m, RequestAcked)
		case StateRequested:
			return stateUpdate(m, RequestRequested)
		}
	}
	return nil
}
