/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/openpmix/prrte-sub010/pkg/logging"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Apply requests a state transition of m.
// Every transition runs to completion, including the sends and the transitions of other
// messages it triggers, and leaves m in a state consistent with its payload and cache membership.
// A request that is illegal in the current state of m is a protocol violation and panics with a *ProtocolError.
func (r *Relm) Apply(m *Message, req Request, origin Origin) {
	r.metrics.transitions.WithLabelValues(req.String(), origin.String()).Inc()
	r.logger.Log(logging.LevelDebug, "Applying transition.", append([]interface{}{"request", req, "origin", origin}, m.logArgs()...)...)

	switch req {
	case RequestNew:
		r.applyNew(m, origin)
	case RequestSending:
		r.applySending(m, origin)
	case RequestSent:
		r.applySent(m, origin)
	case RequestRequested:
		r.applyRequested(m, origin)
	case RequestAcked:
		r.applyAcked(m, origin)
	case RequestAckAcked:
		r.applyAckAcked(m, origin)
	case RequestCached:
		r.applyCached(m, origin)
	case RequestEvicted:
		r.applyEvicted(m, origin)
	default:
		r.fatal(m, req, origin, "request cannot be applied")
	}

	if r.store.tracked(m) {
		r.checkResting(m, req, origin)
	}
	r.metrics.inFlight.Set(float64(r.store.len()))
}

// checkResting verifies the coupling between the state of m, its payload and its cache membership.
func (r *Relm) checkResting(m *Message, req Request, origin Origin) {
	may, must := m.state.mayHoldData()
	switch {
	case must && m.data == nil:
		r.fatal(m, req, origin, "state requires a payload")
	case !may && m.data != nil:
		r.fatal(m, req, origin, "state forbids a payload")
	case m.Cached() && (m.state != StateSent || m.data == nil):
		r.fatal(m, req, origin, "only sent payloads may be cached")
	case m.Cached() && m.sig.Src == r.self:
		r.fatal(m, req, origin, "the source never caches its own payloads")
	}
}

func (r *Relm) applyNew(m *Message, origin Origin) {
	if origin != OriginSelf || m.sig.Src != r.self || m.state != StateInvalid || m.data == nil {
		r.fatal(m, RequestNew, origin, "new messages are only created by a local send")
	}

	r.store.link(m, r.store.lastMsg(m.sig.Dst))
	r.store.setLastMsg(m.sig.Dst, m.sig.UID)
	r.Apply(m, RequestSending, OriginSelf)
}

func (r *Relm) applySending(m *Message, origin Origin) {
	switch origin {
	case OriginSelf:
		r.forward(m)
	case OriginUpstream:
		switch m.state {
		case StateAcked:
			// Replay of a message this daemon already acknowledged.
			r.metrics.duplicates.Inc()
			r.sendState(r.upstreamOf(m.sig), m, RequestAcked)
		case StateSending, StatePending, StateSent:
			r.metrics.duplicates.Inc()
		default:
			if m.data == nil {
				r.fatal(m, RequestSending, origin, "payload missing from upstream")
			}
			r.forward(m)
		}
	default:
		r.fatal(m, RequestSending, origin, "payloads never travel upstream")
	}
}

// forward moves the payload of m one hop toward its destination, or delivers it at the destination.
func (r *Relm) forward(m *Message) {
	switch {
	case m.state == StateAcked:
		r.metrics.duplicates.Inc()
		r.sendState(r.upstreamOf(m.sig), m, RequestAcked)
		r.cache.withdraw(m)
		m.data = nil
	case m.data == nil:
		r.Apply(m, RequestRequested, OriginSelf)
	case m.sig.Dst == r.self:
		r.cache.withdraw(m)
		if r.predecessorResolved(m) {
			r.deliver(m)
			r.acknowledge(m, RequestSending, OriginSelf)
			return
		}
		m.state = StatePending
		r.requestMissingPredecessor(m)
	default:
		r.cache.withdraw(m)
		m.state = StateSending
		r.sendState(r.downstreamOf(m.sig), m, RequestSending)
	}
}

// predecessorResolved returns true if everything sent before m on its chain has been delivered here.
func (r *Relm) predecessorResolved(m *Message) bool {
	switch m.prev {
	case t.UIDNone:
		return true
	case t.UIDInvalid:
		r.fatal(m, RequestSending, OriginSelf, "payload without a known predecessor")
	}

	if pred := r.store.predecessor(m); pred != nil {
		return pred.state == StateAcked
	}
	return r.alreadyDelivered(m.sig.WithUID(m.prev))
}

// requestMissingPredecessor asks upstream for the payload of the predecessor of a pending message,
// unless that payload is already on its way.
func (r *Relm) requestMissingPredecessor(m *Message) {
	pred := r.store.predecessor(m)
	if pred == nil {
		var err error
		if pred, err = r.store.getOrCreate(m.sig.WithUID(m.prev)); err != nil {
			r.fatal(m, RequestPending, OriginSelf, err.Error())
		}
		pred.next = m.sig.UID
	}

	if pred.state == StateInvalid {
		r.Apply(pred, RequestRequested, OriginSelf)
	}
}

func (r *Relm) applySent(m *Message, origin Origin) {
	if origin != OriginSelf {
		r.fatal(m, RequestSent, origin, "only the local transport completes sends")
	}
	if m.state != StateSending {
		// Acknowledged, or sent again, while the transport was busy.
		return
	}

	m.state = StateSent
	if m.sig.Src != r.self {
		r.Apply(m, RequestCached, OriginSelf)
	}
}

func (r *Relm) applyRequested(m *Message, origin Origin) {
	switch origin {
	case OriginSelf:
		switch {
		case m.sig.Src == r.self:
			r.fatal(m, RequestRequested, origin, "the source lost its own payload")
		case m.state == StateAcked:
			return
		}
		r.cache.withdraw(m)
		m.data = nil
		m.state = StateRequested
		r.sendState(r.upstreamOf(m.sig), m, RequestRequested)

	case OriginDownstream:
		switch {
		case m.state == StateAcked:
			r.sendState(r.downstreamOf(m.sig), m, RequestAckAcked)
		case m.data != nil:
			r.Apply(m, RequestSending, OriginSelf)
		case m.sig.Src == r.self && m.state == StateInvalid:
			// Completed and forgotten long ago.
			r.sendState(r.downstreamOf(m.sig), m, RequestAckAcked)
			r.store.release(m)
		case m.state == StateRequested:
		default:
			r.Apply(m, RequestRequested, OriginSelf)
		}

	default:
		r.fatal(m, RequestRequested, origin, "replay requests never travel downstream")
	}
}

func (r *Relm) applyAcked(m *Message, origin Origin) {
	if origin != OriginDownstream {
		r.fatal(m, RequestAcked, origin, "acknowledgements only travel upstream")
	}
	if m.state == StateAcked {
		r.metrics.duplicates.Inc()
		return
	}
	r.acknowledge(m, RequestAcked, origin)
}

// acknowledge records the delivery of m at its destination.
// Delivery is in order, so every predecessor of m has been delivered as well.
func (r *Relm) acknowledge(m *Message, req Request, origin Origin) {
	if m.sig.Src == r.self {
		r.complete(m)
		return
	}

	r.settle(m)
	r.sendState(r.upstreamOf(m.sig), m, RequestAcked)

	for pred := r.store.predecessor(m); pred != nil && pred.state != StateAcked; pred = r.store.predecessor(pred) {
		if m.sig.Dst == r.self && (pred.state == StatePending || pred.state == StateSending) {
			r.fatal(pred, req, origin, "successor delivered before its predecessor")
		}
		r.settle(pred)
	}

	if m.sig.Dst == r.self {
		if succ := r.store.successor(m); succ != nil && succ.state == StatePending {
			r.Apply(succ, RequestSending, OriginSelf)
		}
	}
}

// settle marks m as acknowledged and frees its payload.
func (r *Relm) settle(m *Message) {
	r.cache.withdraw(m)
	m.data = nil
	m.state = StateAcked
}

// complete finalizes a locally originated message acknowledged by its destination.
func (r *Relm) complete(m *Message) {
	for pred := r.store.predecessor(m); pred != nil && pred.state != StateAcked; pred = r.store.predecessor(pred) {
		r.metrics.completed.Inc()
		r.settle(pred)
	}
	if m.state != StateInvalid || m.data != nil {
		r.metrics.completed.Inc()
	}
	r.settle(m)

	if m.sig.Dst != r.self {
		r.sendState(r.downstreamOf(m.sig), m, RequestAckAcked)
	}
	r.store.release(m)
}

func (r *Relm) applyAckAcked(m *Message, origin Origin) {
	if origin != OriginUpstream {
		r.fatal(m, RequestAckAcked, origin, "completions only travel downstream")
	}
	atDst := m.sig.Dst == r.self
	if atDst && (m.state == StatePending || m.state == StateSending) {
		r.fatal(m, RequestAckAcked, origin, "completion of an undelivered message")
	}

	for pred := r.store.predecessor(m); pred != nil && pred.state != StateAcked; pred = r.store.predecessor(pred) {
		if atDst && (pred.state == StatePending || pred.state == StateSending) {
			r.fatal(pred, RequestAckAcked, origin, "completion of an undelivered predecessor")
		}
		r.settle(pred)
	}
	r.settle(m)

	if !atDst {
		r.sendState(r.downstreamOf(m.sig), m, RequestAckAcked)
	}

	succ := r.store.successor(m)
	r.store.release(m)
	if atDst && succ != nil && r.store.tracked(succ) && succ.state == StatePending {
		r.Apply(succ, RequestSending, OriginSelf)
	}
}

func (r *Relm) applyCached(m *Message, origin Origin) {
	if origin != OriginSelf || m.state != StateSent || m.data == nil || m.sig.Src == r.self {
		r.fatal(m, RequestCached, origin, "only forwarded payloads may be cached")
	}
	r.cache.admit(m)
}

func (r *Relm) applyEvicted(m *Message, origin Origin) {
	if origin != OriginSelf {
		r.fatal(m, RequestEvicted, origin, "only the local cache evicts payloads")
	}
	if !m.Cached() {
		return
	}

	r.cache.withdraw(m)
	m.data = nil
	r.metrics.evictions.Inc()
}
