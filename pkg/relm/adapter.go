/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

var errNeighborLost = errors.New("neighbor is no longer adjacent")

// upstreamOf returns the neighbor toward the source of sig, or t.RankInvalid on the source itself.
func (r *Relm) upstreamOf(sig t.Signature) t.Rank {
	if sig.Src == r.self {
		return t.RankInvalid
	}
	return r.topology.NextHop(sig.Src)
}

// downstreamOf returns the neighbor toward the destination of sig, or t.RankInvalid on the destination itself.
func (r *Relm) downstreamOf(sig t.Signature) t.Rank {
	if sig.Dst == r.self {
		return t.RankInvalid
	}
	return r.topology.NextHop(sig.Dst)
}

// stateUpdate returns the wire form of m announced as req.
func stateUpdate(m *Message, req Request) *wire.StateUpdate {
	su := &wire.StateUpdate{
		Sig:  m.sig,
		Prev: m.prev,
		Tag:  req.Tag(),
	}
	if req == RequestSending {
		su.Data = m.data
	}
	return su
}

// sendState announces the state of m to the neighbor to.
// Sending a payload completes asynchronously with a SENT request on m.
func (r *Relm) sendState(to t.Rank, m *Message, req Request) {
	if to == t.RankInvalid {
		r.logger.Log(logging.LevelDebug, "No route for state update.", "sig", m.sig, "state", req)
		return
	}

	var done func(error)
	if req == RequestSending {
		sig := m.sig
		done = func(err error) {
			r.sendComplete(sig, to, err)
		}
	}
	r.transmit(to, wire.MarshalStateUpdate(stateUpdate(m, req)), done)
}

// transmit sends normal protocol traffic, holding it back while the link to the neighbor is not resynchronized.
func (r *Relm) transmit(to t.Rank, data []byte, done func(error)) {
	if r.links.holdsOutbound(to) {
		r.links.heldOut[to] = append(r.links.heldOut[to], heldBuffer{data: data, done: done})
		return
	}
	r.rawSend(to, data, done)
}

// rawSend hands a buffer to the transport. The completion callback, if any, runs on the event loop.
func (r *Relm) rawSend(to t.Rank, data []byte, done func(error)) {
	if r.interceptor != nil {
		if err := r.interceptor.Intercept(modules.Outbound, to, data); err != nil {
			r.logger.Log(logging.LevelWarn, "Event interceptor failed.", "to", to, "err", err)
		}
	}

	r.transport.Send(to, data, func(err error) {
		r.executor.Post(func() {
			if err != nil {
				r.metrics.sendFailures.Inc()
			}
			if done != nil {
				done(err)
			}
		})
	})
}
