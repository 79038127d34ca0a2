/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package relm implements the reliable messaging layer of the daemon tree.
//
// A Relm delivers payloads between daemons exactly once and, for any fixed (source, destination) pair,
// in send order, on top of a transport that only moves buffers between tree-adjacent daemons.
// Every daemon on the path of a message keeps a record of it. The payload travels downstream hop by hop,
// the acknowledgement of the destination travels back upstream, and the source finally confirms the
// acknowledgement downstream so that every hop can forget the message.
// When the routing tree changes, the daemons whose links changed exchange the state of every message
// routed through those links (link updates) before normal traffic resumes on them.
// A promoted daemon does not push its link updates unasked: it sends a link request to every neighbor,
// changed or not, and each side sends its link update once asked. Link updates carry the sender's
// depth so that updates crossing an older shape of the tree are recognized as stale.
//
// A Relm is not safe for concurrent use. All its methods must be called from the single event loop
// that owns it (see package node), and its collaborators must post asynchronous notifications
// back onto that loop through the Executor module.
package relm

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

// Relm is the context of the reliable messaging layer of one daemon.
// It is created at daemon startup and discarded at shutdown.
type Relm struct {
	config *Config
	self   t.Rank
	logger logging.Logger

	transport   modules.Transport
	topology    modules.Topology
	deliverer   modules.Deliverer
	timer       modules.Timer
	executor    modules.Executor
	interceptor modules.EventInterceptor

	store   *store
	cache   *cache
	links   *linkState
	metrics *metrics

	// UID of the next locally originated message.
	nextUID t.UID

	// UID of the last payload delivered locally, per source.
	delivered map[t.Rank]t.UID
}

// New returns a Relm using the given collaborators.
// Transport, Topology, Deliverer and Executor are mandatory; Timer defaults to modules.RealTimer.
func New(config *Config, m *modules.Modules) (*Relm, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	if m.Transport == nil || m.Topology == nil || m.Deliverer == nil || m.Executor == nil {
		return nil, errors.Errorf("transport, topology, deliverer and executor modules are required")
	}

	timer := m.Timer
	if timer == nil {
		timer = modules.RealTimer{}
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.ConsoleWarnLogger
	}
	self := m.Topology.Self()
	if !self.Valid(m.Topology.NumRanks()) {
		return nil, errors.WithMessagef(ErrRankOutOfRange, "own rank %d", self)
	}

	metrics, err := newMetrics(config.Registerer)
	if err != nil {
		return nil, err
	}

	r := &Relm{
		config:      config,
		self:        self,
		logger:      logging.Decorate(logger, "RELM: ", "rank", self),
		transport:   m.Transport,
		topology:    m.Topology,
		deliverer:   m.Deliverer,
		timer:       timer,
		executor:    m.Executor,
		interceptor: m.Interceptor,
		store:       newStore(self, m.Topology.NumRanks()),
		links:       newLinkState(m.Topology),
		metrics:     metrics,
		nextUID:     1,
		delivered:   make(map[t.Rank]t.UID),
	}
	r.cache = newCache(r, config.CacheMaxCount, config.CacheTimeout)
	return r, nil
}

// Self returns the rank of the local daemon.
func (r *Relm) Self() t.Rank {
	return r.self
}

// Find returns the local record of a message, or nil.
func (r *Relm) Find(sig t.Signature) *Message {
	return r.store.find(sig)
}

// ReliableSend accepts a payload for reliable, in-order delivery to dst and returns the signature assigned to it.
// A non-nil error means the send was rejected and nothing was sent; the caller may retry.
func (r *Relm) ReliableSend(dst t.Rank, payload []byte) (t.Signature, error) {
	var sig t.Signature

	switch {
	case !dst.Valid(r.topology.NumRanks()):
		return sig, errors.WithMessagef(ErrRankOutOfRange, "destination %d", dst)
	case payload == nil:
		return sig, ErrNilPayload
	case r.config.MaxPayloadSize > 0 && len(payload) > r.config.MaxPayloadSize:
		return sig, errors.WithMessagef(ErrPayloadTooLarge, "%d bytes, limit is %d", len(payload), r.config.MaxPayloadSize)
	case dst != r.self && !r.topology.IsReachable(dst):
		return sig, errors.WithMessagef(ErrUnreachable, "destination %d", dst)
	}

	sig = t.Signature{Src: r.self, Dst: dst, UID: r.nextUID}
	if r.store.find(sig) != nil {
		// The UID generator wrapped around onto a message that is still in flight.
		return sig, errors.WithMessagef(ErrUIDOutOfRange, "uid %d still in flight toward %d", sig.UID, dst)
	}

	m, err := r.store.getOrCreate(sig)
	if err != nil {
		return sig, err
	}
	r.nextUID = r.nextUID.Next()

	m.data = append(make([]byte, 0, len(payload)), payload...)
	r.metrics.accepted.Inc()
	r.Apply(m, RequestNew, OriginSelf)
	return sig, nil
}

// Receive processes a buffer received from the neighbor from.
// A returned error means the buffer could not be decoded or refers to ranks outside the job;
// the caller must treat it as fatal.
func (r *Relm) Receive(from t.Rank, data []byte) error {
	if r.interceptor != nil {
		if err := r.interceptor.Intercept(modules.Inbound, from, data); err != nil {
			return errors.WithMessage(err, "event interceptor error")
		}
	}

	env, err := wire.Unmarshal(data)
	if err != nil {
		return errors.WithMessagef(err, "buffer from %d", from)
	}

	switch env.Kind {
	case wire.KindStateUpdate:
		if r.links.holdsInbound(from) {
			r.links.heldIn[from] = append(r.links.heldIn[from], env.State)
			return nil
		}
		return r.applyStateUpdate(from, env.State)
	case wire.KindLinkRequest:
		r.handleLinkRequest(from, env.LinkRequest)
	case wire.KindLinkUpdate:
		return r.handleLinkUpdate(from, env.LinkUpdate)
	}
	return nil
}

// applyStateUpdate feeds a state update received from a neighbor into the state machine.
func (r *Relm) applyStateUpdate(from t.Rank, su *wire.StateUpdate) error {
	sig := su.Sig
	if err := r.store.validate(sig); err != nil {
		return errors.WithMessagef(err, "state update from %d", from)
	}

	up, down := r.upstreamOf(sig), r.downstreamOf(sig)
	var origin Origin
	switch {
	case !r.routable(sig, up, down):
		// Purged on promotion, must not be recreated by late traffic.
		r.logger.Log(logging.LevelDebug, "Dropping state update for a message with a failed endpoint.",
			"from", from, "sig", sig, "state", su.Tag)
		r.metrics.stale.Inc()
		return nil
	case up == down:
		r.logger.Log(logging.LevelDebug, "Dropping state update for a message not routed through us.",
			"from", from, "sig", sig, "state", su.Tag)
		r.metrics.stale.Inc()
		return nil
	case from == up:
		origin = OriginUpstream
	case from == down:
		origin = OriginDownstream
	default:
		r.logger.Log(logging.LevelDebug, "Dropping state update from a daemon not on the message path.",
			"from", from, "sig", sig, "state", su.Tag, "upstream", up, "downstream", down)
		r.metrics.stale.Inc()
		return nil
	}

	req := RequestFromTag(su.Tag)

	// A replay of a payload this daemon delivered and forgot long ago.
	if req == RequestSending && sig.Dst == r.self && r.store.find(sig) == nil && r.alreadyDelivered(sig) {
		r.logger.Log(logging.LevelDebug, "Acknowledging replay of a delivered message.", "sig", sig)
		r.metrics.duplicates.Inc()
		ack := newMessage(sig)
		ack.prev = su.Prev
		r.sendState(up, ack, RequestAcked)
		return nil
	}

	m, err := r.store.getOrCreate(sig)
	if err != nil {
		return err
	}
	r.metrics.inFlight.Set(float64(r.store.len()))

	if su.Prev != t.UIDInvalid && m.prev == t.UIDInvalid {
		r.store.link(m, su.Prev)
	}
	if req == RequestSending {
		r.offerPayload(m, su.Data, origin)
	}

	r.Apply(m, req, origin)
	return nil
}

// routable returns false if an endpoint of sig other than the local daemon failed
// or has no route from here.
func (r *Relm) routable(sig t.Signature, up, down t.Rank) bool {
	if sig.Src != r.self && (!r.topology.IsReachable(sig.Src) || up == t.RankInvalid) {
		return false
	}
	if sig.Dst != r.self && (!r.topology.IsReachable(sig.Dst) || down == t.RankInvalid) {
		return false
	}
	return true
}

// offerPayload attaches a payload received from a neighbor to m if m is waiting for it.
// The first payload received for a signature wins; a different one is a protocol violation.
func (r *Relm) offerPayload(m *Message, data []byte, origin Origin) {
	switch {
	case m.data != nil:
		if !bytes.Equal(m.data, data) {
			r.fatal(m, RequestSending, origin, "conflicting payload for the same signature")
		}
	case m.state == StateInvalid || m.state == StateRequested:
		m.data = data
	}
}

// alreadyDelivered returns true if a payload with the given signature was delivered here before.
func (r *Relm) alreadyDelivered(sig t.Signature) bool {
	last, ok := r.delivered[sig.Src]
	return ok && !last.Before(sig.UID)
}

// deliver hands the payload of m to the job-control layer.
func (r *Relm) deliver(m *Message) {
	r.delivered[m.sig.Src] = m.sig.UID
	r.metrics.delivered.Inc()
	r.logger.Log(logging.LevelDebug, "Delivering message.", "sig", m.sig, "size", len(m.data))
	r.deliverer.Deliver(m.sig.Src, m.sig.UID, m.data)
}

// sendComplete is invoked on the event loop when the transport finished sending a payload.
func (r *Relm) sendComplete(sig t.Signature, to t.Rank, err error) {
	if err != nil {
		// Left in SENDING: the next resynchronization replays it.
		r.logger.Log(logging.LevelWarn, "Transport failed to send payload.", "sig", sig, "to", to, "err", err)
		return
	}

	m := r.store.find(sig)
	if m == nil {
		return
	}
	r.Apply(m, RequestSent, OriginSelf)
}

// expire is invoked on the event loop when the cache timer of a message fires.
func (r *Relm) expire(sig t.Signature, generation uint64) {
	m := r.store.find(sig)
	if m == nil || !r.cache.isCurrent(m, generation) {
		// Withdrawn or re-admitted since the timer was armed.
		return
	}
	r.Apply(m, RequestEvicted, OriginSelf)
}

// fatal logs the full identity and state of m and aborts processing with a *ProtocolError.
func (r *Relm) fatal(m *Message, req Request, origin Origin, reason string) {
	args := append([]interface{}{"request", req, "origin", origin, "reason", reason}, m.logArgs()...)
	r.logger.Log(logging.LevelError, "Protocol invariant violated.", args...)
	panic(&ProtocolError{
		Sig:     m.sig,
		State:   m.state,
		Request: req,
		Origin:  origin,
		Reason:  reason,
	})
}
