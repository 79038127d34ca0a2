/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"fmt"

	"github.com/openpmix/prrte-sub010/pkg/wire"
)

// State is the resting state of a message record.
// Only values of this type are ever stored in a Message.
type State uint8

const (
	// StateInvalid is the state of a record created by reference, before anything is known about the message.
	StateInvalid State = iota

	// StateSent: handed to the transport downstream, not yet acknowledged.
	StateSent

	// StateRequested: the payload is missing here and replay has been asked for upstream.
	StateRequested

	// StateSending: queued for the local transport (or being delivered at the destination).
	StateSending

	// StatePending: payload held at the destination until the predecessor is acknowledged.
	StatePending

	// StateAcked: the destination confirmed delivery, the acknowledgement travels upstream.
	StateAcked
)

func (s State) String() string {
	return s.Request().String()
}

// Request converts a resting state into the transition request of the same name.
func (s State) Request() Request {
	switch s {
	case StateSent:
		return RequestSent
	case StateRequested:
		return RequestRequested
	case StateSending:
		return RequestSending
	case StatePending:
		return RequestPending
	case StateAcked:
		return RequestAcked
	default:
		return RequestInvalid
	}
}

// mayHoldData returns whether a message resting in s may carry a payload,
// and whether it must.
func (s State) mayHoldData() (may, must bool) {
	switch s {
	case StateSending, StatePending:
		return true, true
	case StateSent:
		return true, false
	default:
		return false, false
	}
}

// Request is a state transition request accepted by Relm.Apply.
// It is a superset of State: the ephemeral requests NEW, ACKACKED, CACHED and EVICTED
// trigger transitions but have no resting counterpart.
type Request uint8

const (
	RequestInvalid Request = iota
	RequestSent
	RequestRequested
	RequestSending
	RequestPending
	RequestAcked

	// RequestNew is a local send request. It is only legal on the source of the message.
	RequestNew

	// RequestAckAcked: the source saw the acknowledgement, the message can be forgotten.
	RequestAckAcked

	// RequestCached admits the message to the replay cache.
	RequestCached

	// RequestEvicted removes the message from the replay cache and frees its payload.
	RequestEvicted
)

// Persistent returns the resting state corresponding to the request,
// and false for the ephemeral requests that can never be stored.
func (r Request) Persistent() (State, bool) {
	switch r {
	case RequestInvalid:
		return StateInvalid, true
	case RequestSent:
		return StateSent, true
	case RequestRequested:
		return StateRequested, true
	case RequestSending:
		return StateSending, true
	case RequestPending:
		return StatePending, true
	case RequestAcked:
		return StateAcked, true
	default:
		return StateInvalid, false
	}
}

// Tag returns the on-wire representation of the request.
func (r Request) Tag() wire.Tag {
	switch r {
	case RequestSent:
		return wire.TagSent
	case RequestRequested:
		return wire.TagRequested
	case RequestSending:
		return wire.TagSending
	case RequestPending:
		return wire.TagPending
	case RequestAcked:
		return wire.TagAcked
	case RequestNew:
		return wire.TagNew
	case RequestAckAcked:
		return wire.TagAckAcked
	case RequestCached:
		return wire.TagCached
	case RequestEvicted:
		return wire.TagEvicted
	default:
		return wire.TagInvalid
	}
}

// RequestFromTag converts a decoded wire tag.
func RequestFromTag(tag wire.Tag) Request {
	switch tag {
	case wire.TagSent:
		return RequestSent
	case wire.TagRequested:
		return RequestRequested
	case wire.TagSending:
		return RequestSending
	case wire.TagPending:
		return RequestPending
	case wire.TagAcked:
		return RequestAcked
	case wire.TagNew:
		return RequestNew
	case wire.TagAckAcked:
		return RequestAckAcked
	case wire.TagCached:
		return RequestCached
	case wire.TagEvicted:
		return RequestEvicted
	default:
		return RequestInvalid
	}
}

func (r Request) String() string {
	return r.Tag().String()
}

// Origin tells who requests a transition, relative to the message's path.
type Origin uint8

const (
	// OriginSelf is the local daemon (local send, transport completion, delivery, cache).
	OriginSelf Origin = iota

	// OriginUpstream is the neighbor toward the message's source.
	OriginUpstream

	// OriginDownstream is the neighbor toward the message's destination.
	OriginDownstream
)

func (o Origin) String() string {
	switch o {
	case OriginSelf:
		return "self"
	case OriginUpstream:
		return "upstream"
	case OriginDownstream:
		return "downstream"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}
