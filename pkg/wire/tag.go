/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wire

import "fmt"

// Tag is the on-wire representation of a message state or state transition request.
// The numeric values are part of the wire format.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagSent
	TagRequested
	TagSending
	TagPending
	TagAcked
	TagNew
	TagAckAcked
	TagCached
	TagEvicted

	numTags
)

var tagNames = [...]string{
	TagInvalid:   "INVALID",
	TagSent:      "SENT",
	TagRequested: "REQUESTED",
	TagSending:   "SENDING",
	TagPending:   "PENDING",
	TagAcked:     "ACKED",
	TagNew:       "NEW",
	TagAckAcked:  "ACKACKED",
	TagCached:    "CACHED",
	TagEvicted:   "EVICTED",
}

func (t Tag) String() string {
	if t < numTags {
		return tagNames[t]
	}
	return fmt.Sprintf("TAG(%d)", uint8(t))
}

// Transmittable returns true for the tags that may appear in a state update exchanged between daemons.
// Local-only requests (NEW, CACHED, EVICTED) and resting-only states never cross the wire.
func (t Tag) Transmittable() bool {
	switch t {
	case TagSending, TagRequested, TagAcked, TagAckAcked:
		return true
	default:
		return false
	}
}
