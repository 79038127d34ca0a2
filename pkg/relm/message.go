/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"container/list"
	"fmt"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Message is the record of one outstanding reliable send, as known to the local daemon.
// Records are owned by the store and linked with their neighbors on the same (src, dst) chain
// through UIDs, never through pointers.
type Message struct {
	sig t.Signature

	// Predecessor and successor on the (src, dst) chain.
	// t.UIDNone if there is none, t.UIDInvalid if not yet known.
	prev t.UID
	next t.UID

	state State

	// Payload, present only while in transit or cached for replay.
	data []byte

	// Element of the cache list, nil if the message is not cached.
	cacheEntry *list.Element
}

func newMessage(sig t.Signature) *Message {
	return &Message{
		sig:   sig,
		prev:  t.UIDInvalid,
		next:  t.UIDInvalid,
		state: StateInvalid,
	}
}

func (m *Message) Signature() t.Signature {
	return m.sig
}

func (m *Message) State() State {
	return m.state
}

func (m *Message) Prev() t.UID {
	return m.prev
}

func (m *Message) Next() t.UID {
	return m.next
}

// HasData returns true if the payload is held locally.
func (m *Message) HasData() bool {
	return m.data != nil
}

// Cached returns true if the message occupies a slot of the replay cache.
func (m *Message) Cached() bool {
	return m.cacheEntry != nil
}

func (m *Message) String() string {
	return fmt.Sprintf("%s state=%s prev=%s next=%s data=%t cached=%t",
		m.sig, m.state, m.prev, m.next, m.HasData(), m.Cached())
}

// logArgs returns the full identity and state of the message as key/value pairs for the logger.
func (m *Message) logArgs() []interface{} {
	return []interface{}{
		"src", m.sig.Src,
		"dst", m.sig.Dst,
		"uid", m.sig.UID,
		"prev", m.prev,
		"next", m.next,
		"state", m.state,
		"data", len(m.data),
		"cached", m.Cached(),
	}
}
