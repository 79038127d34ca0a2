/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"sort"

	"github.com/pkg/errors"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// rankBucket holds all in-flight messages toward one destination.
type rankBucket struct {
	messages map[t.GUID]*Message

	// UID of the most recent message this daemon originated toward the bucket's destination.
	// New sends are chained onto it.
	myLastMsg t.UID
}

// store owns every message record of a Relm.
// It is pure bookkeeping: it never sends anything and never blocks.
type store struct {
	self     t.Rank
	numRanks int
	buckets  map[t.Rank]*rankBucket
	count    int
}

func newStore(self t.Rank, numRanks int) *store {
	return &store{
		self:     self,
		numRanks: numRanks,
		buckets:  make(map[t.Rank]*rankBucket),
	}
}

func (s *store) validate(sig t.Signature) error {
	if !sig.Src.Valid(s.numRanks) {
		return errors.WithMessagef(ErrRankOutOfRange, "source %d of %s", sig.Src, sig)
	}
	if !sig.Dst.Valid(s.numRanks) {
		return errors.WithMessagef(ErrRankOutOfRange, "destination %d of %s", sig.Dst, sig)
	}
	if !sig.UID.Legal() || sig.UID > t.MaxUID {
		return errors.WithMessagef(ErrUIDOutOfRange, "uid of %s", sig)
	}
	return nil
}

// find returns the record of the message or nil. It never allocates.
func (s *store) find(sig t.Signature) *Message {
	b, ok := s.buckets[sig.Dst]
	if !ok {
		return nil
	}
	return b.messages[sig.GUID()]
}

// getOrCreate returns the record of the message, allocating the bucket and the record on first reference.
func (s *store) getOrCreate(sig t.Signature) (*Message, error) {
	if err := s.validate(sig); err != nil {
		return nil, err
	}

	b, ok := s.buckets[sig.Dst]
	if !ok {
		b = &rankBucket{
			messages:  make(map[t.GUID]*Message),
			myLastMsg: t.UIDNone,
		}
		s.buckets[sig.Dst] = b
	}

	m, ok := b.messages[sig.GUID()]
	if !ok {
		m = newMessage(sig)
		b.messages[sig.GUID()] = m
		s.count++
	}
	return m, nil
}

// lastMsg returns the UID of the last message this daemon originated toward dst that is still tracked.
func (s *store) lastMsg(dst t.Rank) t.UID {
	if b, ok := s.buckets[dst]; ok {
		return b.myLastMsg
	}
	return t.UIDNone
}

func (s *store) setLastMsg(dst t.Rank, uid t.UID) {
	if b, ok := s.buckets[dst]; ok {
		b.myLastMsg = uid
	}
}

// predecessor returns the record of the message preceding m on its chain, if it is tracked.
func (s *store) predecessor(m *Message) *Message {
	if !m.prev.Legal() {
		return nil
	}
	return s.find(m.sig.WithUID(m.prev))
}

// successor returns the record of the message following m on its chain, if it is known and tracked.
func (s *store) successor(m *Message) *Message {
	if !m.next.Legal() {
		return nil
	}
	succ := s.find(m.sig.WithUID(m.next))
	if succ == nil || succ.prev != m.sig.UID {
		return nil
	}
	return succ
}

// link sets the predecessor of m and, if the predecessor is tracked, its successor pointer.
// Untracked predecessors are not created here.
func (s *store) link(m *Message, prev t.UID) {
	if prev == t.UIDInvalid || m.prev == prev {
		return
	}
	m.prev = prev
	if pred := s.predecessor(m); pred != nil {
		pred.next = m.sig.UID
	}
}

// release removes m from the store. Predecessors that are fully acknowledged are released with it,
// and the successor's predecessor pointer is repaired, so that no record is left pointing at a released one.
// The bucket is destroyed when it becomes empty.
func (s *store) release(m *Message) {
	for m != nil {
		b, ok := s.buckets[m.sig.Dst]
		if !ok || b.messages[m.sig.GUID()] != m {
			return
		}

		if succ := s.successor(m); succ != nil {
			succ.prev = t.UIDNone
		}
		pred := s.predecessor(m)
		if pred != nil && pred.next == m.sig.UID {
			pred.next = t.UIDInvalid
		}

		delete(b.messages, m.sig.GUID())
		s.count--
		if m.sig.Src == s.self && b.myLastMsg == m.sig.UID {
			b.myLastMsg = t.UIDNone
		}
		if len(b.messages) == 0 {
			delete(s.buckets, m.sig.Dst)
		}

		if pred == nil || pred.state != StateAcked || pred.HasData() || pred.Cached() {
			return
		}
		m = pred
	}
}

func (s *store) len() int {
	return s.count
}

func (s *store) bucketSizes() map[t.Rank]int {
	sizes := make(map[t.Rank]int, len(s.buckets))
	for dst, b := range s.buckets {
		sizes[dst] = len(b.messages)
	}
	return sizes
}

// messages returns a snapshot of all records, ordered by destination, source and UID.
// Callers may release records while iterating over the snapshot, but must check
// that a record is still tracked before acting on it.
func (s *store) messages() []*Message {
	msgs := make([]*Message, 0, s.count)
	for _, b := range s.buckets {
		for _, m := range b.messages {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i].sig, msgs[j].sig
		if a.Dst != b.Dst {
			return a.Dst < b.Dst
		}
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.UID < b.UID
	})
	return msgs
}

// tracked returns true if m is still the record stored under its signature.
func (s *store) tracked(m *Message) bool {
	return s.find(m.sig) == m
}
