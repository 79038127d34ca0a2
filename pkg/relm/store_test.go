/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var _ = Describe("Store", func() {
	var (
		s *store
	)

	chain := func(uids ...t.UID) []*Message {
		msgs := make([]*Message, len(uids))
		prev := t.UIDNone
		for i, uid := range uids {
			m, err := s.getOrCreate(t.Signature{Src: 2, Dst: 5, UID: uid})
			Expect(err).NotTo(HaveOccurred())
			s.link(m, prev)
			msgs[i], prev = m, uid
		}
		return msgs
	}

	BeforeEach(func() {
		s = newStore(2, 8)
	})

	It("validates signatures", func() {
		_, err := s.getOrCreate(t.Signature{Src: 8, Dst: 5, UID: 1})
		Expect(errors.Cause(err)).To(Equal(ErrRankOutOfRange))
		_, err = s.getOrCreate(t.Signature{Src: 2, Dst: 5, UID: t.UIDNone})
		Expect(errors.Cause(err)).To(Equal(ErrUIDOutOfRange))
		_, err = s.getOrCreate(t.Signature{Src: 2, Dst: 5, UID: t.UIDInvalid})
		Expect(errors.Cause(err)).To(Equal(ErrUIDOutOfRange))
		Expect(s.len()).To(BeZero())
	})

	It("links messages in both directions", func() {
		msgs := chain(1, 2, 3)
		Expect(s.successor(msgs[0])).To(Equal(msgs[1]))
		Expect(s.predecessor(msgs[2])).To(Equal(msgs[1]))
		Expect(s.predecessor(msgs[0])).To(BeNil())
		Expect(s.bucketSizes()).To(Equal(map[t.Rank]int{5: 3}))
	})

	It("repairs the neighbors of a released message", func() {
		msgs := chain(1, 2, 3)
		s.release(msgs[2])
		Expect(msgs[1].Next()).To(Equal(t.UIDInvalid))

		s.release(msgs[0])
		Expect(msgs[1].Prev()).To(Equal(t.UIDNone))
		Expect(s.len()).To(Equal(1))
	})

	It("releases acknowledged predecessors along with a message", func() {
		msgs := chain(1, 2, 3)
		msgs[0].state = StateAcked
		msgs[1].state = StateAcked
		s.release(msgs[2])
		Expect(s.len()).To(BeZero())
		Expect(s.buckets).To(BeEmpty())
	})

	It("keeps predecessors that still hold a payload", func() {
		msgs := chain(1, 2, 3)
		msgs[0].state = StateAcked
		msgs[1].state = StateSent
		msgs[1].data = []byte("b")
		s.release(msgs[2])
		Expect(s.tracked(msgs[0])).To(BeTrue())
		Expect(s.tracked(msgs[1])).To(BeTrue())
	})

	It("forgets the last sent message with it", func() {
		msgs := chain(1)
		s.setLastMsg(5, 1)
		Expect(s.lastMsg(5)).To(Equal(t.UID(1)))
		s.release(msgs[0])
		Expect(s.lastMsg(5)).To(Equal(t.UIDNone))
	})

	It("orders snapshots by destination, source and uid", func() {
		for _, sig := range []t.Signature{{Src: 3, Dst: 5, UID: 1}, {Src: 2, Dst: 1, UID: 7}, {Src: 2, Dst: 5, UID: 2}, {Src: 2, Dst: 5, UID: 1}} {
			_, err := s.getOrCreate(sig)
			Expect(err).NotTo(HaveOccurred())
		}

		var sigs []t.Signature
		for _, m := range s.messages() {
			sigs = append(sigs, m.Signature())
		}
		Expect(sigs).To(Equal([]t.Signature{
			{Src: 2, Dst: 1, UID: 7},
			{Src: 2, Dst: 5, UID: 1},
			{Src: 2, Dst: 5, UID: 2},
			{Src: 3, Dst: 5, UID: 1},
		}))
	})
})
