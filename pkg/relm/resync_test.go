/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

func (h *harness) receiveLinkRequest(from t.Rank, depth t.Depth) {
	Expect(h.relm.Receive(from, wire.MarshalLinkRequest(&wire.LinkRequest{Depth: depth}))).To(Succeed())
}

func (h *harness) receiveLinkUpdate(from t.Rank, depth t.Depth, updates ...*wire.StateUpdate) {
	Expect(h.relm.Receive(from, wire.MarshalLinkUpdate(&wire.LinkUpdate{Depth: depth, Updates: updates}))).To(Succeed())
}

// linkTraffic returns the destinations of the buffers of the given kind.
func linkTraffic(sent []*sentBuffer, kind wire.Kind) []t.Rank {
	var res []t.Rank
	for _, s := range sent {
		if s.env.Kind == kind {
			res = append(res, s.to)
		}
	}
	return res
}

var _ = Describe("Link resynchronization", func() {
	var (
		h   *harness
		sig = t.Signature{Src: 4, Dst: 9, UID: 1}
	)

	BeforeEach(func() {
		h = newHarness(1, nil)
	})

	When("the local daemon is promoted", func() {
		BeforeEach(func() {
			promotion, err := h.tree.Fail(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(promotion.Self).To(BeTrue())
			h.relm.Promote(promotion)
		})

		It("asks every neighbor for a link update and holds normal traffic", func() {
			sent := h.takeSent()
			Expect(linkTraffic(sent, wire.KindLinkRequest)).To(Equal([]t.Rank{4, 6, 0}))
			Expect(sent[0].env.LinkRequest.Depth).To(Equal(t.Depth(1)))

			_, err := h.relm.ReliableSend(9, []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(h.takeSent()).To(BeEmpty())
			Expect(h.relm.Status().Resynchronizing()).To(BeTrue())
		})

		It("answers the last missing neighbor first, then everyone", func() {
			h.takeSent()
			own, _ := h.relm.ReliableSend(9, []byte("x"))

			h.receiveLinkUpdate(4, 2)
			Expect(h.takeSent()).To(BeEmpty())

			h.receiveLinkUpdate(6, 2)
			sent := h.takeSent()
			Expect(linkTraffic(sent, wire.KindLinkUpdate)).To(Equal([]t.Rank{0}))
			Expect(sent[0].env.LinkUpdate.Updates).To(HaveLen(1))
			Expect(sent[0].env.LinkUpdate.Updates[0].Sig).To(Equal(own))
			Expect(sent[0].env.LinkUpdate.Updates[0].Data).To(Equal([]byte("x")))
			Expect(stateUpdates(sent)).To(Equal([]string{"0 SENDING 1"}))

			h.receiveLinkUpdate(0, 0)
			Expect(linkTraffic(h.takeSent(), wire.KindLinkUpdate)).To(Equal([]t.Rank{4, 6}))
			Expect(h.relm.Status().Resynchronizing()).To(BeFalse())
		})

		It("completes sends replayed in a link update", func() {
			h.takeSent()
			own, _ := h.relm.ReliableSend(9, []byte("x"))
			h.receiveLinkUpdate(4, 2)
			h.receiveLinkUpdate(6, 2)

			h.completeSends(nil)
			Expect(h.state(own)).To(Equal(StateSent))
		})

		It("processes held traffic before the link update of its sender", func() {
			h.takeSent()
			h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
			Expect(h.relm.Find(sig)).To(BeNil())

			h.receiveLinkUpdate(4, 2, &wire.StateUpdate{Sig: sig.WithUID(2), Prev: 1, Tag: wire.TagSending, Data: []byte("b")})
			Expect(h.state(sig)).To(Equal(StateSending))
			Expect(h.relm.Find(sig.WithUID(2)).Prev()).To(Equal(t.UID(1)))
			Expect(h.relm.Find(sig).Next()).To(Equal(t.UID(2)))
			Expect(h.takeSent()).To(BeEmpty())
		})

		It("drops stale link messages", func() {
			h.takeSent()
			h.receiveLinkUpdate(0, 3)
			h.receiveLinkUpdate(7, 2)
			h.receiveLinkRequest(5, 2)
			Expect(h.takeSent()).To(BeEmpty())
			Expect(h.relm.links.pendingUpstream()).To(HaveLen(3))
		})
	})

	When("a neighbor asks for a link update", func() {
		It("sends the state of every message routed through the link", func() {
			h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
			h.completeSends(nil)
			h.receive(0, sig, t.UIDNone, wire.TagAcked, "")
			h.takeSent()

			h.receiveLinkRequest(4, 2)
			sent := h.takeSent()
			Expect(linkTraffic(sent, wire.KindLinkUpdate)).To(Equal([]t.Rank{4}))
			updates := sent[0].env.LinkUpdate.Updates
			Expect(updates).To(HaveLen(1))
			Expect(updates[0].Tag).To(Equal(wire.TagAcked))
		})

		It("replays cached payloads downstream", func() {
			h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
			h.completeSends(nil)

			h.receiveLinkRequest(0, 0)
			sent := h.takeSent()
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].env.LinkUpdate.Updates[0].Tag).To(Equal(wire.TagSending))
			Expect(sent[0].env.LinkUpdate.Updates[0].Data).To(Equal([]byte("a")))
		})

		It("asks upstream for evicted payloads the new neighbor may lack", func() {
			h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
			h.completeSends(nil)
			h.relm.Apply(h.relm.Find(sig), RequestEvicted, OriginSelf)

			h.receiveLinkRequest(0, 0)
			sent := h.takeSent()
			Expect(stateUpdates(sent)).To(Equal([]string{"4 REQUESTED 1"}))
			Expect(linkTraffic(sent, wire.KindLinkUpdate)).To(Equal([]t.Rank{0}))
			Expect(h.state(sig)).To(Equal(StateRequested))
		})
	})

	When("a daemon elsewhere fails", func() {
		It("purges the messages it sent or was sent", func() {
			h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
			h.receive(4, t.Signature{Src: 4, Dst: 0, UID: 1}, t.UIDNone, wire.TagSending, "b")
			h.completeSends(nil)

			promotion, err := h.tree.Fail(9)
			Expect(err).NotTo(HaveOccurred())
			Expect(promotion.Self).To(BeFalse())
			h.relm.Promote(promotion)

			Expect(h.relm.Find(sig)).To(BeNil())
			Expect(h.relm.Find(t.Signature{Src: 4, Dst: 0, UID: 1})).NotTo(BeNil())
			Expect(h.relm.cache.len()).To(Equal(1))
			Expect(h.takeSent()).To(BeEmpty())
		})

		It("ignores late payloads for a failed destination", func() {
			promotion, err := h.tree.Fail(7)
			Expect(err).NotTo(HaveOccurred())
			h.relm.Promote(promotion)

			h.receive(4, t.Signature{Src: 4, Dst: 7, UID: 1}, t.UIDNone, wire.TagSending, "a")

			Expect(h.relm.Find(t.Signature{Src: 4, Dst: 7, UID: 1})).To(BeNil())
			Expect(h.relm.store.len()).To(BeZero())
			Expect(h.takeSent()).To(BeEmpty())
		})

		It("ignores late acknowledgements for a failed source", func() {
			relayed := t.Signature{Src: 7, Dst: 4, UID: 1}
			h.receive(0, relayed, t.UIDNone, wire.TagSending, "a")
			Expect(stateUpdates(h.completeSends(nil))).To(Equal([]string{"4 SENDING 1"}))

			promotion, err := h.tree.Fail(7)
			Expect(err).NotTo(HaveOccurred())
			h.relm.Promote(promotion)
			Expect(h.relm.store.len()).To(BeZero())

			h.receive(4, relayed, t.UIDNone, wire.TagAcked, "")

			Expect(h.relm.Find(relayed)).To(BeNil())
			Expect(h.relm.store.len()).To(BeZero())
			Expect(h.takeSent()).To(BeEmpty())
		})

		It("ignores link update entries for a failed endpoint", func() {
			promotion, err := h.tree.Fail(7)
			Expect(err).NotTo(HaveOccurred())
			h.relm.Promote(promotion)

			// 5 fails too, so the local daemon resynchronizes with 4.
			promotion, err = h.tree.Fail(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(promotion.Self).To(BeTrue())
			h.relm.Promote(promotion)
			h.takeSent()

			h.receiveLinkUpdate(4, 2, &wire.StateUpdate{
				Sig:  t.Signature{Src: 4, Dst: 7, UID: 1},
				Prev: t.UIDNone,
				Tag:  wire.TagSending,
				Data: []byte("a"),
			})

			Expect(h.relm.store.len()).To(BeZero())
		})
	})

	When("a daemon is no longer on the path of a message", func() {
		var (
			topology *reroutedTopology
			relayed  = t.Signature{Src: 4, Dst: 0, UID: 1}
		)

		BeforeEach(func() {
			topology = &reroutedTopology{Tree: h.tree, nextHops: map[t.Rank]t.Rank{}}
			h = newHarnessOn(topology, h.tree, nil)

			h.receive(4, relayed, t.UIDNone, wire.TagSending, "a")
			Expect(stateUpdates(h.completeSends(nil))).To(Equal([]string{"0 SENDING 1"}))
			Expect(h.relm.cache.len()).To(Equal(1))
			Expect(h.timer.armed).NotTo(BeEmpty())
		})

		It("releases it and withdraws its cached payload on promotion", func() {
			topology.nextHops[0] = 4
			h.relm.Promote(modules.Promotion{PrevParent: 0, PrevChildren: h.tree.Children()})

			Expect(h.relm.Find(relayed)).To(BeNil())
			Expect(h.relm.cache.len()).To(BeZero())
			for _, armed := range h.timer.armed {
				Expect(armed.stopped).To(BeTrue())
			}
			Expect(h.takeSent()).To(BeEmpty())
		})

		It("drops its later traffic as not routed through the daemon", func() {
			topology.nextHops[0] = 4
			h.relm.Promote(modules.Promotion{PrevParent: 0, PrevChildren: h.tree.Children()})

			h.receive(4, relayed, t.UIDNone, wire.TagAckAcked, "")
			Expect(h.relm.Find(relayed)).To(BeNil())
		})
	})
})
