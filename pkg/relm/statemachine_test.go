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
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

var _ = Describe("Source", func() {
	var (
		h *harness
	)

	BeforeEach(func() {
		h = newHarness(4, nil)
	})

	It("chains and forwards new sends toward the destination", func() {
		sig1, err := h.relm.ReliableSend(9, []byte("a"))
		Expect(err).NotTo(HaveOccurred())
		sig2, err := h.relm.ReliableSend(9, []byte("b"))
		Expect(err).NotTo(HaveOccurred())

		Expect(sig1).To(Equal(t.Signature{Src: 4, Dst: 9, UID: 1}))
		Expect(sig2.UID).To(Equal(t.UID(2)))
		Expect(h.relm.Find(sig1).Prev()).To(Equal(t.UIDNone))
		Expect(h.relm.Find(sig1).Next()).To(Equal(t.UID(2)))
		Expect(h.relm.Find(sig2).Prev()).To(Equal(t.UID(1)))

		sent := h.takeSent()
		Expect(stateUpdates(sent)).To(Equal([]string{"1 SENDING 1", "1 SENDING 2"}))
		Expect(sent[1].env.State.Prev).To(Equal(t.UID(1)))
		Expect(sent[1].env.State.Data).To(Equal([]byte("b")))
		Expect(h.state(sig1)).To(Equal(StateSending))
	})

	It("keeps the payload after the transport is done, without caching it", func() {
		sig, err := h.relm.ReliableSend(9, []byte("a"))
		Expect(err).NotTo(HaveOccurred())
		h.completeSends(nil)

		m := h.relm.Find(sig)
		Expect(m.State()).To(Equal(StateSent))
		Expect(m.HasData()).To(BeTrue())
		Expect(m.Cached()).To(BeFalse())
	})

	It("stays in SENDING if the transport fails", func() {
		sig, err := h.relm.ReliableSend(9, []byte("a"))
		Expect(err).NotTo(HaveOccurred())
		h.completeSends(errors.New("connection reset"))
		Expect(h.state(sig)).To(Equal(StateSending))
	})

	It("releases the whole chain when the last message is acknowledged", func() {
		sig1, _ := h.relm.ReliableSend(9, []byte("a"))
		sig2, _ := h.relm.ReliableSend(9, []byte("b"))
		h.completeSends(nil)

		h.receive(1, sig2, 1, wire.TagAcked, "")

		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"1 ACKACKED 2"}))
		Expect(h.relm.Find(sig1)).To(BeNil())
		Expect(h.relm.Find(sig2)).To(BeNil())
		Expect(h.relm.store.len()).To(BeZero())

		sig3, err := h.relm.ReliableSend(9, []byte("c"))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.relm.Find(sig3).Prev()).To(Equal(t.UIDNone))
	})

	It("replays a payload on request", func() {
		sig, _ := h.relm.ReliableSend(9, []byte("a"))
		h.completeSends(nil)

		h.receive(1, sig, t.UIDNone, wire.TagRequested, "")
		sent := h.takeSent()
		Expect(stateUpdates(sent)).To(Equal([]string{"1 SENDING 1"}))
		Expect(sent[0].env.State.Data).To(Equal([]byte("a")))
		Expect(h.state(sig)).To(Equal(StateSending))
	})

	It("answers requests for completed messages with a completion", func() {
		sig, _ := h.relm.ReliableSend(9, []byte("a"))
		h.receive(1, sig, t.UIDNone, wire.TagAcked, "")
		h.takeSent()

		h.receive(1, sig, t.UIDNone, wire.TagRequested, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"1 ACKACKED 1"}))
		Expect(h.relm.Find(sig)).To(BeNil())
	})

	It("delivers messages sent to itself", func() {
		sig, err := h.relm.ReliableSend(4, []byte("loop"))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.delivered).To(Equal([]delivery{{src: 4, uid: 1, payload: "loop"}}))
		Expect(h.relm.Find(sig)).To(BeNil())
		Expect(h.takeSent()).To(BeEmpty())
	})

	It("rejects invalid sends", func() {
		_, err := h.relm.ReliableSend(10, []byte("a"))
		Expect(errors.Cause(err)).To(Equal(ErrRankOutOfRange))

		_, err = h.relm.ReliableSend(9, nil)
		Expect(err).To(Equal(ErrNilPayload))

		_, err = h.tree.Fail(9)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.relm.ReliableSend(9, []byte("a"))
		Expect(errors.Cause(err)).To(Equal(ErrUnreachable))

		Expect(h.takeSent()).To(BeEmpty())
	})

	It("rejects payloads above the limit", func() {
		config := DefaultConfig()
		config.MaxPayloadSize = 4
		h = newHarness(4, config)

		_, err := h.relm.ReliableSend(9, []byte("12345"))
		Expect(errors.Cause(err)).To(Equal(ErrPayloadTooLarge))
		_, err = h.relm.ReliableSend(9, []byte("1234"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("wraps the UID space and refuses to reuse a UID in flight", func() {
		h.relm.nextUID = t.MaxUID
		sig1, err := h.relm.ReliableSend(9, []byte("a"))
		Expect(err).NotTo(HaveOccurred())
		Expect(sig1.UID).To(Equal(t.MaxUID))

		sig2, err := h.relm.ReliableSend(9, []byte("b"))
		Expect(err).NotTo(HaveOccurred())
		Expect(sig2.UID).To(Equal(t.UID(1)))
		Expect(h.relm.Find(sig2).Prev()).To(Equal(t.MaxUID))

		h.relm.nextUID = t.MaxUID
		_, err = h.relm.ReliableSend(9, []byte("c"))
		Expect(errors.Cause(err)).To(Equal(ErrUIDOutOfRange))
		Expect(h.relm.nextUID).To(Equal(t.MaxUID))
	})

	It("panics when asked to replay from upstream", func() {
		sig, _ := h.relm.ReliableSend(9, []byte("a"))
		m := h.relm.Find(sig)
		Expect(func() { h.relm.Apply(m, RequestRequested, OriginSelf) }).To(Panic())
	})
})

var _ = Describe("Intermediate", func() {
	var (
		h   *harness
		sig t.Signature
	)

	// Rank 1 relays from 4 up to 0, on the way to 9.
	BeforeEach(func() {
		h = newHarness(1, nil)
		sig = t.Signature{Src: 4, Dst: 9, UID: 1}
		h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
	})

	It("forwards payloads and caches them once sent", func() {
		sent := h.completeSends(nil)
		Expect(stateUpdates(sent)).To(Equal([]string{"0 SENDING 1"}))
		Expect(sent[0].env.State.Data).To(Equal([]byte("a")))

		m := h.relm.Find(sig)
		Expect(m.State()).To(Equal(StateSent))
		Expect(m.Cached()).To(BeTrue())
		Expect(h.relm.cache.signatures()).To(Equal([]t.Signature{sig}))
	})

	It("ignores replays of payloads in transit", func() {
		h.completeSends(nil)
		h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
		Expect(h.takeSent()).To(BeEmpty())
		Expect(h.state(sig)).To(Equal(StateSent))
	})

	It("relays the acknowledgement upstream and the completion downstream", func() {
		h.completeSends(nil)

		h.receive(0, sig, t.UIDNone, wire.TagAcked, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"4 ACKED 1"}))
		m := h.relm.Find(sig)
		Expect(m.State()).To(Equal(StateAcked))
		Expect(m.HasData()).To(BeFalse())
		Expect(m.Cached()).To(BeFalse())

		h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"4 ACKED 1"}))

		h.receive(4, sig, t.UIDNone, wire.TagAckAcked, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"0 ACKACKED 1"}))
		Expect(h.relm.Find(sig)).To(BeNil())
	})

	It("acknowledges predecessors implicitly", func() {
		sig2 := sig.WithUID(2)
		h.receive(4, sig2, 1, wire.TagSending, "b")
		h.completeSends(nil)

		h.receive(0, sig2, 1, wire.TagAcked, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"4 ACKED 2"}))
		Expect(h.state(sig)).To(Equal(StateAcked))
		Expect(h.relm.cache.len()).To(BeZero())

		h.receive(4, sig2, 1, wire.TagAckAcked, "")
		Expect(h.relm.store.len()).To(BeZero())
	})

	It("replays cached payloads on request", func() {
		h.completeSends(nil)
		h.receive(0, sig, t.UIDNone, wire.TagRequested, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"0 SENDING 1"}))
		Expect(h.state(sig)).To(Equal(StateSending))
		Expect(h.relm.Find(sig).Cached()).To(BeFalse())
	})

	It("asks upstream for evicted payloads", func() {
		h.completeSends(nil)
		h.relm.Apply(h.relm.Find(sig), RequestEvicted, OriginSelf)
		Expect(h.relm.Find(sig).HasData()).To(BeFalse())
		Expect(h.state(sig)).To(Equal(StateSent))

		h.receive(0, sig, t.UIDNone, wire.TagRequested, "")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"4 REQUESTED 1"}))
		Expect(h.state(sig)).To(Equal(StateRequested))

		h.receive(0, sig, t.UIDNone, wire.TagRequested, "")
		Expect(h.takeSent()).To(BeEmpty())

		h.receive(4, sig, t.UIDNone, wire.TagSending, "a")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"0 SENDING 1"}))
	})

	It("drops updates from daemons off the message path", func() {
		h.takeSent()
		h.receive(5, sig, t.UIDNone, wire.TagAcked, "")
		h.receive(2, t.Signature{Src: 7, Dst: 9, UID: 1}, t.UIDNone, wire.TagSending, "x")
		Expect(h.takeSent()).To(BeEmpty())
		Expect(h.relm.Find(t.Signature{Src: 7, Dst: 9, UID: 1})).To(BeNil())
		Expect(h.state(sig)).To(Equal(StateSending))
	})

	It("panics on a conflicting payload", func() {
		Expect(func() { h.receive(4, sig, t.UIDNone, wire.TagSending, "b") }).To(Panic())
	})

	It("panics on acknowledgements travelling downstream", func() {
		Expect(func() { h.receive(4, sig, t.UIDNone, wire.TagAcked, "") }).To(Panic())
	})

	It("panics on illegal requests", func() {
		m := h.relm.Find(sig)
		Expect(func() { h.relm.Apply(m, RequestPending, OriginSelf) }).To(Panic())
		Expect(func() { h.relm.Apply(m, RequestNew, OriginSelf) }).To(Panic())
		Expect(func() { h.relm.Apply(m, RequestCached, OriginSelf) }).To(Panic())
	})

	It("reports malformed and out-of-range input", func() {
		err := h.relm.Receive(4, []byte{byte(wire.KindStateUpdate), 0xff})
		Expect(errors.Cause(err)).To(Equal(wire.ErrMalformed))

		bad := wire.MarshalStateUpdate(&wire.StateUpdate{
			Sig: t.Signature{Src: 4, Dst: 42, UID: 1},
			Tag: wire.TagAcked,
		})
		err = h.relm.Receive(4, bad)
		Expect(errors.Cause(err)).To(Equal(ErrRankOutOfRange))
	})
})

var _ = Describe("Destination", func() {
	var (
		h *harness
	)

	// Rank 9 receives the traffic of 4 from its parent 2.
	BeforeEach(func() {
		h = newHarness(9, nil)
	})

	sig := func(uid t.UID) t.Signature {
		return t.Signature{Src: 4, Dst: 9, UID: uid}
	}

	It("delivers and acknowledges", func() {
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		Expect(h.delivered).To(Equal([]delivery{{src: 4, uid: 1, payload: "a"}}))
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"2 ACKED 1"}))
		Expect(h.state(sig(1))).To(Equal(StateAcked))

		h.receive(2, sig(1), t.UIDNone, wire.TagAckAcked, "")
		Expect(h.relm.Find(sig(1))).To(BeNil())
		Expect(h.takeSent()).To(BeEmpty())
	})

	It("holds messages until their predecessor arrives", func() {
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		h.takeSent()

		h.receive(2, sig(3), 2, wire.TagSending, "c")
		Expect(h.state(sig(3))).To(Equal(StatePending))
		Expect(h.state(sig(2))).To(Equal(StateRequested))
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"2 REQUESTED 2"}))
		Expect(h.delivered).To(HaveLen(1))

		h.receive(2, sig(2), 1, wire.TagSending, "b")
		Expect(h.delivered).To(Equal([]delivery{
			{src: 4, uid: 1, payload: "a"},
			{src: 4, uid: 2, payload: "b"},
			{src: 4, uid: 3, payload: "c"},
		}))
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"2 ACKED 2", "2 ACKED 3"}))
	})

	It("never delivers twice", func() {
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"2 ACKED 1", "2 ACKED 1"}))

		h.receive(2, sig(1), t.UIDNone, wire.TagAckAcked, "")
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		Expect(stateUpdates(h.takeSent())).To(Equal([]string{"2 ACKED 1"}))
		Expect(h.relm.Find(sig(1))).To(BeNil())
		Expect(h.delivered).To(HaveLen(1))
	})

	It("resumes delivery after a released predecessor", func() {
		h.receive(2, sig(1), t.UIDNone, wire.TagSending, "a")
		h.receive(2, sig(1), t.UIDNone, wire.TagAckAcked, "")
		h.receive(2, sig(2), 1, wire.TagSending, "b")
		Expect(h.delivered).To(HaveLen(2))
	})

	It("panics on the completion of an undelivered message", func() {
		h.receive(2, sig(2), 1, wire.TagSending, "b")
		Expect(h.state(sig(2))).To(Equal(StatePending))
		Expect(func() { h.receive(2, sig(2), 1, wire.TagAckAcked, "") }).To(Panic())
	})
})
