/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testengine

import (
	"container/list"
	"math/rand"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

func stateEvent(target, source t.Rank, tag wire.Tag, uid t.UID) *Event {
	return &Event{
		Target: target,
		MsgReceived: &EventMsgReceived{
			Source: source,
			Data: wire.MarshalStateUpdate(&wire.StateUpdate{
				Sig:  t.Signature{Src: source, Dst: target, UID: uid},
				Prev: t.UIDNone,
				Tag:  tag,
			}),
		},
	}
}

var _ = Describe("Matchers", func() {
	Describe("initializeMatching", func() {
		It("binds the fields to the underlying implementations", func() {
			mm := &MsgMatching{}
			initializeMatching(mm)
			Expect(mm.FromNode).NotTo(BeNil())
			Expect(mm.FromNodes).NotTo(BeNil())
			Expect(mm.ToNode).NotTo(BeNil())
			Expect(mm.ToNodes).NotTo(BeNil())
			Expect(mm.AtPercent).NotTo(BeNil())
			Expect(mm.OfKind).NotTo(BeNil())

			nmm := mm.AtPercent(30)
			Expect(nmm.Filters).To(HaveLen(1))
			Expect(nmm.Filters[0].apply(5, nil)).To(BeTrue())
			Expect(nmm.Filters[0].apply(30, nil)).To(BeFalse())

			nmm = nmm.ToNodes(3, 5)
			Expect(nmm.Filters).To(HaveLen(2))
			Expect(nmm.Filters[1].apply(0, &Event{
				Target: 2,
			})).To(BeFalse())
			Expect(nmm.Filters[1].apply(0, &Event{
				Target: 3,
			})).To(BeTrue())
		})
	})

	Describe("MsgMatching", func() {
		It("matches the state of a state update", func() {
			mm := MatchMsgs().WithState(wire.TagAcked)
			Expect(mm.Filters).To(HaveLen(2))
			Expect(mm.Matches(0, stateEvent(1, 4, wire.TagAcked, 1))).To(BeTrue())
			Expect(mm.Matches(0, stateEvent(1, 4, wire.TagSending, 1))).To(BeFalse())
		})

		It("matches the source and uid", func() {
			mm := MatchMsgs().FromNode(4).WithUID(2)
			Expect(mm.Matches(0, stateEvent(1, 4, wire.TagAcked, 2))).To(BeTrue())
			Expect(mm.Matches(0, stateEvent(1, 4, wire.TagAcked, 1))).To(BeFalse())
			Expect(mm.Matches(0, stateEvent(1, 5, wire.TagAcked, 2))).To(BeFalse())
		})

		It("tells link traffic from state updates", func() {
			linkRequest := &Event{
				Target: 1,
				MsgReceived: &EventMsgReceived{
					Source: 0,
					Data:   wire.MarshalLinkRequest(&wire.LinkRequest{Depth: 0}),
				},
			}
			Expect(MatchMsgs().OfLinkTraffic().Matches(0, linkRequest)).To(BeTrue())
			Expect(MatchMsgs().OfKind(wire.KindLinkRequest).Matches(0, linkRequest)).To(BeTrue())
			Expect(MatchMsgs().OfLinkTraffic().Matches(0, stateEvent(1, 0, wire.TagAcked, 1))).To(BeFalse())
		})

		It("does not match other events", func() {
			Expect(MatchMsgs().Matches(0, &Event{ClientSend: &EventClientSend{}})).To(BeFalse())
			Expect(MatchClientSends().ToNode(2).Matches(0, &Event{Target: 2, ClientSend: &EventClientSend{}})).To(BeTrue())
		})
	})

	Describe("Manglers", func() {
		var queue *EventQueue

		BeforeEach(func() {
			queue = &EventQueue{
				List: list.New(),
				Rand: rand.New(rand.NewSource(0)),
			}
		})

		It("drops matching events", func() {
			queue.Mangler = For(MatchMsgs().FromNode(4)).Drop()
			queue.InsertEvent(stateEvent(1, 4, wire.TagAcked, 1))
			queue.InsertEvent(stateEvent(1, 5, wire.TagAcked, 1))

			event := queue.ConsumeEvent()
			Expect(event.MsgReceived.Source).To(Equal(t.Rank(5)))
			Expect(queue.List.Len()).To(BeZero())
		})

		It("duplicates events with a private copy of the buffer", func() {
			queue.Mangler = For(MatchMsgs()).Duplicate(10)
			original := stateEvent(1, 4, wire.TagAcked, 1)
			queue.InsertEvent(original)

			first := queue.ConsumeEvent()
			second := queue.ConsumeEvent()
			Expect(first.MsgReceived.Data).To(Equal(second.MsgReceived.Data))
			second.MsgReceived.Data[0] = 0
			Expect(first.MsgReceived.Data[0]).NotTo(BeZero())
		})

		It("kills ranks once after the first matching event", func() {
			queue.Mangler = After(MatchMsgs().WithState(wire.TagSending)).FailOnce(3)
			queue.InsertEvent(stateEvent(1, 4, wire.TagAcked, 1))
			queue.InsertEvent(stateEvent(1, 4, wire.TagSending, 2))
			queue.InsertEvent(stateEvent(1, 4, wire.TagSending, 3))

			Expect(queue.ConsumeEvent().MsgReceived).NotTo(BeNil())
			Expect(queue.ConsumeEvent().MsgReceived).NotTo(BeNil())
			failure := queue.ConsumeEvent()
			Expect(failure.Failure).NotTo(BeNil())
			Expect(failure.Failure.Ranks).To(Equal([]t.Rank{3}))
			Expect(queue.ConsumeEvent().MsgReceived).NotTo(BeNil())
			Expect(queue.List.Len()).To(BeZero())
		})
	})
})
