/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package routing_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/routing"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// With 10 ranks and radix 3:
//
//	0
//	├── 1 ── 4 5 6
//	├── 2 ── 7 8 9
//	└── 3
var _ = Describe("Tree", func() {
	var (
		tree *routing.Tree
	)

	newTree := func(self t.Rank) *routing.Tree {
		tr, err := routing.NewTree(self, 10, 3)
		Expect(err).NotTo(HaveOccurred())
		return tr
	}

	BeforeEach(func() {
		tree = newTree(1)
	})

	It("rejects bad parameters", func() {
		_, err := routing.NewTree(10, 10, 3)
		Expect(err).To(HaveOccurred())
		_, err = routing.NewTree(0, 10, 0)
		Expect(err).To(HaveOccurred())
		_, err = routing.NewTree(0, 0, 2)
		Expect(err).To(HaveOccurred())
	})

	It("builds the static radix tree", func() {
		Expect(tree.Parent()).To(Equal(t.Rank(0)))
		Expect(tree.Children()).To(Equal([]t.Rank{4, 5, 6}))
		Expect(tree.Depth(1)).To(Equal(t.Depth(1)))
		Expect(tree.Depth(9)).To(Equal(t.Depth(2)))
		Expect(newTree(0).Parent()).To(Equal(t.RankInvalid))
	})

	It("routes down into the subtree and up otherwise", func() {
		Expect(tree.NextHop(1)).To(Equal(t.Rank(1)))
		Expect(tree.NextHop(5)).To(Equal(t.Rank(5)))
		Expect(tree.NextHop(0)).To(Equal(t.Rank(0)))
		Expect(tree.NextHop(9)).To(Equal(t.Rank(0)))
		Expect(tree.NextHop(3)).To(Equal(t.Rank(0)))

		root := newTree(0)
		Expect(root.NextHop(8)).To(Equal(t.Rank(2)))
		Expect(root.NextHop(6)).To(Equal(t.Rank(1)))
	})

	When("a daemon fails", func() {
		var (
			promotion func(self t.Rank) (*routing.Tree, bool)
		)

		BeforeEach(func() {
			promotion = func(self t.Rank) (*routing.Tree, bool) {
				tr := newTree(self)
				p, err := tr.Fail(1)
				Expect(err).NotTo(HaveOccurred())
				return tr, p.Self
			}
		})

		It("has its children adopted by the nearest live ancestor", func() {
			root, changed := promotion(0)
			Expect(changed).To(BeTrue())
			Expect(root.Children()).To(Equal([]t.Rank{2, 3, 4, 5, 6}))
			Expect(root.NextHop(5)).To(Equal(t.Rank(5)))
			Expect(root.NextHop(1)).To(Equal(t.RankInvalid))
			Expect(root.IsReachable(1)).To(BeFalse())

			orphan, changed := promotion(4)
			Expect(changed).To(BeTrue())
			Expect(orphan.Parent()).To(Equal(t.Rank(0)))
			Expect(orphan.Depth(4)).To(Equal(t.Depth(1)))
			Expect(orphan.NextHop(9)).To(Equal(t.Rank(0)))
		})

		It("leaves daemons whose neighbors did not change alone", func() {
			_, changed := promotion(8)
			Expect(changed).To(BeFalse())
			_, changed = promotion(2)
			Expect(changed).To(BeFalse())
		})

		It("reports the previous neighbors", func() {
			tr := newTree(0)
			p, err := tr.Fail(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.PrevParent).To(Equal(t.RankInvalid))
			Expect(p.PrevChildren).To(Equal([]t.Rank{1, 2, 3}))
			Expect(tr.Children()).To(Equal([]t.Rank{1, 3, 7, 8, 9}))
		})

		It("skips several failed generations", func() {
			tr, err := routing.NewTree(13, 14, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Parent()).To(Equal(t.Rank(4)))
			_, err = tr.Fail(4, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.Parent()).To(Equal(t.Rank(0)))
			Expect(tr.Depth(13)).To(Equal(t.Depth(1)))
		})
	})

	It("refuses to fail the root", func() {
		_, err := tree.Fail(0)
		Expect(err).To(HaveOccurred())
		Expect(tree.IsReachable(0)).To(BeTrue())
	})
})
