/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"sort"

	"github.com/openpmix/prrte-sub010/pkg/status"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Status returns a snapshot of the internal state of the Relm, for diagnostics.
func (r *Relm) Status() *status.Relm {
	children := r.topology.Children()
	s := &status.Relm{
		Rank:            uint32(r.self),
		Parent:          r.topology.Parent().String(),
		Children:        make([]uint32, len(children)),
		Depth:           uint32(r.topology.Depth(r.self)),
		InFlight:        r.store.len(),
		Cache:           &status.Cache{},
		NextUID:         uint32(r.nextUID),
		CacheMaxCount:   r.cache.maxCount,
		CacheTimeoutSec: r.cache.timeout.Seconds(),
	}
	for i, c := range children {
		s.Children[i] = uint32(c)
	}

	var bucket *status.Bucket
	for _, m := range r.store.messages() {
		if bucket == nil || bucket.Dst != uint32(m.sig.Dst) {
			bucket = &status.Bucket{
				Dst:       uint32(m.sig.Dst),
				MyLastMsg: r.store.lastMsg(m.sig.Dst).String(),
			}
			s.Buckets = append(s.Buckets, bucket)
		}
		bucket.Messages = append(bucket.Messages, &status.Message{
			Src:    uint32(m.sig.Src),
			Dst:    uint32(m.sig.Dst),
			UID:    uint32(m.sig.UID),
			Prev:   m.prev.String(),
			Next:   m.next.String(),
			State:  m.state.String(),
			Size:   len(m.data),
			Cached: m.Cached(),
		})
	}

	for _, sig := range r.cache.signatures() {
		s.Cache.Entries = append(s.Cache.Entries, sig.String())
	}

	for i, rank := range r.links.slots {
		s.Links = append(s.Links, &status.Link{
			Slot:       i,
			Rank:       rank.String(),
			Upstream:   r.links.upstream.test(i),
			Downstream: r.links.downstream.test(i),
			HeldIn:     len(r.links.heldIn[rank]),
			HeldOut:    len(r.links.heldOut[rank]),
		})
	}

	srcs := make([]t.Rank, 0, len(r.delivered))
	for src := range r.delivered {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	for _, src := range srcs {
		s.Delivered = append(s.Delivered, &status.Delivery{Src: uint32(src), UID: uint32(r.delivered[src])})
	}

	return s
}
