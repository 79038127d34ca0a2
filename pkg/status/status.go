/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package status

import (
	"bytes"
	"fmt"
	"sort"
)

type Relm struct {
	Rank            uint32      `json:"rank"`
	Parent          string      `json:"parent"`
	Children        []uint32    `json:"children"`
	Depth           uint32      `json:"depth"`
	InFlight        int         `json:"in_flight"`
	Buckets         []*Bucket   `json:"buckets"`
	Cache           *Cache      `json:"cache"`
	Links           []*Link     `json:"links"`
	Delivered       []*Delivery `json:"delivered"`
	NextUID         uint32      `json:"next_uid"`
	CacheMaxCount   int         `json:"cache_max_count"`
	CacheTimeoutSec float64     `json:"cache_timeout_sec"`
}

type Bucket struct {
	Dst       uint32     `json:"dst"`
	MyLastMsg string     `json:"my_last_msg"`
	Messages  []*Message `json:"messages"`
}

type Message struct {
	Src    uint32 `json:"src"`
	Dst    uint32 `json:"dst"`
	UID    uint32 `json:"uid"`
	Prev   string `json:"prev"`
	Next   string `json:"next"`
	State  string `json:"state"`
	Size   int    `json:"size"`
	Cached bool   `json:"cached"`
}

type Cache struct {
	Entries []string `json:"entries"`
}

type Link struct {
	Slot       int    `json:"slot"`
	Rank       string `json:"rank"`
	Upstream   bool   `json:"upstream"`
	Downstream bool   `json:"downstream"`
	HeldIn     int    `json:"held_in"`
	HeldOut    int    `json:"held_out"`
}

type Delivery struct {
	Src uint32 `json:"src"`
	UID uint32 `json:"uid"`
}

// Resynchronizing returns true while some link still waits for a link update in either direction.
func (s *Relm) Resynchronizing() bool {
	for _, l := range s.Links {
		if !l.Upstream || !l.Downstream {
			return true
		}
	}
	return false
}

func (s *Relm) Pretty() string {
	var buffer bytes.Buffer
	buffer.WriteString("===========================================\n")
	buffer.WriteString(fmt.Sprintf("Rank=%d, Parent=%s, Children=%v, Depth=%d, InFlight=%d\n", s.Rank, s.Parent, s.Children, s.Depth, s.InFlight))
	buffer.WriteString("===========================================\n\n")

	buffer.WriteString("=== Links ===\n")
	for _, l := range s.Links {
		buffer.WriteString(fmt.Sprintf("  slot %d rank %-8s up=%-5t down=%-5t heldIn=%d heldOut=%d\n",
			l.Slot, l.Rank, l.Upstream, l.Downstream, l.HeldIn, l.HeldOut))
	}
	buffer.WriteString("\n")

	buffer.WriteString("=== Buckets ===\n")
	for _, b := range s.Buckets {
		buffer.WriteString(fmt.Sprintf("Destination %d (last sent %s):\n", b.Dst, b.MyLastMsg))
		for _, m := range b.Messages {
			cached := ""
			if m.Cached {
				cached = " cached"
			}
			buffer.WriteString(fmt.Sprintf("  [%d->%d #%d] %-9s prev=%s next=%s size=%d%s\n",
				m.Src, m.Dst, m.UID, m.State, m.Prev, m.Next, m.Size, cached))
		}
	}
	buffer.WriteString("\n")

	buffer.WriteString(fmt.Sprintf("=== Cache (%d/%d, timeout %.1fs) ===\n", len(s.Cache.Entries), s.CacheMaxCount, s.CacheTimeoutSec))
	for _, e := range s.Cache.Entries {
		buffer.WriteString(fmt.Sprintf("  %s\n", e))
	}
	buffer.WriteString("\n")

	buffer.WriteString("=== Delivered ===\n")
	sort.Slice(s.Delivered, func(i, j int) bool { return s.Delivered[i].Src < s.Delivered[j].Src })
	for _, d := range s.Delivered {
		buffer.WriteString(fmt.Sprintf("  from %d up to #%d\n", d.Src, d.UID))
	}
	return buffer.String()
}
