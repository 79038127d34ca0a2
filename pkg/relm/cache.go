/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"container/list"
	"time"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

type cacheEntry struct {
	sig      t.Signature
	deadline time.Time

	// Distinguishes successive admissions of the same message,
	// so that a timer armed for an earlier admission is ignored when it fires.
	generation uint64
	stopper    modules.Stopper
}

// cache bounds the number and the lifetime of the payloads kept for replay.
// It never frees a payload itself: every exit from the cache other than withdraw
// goes through an EVICTED request on the state machine.
type cache struct {
	relm       *Relm
	entries    *list.List
	maxCount   int
	timeout    time.Duration
	generation uint64
}

func newCache(r *Relm, maxCount int, timeout time.Duration) *cache {
	return &cache{
		relm:     r,
		entries:  list.New(),
		maxCount: maxCount,
		timeout:  timeout,
	}
}

// admit appends m to the cache and arms its expiry timer.
// If the cache exceeds its capacity, the oldest message is evicted, whatever its own deadline.
func (c *cache) admit(m *Message) {
	if m.cacheEntry != nil {
		c.withdraw(m)
	}

	c.generation++
	entry := &cacheEntry{
		sig:        m.sig,
		generation: c.generation,
	}
	if c.timeout > 0 {
		entry.deadline = time.Now().Add(c.timeout)
		sig, generation := m.sig, c.generation
		entry.stopper = c.relm.timer.AfterFunc(c.timeout, func() {
			c.relm.executor.Post(func() {
				c.relm.expire(sig, generation)
			})
		})
	}
	m.cacheEntry = c.entries.PushBack(entry)
	c.relm.metrics.cacheSize.Set(float64(c.entries.Len()))

	for c.entries.Len() > c.maxCount {
		oldest := c.entries.Front().Value.(*cacheEntry)
		victim := c.relm.store.find(oldest.sig)
		if victim == nil || victim.cacheEntry != c.entries.Front() {
			// Cannot happen as long as records are withdrawn before being released.
			c.relm.logger.Log(logging.LevelError, "Dropping orphaned cache entry.", "sig", oldest.sig)
			c.entries.Remove(c.entries.Front())
			continue
		}
		c.relm.Apply(victim, RequestEvicted, OriginSelf)
	}
}

// withdraw disarms the timer of m and removes it from the cache. It is idempotent.
func (c *cache) withdraw(m *Message) {
	if m.cacheEntry == nil {
		return
	}

	entry := m.cacheEntry.Value.(*cacheEntry)
	if entry.stopper != nil {
		entry.stopper.Stop()
		entry.stopper = nil
	}
	c.entries.Remove(m.cacheEntry)
	m.cacheEntry = nil
	c.relm.metrics.cacheSize.Set(float64(c.entries.Len()))
}

// isCurrent returns true if m is cached under the given admission.
func (c *cache) isCurrent(m *Message, generation uint64) bool {
	return m.cacheEntry != nil && m.cacheEntry.Value.(*cacheEntry).generation == generation
}

func (c *cache) len() int {
	return c.entries.Len()
}

// signatures returns the signatures of the cached messages, oldest first.
func (c *cache) signatures() []t.Signature {
	sigs := make([]t.Signature, 0, c.entries.Len())
	for e := c.entries.Front(); e != nil; e = e.Next() {
		sigs = append(sigs, e.Value.(*cacheEntry).sig)
	}
	return sigs
}
