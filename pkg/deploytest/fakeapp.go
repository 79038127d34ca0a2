/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deploytest

import (
	"sync"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Delivery is a payload as seen by the FakeApp.
type Delivery struct {
	UID     t.UID
	Payload []byte
}

// FakeApp stands in for the job-control layer and remembers every delivered payload.
type FakeApp struct {
	mutex     sync.Mutex
	delivered map[t.Rank][]Delivery
	count     int
}

func NewFakeApp() *FakeApp {
	return &FakeApp{
		delivered: map[t.Rank][]Delivery{},
	}
}

func (fa *FakeApp) Deliver(src t.Rank, uid t.UID, payload []byte) {
	fa.mutex.Lock()
	defer fa.mutex.Unlock()
	fa.delivered[src] = append(fa.delivered[src], Delivery{UID: uid, Payload: payload})
	fa.count++
}

// DeliveredFrom returns a copy of the deliveries from src, in the order they happened.
func (fa *FakeApp) DeliveredFrom(src t.Rank) []Delivery {
	fa.mutex.Lock()
	defer fa.mutex.Unlock()
	return append([]Delivery(nil), fa.delivered[src]...)
}

// Count returns the total number of deliveries.
func (fa *FakeApp) Count() int {
	fa.mutex.Lock()
	defer fa.mutex.Unlock()
	return fa.count
}
