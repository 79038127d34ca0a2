/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Deliverer is the job-control layer consuming reliably delivered payloads.
// Deliver is invoked once per message, on the event loop of the destination daemon,
// in send order for any fixed source.
type Deliverer interface {
	Deliver(src t.Rank, uid t.UID, payload []byte)
}

// DelivererFunc adapts an ordinary function to the Deliverer interface.
type DelivererFunc func(src t.Rank, uid t.UID, payload []byte)

func (f DelivererFunc) Deliver(src t.Rank, uid t.UID, payload []byte) {
	f(src, uid, payload)
}
