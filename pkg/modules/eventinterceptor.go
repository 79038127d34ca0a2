/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Direction tells whether an intercepted buffer entered or left the daemon.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// EventInterceptor provides a way to gain insight into the operation of the reliable messaging layer.
// Every wire buffer exchanged with a neighbor is passed to Intercept before being processed or sent,
// usually to be added to a log for later analysis.
// Intercept is called on the event loop; any blocking delays the whole daemon.
// If Intercept returns an error, the node halts.
type EventInterceptor interface {
	Intercept(dir Direction, peer t.Rank, data []byte) error
}
