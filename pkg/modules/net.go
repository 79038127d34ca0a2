/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// ReceivedMessage represents a buffer received from a tree-adjacent daemon.
// This is the type of structures written to the channel returned by Receiver.ReceiveChan().
type ReceivedMessage struct {

	// Rank of the daemon that sent the buffer.
	// The transport is trusted to report it correctly.
	Sender t.Rank

	// The received buffer itself, opaque to the transport.
	Data []byte
}

// Transport moves opaque byte buffers between tree-adjacent daemons.
// It is fire-and-forget: Send never blocks on the network and gives no delivery guarantee.
// The done callback is invoked exactly once, possibly from another goroutine,
// with nil if the buffer was handed to the peer and a non-nil error otherwise.
// Adding delivery guarantees on top of this is exactly the job of the reliable messaging layer.
type Transport interface {
	Send(dest t.Rank, data []byte, done func(error))
}

// Receiver is implemented by transports that deliver incoming buffers through a channel.
type Receiver interface {
	ReceiveChan() <-chan ReceivedMessage
}
