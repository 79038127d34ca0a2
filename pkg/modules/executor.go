/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

// Executor shifts work onto the single event loop owning a RELM instance.
// Post must not block and must not run fn synchronously:
// fn is run after the event currently being processed has completed.
// Transport completions and timer fires reach the protocol only through Post.
type Executor interface {
	Post(fn func())
}
