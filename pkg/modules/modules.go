/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package modules defines the interfaces of the collaborators the reliable messaging layer relies on.
// None of them is implemented by the layer itself: the transport, the routing tree,
// the job-control layer consuming delivered payloads and the clock are all provided by the daemon.
package modules

// Modules groups the collaborators of a single RELM instance.
type Modules struct {
	Transport   Transport
	Topology    Topology
	Deliverer   Deliverer
	Timer       Timer
	Executor    Executor
	Interceptor EventInterceptor
}
