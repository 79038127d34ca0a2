/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deploytest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/gomega"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/grpctransport"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/node"
	"github.com/openpmix/prrte-sub010/pkg/relm"
	"github.com/openpmix/prrte-sub010/pkg/routing"
	"github.com/openpmix/prrte-sub010/pkg/status"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// TestReplica represents one daemon (that uses one instance of node.Node) in the test system.
type TestReplica struct {
	// Rank of the daemon as seen by the protocol.
	Rank t.Rank

	// Name of the directory where the event log of this TestReplica is stored.
	// If empty, nothing is recorded.
	Dir string

	// Configuration of the Relm of the daemon.
	Config *relm.Config

	// View of the routing tree of this daemon. Failures are applied to it by the node.
	Topology *routing.Tree

	// Dummy job-control layer receiving the delivered payloads.
	App *FakeApp

	// Network transport subsystem.
	Transport modules.Transport
	Receiver  modules.Receiver

	// Node is set by Init.
	Node *node.Node

	recorder *eventlog.Recorder
}

// EventLogDir returns the name of the directory where the daemon's event log is stored.
func (tr *TestReplica) EventLogDir() string {
	return filepath.Join(tr.Dir, "eventlog")
}

// Init creates the node of the replica and starts its transport, if it is a gRPC one.
func (tr *TestReplica) Init() {
	var interceptor modules.EventInterceptor
	if tr.Dir != "" {
		err := os.MkdirAll(tr.Dir, 0700)
		Expect(err).NotTo(HaveOccurred())
		tr.recorder, err = eventlog.NewRecorder(tr.EventLogDir(), tr.Rank, tr.Topology.NumRanks())
		Expect(err).NotTo(HaveOccurred())
		interceptor = tr.recorder
	}

	n, err := node.New(
		tr.Config,
		&modules.Modules{
			Transport:   tr.Transport,
			Topology:    tr.Topology,
			Deliverer:   tr.App,
			Interceptor: interceptor,
		},
		tr.Receiver,
	)
	Expect(err).NotTo(HaveOccurred())
	tr.Node = n

	if transport, ok := tr.Transport.(*grpctransport.GrpcTransport); ok {
		Expect(transport.Start()).To(Succeed())
	}
}

// Run runs the node until it stops and returns its final status.
func (tr *TestReplica) Run(ctx context.Context) *NodeStatus {
	exitErr := tr.Node.Run(ctx)
	finalStatus, statusErr := tr.Node.Status(context.Background())

	if transport, ok := tr.Transport.(*grpctransport.GrpcTransport); ok {
		transport.Stop()
	}
	if tr.recorder != nil {
		Expect(tr.recorder.Stop()).To(Succeed())
	}

	return &NodeStatus{
		Status:    finalStatus,
		StatusErr: statusErr,
		ExitErr:   exitErr,
	}
}

// NodeStatus represents the final status of a test replica.
type NodeStatus struct {
	// Status as returned by node.Node.Status()
	Status *status.Relm

	// Exit error returned by node.Node.Status(), equal to ExitErr once the node stopped.
	StatusErr error

	// Reason the node terminated, as returned by node.Node.Run()
	ExitErr error
}

func newTestReplica(rank t.Rank, testConfig *TestConfig, fakeTransport *FakeTransport) (*TestReplica, error) {
	tree, err := routing.NewTree(rank, testConfig.NumRanks, testConfig.Radix)
	if err != nil {
		return nil, err
	}

	config := relm.DefaultConfig()
	config.CacheMaxCount = testConfig.CacheMaxCount
	config.CacheTimeout = testConfig.CacheTimeout
	config.Logger = testConfig.Logger
	if config.Logger == nil {
		config.Logger = logging.ConsoleWarnLogger
	}

	tr := &TestReplica{
		Rank:     rank,
		Config:   config,
		Topology: tree,
		App:      NewFakeApp(),
	}
	if testConfig.Directory != "" {
		tr.Dir = filepath.Join(testConfig.Directory, fmt.Sprintf("rank%d", rank))
	}

	switch testConfig.Transport {
	case "fake", "":
		link := fakeTransport.Link(rank)
		tr.Transport, tr.Receiver = link, link
	case "grpc":
		transport := grpctransport.NewGrpcTransport(
			LocalAddresses(testConfig.NumRanks, BaseListenPort),
			rank,
			logging.Decorate(config.Logger, "GRPC: ", "rank", rank),
		)
		tr.Transport, tr.Receiver = transport, transport
	default:
		return nil, fmt.Errorf("unknown transport %q", testConfig.Transport)
	}
	return tr, nil
}
