/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deploytest

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

const (
	// BaseListenPort defines the starting port number on which test daemons will be listening
	// in case the test is being run with the "grpc" setting for networking.
	// A daemon of rank r will listen on port (BaseListenPort + r)
	BaseListenPort = 10000
)

// TestConfig contains the parameters of the deployment to be tested.
type TestConfig struct {
	// Number of daemons in the tested deployment.
	NumRanks int

	// Fan-out of the routing tree.
	Radix int

	// Type of networking to use.
	// Current possible values: "fake", "grpc"
	Transport string

	// Directory where the event logs are stored. If empty, nothing is recorded.
	Directory string

	// Replay cache settings of every daemon.
	CacheMaxCount int
	CacheTimeout  time.Duration

	// Logger of every daemon. Defaults to logging.ConsoleWarnLogger.
	Logger logging.Logger
}

// The Deployment represents a job of daemons interconnected by a simulated network transport.
type Deployment struct {
	// The fake transport layer is only used if the deployment is configured to use it
	// by setting testConfig.Transport to "fake".
	// Otherwise, the fake transport might be created, but will not be used.
	FakeTransport *FakeTransport

	// The daemons of the deployment, indexed by rank.
	TestReplicas []*TestReplica

	failed    map[t.Rank]bool
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	statuses  []*NodeStatus
}

// NewDeployment returns a Deployment initialized according to the passed configuration.
func NewDeployment(testConfig *TestConfig) (*Deployment, error) {
	fakeTransport := NewFakeTransport(testConfig.NumRanks)

	replicas := make([]*TestReplica, testConfig.NumRanks)
	for i := range replicas {
		replica, err := newTestReplica(t.Rank(i), testConfig, fakeTransport)
		if err != nil {
			return nil, errors.WithMessagef(err, "could not create replica %d", i)
		}
		replicas[i] = replica
	}

	return &Deployment{
		FakeTransport: fakeTransport,
		TestReplicas:  replicas,
		failed:        map[t.Rank]bool{},
		statuses:      make([]*NodeStatus, len(replicas)),
	}, nil
}

// Start initializes and runs all daemons and the fake transport.
func (d *Deployment) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for _, replica := range d.TestReplicas {
		replica.Init()
	}

	for i, replica := range d.TestReplicas {
		d.waitGroup.Add(1)
		go func(i int, replica *TestReplica) {
			defer GinkgoRecover()
			defer d.waitGroup.Done()
			d.statuses[i] = replica.Run(ctx)
		}(i, replica)
	}

	d.FakeTransport.Start()
}

// Send submits a payload at the daemon src for delivery to the daemon dst.
func (d *Deployment) Send(ctx context.Context, src, dst t.Rank, payload []byte) (t.Signature, error) {
	return d.TestReplicas[src].Node.ReliableSend(ctx, dst, payload)
}

// Fail stops the daemons ranks and reports their failure to all survivors.
// The fake transport is paused until every survivor has applied the new tree,
// so that no daemon receives traffic of the new tree while it still routes with the old one.
func (d *Deployment) Fail(ctx context.Context, ranks ...t.Rank) error {
	d.FakeTransport.Pause()
	defer d.FakeTransport.Resume()

	for _, rank := range ranks {
		d.failed[rank] = true
		d.FakeTransport.Cut(rank)
		d.TestReplicas[rank].Node.Stop()
	}

	for rank, replica := range d.TestReplicas {
		if d.failed[t.Rank(rank)] {
			continue
		}
		if err := replica.Node.Fail(ctx, ranks...); err != nil {
			return errors.WithMessagef(err, "could not fail %v at %d", ranks, rank)
		}
	}
	return nil
}

// Failed returns true if rank was failed by Fail.
func (d *Deployment) Failed(rank t.Rank) bool {
	return d.failed[rank]
}

// Stop terminates all daemons and the fake transport and returns the final status of every daemon.
func (d *Deployment) Stop() []*NodeStatus {
	d.cancel()
	d.waitGroup.Wait()
	d.FakeTransport.Stop()
	return d.statuses
}
