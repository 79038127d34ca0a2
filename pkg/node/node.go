/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package node runs the reliable messaging layer of one daemon on a single event loop.
//
// Every operation of the Relm, whether requested by the job-control layer, the transport,
// a timer or the failure detector, is posted to the loop as a closure and runs to completion
// before the next one starts. A protocol violation detected by the Relm terminates the loop,
// and the violation becomes the exit error of Run.
package node

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/relm"
	"github.com/openpmix/prrte-sub010/pkg/status"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var ErrStopped = errors.Errorf("stopped at caller request")

// Failer is implemented by topologies that can be told about failed daemons.
type Failer interface {
	Fail(ranks ...t.Rank) (modules.Promotion, error)
}

type Node struct {
	ID t.Rank

	relm     *relm.Relm
	topology modules.Topology
	receiver modules.Receiver

	queueMutex sync.Mutex
	queue      []func()
	notifyC    chan struct{}

	// Error of a closure that must terminate the loop.
	loopErr error

	doneC chan struct{}
	errC  chan struct{}

	exitMutex  sync.Mutex
	started    bool
	exitErr    error
	exitStatus *status.Relm
}

// New creates a node around a new Relm. The node is the Relm's executor;
// any Executor set in m is ignored. Buffers arriving on the receiver, if not nil,
// are fed to the Relm by Run.
func New(config *relm.Config, m *modules.Modules, receiver modules.Receiver) (*Node, error) {
	n := &Node{
		topology: m.Topology,
		receiver: receiver,
		notifyC:  make(chan struct{}, 1),
		doneC:    make(chan struct{}),
		errC:     make(chan struct{}),
	}

	withLoop := *m
	withLoop.Executor = n

	r, err := relm.New(config, &withLoop)
	if err != nil {
		return nil, err
	}
	n.relm = r
	n.ID = r.Self()
	return n, nil
}

// Post queues fn for execution on the event loop. It never blocks and may be called from any goroutine.
func (n *Node) Post(fn func()) {
	n.queueMutex.Lock()
	n.queue = append(n.queue, fn)
	n.queueMutex.Unlock()

	select {
	case n.notifyC <- struct{}{}:
	default:
	}
}

func (n *Node) takeQueue() []func() {
	n.queueMutex.Lock()
	defer n.queueMutex.Unlock()
	queue := n.queue
	n.queue = nil
	return queue
}

// do runs fn on the event loop and waits until it returned.
func (n *Node) do(ctx context.Context, fn func()) error {
	doneC := make(chan struct{})
	n.Post(func() {
		fn()
		close(doneC)
	})

	select {
	case <-doneC:
		return nil
	case <-n.errC:
		return n.getExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReliableSend hands a payload to the Relm for exactly-once, in-order delivery to dst.
func (n *Node) ReliableSend(ctx context.Context, dst t.Rank, payload []byte) (t.Signature, error) {
	var (
		sig     t.Signature
		sendErr error
	)
	if err := n.do(ctx, func() {
		sig, sendErr = n.relm.ReliableSend(dst, payload)
	}); err != nil {
		return sig, err
	}
	return sig, sendErr
}

// Step feeds a buffer received from the neighbor from to the Relm.
// A buffer that cannot be processed terminates the node.
func (n *Node) Step(ctx context.Context, from t.Rank, data []byte) error {
	var stepErr error
	if err := n.do(ctx, func() {
		if stepErr = n.relm.Receive(from, data); stepErr != nil {
			n.loopErr = errors.WithMessagef(stepErr, "could not process buffer from %d", from)
		}
	}); err != nil {
		return err
	}
	return stepErr
}

// Fail reports failed daemons. The topology is updated and the Relm promoted on the event loop,
// so that no buffer is processed against a stale view of the tree.
func (n *Node) Fail(ctx context.Context, ranks ...t.Rank) error {
	failer, ok := n.topology.(Failer)
	if !ok {
		return errors.Errorf("topology %T does not track failures", n.topology)
	}

	var failErr error
	if err := n.do(ctx, func() {
		var promotion modules.Promotion
		if promotion, failErr = failer.Fail(ranks...); failErr == nil {
			n.relm.Promote(promotion)
		}
	}); err != nil {
		return err
	}
	return failErr
}

// Status returns a snapshot of the Relm. Once the node stopped,
// it returns the status at exit together with the exit error.
func (n *Node) Status(ctx context.Context) (*status.Relm, error) {
	var s *status.Relm
	err := n.do(ctx, func() {
		s = n.relm.Status()
	})
	if err == nil {
		return s, nil
	}

	n.exitMutex.Lock()
	defer n.exitMutex.Unlock()
	if n.exitStatus != nil {
		return n.exitStatus, n.exitErr
	}
	return nil, err
}

// Stop terminates Run and waits for it to return.
// If Run was not started yet, Stop returns at once and a later Run returns ErrStopped.
func (n *Node) Stop() {
	n.exitMutex.Lock()
	select {
	case <-n.doneC:
	default:
		close(n.doneC)
	}
	started := n.started
	n.exitMutex.Unlock()

	if started {
		<-n.errC
	}
}

func (n *Node) getExitErr() error {
	n.exitMutex.Lock()
	defer n.exitMutex.Unlock()
	return n.exitErr
}

// Run processes events until the context is canceled, Stop is called, or the Relm fails.
// It must be called exactly once.
func (n *Node) Run(ctx context.Context) (exitErr error) {
	n.exitMutex.Lock()
	n.started = true
	n.exitMutex.Unlock()

	defer func() {
		n.exitMutex.Lock()
		defer n.exitMutex.Unlock()
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				n.exitErr = errors.Wrapf(err, "node caught panic")
			} else {
				n.exitErr = errors.Errorf("panic in relm: %v", r)
			}
			exitErr = n.exitErr
		} else {
			n.exitErr = exitErr
		}
		n.exitStatus = n.relm.Status()
		close(n.errC)
	}()

	var receiveC <-chan modules.ReceivedMessage
	if n.receiver != nil {
		receiveC = n.receiver.ReceiveChan()
	}

	for {
		select {
		case <-n.notifyC:
			for _, fn := range n.takeQueue() {
				fn()
				if n.loopErr != nil {
					return n.loopErr
				}
			}
		case msg := <-receiveC:
			if err := n.relm.Receive(msg.Sender, msg.Data); err != nil {
				return errors.WithMessagef(err, "could not process buffer from %d", msg.Sender)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-n.doneC:
			return ErrStopped
		}
	}
}
