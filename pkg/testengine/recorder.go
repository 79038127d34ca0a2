/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testengine

import (
	"container/list"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/relm"
	"github.com/openpmix/prrte-sub010/pkg/routing"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var errLinkDown = errors.New("link down")

// Link is the transport of one simulated daemon. Every buffer is received
// by its destination LinkLatency after it was sent, unless a mangler interferes.
type Link struct {
	Recording *Recording
	Source    t.Rank
	Delay     int64
}

func (l *Link) Send(dest t.Rank, data []byte, done func(error)) {
	if l.Recording.Nodes[int(l.Source)].Failed || l.Recording.Nodes[int(dest)].Failed {
		done(errLinkDown)
		return
	}
	l.Recording.EventQueue.InsertMsgReceived(dest, l.Source, data, l.Delay)
	done(nil)
}

// executor posts closures as events of the daemon, so that they run after the current event completed.
type executor struct {
	queue  *EventQueue
	target t.Rank
	delay  int64
}

func (e *executor) Post(fn func()) {
	e.queue.InsertPosted(e.target, fn, e.delay)
}

// timer fires in fake time.
type timer struct {
	queue  *EventQueue
	target t.Rank
}

type stopper struct {
	stopped bool
	fired   bool
}

func (s *stopper) Stop() bool {
	if s.stopped || s.fired {
		return false
	}
	s.stopped = true
	return true
}

func (tm *timer) AfterFunc(d time.Duration, fire func()) modules.Stopper {
	s := &stopper{}
	tm.queue.InsertPosted(tm.target, func() {
		if s.stopped {
			return
		}
		s.fired = true
		fire()
	}, d.Milliseconds())
	return s
}

type RuntimeParameters struct {
	LinkLatency    int64
	ProcessLatency int64
}

type NodeConfig struct {
	CacheMaxCount int
	CacheTimeout  time.Duration
	RuntimeParms  *RuntimeParameters
}

// ClientConfig describes the payloads the job-control layer of Src sends to Dst.
type ClientConfig struct {
	Src      t.Rank
	Dst      t.Rank
	Total    int
	Interval int64
}

type clientKey struct {
	src, dst t.Rank
}

// RecorderClient tracks the payloads accepted from one client.
type RecorderClient struct {
	Config   *ClientConfig
	Next     int
	Accepted [][]byte
	Rejected int
}

func (rc *RecorderClient) payload(i int) []byte {
	return []byte(fmt.Sprintf("%d->%d #%d", rc.Config.Src, rc.Config.Dst, i))
}

type Delivery struct {
	UID     t.UID
	Payload []byte
}

type Node struct {
	Rank       t.Rank
	Config     *NodeConfig
	Relm       *relm.Relm
	Tree       *routing.Tree
	Link       *Link
	Recorder   *eventlog.Recorder
	Failed     bool
	Deliveries map[t.Rank][]Delivery
}

func (n *Node) Deliver(src t.Rank, uid t.UID, payload []byte) {
	n.Deliveries[src] = append(n.Deliveries[src], Delivery{UID: uid, Payload: payload})
}

type Recorder struct {
	NumRanks      int
	Radix         int
	NodeConfigs   []*NodeConfig
	ClientConfigs []*ClientConfig
	Mangler       Mangler
	LogOutput     io.Writer
	LogLevel      logging.LogLevel
	RandomSeed    int64
}

// Recording creates the simulated job. If dir is not empty, the traffic of every daemon
// is recorded to an event log in dir, stamped with the fake time.
func (r *Recorder) Recording(dir string) (*Recording, error) {
	eventQueue := &EventQueue{
		List:    list.New(),
		Rand:    rand.New(rand.NewSource(r.RandomSeed)),
		Mangler: r.Mangler,
	}

	logOutput := r.LogOutput
	if logOutput == nil {
		logOutput = ioutil.Discard
	}

	recording := &Recording{
		EventQueue: eventQueue,
		Nodes:      make([]*Node, r.NumRanks),
		Clients:    map[clientKey]*RecorderClient{},
	}

	for i, nodeConfig := range r.NodeConfigs {
		rank := t.Rank(i)

		tree, err := routing.NewTree(rank, r.NumRanks, r.Radix)
		if err != nil {
			return nil, err
		}

		node := &Node{
			Rank:       rank,
			Config:     nodeConfig,
			Tree:       tree,
			Deliveries: map[t.Rank][]Delivery{},
			Link: &Link{
				Recording: recording,
				Source:    rank,
				Delay:     nodeConfig.RuntimeParms.LinkLatency,
			},
		}

		var interceptor modules.EventInterceptor
		if dir != "" {
			node.Recorder, err = eventlog.NewRecorder(
				filepath.Join(dir, fmt.Sprintf("rank%d", i)),
				rank,
				r.NumRanks,
				eventlog.TimeSourceOpt(func() int64 { return eventQueue.FakeTime }),
			)
			if err != nil {
				return nil, errors.WithMessagef(err, "could not create event log of node %d", i)
			}
			interceptor = node.Recorder
		}

		node.Relm, err = relm.New(
			&relm.Config{
				CacheMaxCount: nodeConfig.CacheMaxCount,
				CacheTimeout:  nodeConfig.CacheTimeout,
				Logger: logging.Decorate(
					logging.NewWriterLogger(r.LogLevel, logOutput),
					fmt.Sprintf("node%d: ", i),
				),
			},
			&modules.Modules{
				Transport:   node.Link,
				Topology:    tree,
				Deliverer:   node,
				Timer:       &timer{queue: eventQueue, target: rank},
				Executor:    &executor{queue: eventQueue, target: rank, delay: nodeConfig.RuntimeParms.ProcessLatency},
				Interceptor: interceptor,
			},
		)
		if err != nil {
			return nil, errors.WithMessagef(err, "could not create relm of node %d", i)
		}

		recording.Nodes[i] = node
	}

	for _, clientConfig := range r.ClientConfigs {
		client := &RecorderClient{Config: clientConfig}
		recording.Clients[clientKey{clientConfig.Src, clientConfig.Dst}] = client
		if clientConfig.Total > 0 {
			eventQueue.InsertClientSend(clientConfig.Src, clientConfig.Dst, client.payload(0), 0)
		}
	}

	return recording, nil
}

type Recording struct {
	EventQueue *EventQueue
	Nodes      []*Node
	Clients    map[clientKey]*RecorderClient
}

// Step processes the next event. A protocol violation raised by a daemon is returned as an error.
func (r *Recording) Step() error {
	if r.EventQueue.List.Len() == 0 {
		return errors.Errorf("event queue is empty, nothing to do")
	}

	event := r.EventQueue.ConsumeEvent()
	if event == nil {
		// The last event was dropped by a mangler.
		return nil
	}

	if event.Failure != nil {
		return r.fail(event.Failure.Ranks)
	}

	node := r.Nodes[int(event.Target)]
	if node.Failed {
		// Dead daemons process nothing.
		return nil
	}

	switch {
	case event.MsgReceived != nil:
		if r.Nodes[int(event.MsgReceived.Source)].Failed {
			// Buffers in flight from a dead daemon are lost with it.
			return nil
		}
		return node.safely(func() error {
			return node.Relm.Receive(event.MsgReceived.Source, event.MsgReceived.Data)
		})
	case event.ClientSend != nil:
		return r.clientSend(node, event.ClientSend)
	case event.Posted != nil:
		return node.safely(func() error {
			event.Posted.Fn()
			return nil
		})
	default:
		return errors.Errorf("unknown event type")
	}
}

// safely runs fn, turning a panic into an error the way node.Node does.
func (n *Node) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = errors.Wrapf(rErr, "node %d caught panic", n.Rank)
			} else {
				err = errors.Errorf("node %d caught panic: %v", n.Rank, r)
			}
		}
	}()
	return fn()
}

func (r *Recording) clientSend(node *Node, cs *EventClientSend) error {
	client := r.Clients[clientKey{node.Rank, cs.Dst}]

	err := node.safely(func() error {
		_, err := node.Relm.ReliableSend(cs.Dst, cs.Payload)
		return err
	})
	switch {
	case err == nil:
		client.Accepted = append(client.Accepted, cs.Payload)
	case errors.Cause(err) == relm.ErrUnreachable:
		client.Rejected++
	default:
		return errors.WithMessagef(err, "client %d->%d", node.Rank, cs.Dst)
	}

	client.Next++
	if client.Next < client.Config.Total {
		r.EventQueue.InsertClientSend(node.Rank, cs.Dst, client.payload(client.Next), client.Config.Interval)
	}
	return nil
}

func (r *Recording) fail(ranks []t.Rank) error {
	for _, rank := range ranks {
		r.Nodes[int(rank)].Failed = true
	}

	for _, node := range r.Nodes {
		if node.Failed {
			continue
		}
		promotion, err := node.Tree.Fail(ranks...)
		if err != nil {
			return errors.WithMessagef(err, "node %d could not apply failure of %v", node.Rank, ranks)
		}
		if err := node.safely(func() error {
			node.Relm.Promote(promotion)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// clientsDone returns true once every client submitted all its payloads
// and every accepted payload between live daemons was delivered.
func (r *Recording) clientsDone() bool {
	for key, client := range r.Clients {
		if client.Next < client.Config.Total && !r.Nodes[int(key.src)].Failed {
			return false
		}
		if r.Nodes[int(key.src)].Failed || r.Nodes[int(key.dst)].Failed {
			continue
		}
		if len(r.Nodes[int(key.dst)].Deliveries[key.src]) < len(client.Accepted) {
			return false
		}
	}
	return true
}

// DrainClients will execute the recording until all client payloads between live daemons were delivered.
// It will return with an error if the number of steps exceeds timeout.
// If any step returns an error, this function returns that error.
func (r *Recording) DrainClients(timeout int) (count int, err error) {
	for !r.clientsDone() {
		count++
		if err := r.Step(); err != nil {
			return count, err
		}
		if count > timeout {
			return count, errors.Errorf("timed out after %d steps", count)
		}
	}
	return count, nil
}

// DrainQueue executes the recording until no event is left, so that all protocol traffic settled.
func (r *Recording) DrainQueue(timeout int) (count int, err error) {
	for r.EventQueue.List.Len() > 0 {
		count++
		if err := r.Step(); err != nil {
			return count, err
		}
		if count > timeout {
			return count, errors.Errorf("timed out after %d steps", count)
		}
	}
	return count, nil
}

// CheckDeliveries verifies that every live daemon received the payloads accepted for it
// from every live source exactly once and in order.
func (r *Recording) CheckDeliveries() error {
	for key, client := range r.Clients {
		if r.Nodes[int(key.src)].Failed || r.Nodes[int(key.dst)].Failed {
			continue
		}

		deliveries := r.Nodes[int(key.dst)].Deliveries[key.src]
		if len(deliveries) != len(client.Accepted) {
			return errors.Errorf("%d->%d: %d payloads accepted but %d delivered",
				key.src, key.dst, len(client.Accepted), len(deliveries))
		}
		for i, delivery := range deliveries {
			if string(delivery.Payload) != string(client.Accepted[i]) {
				return errors.Errorf("%d->%d: delivery %d is %q, expected %q",
					key.src, key.dst, i, delivery.Payload, client.Accepted[i])
			}
			if i > 0 && !deliveries[i-1].UID.Before(delivery.UID) {
				return errors.Errorf("%d->%d: uid %d delivered after %d",
					key.src, key.dst, delivery.UID, deliveries[i-1].UID)
			}
		}
	}
	return nil
}

// Close stops the event logs of all daemons. It may be called more than once.
func (r *Recording) Close() error {
	for _, node := range r.Nodes {
		if node.Recorder == nil {
			continue
		}
		if err := node.Recorder.Stop(); err != nil {
			return err
		}
		node.Recorder = nil
	}
	return nil
}

type Spec struct {
	NumRanks      int
	Radix         int
	SendsPerPair  int
	CacheMaxCount int
	CacheTimeout  time.Duration
	TweakRecorder func(r *Recorder)
}

func (s *Spec) Recorder() *Recorder {
	radix := s.Radix
	if radix == 0 {
		radix = 3
	}

	var nodeConfigs []*NodeConfig
	for i := 0; i < s.NumRanks; i++ {
		nodeConfigs = append(nodeConfigs, &NodeConfig{
			CacheMaxCount: s.CacheMaxCount,
			CacheTimeout:  s.CacheTimeout,
			RuntimeParms: &RuntimeParameters{
				LinkLatency:    100,
				ProcessLatency: 5,
			},
		})
	}

	var clientConfigs []*ClientConfig
	for src := 0; src < s.NumRanks; src++ {
		for dst := 0; dst < s.NumRanks; dst++ {
			if src == dst {
				continue
			}
			clientConfigs = append(clientConfigs, &ClientConfig{
				Src:      t.Rank(src),
				Dst:      t.Rank(dst),
				Total:    s.SendsPerPair,
				Interval: 10,
			})
		}
	}

	r := &Recorder{
		NumRanks:      s.NumRanks,
		Radix:         radix,
		NodeConfigs:   nodeConfigs,
		ClientConfigs: clientConfigs,
		LogOutput:     os.Stdout,
		LogLevel:      logging.LevelWarn,
	}

	if s.TweakRecorder != nil {
		s.TweakRecorder(r)
	}

	return r
}
