/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deploytest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var (
	ErrLinkCut    = errors.New("link cut")
	ErrBufferFull = errors.New("buffer full")
)

// FakeLink is the view of the FakeTransport of a single daemon.
// It implements modules.Transport and modules.Receiver.
type FakeLink struct {
	FakeTransport *FakeTransport
	Source        t.Rank
}

func (fl *FakeLink) Send(dest t.Rank, data []byte, done func(error)) {
	done(fl.FakeTransport.Send(fl.Source, dest, data))
}

func (fl *FakeLink) ReceiveChan() <-chan modules.ReceivedMessage {
	return fl.FakeTransport.NodeSinks[fl.Source]
}

// FakeTransport moves buffers between daemons of the same process over channels.
// Every (source, dest) pair is a FIFO drained by its own goroutine.
type FakeTransport struct {
	// Buffers is source x dest
	Buffers   [][]chan []byte
	NodeSinks []chan modules.ReceivedMessage
	WaitGroup sync.WaitGroup
	DoneC     chan struct{}

	mutex sync.Mutex
	cut   map[t.Rank]bool

	// Closed while buffers flow. Pause replaces it with an open channel.
	gate chan struct{}
}

func NewFakeTransport(nodes int) *FakeTransport {
	buffers := make([][]chan []byte, nodes)
	nodeSinks := make([]chan modules.ReceivedMessage, nodes)
	for i := 0; i < nodes; i++ {
		buffers[i] = make([]chan []byte, nodes)
		for j := 0; j < nodes; j++ {
			if i == j {
				continue
			}
			buffers[i][j] = make(chan []byte, 10000)
		}
		nodeSinks[i] = make(chan modules.ReceivedMessage)
	}

	gate := make(chan struct{})
	close(gate)

	return &FakeTransport{
		Buffers:   buffers,
		NodeSinks: nodeSinks,
		DoneC:     make(chan struct{}),
		cut:       map[t.Rank]bool{},
		gate:      gate,
	}
}

func (ft *FakeTransport) isCut(ranks ...t.Rank) bool {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()
	for _, rank := range ranks {
		if ft.cut[rank] {
			return true
		}
	}
	return false
}

func (ft *FakeTransport) Send(source, dest t.Rank, data []byte) error {
	if int(dest) >= len(ft.Buffers) || source == dest {
		return errors.Errorf("no link from %d to %d", source, dest)
	}
	if ft.isCut(source, dest) {
		return ErrLinkCut
	}

	select {
	case ft.Buffers[int(source)][int(dest)] <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (ft *FakeTransport) Link(source t.Rank) *FakeLink {
	return &FakeLink{
		Source:        source,
		FakeTransport: ft,
	}
}

// Cut isolates the daemon rank: buffers queued from or to it are dropped and further sends fail.
func (ft *FakeTransport) Cut(rank t.Rank) {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()
	ft.cut[rank] = true
}

// Pause holds back all buffers not yet handed to their destination until Resume is called.
// A buffer whose hand-off already started may still be delivered.
func (ft *FakeTransport) Pause() {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()
	select {
	case <-ft.gate:
		ft.gate = make(chan struct{})
	default:
	}
}

func (ft *FakeTransport) Resume() {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()
	select {
	case <-ft.gate:
	default:
		close(ft.gate)
	}
}

func (ft *FakeTransport) waitGate() bool {
	ft.mutex.Lock()
	gate := ft.gate
	ft.mutex.Unlock()

	select {
	case <-gate:
		return true
	case <-ft.DoneC:
		return false
	}
}

func (ft *FakeTransport) Start() {
	for i, sourceBuffers := range ft.Buffers {
		for j, buffer := range sourceBuffers {
			if i == j {
				continue
			}

			ft.WaitGroup.Add(1)
			go func(i, j int, buffer chan []byte) {
				defer ft.WaitGroup.Done()
				for {
					select {
					case data := <-buffer:
						if !ft.waitGate() {
							return
						}
						if ft.isCut(t.Rank(i), t.Rank(j)) {
							continue
						}
						select {
						case ft.NodeSinks[j] <- modules.ReceivedMessage{
							Sender: t.Rank(i),
							Data:   data,
						}:
						case <-ft.DoneC:
							return
						}
					case <-ft.DoneC:
						return
					}
				}
			}(i, j, buffer)
		}
	}
}

func (ft *FakeTransport) Stop() {
	close(ft.DoneC)
	ft.WaitGroup.Wait()
}
