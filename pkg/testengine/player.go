/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testengine

import (
	"time"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/relm"
	"github.com/openpmix/prrte-sub010/pkg/routing"
	"github.com/openpmix/prrte-sub010/pkg/status"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Player rebuilds the state of a daemon by feeding the inbound buffers of its event log
// to a fresh Relm. Outbound buffers are only counted: every send is assumed to succeed,
// replay-cache timers never fire, and topology changes are not replayed.
type Player struct {
	Relm       *relm.Relm
	Tree       *routing.Tree
	LastRecord *eventlog.Record
	Inbound    int
	Outbound   int
	Deliveries int

	posted []func()
}

type playerTransport struct{}

func (playerTransport) Send(dest t.Rank, data []byte, done func(error)) {
	done(nil)
}

type playerTimer struct{}

func (playerTimer) AfterFunc(d time.Duration, fire func()) modules.Stopper {
	return &stopper{}
}

func (p *Player) Post(fn func()) {
	p.posted = append(p.posted, fn)
}

// NewPlayer creates a player for the daemon described by header, in a tree of the given radix.
func NewPlayer(header *eventlog.Header, radix int, logger logging.Logger) (*Player, error) {
	tree, err := routing.NewTree(header.Rank, header.NumRanks, radix)
	if err != nil {
		return nil, err
	}

	p := &Player{Tree: tree}

	config := relm.DefaultConfig()
	config.CacheTimeout = 0
	config.Logger = logger

	p.Relm, err = relm.New(config, &modules.Modules{
		Transport: playerTransport{},
		Topology:  tree,
		Deliverer: modules.DelivererFunc(func(t.Rank, t.UID, []byte) {
			p.Deliveries++
		}),
		Timer:    playerTimer{},
		Executor: p,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Step applies one record and everything it posted.
func (p *Player) Step(record *eventlog.Record) (err error) {
	p.LastRecord = record

	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = errors.Wrapf(rErr, "record %d caught panic", record.Index)
			} else {
				err = errors.Errorf("record %d caught panic: %v", record.Index, r)
			}
		}
	}()

	if record.Direction == modules.Outbound {
		p.Outbound++
		return nil
	}

	p.Inbound++
	if err := p.Relm.Receive(record.Peer, record.Data); err != nil {
		return errors.WithMessagef(err, "record %d", record.Index)
	}

	for len(p.posted) > 0 {
		fn := p.posted[0]
		p.posted = p.posted[1:]
		fn()
	}
	return nil
}

// Play applies every record of reader.
func (p *Player) Play(reader *eventlog.Reader) error {
	return reader.ForEach(p.Step)
}

func (p *Player) Status() *status.Relm {
	return p.Relm.Status()
}
