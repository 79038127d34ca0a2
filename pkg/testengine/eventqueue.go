/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testengine

import (
	"bytes"
	"container/list"
	"fmt"
	"math/rand"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

type Event struct {
	Target      t.Rank
	Time        int64
	MsgReceived *EventMsgReceived
	ClientSend  *EventClientSend
	Posted      *EventPosted
	Failure     *EventFailure
}

type EventMsgReceived struct {
	Source t.Rank
	Data   []byte
}

// EventClientSend makes the job-control layer of the target submit a payload.
type EventClientSend struct {
	Dst     t.Rank
	Payload []byte
}

// EventPosted runs a closure posted to the event loop of the target,
// a transport completion or a timer fire.
type EventPosted struct {
	Fn func()
}

// EventFailure kills Ranks and reports it to every surviving daemon at once.
// The Target of a failure event is ignored.
type EventFailure struct {
	Ranks []t.Rank
}

func (e *Event) typeName() string {
	switch {
	case e.MsgReceived != nil:
		return "MsgReceived"
	case e.ClientSend != nil:
		return "ClientSend"
	case e.Posted != nil:
		return "Posted"
	case e.Failure != nil:
		return "Failure"
	default:
		panic("unexpected event type")
	}
}

type EventQueue struct {
	// List is a list of *Event messages, in order of time.
	List *list.List

	// FakeTime is the current 'time' according to this log.
	FakeTime int64

	// Rand is a source of randomness for the manglers
	Rand *rand.Rand

	// Mangler is invoked on each event when it is first inserted
	Mangler Mangler

	// Mangled tracks which events have already been mangled to prevent loops
	Mangled map[*Event]struct{}
}

func (l *EventQueue) ConsumeEvent() *Event {
	for {
		event := l.List.Remove(l.List.Front()).(*Event)

		_, ok := l.Mangled[event]
		if ok || l.Mangler == nil {
			delete(l.Mangled, event)
			l.FakeTime = event.Time
			return event
		}

		mangleResults := l.Mangler.Mangle(l.Rand.Int(), event)
		for _, result := range mangleResults {
			if l.Mangled == nil {
				l.Mangled = map[*Event]struct{}{}
			}

			if !result.Remangle {
				l.Mangled[result.Event] = struct{}{}
			}

			l.InsertEvent(result.Event)
		}

		if l.List.Len() == 0 {
			return nil
		}
	}
}

func (l *EventQueue) InsertMsgReceived(target, source t.Rank, data []byte, fromNow int64) {
	l.InsertEvent(
		&Event{
			Target: target,
			MsgReceived: &EventMsgReceived{
				Source: source,
				Data:   data,
			},
			Time: l.FakeTime + fromNow,
		},
	)
}

func (l *EventQueue) InsertClientSend(target, dst t.Rank, payload []byte, fromNow int64) {
	l.InsertEvent(
		&Event{
			Target: target,
			ClientSend: &EventClientSend{
				Dst:     dst,
				Payload: payload,
			},
			Time: l.FakeTime + fromNow,
		},
	)
}

func (l *EventQueue) InsertPosted(target t.Rank, fn func(), fromNow int64) {
	l.InsertEvent(
		&Event{
			Target: target,
			Posted: &EventPosted{Fn: fn},
			Time:   l.FakeTime + fromNow,
		},
	)
}

func (l *EventQueue) InsertFailure(ranks []t.Rank, fromNow int64) {
	l.InsertEvent(
		&Event{
			Target:  t.RankInvalid,
			Failure: &EventFailure{Ranks: ranks},
			Time:    l.FakeTime + fromNow,
		},
	)
}

func (l *EventQueue) InsertEvent(event *Event) {
	if event.Time < l.FakeTime {
		panic("attempted to modify the past")
	}

	for el := l.List.Front(); el != nil; el = el.Next() {
		if el.Value.(*Event).Time > event.Time {
			l.List.InsertBefore(event, el)
			return
		}
	}

	l.List.PushBack(event)
}

func (l *EventQueue) Status() string {
	count := l.List.Len()
	if count == 0 {
		return "Empty EventQueue"
	}

	el := l.List.Back()
	var buf bytes.Buffer
	for i := 0; i < 50; i++ {
		event := el.Value.(*Event)
		fmt.Fprintf(&buf, "[node=%s, event_type=%s time=%d]\n", event.Target, event.typeName(), event.Time)
		el = el.Prev()
		if i >= count || el == nil {
			fmt.Fprintf(&buf, "\nCompleted eventlog summary of %d events\n", count)
			return buf.String()
		}
	}

	fmt.Fprintf(&buf, "\n ... skipping %d entries ... \n", count-50)
	return buf.String()
}
