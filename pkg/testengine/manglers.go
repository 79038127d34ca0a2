/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testengine

import (
	"fmt"
	"reflect"

	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

type Mangler interface {
	Mangle(random int, event *Event) []MangleResult
}

type MangleResult struct {
	Event    *Event
	Remangle bool
}

// EventMangling is meant to be an easy way to construct test descriptions.
// Each method of a Mangling returns itself or another Mangling to make them easy
// to concatenate.  For instance:
//   For(MatchMsgs().FromNodes(1,3).AtPercent(10)).Drop()
// will for all messages from nodes 1 and 3, ten percent of the time, drop them.
// Note that order is important here.  Another perfectly valid string would be:
//   For(MatchMsgs().AtPercent(10).FromNodes(1,3)).Drop()
// But here, because filters are applied first to last, on 10 percent of messages,
// if they are from nodes 1 and 3, they will be dropped.

type MangleMatcher interface {
	Matches(random int, event *Event) bool
}

// Until is useful to perform a mangling until some condition is complete.  This is useful
// especially for delaying an event until after a condition occurs, or for fixing a fault
// after some period of time.
func Until(matcher MangleMatcher) *Mangling {
	matched := false
	return &Mangling{
		Filter: InlineMatcher(func(random int, event *Event) bool {
			if matched || matcher.Matches(random, event) {
				matched = true
				return false
			}

			return true
		}),
	}
}

// After is useful to begin a mangling after some action occurs.  This is useful especially
// for allowing the network to get into a desired state before injecting a fault.
func After(matcher MangleMatcher) *Mangling {
	matched := false
	return &Mangling{
		Filter: InlineMatcher(func(random int, event *Event) bool {
			if matched || matcher.Matches(random, event) {
				matched = true
				return true
			}

			return false
		}),
	}
}

// For is a simple way to apply a mangler whenever a condition is satisfied.
func For(matcher MangleMatcher) *Mangling {
	return &Mangling{
		Filter: matcher,
	}
}

// Mangling is usually constructed via For/After/Until and is used to
// conditionally apply a Mangler.
type Mangling struct {
	Filter MangleMatcher
}

func (m *Mangling) Do(mangler Mangler) Mangler {
	return InlineMangler(func(random int, event *Event) []MangleResult {
		if !m.Filter.Matches(random, event) {
			return []MangleResult{
				{
					Event: event,
				},
			}
		}

		return mangler.Mangle(random, event)
	})
}

func (m *Mangling) Drop() Mangler {
	return m.Do(DropMangler{})
}

func (m *Mangling) Jitter(maxDelay int) Mangler {
	return m.Do(&JitterMangler{MaxDelay: maxDelay})
}

func (m *Mangling) Duplicate(maxDelay int) Mangler {
	return m.Do(&DuplicateMangler{MaxDelay: maxDelay})
}

func (m *Mangling) Delay(delay int) Mangler {
	return m.Do(&DelayMangler{Delay: delay})
}

// FailOnce kills ranks right after the first matching event.
func (m *Mangling) FailOnce(ranks ...t.Rank) Mangler {
	return m.Do(&FailMangler{Ranks: ranks})
}

func MatchMsgs() *MsgMatching {
	return newMsgMatching()
}

func MatchClientSends() *ClientMatching {
	cm := &ClientMatching{}

	cm.Filters = []mangleFilter{
		{
			eventType: func(event *Event) bool {
				return event.ClientSend != nil
			},
		},
	}
	initializeMatching(cm)

	return cm
}

type InlineMatcher func(random int, event *Event) bool

func (im InlineMatcher) Matches(random int, event *Event) bool {
	return im(random, event)
}

type InlineMangler func(random int, event *Event) []MangleResult

func (im InlineMangler) Mangle(random int, event *Event) []MangleResult {
	return im(random, event)
}

type mangleFilter struct {
	msgContents func(env *wire.Envelope) bool
	msgSource   func(target, source t.Rank) bool
	eventType   func(event *Event) bool
	target      func(target t.Rank) bool
	blind       func(random int) bool
}

func (mf mangleFilter) apply(random int, event *Event) bool {
	switch {
	case mf.msgContents != nil:
		env, err := wire.Unmarshal(event.MsgReceived.Data)
		if err != nil {
			return false
		}
		return mf.msgContents(env)
	case mf.msgSource != nil:
		return mf.msgSource(event.Target, event.MsgReceived.Source)
	case mf.target != nil:
		return mf.target(event.Target)
	case mf.eventType != nil:
		return mf.eventType(event)
	case mf.blind != nil:
		return mf.blind(random)
	default:
		panic("no function set in manglefilter")
	}
}

func initializeMatching(mangling interface{}) {
	value := reflect.ValueOf(mangling)
	if value.Kind() != reflect.Ptr {
		panic("expected mangling to be a pointer")
	}

	structValue := value.Elem()
	if structValue.Kind() != reflect.Struct {
		panic("expected mangling to point to a struct")
	}

	filtersField := structValue.FieldByName("Filters")
	if filtersField.Kind() != reflect.Slice {
		panic("expected filters to be of type Slice")
	}

	structType := structValue.Type()
	for i := 0; i < structType.NumField(); i++ {
		structField := structType.Field(i)
		if structField.Name == "Filters" || structField.Name == "matching" {
			continue
		}

		if structField.Type.Kind() != reflect.Func {
			panic("expected mangling members to be functions")
		}

		baseStruct := reflect.ValueOf(baseMangling{})
		baseMethod, ok := baseStruct.Type().MethodByName(structField.Name)
		if !ok {
			panic(fmt.Sprintf("implemention for %s not found in base mangling", structField.Name))
		}

		f := reflect.MakeFunc(structField.Type, func(args []reflect.Value) []reflect.Value {
			var result []reflect.Value
			argsWithReceiver := append([]reflect.Value{baseStruct}, args...)
			if structField.Type.IsVariadic() {
				result = baseMethod.Func.CallSlice(argsWithReceiver)
			} else {
				result = baseMethod.Func.Call(argsWithReceiver)
			}

			if len(result) != 1 {
				panic(fmt.Sprintf("expected only one result but got %d", len(result)))
			}

			mf, ok := result[0].Interface().(mangleFilter)
			if !ok {
				panic(fmt.Sprintf("expected result of type mangleFilter but got %T", mf))
			}

			if structField.Type.NumOut() != 1 {
				panic(fmt.Sprintf("expected field to only output 1 result but got %d", structField.Type.NumOut()))
			}

			outType := structField.Type.Out(0)
			if outType.Kind() != reflect.Ptr {
				panic(fmt.Sprintf("expected return type kind to be a ptr, but got %v", outType.Kind()))
			}

			newValue := reflect.New(outType.Elem())
			newValue.Elem().FieldByName("Filters").Set(reflect.Append(filtersField, result[0]))
			initializeMatching(newValue.Interface())

			return []reflect.Value{newValue}
		})

		structValue.Field(i).Set(f)
	}
}

type MsgMatching struct {
	matching

	FromNode      func(rank t.Rank) *MsgMatching
	FromNodes     func(ranks ...t.Rank) *MsgMatching
	ToNode        func(rank t.Rank) *MsgMatching
	ToNodes       func(ranks ...t.Rank) *MsgMatching
	AtPercent     func(percent int) *MsgMatching
	OfKind        func(kind wire.Kind) *MsgMatching
	OfLinkTraffic func() *MsgMatching
	WithState     func(tag wire.Tag) *MsgMatching
	WithUID       func(uid t.UID) *MsgMatching
}

func newMsgMatching() *MsgMatching {
	mm := &MsgMatching{}

	mm.Filters = []mangleFilter{
		{
			eventType: func(event *Event) bool {
				return event.MsgReceived != nil
			},
		},
	}
	initializeMatching(mm)

	return mm
}

type ClientMatching struct {
	matching

	ToNode    func(rank t.Rank) *ClientMatching
	ToNodes   func(ranks ...t.Rank) *ClientMatching
	AtPercent func(percent int) *ClientMatching
}

type matching struct {
	Filters []mangleFilter
}

func (m matching) Matches(random int, event *Event) bool {
	for _, filter := range m.Filters {
		if !filter.apply(random, event) {
			return false
		}
	}

	return true
}

type baseMangling struct{}

// FromNode may only be safely bound into a mangling if
// the mangling ensures all events are messages.
func (baseMangling) FromNode(source t.Rank) mangleFilter {
	return mangleFilter{
		msgSource: func(target, actualSource t.Rank) bool {
			return actualSource == source
		},
	}
}

// FromNodes may only be safely bound into a mangling if
// the mangling ensures all events are messages.
func (baseMangling) FromNodes(sources ...t.Rank) mangleFilter {
	return mangleFilter{
		msgSource: func(target, actualSource t.Rank) bool {
			for _, source := range sources {
				if source == actualSource {
					return true
				}
			}
			return false
		},
	}
}

// ToNode may be safely bound into all manglings.
func (baseMangling) ToNode(target t.Rank) mangleFilter {
	return mangleFilter{
		target: func(actualNode t.Rank) bool {
			return target == actualNode
		},
	}
}

// ToNodes may be safely bound into all manglings.
func (baseMangling) ToNodes(targets ...t.Rank) mangleFilter {
	return mangleFilter{
		target: func(actualNode t.Rank) bool {
			for _, target := range targets {
				if target == actualNode {
					return true
				}
			}
			return false
		},
	}
}

// AtPercent may be safely bound into all manglings.
func (baseMangling) AtPercent(percent int) mangleFilter {
	return mangleFilter{
		blind: func(random int) bool {
			return random%100 < percent
		},
	}
}

// OfKind may only be safely bound into a mangling if
// the mangling ensures all events are messages.
func (baseMangling) OfKind(kind wire.Kind) mangleFilter {
	return mangleFilter{
		msgContents: func(env *wire.Envelope) bool {
			return env.Kind == kind
		},
	}
}

// OfLinkTraffic matches link requests and link updates.
// It may only be safely bound into a mangling if the mangling ensures all events are messages.
func (baseMangling) OfLinkTraffic() mangleFilter {
	return mangleFilter{
		msgContents: func(env *wire.Envelope) bool {
			return env.Kind == wire.KindLinkRequest || env.Kind == wire.KindLinkUpdate
		},
	}
}

// WithState matches state updates carrying tag.
// It may only be safely bound into a mangling if the mangling ensures all events are messages.
func (baseMangling) WithState(tag wire.Tag) mangleFilter {
	return mangleFilter{
		msgContents: func(env *wire.Envelope) bool {
			return env.Kind == wire.KindStateUpdate && env.State.Tag == tag
		},
	}
}

// WithUID matches state updates of messages with the given uid, whatever their source.
// It may only be safely bound into a mangling if the mangling ensures all events are messages.
func (baseMangling) WithUID(uid t.UID) mangleFilter {
	return mangleFilter{
		msgContents: func(env *wire.Envelope) bool {
			return env.Kind == wire.KindStateUpdate && env.State.Sig.UID == uid
		},
	}
}

type DropMangler struct{}

func (DropMangler) Mangle(random int, event *Event) []MangleResult {
	return nil
}

type DuplicateMangler struct {
	MaxDelay int
}

func (dm *DuplicateMangler) Mangle(random int, event *Event) []MangleResult {
	clone := *event
	if event.MsgReceived != nil {
		clone.MsgReceived = &EventMsgReceived{
			Source: event.MsgReceived.Source,
			Data:   append([]byte(nil), event.MsgReceived.Data...),
		}
	}
	delay := int64(random % dm.MaxDelay)
	clone.Time += delay
	return []MangleResult{
		{
			Event: event,
		},
		{
			Event: &clone,
		},
	}
}

// JitterMangler will delay events a random amount of time, up to MaxDelay
type JitterMangler struct {
	MaxDelay int
}

func (jm *JitterMangler) Mangle(random int, event *Event) []MangleResult {
	delay := int64(random % jm.MaxDelay)
	event.Time += delay
	return []MangleResult{
		{
			Event: event,
		},
	}
}

// DelayMangler will delay events a specified amount of time
type DelayMangler struct {
	Delay int
}

func (dm *DelayMangler) Mangle(random int, event *Event) []MangleResult {
	event.Time += int64(dm.Delay)
	return []MangleResult{
		{
			Event:    event,
			Remangle: true,
		},
	}
}

// FailMangler passes the first event it sees and kills Ranks immediately after it.
// Later events are passed unchanged.
type FailMangler struct {
	Ranks []t.Rank
	fired bool
}

func (fm *FailMangler) Mangle(random int, event *Event) []MangleResult {
	if fm.fired {
		return []MangleResult{{Event: event}}
	}
	fm.fired = true

	return []MangleResult{
		{
			Event: event,
		},
		{
			Event: &Event{
				Time:    event.Time,
				Target:  t.RankInvalid,
				Failure: &EventFailure{Ranks: fm.Ranks},
			},
		},
	}
}
