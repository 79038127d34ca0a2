/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wire packs and unpacks the buffers the reliable messaging layer exchanges with its neighbors.
//
// Every buffer starts with a one-byte Kind, followed by protobuf-style tag/value fields in a fixed order.
// A state update always carries (src, dst, uid, prev, state) and, only for the SENDING state, the payload.
// A link update carries the sender's depth followed by a list of embedded state updates.
// Decoders are strict: a missing, reordered or unknown field, a trailing byte, or an out-of-range value
// yields ErrMalformed, which callers must not try to recover from.
package wire

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// ErrMalformed is returned (possibly wrapped) by every decoder on invalid input.
var ErrMalformed = errors.New("malformed wire buffer")

// Kind identifies the type of a buffer.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindStateUpdate
	KindLinkRequest
	KindLinkUpdate
)

func (k Kind) String() string {
	switch k {
	case KindStateUpdate:
		return "StateUpdate"
	case KindLinkRequest:
		return "LinkRequest"
	case KindLinkUpdate:
		return "LinkUpdate"
	default:
		return "Invalid"
	}
}

// Field numbers of a state update.
const (
	fieldSrc protowire.Number = iota + 1
	fieldDst
	fieldUID
	fieldPrev
	fieldState
	fieldData
)

// Field numbers of link requests and link updates.
const (
	fieldDepth protowire.Number = iota + 1
	fieldUpdate
)

// StateUpdate announces the state of one message to a neighbor.
type StateUpdate struct {
	Sig  t.Signature
	Prev t.UID
	Tag  Tag

	// Data is only transmitted with TagSending and ignored otherwise.
	Data []byte
}

// LinkRequest asks a neighbor to send its link update.
type LinkRequest struct {
	Depth t.Depth
}

// LinkUpdate is the bulk resynchronization message sent to one neighbor after a promotion.
type LinkUpdate struct {
	Depth   t.Depth
	Updates []*StateUpdate
}

// Envelope is the decoded form of any buffer. Exactly one of the pointers matching Kind is set.
type Envelope struct {
	Kind        Kind
	State       *StateUpdate
	LinkRequest *LinkRequest
	LinkUpdate  *LinkUpdate
}

// ============================================================
// Field primitives
// ============================================================

func malformed(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrMalformed, format, args...)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeUint(b []byte, num protowire.Number, max uint64) (uint64, []byte, error) {
	n, typ, l := protowire.ConsumeTag(b)
	if l < 0 {
		return 0, nil, malformed("field %d: bad tag", num)
	}
	if n != num || typ != protowire.VarintType {
		return 0, nil, malformed("expected varint field %d, got field %d of type %d", num, n, typ)
	}
	b = b[l:]

	v, l := protowire.ConsumeVarint(b)
	if l < 0 {
		return 0, nil, malformed("field %d: bad varint", num)
	}
	if v > max {
		return 0, nil, malformed("field %d: value %d out of range", num, v)
	}
	return v, b[l:], nil
}

func appendBytes(b []byte, num protowire.Number, data []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func consumeBytes(b []byte, num protowire.Number) ([]byte, []byte, error) {
	n, typ, l := protowire.ConsumeTag(b)
	if l < 0 {
		return nil, nil, malformed("field %d: bad tag", num)
	}
	if n != num || typ != protowire.BytesType {
		return nil, nil, malformed("expected bytes field %d, got field %d of type %d", num, n, typ)
	}
	b = b[l:]

	v, l := protowire.ConsumeBytes(b)
	if l < 0 {
		return nil, nil, malformed("field %d: bad length", num)
	}
	return v, b[l:], nil
}

// ============================================================
// Signatures and states
// ============================================================

// AppendSignature appends the fixed field sequence (src, dst, uid) to b.
func AppendSignature(b []byte, sig t.Signature) []byte {
	b = appendUint(b, fieldSrc, uint64(sig.Src))
	b = appendUint(b, fieldDst, uint64(sig.Dst))
	return appendUint(b, fieldUID, uint64(sig.UID))
}

// ConsumeSignature parses a signature from the front of b and returns the rest of b.
func ConsumeSignature(b []byte) (t.Signature, []byte, error) {
	var sig t.Signature

	src, b, err := consumeUint(b, fieldSrc, math.MaxUint32)
	if err != nil {
		return sig, nil, err
	}
	dst, b, err := consumeUint(b, fieldDst, math.MaxUint32)
	if err != nil {
		return sig, nil, err
	}
	uid, b, err := consumeUint(b, fieldUID, uint64(t.MaxUID))
	if err != nil {
		return sig, nil, err
	}
	if !t.UID(uid).Legal() {
		return sig, nil, malformed("illegal uid %d", uid)
	}

	sig = t.Signature{Src: t.Rank(src), Dst: t.Rank(dst), UID: t.UID(uid)}
	return sig, b, nil
}

// AppendState appends a single state tag to b.
func AppendState(b []byte, tag Tag) []byte {
	return appendUint(b, fieldState, uint64(tag))
}

// ConsumeState parses a state tag from the front of b.
// TagInvalid is returned together with the error for unknown tags.
func ConsumeState(b []byte) (Tag, []byte, error) {
	v, b, err := consumeUint(b, fieldState, uint64(numTags-1))
	if err != nil {
		return TagInvalid, nil, err
	}
	if Tag(v) == TagInvalid {
		return TagInvalid, nil, malformed("invalid state tag")
	}
	return Tag(v), b, nil
}

// AppendStateUpdate appends signature, predecessor, state tag and, for TagSending, the payload to b.
func AppendStateUpdate(b []byte, su *StateUpdate) []byte {
	b = AppendSignature(b, su.Sig)
	b = appendUint(b, fieldPrev, uint64(su.Prev))
	b = AppendState(b, su.Tag)
	if su.Tag == TagSending {
		b = appendBytes(b, fieldData, su.Data)
	}
	return b
}

// ConsumeStateUpdate parses a state update from the front of b.
func ConsumeStateUpdate(b []byte) (*StateUpdate, []byte, error) {
	sig, b, err := ConsumeSignature(b)
	if err != nil {
		return nil, nil, err
	}
	prev, b, err := consumeUint(b, fieldPrev, math.MaxUint32)
	if err != nil {
		return nil, nil, err
	}
	tag, b, err := ConsumeState(b)
	if err != nil {
		return nil, nil, err
	}
	if !tag.Transmittable() {
		return nil, nil, malformed("state %s is not transmittable", tag)
	}

	su := &StateUpdate{Sig: sig, Prev: t.UID(prev), Tag: tag}
	if tag == TagSending {
		data, rest, err := consumeBytes(b, fieldData)
		if err != nil {
			return nil, nil, err
		}
		// Do not alias the transport's buffer.
		su.Data = append(make([]byte, 0, len(data)), data...)
		b = rest
	}
	return su, b, nil
}

// ============================================================
// Envelopes
// ============================================================

// MarshalStateUpdate returns the buffer carrying a single state update.
func MarshalStateUpdate(su *StateUpdate) []byte {
	b := make([]byte, 1, 32+len(su.Data))
	b[0] = byte(KindStateUpdate)
	return AppendStateUpdate(b, su)
}

// MarshalLinkRequest returns the buffer carrying a link request.
func MarshalLinkRequest(lr *LinkRequest) []byte {
	b := []byte{byte(KindLinkRequest)}
	return appendUint(b, fieldDepth, uint64(lr.Depth))
}

// MarshalLinkUpdate returns the buffer carrying a link update.
func MarshalLinkUpdate(lu *LinkUpdate) []byte {
	b := []byte{byte(KindLinkUpdate)}
	b = appendUint(b, fieldDepth, uint64(lu.Depth))
	for _, su := range lu.Updates {
		b = appendBytes(b, fieldUpdate, AppendStateUpdate(nil, su))
	}
	return b
}

// Marshal encodes any envelope.
func Marshal(e *Envelope) ([]byte, error) {
	switch {
	case e.Kind == KindStateUpdate && e.State != nil:
		return MarshalStateUpdate(e.State), nil
	case e.Kind == KindLinkRequest && e.LinkRequest != nil:
		return MarshalLinkRequest(e.LinkRequest), nil
	case e.Kind == KindLinkUpdate && e.LinkUpdate != nil:
		return MarshalLinkUpdate(e.LinkUpdate), nil
	default:
		return nil, errors.Errorf("cannot marshal envelope of kind %s", e.Kind)
	}
}

// Unmarshal decodes a buffer produced by one of the Marshal functions.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, malformed("empty buffer")
	}

	kind, b := Kind(data[0]), data[1:]
	env := &Envelope{Kind: kind}

	switch kind {
	case KindStateUpdate:
		su, rest, err := ConsumeStateUpdate(b)
		if err != nil {
			return nil, err
		}
		env.State, b = su, rest
	case KindLinkRequest:
		depth, rest, err := consumeUint(b, fieldDepth, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		env.LinkRequest, b = &LinkRequest{Depth: t.Depth(depth)}, rest
	case KindLinkUpdate:
		depth, rest, err := consumeUint(b, fieldDepth, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		lu := &LinkUpdate{Depth: t.Depth(depth)}
		for b = rest; len(b) > 0; {
			embedded, rest, err := consumeBytes(b, fieldUpdate)
			if err != nil {
				return nil, err
			}
			su, tail, err := ConsumeStateUpdate(embedded)
			if err != nil {
				return nil, errors.WithMessagef(err, "update %d", len(lu.Updates))
			}
			if len(tail) != 0 {
				return nil, malformed("trailing bytes in update %d", len(lu.Updates))
			}
			lu.Updates = append(lu.Updates, su)
			b = rest
		}
		env.LinkUpdate = lu
	default:
		return nil, malformed("unknown kind %d", kind)
	}

	if len(b) != 0 {
		return nil, malformed("%d trailing bytes", len(b))
	}
	return env, nil
}
