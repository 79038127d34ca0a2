/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package eventlog records the buffers a daemon exchanges with its neighbors, for offline inspection.
//
// A log is a directory holding a simplewal. Its first entry is a header identifying the recording
// session and the daemon; every following entry is one intercepted buffer.
package eventlog

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

var ErrCorrupt = errors.New("corrupt event log entry")

// Header is the first entry of every log.
type Header struct {
	Session  uuid.UUID
	Rank     t.Rank
	NumRanks int
	Start    int64
}

// Record is one buffer sent or received by the daemon.
type Record struct {
	Index     uint64
	Time      int64
	Direction modules.Direction
	Peer      t.Rank
	Data      []byte
}

const (
	fieldSession protowire.Number = iota + 1
	fieldRank
	fieldNumRanks
	fieldStart
)

const (
	fieldTime protowire.Number = iota + 1
	fieldDirection
	fieldPeer
	fieldData
)

func (h *Header) marshal() []byte {
	b := protowire.AppendTag(nil, fieldSession, protowire.BytesType)
	b = protowire.AppendBytes(b, h.Session[:])
	b = protowire.AppendTag(b, fieldRank, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Rank))
	b = protowire.AppendTag(b, fieldNumRanks, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.NumRanks))
	b = protowire.AppendTag(b, fieldStart, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(h.Start))
}

func (r *Record) marshal() []byte {
	b := protowire.AppendTag(nil, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Time))
	b = protowire.AppendTag(b, fieldDirection, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Direction))
	b = protowire.AppendTag(b, fieldPeer, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Peer))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

// fields walks the fields of an entry, in any order, ignoring unknown ones.
func fields(b []byte, varint func(protowire.Number, uint64), bytes func(protowire.Number, []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.WithMessage(ErrCorrupt, "bad tag")
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.WithMessagef(ErrCorrupt, "bad varint in field %d", num)
			}
			varint(num, v)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.WithMessagef(ErrCorrupt, "bad length in field %d", num)
			}
			bytes(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.WithMessagef(ErrCorrupt, "bad value in field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalHeader(b []byte) (*Header, error) {
	h := &Header{}
	var session []byte
	err := fields(b, func(num protowire.Number, v uint64) {
		switch num {
		case fieldRank:
			h.Rank = t.Rank(v)
		case fieldNumRanks:
			h.NumRanks = int(v)
		case fieldStart:
			h.Start = int64(v)
		}
	}, func(num protowire.Number, v []byte) {
		if num == fieldSession {
			session = v
		}
	})
	if err != nil {
		return nil, err
	}

	if h.Session, err = uuid.FromBytes(session); err != nil {
		return nil, errors.WithMessagef(ErrCorrupt, "bad session id: %v", err)
	}
	return h, nil
}

func unmarshalRecord(b []byte) (*Record, error) {
	r := &Record{}
	err := fields(b, func(num protowire.Number, v uint64) {
		switch num {
		case fieldTime:
			r.Time = int64(v)
		case fieldDirection:
			r.Direction = modules.Direction(v)
		case fieldPeer:
			r.Peer = t.Rank(v)
		}
	}, func(num protowire.Number, v []byte) {
		if num == fieldData {
			r.Data = append([]byte{}, v...)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
