/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"fmt"
	"math"
)

// ================================================================================

// Rank represents the numeric ID of a daemon in the launch tree.
type Rank uint32

// RankInvalid marks an empty neighbor slot or an unknown next hop.
const RankInvalid Rank = math.MaxUint32

// Pb converts a Rank to its underlying native type.
func (r Rank) Pb() uint64 {
	return uint64(r)
}

// Valid returns true if r is a rank of a daemon in a job of numRanks daemons.
func (r Rank) Valid(numRanks int) bool {
	return r != RankInvalid && int64(r) < int64(numRanks)
}

func (r Rank) String() string {
	if r == RankInvalid {
		return "INVALID"
	}
	return fmt.Sprintf("%d", uint32(r))
}

// ================================================================================

// UID is the source-local sequence number of a reliable message.
type UID uint32

const (
	// UIDNone means that there is no such link.
	UIDNone UID = 0

	// UIDInvalid means that the link is not yet known.
	UIDInvalid UID = math.MaxUint32

	// MaxUID is the largest legal UID. Generators wrap from MaxUID back to 1.
	MaxUID UID = math.MaxUint32 - 1
)

// Pb converts a UID to its underlying native type.
func (u UID) Pb() uint64 {
	return uint64(u)
}

// Legal returns true if u is neither of the two sentinels.
func (u UID) Legal() bool {
	return u != UIDNone && u != UIDInvalid
}

// Next returns the UID following u, wrapping after MaxUID.
func (u UID) Next() UID {
	if u >= MaxUID {
		return 1
	}
	return u + 1
}

// Before compares two legal UIDs using serial number arithmetic (RFC 1982),
// so that a generator that wrapped around still orders correctly
// as long as fewer than half of the UID space is in flight.
func (u UID) Before(other UID) bool {
	const half = uint32(MaxUID / 2)
	d := uint32(other) - uint32(u)
	return u != other && d <= half
}

func (u UID) String() string {
	switch u {
	case UIDNone:
		return "NONE"
	case UIDInvalid:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("%d", uint32(u))
	}
}

// ================================================================================

// GUID identifies a message within the bucket of its destination.
type GUID uint64

// NewGUID combines the source rank and UID of a message.
func NewGUID(src Rank, uid UID) GUID {
	return GUID(uint64(src)<<32 | uint64(uid))
}

// Src returns the source rank encoded in the GUID.
func (g GUID) Src() Rank {
	return Rank(g >> 32)
}

// UID returns the UID encoded in the GUID.
func (g GUID) UID() UID {
	return UID(g & math.MaxUint32)
}

// ================================================================================

// Signature uniquely identifies a reliable message in the whole job.
type Signature struct {
	Src Rank
	Dst Rank
	UID UID
}

// GUID returns the key of the message within the bucket of its destination.
func (s Signature) GUID() GUID {
	return NewGUID(s.Src, s.UID)
}

// WithUID returns the signature of another message on the same (src, dst) chain.
func (s Signature) WithUID(uid UID) Signature {
	return Signature{Src: s.Src, Dst: s.Dst, UID: uid}
}

func (s Signature) String() string {
	return fmt.Sprintf("[%d->%d #%s]", s.Src, s.Dst, s.UID)
}

// ================================================================================

// Depth represents the distance of a daemon from the root of the tree.
type Depth uint32

// Pb converts a Depth to its underlying native type.
func (d Depth) Pb() uint64 {
	return uint64(d)
}
