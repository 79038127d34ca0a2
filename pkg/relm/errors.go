/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"fmt"

	"github.com/pkg/errors"

	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Input errors, always returned to the caller.
var (
	ErrRankOutOfRange  = errors.New("rank out of range")
	ErrUIDOutOfRange   = errors.New("uid out of range")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNilPayload      = errors.New("nil payload")
	ErrUnreachable     = errors.New("destination unreachable")
)

// ProtocolError describes a violated protocol invariant.
// It is fatal to the job: the Relm raises it with panic after logging it,
// and the event loop turns it into its exit error.
type ProtocolError struct {
	Sig     t.Signature
	State   State
	Request Request
	Origin  Origin
	Reason  string
}

func (pe *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s (state=%s request=%s origin=%s)",
		pe.Sig, pe.Reason, pe.State, pe.Request, pe.Origin)
}

// IsProtocolError returns true if err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
