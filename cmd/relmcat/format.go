/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"fmt"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

// Payloads longer than this are elided unless verbose output is requested.
const shortPayload = 16

func directionText(d modules.Direction) string {
	if d == modules.Inbound {
		return "<-"
	}
	return "->"
}

func formatData(data []byte, verbose bool) string {
	if !verbose && len(data) > shortPayload {
		return fmt.Sprintf("%x...(%d bytes)", data[:shortPayload], len(data))
	}
	return fmt.Sprintf("%x", data)
}

func formatStateUpdate(buf *bytes.Buffer, su *wire.StateUpdate, verbose bool) {
	fmt.Fprintf(buf, "%s %s prev=%s", su.Tag, su.Sig, su.Prev)
	if su.Tag == wire.TagSending {
		fmt.Fprintf(buf, " data=%s", formatData(su.Data, verbose))
	}
}

// textFormat renders a record on one line. Buffers that do not decode are printed raw.
func textFormat(record *eventlog.Record, envelope *wire.Envelope, verbose bool) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "t=%d %s %d ", record.Time, directionText(record.Direction), record.Peer)

	if envelope == nil {
		fmt.Fprintf(&buf, "UNDECODABLE %s", formatData(record.Data, verbose))
		return buf.String()
	}

	switch envelope.Kind {
	case wire.KindStateUpdate:
		formatStateUpdate(&buf, envelope.State, verbose)
	case wire.KindLinkRequest:
		fmt.Fprintf(&buf, "LinkRequest depth=%d", envelope.LinkRequest.Depth)
	case wire.KindLinkUpdate:
		fmt.Fprintf(&buf, "LinkUpdate depth=%d updates=%d", envelope.LinkUpdate.Depth, len(envelope.LinkUpdate.Updates))
		if verbose {
			for _, su := range envelope.LinkUpdate.Updates {
				buf.WriteString("\n         ")
				formatStateUpdate(&buf, su, verbose)
			}
		}
	}
	return buf.String()
}
