/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// relmcat is a tool for reviewing event logs recorded by relm daemons.
// It decodes the buffers a daemon exchanged with its neighbors, filters them,
// and is able to replay them against a fresh relm for problem reproduction and debugging.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/openpmix/prrte-sub010/pkg/eventlog"
	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/testengine"
	t "github.com/openpmix/prrte-sub010/pkg/types"
	"github.com/openpmix/prrte-sub010/pkg/wire"
)

var (
	allKinds = []string{
		wire.KindStateUpdate.String(),
		wire.KindLinkRequest.String(),
		wire.KindLinkUpdate.String(),
	}

	allTags = []string{
		wire.TagSending.String(),
		wire.TagRequested.String(),
		wire.TagAcked.String(),
		wire.TagAckAcked.String(),
	}
)

type arguments struct {
	input         string
	replay        bool
	radix         int
	logLevel      logging.LogLevel
	peers         []t.Rank
	direction     string
	kinds         []string
	tags          []string
	statusIndices []uint64
	verboseText   bool
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func (a *arguments) shouldPrint(record *eventlog.Record, envelope *wire.Envelope) bool {
	if a.peers != nil {
		found := false
		for _, peer := range a.peers {
			if peer == record.Peer {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	switch a.direction {
	case "in":
		if record.Direction != modules.Inbound {
			return false
		}
	case "out":
		if record.Direction != modules.Outbound {
			return false
		}
	}

	if envelope == nil {
		return a.kinds == nil && a.tags == nil
	}

	if a.kinds != nil && !contains(a.kinds, envelope.Kind.String()) {
		return false
	}

	if a.tags != nil {
		if envelope.Kind != wire.KindStateUpdate {
			return false
		}
		if !contains(a.tags, envelope.State.Tag.String()) {
			return false
		}
	}

	return true
}

func (a *arguments) execute(output io.Writer) error {
	reader, err := eventlog.NewReader(a.input)
	if err != nil {
		return errors.WithMessage(err, "bad input")
	}
	defer reader.Close()

	header := reader.Header()
	fmt.Fprintf(output, "session=%s rank=%d ranks=%d start=%d\n", header.Session, header.Rank, header.NumRanks, header.Start)

	var player *testengine.Player
	if a.replay {
		player, err = testengine.NewPlayer(header, a.radix, logging.Decorate(
			logging.NewWriterLogger(a.logLevel, output),
			fmt.Sprintf("rank%d: ", header.Rank),
		))
		if err != nil {
			return errors.WithMessage(err, "could not create player")
		}
	}

	statusIndices := map[uint64]struct{}{}
	for _, index := range a.statusIndices {
		statusIndices[index] = struct{}{}
	}

	err = reader.ForEach(func(record *eventlog.Record) error {
		// Undecodable buffers are still shown, the replay will fail on them.
		envelope, _ := wire.Unmarshal(record.Data)

		_, printStatus := statusIndices[record.Index]
		if printStatus || a.shouldPrint(record, envelope) {
			fmt.Fprintf(output, "% 6d %s\n", record.Index, textFormat(record, envelope, a.verboseText))
		}

		if player == nil {
			return nil
		}

		if err := player.Step(record); err != nil {
			return err
		}
		if printStatus {
			fmt.Fprint(output, player.Status().Pretty())
			fmt.Fprint(output, "\n")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if player != nil {
		fmt.Fprintf(output, "Replayed %d inbound and %d outbound buffers, %d payloads delivered\n",
			player.Inbound, player.Outbound, player.Deliveries)
	}
	return nil
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("relmcat", "Utility for processing relm event logs.")
	input := app.Flag("input", "The event log directory to read.").Required().ExistingDir()
	replay := app.Flag("replay", "Whether to replay the inbound buffers against a relm.").Default("false").Bool()
	radix := app.Flag("radix", "Radix of the routing tree of the recorded job (for --replay).").Default("3").Int()
	peers := app.Flag("peer", "Report buffers exchanged with this rank only, may be repeated.").Uint32List()
	direction := app.Flag("direction", "Report only inbound or outbound buffers.").Enum("in", "out")
	kinds := app.Flag("kind", "Which buffer kinds to report.").Enums(allKinds...)
	tags := app.Flag("tag", "Which state update tags to report.").Enums(allTags...)
	verboseText := app.Flag("verboseText", "Whether to be verbose (output full payloads and link updates).").Default("false").Bool()
	statusIndices := app.Flag("statusIndex", "Print relm status after the record at given index (repeatable).").Uint64List()
	logLevel := app.Flag("logLevel", "When replaying, the log level of the relm.").Enum("debug", "info", "warn", "error")

	_, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	switch {
	case *statusIndices != nil && !*replay:
		return nil, errors.Errorf("cannot set status indices without --replay")
	case *logLevel != "" && !*replay:
		return nil, errors.Errorf("cannot set logLevel without --replay")
	case *radix < 1:
		return nil, errors.Errorf("radix must be positive")
	}

	level := logging.LevelWarn
	if *logLevel != "" {
		if level, err = logging.ParseLevel(*logLevel); err != nil {
			return nil, err
		}
	}

	var peerRanks []t.Rank
	for _, p := range *peers {
		peerRanks = append(peerRanks, t.Rank(p))
	}

	return &arguments{
		input:         *input,
		replay:        *replay,
		radix:         *radix,
		logLevel:      level,
		peers:         peerRanks,
		direction:     *direction,
		kinds:         *kinds,
		tags:          *tags,
		statusIndices: *statusIndices,
		verboseText:   *verboseText,
	}, nil
}

func main() {
	kingpin.Version("0.0.1")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	err = args.execute(os.Stdout)
	if err != nil {
		fmt.Println("")
		kingpin.Fatalf("%s", err)
	}
}
