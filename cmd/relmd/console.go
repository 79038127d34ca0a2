/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/deliverystore"
	"github.com/openpmix/prrte-sub010/pkg/node"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

const usage = `commands:
  send <dst> <text>      reliably send text to daemon dst
  fail <rank>...         report failed daemons
  delivered <src>        list the payloads delivered from src
  status                 print the state of the protocol
  quit                   stop the daemon`

type command struct {
	verb    string
	ranks   []t.Rank
	payload []byte
}

func parseRanks(fields []string) ([]t.Rank, error) {
	ranks := make([]t.Rank, 0, len(fields))
	for _, f := range fields {
		r, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, errors.Errorf("bad rank %q", f)
		}
		ranks = append(ranks, t.Rank(r))
	}
	return ranks, nil
}

// parseCommand parses one console line. An empty line yields a nil command.
func parseCommand(line string) (*command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	c := &command{verb: fields[0]}
	switch c.verb {
	case "send":
		if len(fields) < 3 {
			return nil, errors.Errorf("send needs a destination and a text")
		}
		ranks, err := parseRanks(fields[1:2])
		if err != nil {
			return nil, err
		}
		c.ranks = ranks
		// Keep the text as typed, including inner spaces.
		text := strings.TrimSpace(line)
		text = strings.TrimSpace(strings.TrimPrefix(text, "send"))
		text = strings.TrimSpace(strings.TrimPrefix(text, fields[1]))
		c.payload = []byte(text)
	case "fail":
		if len(fields) < 2 {
			return nil, errors.Errorf("fail needs at least one rank")
		}
		ranks, err := parseRanks(fields[1:])
		if err != nil {
			return nil, err
		}
		c.ranks = ranks
	case "delivered":
		if len(fields) != 2 {
			return nil, errors.Errorf("delivered needs exactly one source")
		}
		ranks, err := parseRanks(fields[1:])
		if err != nil {
			return nil, err
		}
		c.ranks = ranks
	case "status", "quit", "help":
		if len(fields) != 1 {
			return nil, errors.Errorf("%s takes no arguments", c.verb)
		}
	default:
		return nil, errors.Errorf("unknown command %q", c.verb)
	}
	return c, nil
}

// console is the job-control layer of the daemon: it sends what the user types
// and stores and prints what is delivered.
type console struct {
	mutex  sync.Mutex
	output io.Writer
	store  *deliverystore.Store
	node   *node.Node
}

func (c *console) printf(format string, args ...interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	fmt.Fprintf(c.output, format, args...)
}

// Deliver implements modules.Deliverer.
func (c *console) Deliver(src t.Rank, uid t.UID, payload []byte) {
	c.store.Deliver(src, uid, payload)
	c.printf("delivered from %d #%s: %s\n", src, uid, payload)
}

// execute runs one command. It returns io.EOF when the daemon should stop.
func (c *console) execute(ctx context.Context, cmd *command) error {
	switch cmd.verb {
	case "send":
		sig, err := c.node.ReliableSend(ctx, cmd.ranks[0], cmd.payload)
		if err != nil {
			return err
		}
		c.printf("sent %s\n", sig)
	case "fail":
		return c.node.Fail(ctx, cmd.ranks...)
	case "delivered":
		if err := c.store.Err(); err != nil {
			return errors.WithMessage(err, "delivery store failed")
		}
		return c.store.ForEach(cmd.ranks[0], func(d *deliverystore.Delivery) error {
			c.printf("  #%s: %s\n", d.UID, d.Payload)
			return nil
		})
	case "status":
		s, err := c.node.Status(ctx)
		if err != nil {
			return err
		}
		c.printf("%s\n", s.Pretty())
	case "help":
		c.printf("%s\n", usage)
	case "quit":
		return io.EOF
	}
	return nil
}

// serve executes the commands read from input until it is exhausted, quit is typed,
// or ctx is done. Errors of single commands are printed and do not stop the console.
func (c *console) serve(ctx context.Context, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		cmd, err := parseCommand(scanner.Text())
		if err != nil {
			c.printf("error: %s\n%s\n", err, usage)
			continue
		}
		if cmd == nil {
			continue
		}

		err = c.execute(ctx, cmd)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			c.printf("error: %s\n", err)
		}
	}
	return scanner.Err()
}
