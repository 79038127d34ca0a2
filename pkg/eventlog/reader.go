/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package eventlog

import (
	"io"

	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/simplewal"
)

// Reader reads back an event log written by a Recorder.
type Reader struct {
	wal    *simplewal.WAL
	header *Header
}

func NewReader(path string) (*Reader, error) {
	wal, err := simplewal.Open(path, false)
	if err != nil {
		return nil, err
	}

	reader := &Reader{wal: wal}
	err = wal.LoadAll(func(index uint64, data []byte) error {
		if index != 0 {
			return io.EOF
		}
		header, err := unmarshalHeader(data)
		reader.header = header
		return err
	})
	if err == io.EOF {
		err = nil
	}
	if err == nil && reader.header == nil {
		err = errors.Errorf("event log %s is empty", path)
	}
	if err != nil {
		wal.Close()
		return nil, err
	}
	return reader, nil
}

func (r *Reader) Header() *Header {
	return r.header
}

// ForEach invokes forEach on every record, in the order they were written.
func (r *Reader) ForEach(forEach func(*Record) error) error {
	return r.wal.LoadAll(func(index uint64, data []byte) error {
		if index == 0 {
			return nil
		}
		record, err := unmarshalRecord(data)
		if err != nil {
			return errors.WithMessagef(err, "record %d", index)
		}
		record.Index = index
		return forEach(record)
	})
}

func (r *Reader) Close() error {
	return r.wal.Close()
}
