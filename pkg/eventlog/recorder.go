/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/modules"
	"github.com/openpmix/prrte-sub010/pkg/simplewal"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

type recorderOpts struct {
	timeSource func() int64
	sync       bool
}

type RecorderOpt interface {
	apply(*recorderOpts)
}

type timeSourceOpt func() int64

func (tso timeSourceOpt) apply(opts *recorderOpts) {
	opts.timeSource = tso
}

// TimeSourceOpt replaces the wall clock (unix nanoseconds) as the time stamp of records.
func TimeSourceOpt(source func() int64) RecorderOpt {
	return timeSourceOpt(source)
}

type syncOpt bool

func (so syncOpt) apply(opts *recorderOpts) {
	opts.sync = bool(so)
}

// SyncOpt makes every record durable before Intercept returns.
func SyncOpt(sync bool) RecorderOpt {
	return syncOpt(sync)
}

// Recorder writes every buffer it intercepts to an event log. It implements modules.EventInterceptor.
type Recorder struct {
	mutex      sync.Mutex
	wal        *simplewal.WAL
	timeSource func() int64
	session    uuid.UUID
	records    uint64
	err        error
}

// NewRecorder creates an event log in the directory path for the daemon rank.
// The directory must not hold a log yet.
func NewRecorder(path string, rank t.Rank, numRanks int, opts ...RecorderOpt) (*Recorder, error) {
	options := &recorderOpts{
		timeSource: func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt.apply(options)
	}

	wal, err := simplewal.Open(path, options.sync)
	if err != nil {
		return nil, err
	}

	empty, err := wal.IsEmpty()
	if err == nil && !empty {
		err = errors.Errorf("event log %s already exists", path)
	}
	if err != nil {
		wal.Close()
		return nil, err
	}

	r := &Recorder{
		wal:        wal,
		timeSource: options.timeSource,
		session:    uuid.New(),
	}

	header := &Header{Session: r.session, Rank: rank, NumRanks: numRanks, Start: r.timeSource()}
	if _, err := wal.Append(header.marshal()); err != nil {
		wal.Close()
		return nil, errors.WithMessage(err, "could not write event log header")
	}
	return r, nil
}

// Session returns the identifier of the recording.
func (r *Recorder) Session() uuid.UUID {
	return r.session
}

// Intercept appends one record. After the first write error, every call fails with that error.
func (r *Recorder) Intercept(dir modules.Direction, peer t.Rank, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.err != nil {
		return r.err
	}

	record := &Record{Time: r.timeSource(), Direction: dir, Peer: peer, Data: data}
	if _, err := r.wal.Append(record.marshal()); err != nil {
		r.err = errors.WithMessage(err, "could not record event")
		return r.err
	}
	r.records++
	return nil
}

// Records returns the number of records written so far.
func (r *Recorder) Records() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.records
}

// Stop flushes and closes the log. Further calls do nothing.
func (r *Recorder) Stop() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.wal == nil {
		return nil
	}
	if err := r.wal.Sync(); err != nil {
		return errors.WithMessage(err, "could not sync event log")
	}
	if err := r.wal.Close(); err != nil {
		return errors.WithMessage(err, "could not close event log")
	}
	r.wal = nil
	if r.err == nil {
		r.err = errors.New("recorder stopped")
	}
	return nil
}
