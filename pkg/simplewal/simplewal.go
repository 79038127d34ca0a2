/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package simplewal is an append-only log of opaque entries stored in a directory,
// backed by github.com/tidwall/wal. Entries are numbered from 0.
package simplewal

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"
)

type WAL struct {
	mutex sync.Mutex
	log   *wal.Log

	// Index of the next entry to append at the level of the underlying wal.
	idx uint64
}

// Open opens the log stored in path, creating it if needed.
// With sync set, every Append is flushed to stable storage before it returns.
func Open(path string, sync bool) (*WAL, error) {
	log, err := wal.Open(path, &wal.Options{
		NoSync: !sync,
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open WAL")
	}

	// The underlying log counts from 1, so its last index is our next one.
	idx, err := log.LastIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "failed obtaining last WAL index")
	}

	return &WAL{
		log: log,
		idx: idx,
	}, nil
}

func (w *WAL) IsEmpty() (bool, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	firstIndex, err := w.log.FirstIndex()
	if err != nil {
		return false, errors.WithMessage(err, "could not read first index")
	}
	return firstIndex == 0, nil
}

// LoadAll invokes forEach on every entry in the log, in order.
// The iteration stops at the first error returned by forEach.
// data is only valid until forEach returns.
func (w *WAL) LoadAll(forEach func(index uint64, data []byte) error) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	firstIndex, err := w.log.FirstIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read first index")
	}
	if firstIndex == 0 {
		// WAL is empty
		return nil
	}

	lastIndex, err := w.log.LastIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read last index")
	}

	for i := firstIndex; i <= lastIndex; i++ {
		data, err := w.log.Read(i)
		if err != nil {
			return errors.WithMessagef(err, "could not read index %d", i)
		}
		if err := forEach(i-1, data); err != nil {
			return err
		}
	}
	return nil
}

// Append adds an entry at the end of the log and returns its index.
func (w *WAL) Append(data []byte) (uint64, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	index := w.idx
	if err := w.log.Write(index+1, data); err != nil {
		return 0, errors.WithMessagef(err, "could not write index %d", index)
	}
	w.idx++
	return index, nil
}

func (w *WAL) Sync() error {
	return w.log.Sync()
}

func (w *WAL) Close() error {
	return w.log.Close()
}
