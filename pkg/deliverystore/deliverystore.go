/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package deliverystore is a Deliverer that persists the payloads handed to the job-control layer.
// Depending on the daemon, it may or may not be appropriate: a job-control layer that acts on
// payloads immediately has no need to retain them.
package deliverystore

import (
	"encoding/binary"
	"sync"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

// Keys are "d" | src (4 bytes) | position (8 bytes), big endian, so that a prefix scan
// over a source returns its payloads in delivery order.
const keyPrefix = 'd'

func sourcePrefix(src t.Rank) []byte {
	key := make([]byte, 5, 13)
	key[0] = keyPrefix
	binary.BigEndian.PutUint32(key[1:], uint32(src))
	return key
}

func deliveryKey(src t.Rank, position uint64) []byte {
	key := sourcePrefix(src)[:13]
	binary.BigEndian.PutUint64(key[5:], position)
	return key
}

// Delivery is one stored payload.
type Delivery struct {
	Src     t.Rank
	UID     t.UID
	Payload []byte
}

type Store struct {
	db     *badger.DB
	logger logging.Logger

	mutex     sync.Mutex
	positions map[t.Rank]uint64
	err       error
}

// Open opens the store in dirPath. An empty dirPath keeps everything in memory.
func Open(dirPath string, logger logging.Logger) (*Store, error) {
	var badgerOpts badger.Options
	if dirPath == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dirPath).WithSyncWrites(false).WithTruncate(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open backing db")
	}

	if logger == nil {
		logger = logging.NilLogger
	}

	s := &Store{
		db:        db,
		logger:    logger,
		positions: map[t.Rank]uint64{},
	}

	if err := s.loadPositions(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadPositions recovers, for every source, the position following its last stored payload.
func (s *Store) loadPositions() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{keyPrefix}); it.ValidForPrefix([]byte{keyPrefix}); it.Next() {
			key := it.Item().Key()
			if len(key) != 13 {
				return errors.Errorf("unexpected key of length %d", len(key))
			}
			src := t.Rank(binary.BigEndian.Uint32(key[1:5]))
			s.positions[src] = binary.BigEndian.Uint64(key[5:]) + 1
		}
		return nil
	})
}

// Deliver stores the payload. It implements modules.Deliverer, which has no way to report
// a failure, so the first error is logged and retained for Err.
func (s *Store) Deliver(src t.Rank, uid t.UID, payload []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.err != nil {
		return
	}

	position := s.positions[src]
	value := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(value, uint32(uid))
	copy(value[4:], payload)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deliveryKey(src, position), value)
	})
	if err != nil {
		s.err = errors.WithMessagef(err, "could not store delivery %d from %d", uid, src)
		s.logger.Log(logging.LevelError, "delivery store failed", "src", src, "uid", uid, "err", err)
		return
	}
	s.positions[src] = position + 1
}

// Err returns the first error encountered by Deliver.
func (s *Store) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// Count returns the number of payloads stored for src.
func (s *Store) Count(src t.Rank) uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.positions[src]
}

// ForEach invokes forEach on every payload stored for src, in delivery order.
func (s *Store) ForEach(src t.Rank, forEach func(*Delivery) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := sourcePrefix(src)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(value) < 4 {
				return errors.Errorf("truncated delivery from %d", src)
			}
			err = forEach(&Delivery{
				Src:     src,
				UID:     t.UID(binary.BigEndian.Uint32(value)),
				Payload: value[4:],
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Last returns the most recently stored payload from src, or nil if there is none.
func (s *Store) Last(src t.Rank) (*Delivery, error) {
	s.mutex.Lock()
	position, ok := s.positions[src]
	s.mutex.Unlock()
	if !ok {
		return nil, nil
	}

	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deliveryKey(src, position-1))
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Delivery{
		Src:     src,
		UID:     t.UID(binary.BigEndian.Uint32(valCopy)),
		Payload: valCopy[4:],
	}, nil
}

func (s *Store) Sync() error {
	return s.db.Sync()
}

func (s *Store) Close() error {
	return s.db.Close()
}
