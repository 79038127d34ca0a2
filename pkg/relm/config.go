/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openpmix/prrte-sub010/pkg/logging"
)

// Config holds the tunables of a Relm.
type Config struct {
	// Maximal number of payload-holding messages kept for replay.
	// Admitting one more evicts the oldest. Zero disables the replay cache.
	CacheMaxCount int

	// Lifetime of a cached payload. Zero disables time-based eviction.
	CacheTimeout time.Duration

	// Largest payload accepted by ReliableSend. Zero means no limit.
	MaxPayloadSize int

	// Logger used for all output of the Relm. Defaults to logging.ConsoleWarnLogger.
	Logger logging.Logger

	// Registerer the protocol metrics are registered with. Nil disables registration.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the configuration used by the daemon unless overridden.
func DefaultConfig() *Config {
	return &Config{
		CacheMaxCount:  1024,
		CacheTimeout:   30 * time.Second,
		MaxPayloadSize: 64 << 20,
		Logger:         logging.ConsoleWarnLogger,
	}
}

// Validate rejects negative tunables.
func (c *Config) Validate() error {
	if c.CacheMaxCount < 0 {
		return errors.Errorf("negative cache size %d", c.CacheMaxCount)
	}
	if c.CacheTimeout < 0 {
		return errors.Errorf("negative cache timeout %s", c.CacheTimeout)
	}
	if c.MaxPayloadSize < 0 {
		return errors.Errorf("negative payload limit %d", c.MaxPayloadSize)
	}
	return nil
}
