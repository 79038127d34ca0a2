/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the configuration file of a daemon.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/relm"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

type Daemon struct {
	Rank  t.Rank `yaml:"rank"`
	Radix int    `yaml:"radix"` // fan-out of the routing tree

	// Listen address of every daemon of the job, indexed by rank.
	Peers map[t.Rank]string `yaml:"peers"`

	Cache struct {
		MaxCount int           `yaml:"maxCount"` // 0 disables the replay cache
		Timeout  time.Duration `yaml:"timeout"`  // 0 disables time-based eviction
	} `yaml:"cache"`
	MaxPayloadSize int `yaml:"maxPayloadSize"`

	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`     // "zerolog" or "zap"
	MetricsListen string `yaml:"metricsListen"` // empty disables the /metrics endpoint
	EventLog      string `yaml:"eventLog"`      // directory of the event log, empty disables recording
	DeliveryStore string `yaml:"deliveryStore"` // directory of the delivery store, empty keeps deliveries in memory
}

// Default returns the configuration of a daemon before any file or flag is applied.
func Default() *Daemon {
	defaults := relm.DefaultConfig()
	d := &Daemon{
		Radix:          3,
		Peers:          map[t.Rank]string{},
		MaxPayloadSize: defaults.MaxPayloadSize,
		LogLevel:       "info",
		LogFormat:      "zerolog",
	}
	d.Cache.MaxCount = defaults.CacheMaxCount
	d.Cache.Timeout = defaults.CacheTimeout
	return d
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Daemon, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Daemon, error) {
	d := Default()
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, errors.WithMessage(err, "could not parse config")
	}
	return d, nil
}

// NumRanks returns the size of the job, which is the number of configured peers.
func (d *Daemon) NumRanks() int {
	return len(d.Peers)
}

func (d *Daemon) Validate() error {
	if len(d.Peers) == 0 {
		return errors.New("no peers configured")
	}
	for r := 0; r < len(d.Peers); r++ {
		if _, ok := d.Peers[t.Rank(r)]; !ok {
			return errors.Errorf("ranks must be contiguous from 0, missing rank %d", r)
		}
	}
	if !d.Rank.Valid(d.NumRanks()) {
		return errors.Errorf("rank %d is not among the %d peers", d.Rank, d.NumRanks())
	}
	if d.Radix < 1 {
		return errors.Errorf("radix must be positive, got %d", d.Radix)
	}
	if _, err := logging.ParseLevel(d.LogLevel); err != nil {
		return err
	}
	switch d.LogFormat {
	case "zerolog", "zap":
	default:
		return errors.Errorf("unknown log format %q", d.LogFormat)
	}
	return d.Relm(logging.NilLogger).Validate()
}

// Relm returns the protocol configuration.
func (d *Daemon) Relm(logger logging.Logger) *relm.Config {
	return &relm.Config{
		CacheMaxCount:  d.Cache.MaxCount,
		CacheTimeout:   d.Cache.Timeout,
		MaxPayloadSize: d.MaxPayloadSize,
		Logger:         logger,
	}
}
