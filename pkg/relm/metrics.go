/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relm

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relm"

type metrics struct {
	transitions      *prometheus.CounterVec
	accepted         prometheus.Counter
	delivered        prometheus.Counter
	completed        prometheus.Counter
	duplicates       prometheus.Counter
	evictions        prometheus.Counter
	purged           prometheus.Counter
	stale            prometheus.Counter
	sendFailures     prometheus.Counter
	linkUpdatesSent  prometheus.Counter
	linkUpdatesRecvd prometheus.Counter
	promotions       prometheus.Counter
	inFlight         prometheus.Gauge
	cacheSize        prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}

	m := &metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "State transition requests applied, by request and origin.",
		}, []string{"request", "origin"}),
		accepted:         counter("sends_accepted_total", "Reliable sends accepted from the job-control layer."),
		delivered:        counter("delivered_total", "Payloads delivered in order to the job-control layer."),
		completed:        counter("completed_total", "Locally originated messages acknowledged by their destination."),
		duplicates:       counter("duplicates_total", "Replayed state updates recognized as duplicates."),
		evictions:        counter("cache_evictions_total", "Payloads evicted from the replay cache."),
		purged:           counter("purged_total", "Records dropped after a promotion."),
		stale:            counter("stale_updates_total", "State and link updates dropped as stale."),
		sendFailures:     counter("send_failures_total", "Buffers the transport reported as not sent."),
		linkUpdatesSent:  counter("link_updates_sent_total", "Link updates sent to neighbors."),
		linkUpdatesRecvd: counter("link_updates_received_total", "Link updates accepted from neighbors."),
		promotions:       counter("promotions_total", "Topology promotions processed."),
		inFlight:         gauge("in_flight", "Message records currently tracked."),
		cacheSize:        gauge("cache_size", "Payloads currently held in the replay cache."),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.transitions, m.accepted, m.delivered, m.completed, m.duplicates, m.evictions, m.purged,
		m.stale, m.sendFailures, m.linkUpdatesSent, m.linkUpdatesRecvd, m.promotions, m.inFlight, m.cacheSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.WithMessage(err, "could not register metrics")
		}
	}
	return m, nil
}
