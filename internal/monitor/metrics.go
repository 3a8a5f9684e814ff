// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the host monitor's Prometheus instrumentation
// (SPEC_FULL.md's DOMAIN STACK): busy-core count, per-command dispatch
// counts, and REDUCE/SYNC latency. Each Metrics owns its own registry
// (rather than using prometheus.DefaultRegisterer) so tests can construct
// more than one Monitor without a duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	pollPasses     prometheus.Counter
	coresFinished  prometheus.Counter
	busyCores      prometheus.Gauge
	commandsByKind *prometheus.CounterVec
	reduceLatency  prometheus.Histogram
	syncLatency    prometheus.Histogram
}

// NewMetrics builds and registers a fresh metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pollPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epycore",
			Subsystem: "monitor",
			Name:      "poll_passes_total",
			Help:      "Host monitor poll-loop passes executed.",
		}),
		coresFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epycore",
			Subsystem: "monitor",
			Name:      "cores_finished_total",
			Help:      "Cores that have cleared core_run and terminated.",
		}),
		busyCores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epycore",
			Subsystem: "monitor",
			Name:      "busy_cores",
			Help:      "Cores currently awaiting mailbox service.",
		}),
		commandsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epycore",
			Subsystem: "mailbox",
			Name:      "commands_served_total",
			Help:      "Mailbox commands serviced by the host monitor, by command.",
		}, []string{"command"}),
		reduceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epycore",
			Subsystem: "comms",
			Name:      "reduce_latency_seconds",
			Help:      "Latency of REDUCE collectives as observed by the dispatching core.",
			Buckets:   prometheus.DefBuckets,
		}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epycore",
			Subsystem: "comms",
			Name:      "sync_latency_seconds",
			Help:      "Latency of SYNC barriers as observed by the dispatching core.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.pollPasses, m.coresFinished, m.busyCores, m.commandsByKind, m.reduceLatency, m.syncLatency)
	return m
}

// CommandServed implements mailbox.Metrics.
func (m *Metrics) CommandServed(command string) { m.commandsByKind.WithLabelValues(command).Inc() }

// ObserveReduce implements mailbox.Metrics.
func (m *Metrics) ObserveReduce(d time.Duration) { m.reduceLatency.Observe(d.Seconds()) }

// ObserveSync implements mailbox.Metrics.
func (m *Metrics) ObserveSync(d time.Duration) { m.syncLatency.Observe(d.Seconds()) }

func (m *Metrics) setBusyCores(n int) { m.busyCores.Set(float64(n)) }

// Handler returns an http.Handler serving this Metrics' registry in the
// Prometheus exposition format, mounted by cmd/epycore on the configured
// metrics-addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
