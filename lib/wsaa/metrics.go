// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results recorded by Metrics.
const (
	cacheHit       = "hit"
	cacheMiss      = "miss"
	cachePersisted = "persisted"
)

// Metrics are the client's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	faults       *prometheus.CounterVec
	roundTrip    *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registerer.
// Collectors already registered (a second client on the same registry)
// are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsaa",
			Name:      "ticket_acquisitions_total",
			Help:      "Login attempts by catalog service and outcome (success or error kind).",
		}, []string{"service", "outcome"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsaa",
			Name:      "authority_faults_total",
			Help:      "SOAP faults returned by the authority, by code and retry verdict.",
		}, []string{"code", "verdict"}),
		roundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wsaa",
			Name:      "authority_round_trip_seconds",
			Help:      "LoginCms request duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsaa",
			Name:      "ticket_cache_lookups_total",
			Help:      "Ticket lookups by result: hit, persisted, or miss.",
		}, []string{"result"}),
	}

	var err error
	if metrics.acquisitions, err = register(registerer, metrics.acquisitions); err != nil {
		return nil, err
	}
	if metrics.faults, err = register(registerer, metrics.faults); err != nil {
		return nil, err
	}
	if metrics.roundTrip, err = register(registerer, metrics.roundTrip); err != nil {
		return nil, err
	}
	if metrics.cacheLookups, err = register(registerer, metrics.cacheLookups); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func (metrics *Metrics) observeAcquisition(serviceID string, err error) {
	if metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.acquisitions.WithLabelValues(serviceID, outcome).Inc()
}

func (metrics *Metrics) observeFault(fault *Fault) {
	if metrics == nil || fault == nil {
		return
	}
	metrics.faults.WithLabelValues(fault.Code, fault.Verdict.String()).Inc()
}

func (metrics *Metrics) observeRoundTrip(serviceID string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.roundTrip.WithLabelValues(serviceID).Observe(duration.Seconds())
}

func (metrics *Metrics) observeCacheLookup(result string) {
	if metrics == nil {
		return
	}
	metrics.cacheLookups.WithLabelValues(result).Inc()
}
