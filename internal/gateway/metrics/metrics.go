// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the gateway's Prometheus surface: admission
// outcomes, queue depth, and anti-bot rejections. Safe to call from the
// hot path when disabled — every exported function is a no-op until
// Enable has been called.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether metrics are collected and where they're served.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090"; empty disables the standalone endpoint
}

var modEnabled atomic.Bool

var (
	admittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_admitted_total",
		Help: "Total requests admitted by the rate limiter.",
	}, []string{"rule_id"})

	blockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_blocked_total",
		Help: "Total requests rejected for exceeding a rule's quota.",
	}, []string{"rule_id"})

	queuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_queued_total",
		Help: "Total requests held in the leaky-bucket queue before admission.",
	}, []string{"rule_id"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_queue_depth",
		Help: "Current number of requests held in a rule's queue.",
	}, []string{"rule_id"})

	queueDelayMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_queue_delay_milliseconds",
		Help:    "Delay applied to queued requests before admission, in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"rule_id"})

	antibotRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_antibot_rejected_total",
		Help: "Total requests rejected by the anti-bot validator, by reason.",
	}, []string{"reason"})

	duplicateRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_duplicate_requests_total",
		Help: "Total requests rejected for reusing an idempotency key.",
	})

	decisionLogDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_decision_log_dropped_total",
		Help: "Total decision log entries dropped because they could not be serialized or appended to the store.",
	})
)

func init() {
	prometheus.MustRegister(
		admittedTotal, blockedTotal, queuedTotal, queueDepth, queueDelayMs,
		antibotRejectedTotal, duplicateRequestsTotal, decisionLogDroppedTotal,
	)
}

// Enable turns metric collection on and, if MetricsAddr is set, starts a
// dedicated /metrics endpoint.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether metrics are being collected.
func Enabled() bool { return modEnabled.Load() }

// ObserveAdmitted records one admitted request for a rule.
func ObserveAdmitted(ruleID string) {
	if !modEnabled.Load() {
		return
	}
	admittedTotal.WithLabelValues(ruleID).Inc()
}

// ObserveBlocked records one request rejected for exceeding quota.
func ObserveBlocked(ruleID string) {
	if !modEnabled.Load() {
		return
	}
	blockedTotal.WithLabelValues(ruleID).Inc()
}

// ObserveQueued records one request entering a rule's queue and the delay
// it was assigned.
func ObserveQueued(ruleID string, delay time.Duration) {
	if !modEnabled.Load() {
		return
	}
	queuedTotal.WithLabelValues(ruleID).Inc()
	queueDelayMs.WithLabelValues(ruleID).Observe(float64(delay.Milliseconds()))
}

// SetQueueDepth publishes a rule's current queue occupancy.
func SetQueueDepth(ruleID string, depth int64) {
	if !modEnabled.Load() {
		return
	}
	queueDepth.WithLabelValues(ruleID).Set(float64(depth))
}

// ObserveAntibotRejected records one request rejected by the anti-bot
// validator for the given reason (e.g. "too-fast", "reused-token").
func ObserveAntibotRejected(reason string) {
	if !modEnabled.Load() {
		return
	}
	antibotRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDuplicateRequest records one request rejected for reusing an
// idempotency key.
func ObserveDuplicateRequest() {
	if !modEnabled.Load() {
		return
	}
	duplicateRequestsTotal.Inc()
}

// ObserveDecisionLogDropped records decision log entries that could not
// be serialized or appended to the state store.
func ObserveDecisionLogDropped(n int) {
	if !modEnabled.Load() || n <= 0 {
		return
	}
	decisionLogDroppedTotal.Add(float64(n))
}

func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
