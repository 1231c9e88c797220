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

// Package telemetry provides opt-in, low-overhead Prometheus metrics for a
// running simulation (C14): link utilization, drop counters by reason, and
// LLR retransmit counts. Every public function is a no-op until Enable has
// been called, so instrumented call sites pay nothing when disabled.
package telemetry

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var modEnabled atomic.Bool

var (
	framesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suesim_frames_sent_total",
		Help: "Total frames transmitted, by port and VC.",
	}, []string{"port", "vc"})
	bytesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suesim_bytes_sent_total",
		Help: "Total bytes transmitted, by port and VC.",
	}, []string{"port", "vc"})
	dropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suesim_drops_total",
		Help: "Total frames dropped, by port and reason.",
	}, []string{"port", "reason"})
	llrRetransmitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suesim_llr_retransmits_total",
		Help: "Total LLR retransmissions, by port and VC.",
	}, []string{"port", "vc"})
	creditOverflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suesim_credit_overflows_total",
		Help: "Total CBFC credit-overflow events observed (each is fatal for the run).",
	})
)

func init() {
	prometheus.MustRegister(framesSentTotal, bytesSentTotal, dropsTotal, llrRetransmitsTotal, creditOverflowsTotal)
}

// Enable turns on metric recording and, if addr is non-empty, starts a
// dedicated HTTP server exposing /metrics on addr. Safe to call once at
// startup; calling again with addr empty leaves a previously-started
// server running (there is no use case in this tool for tearing one down
// mid-run).
func Enable(addr string) {
	modEnabled.Store(true)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, mux)
}

// Enabled reports whether telemetry recording is active.
func Enabled() bool { return modEnabled.Load() }

// ObserveSent records one transmitted frame of n bytes on port/vc.
func ObserveSent(port, vc string, n int) {
	if !modEnabled.Load() {
		return
	}
	framesSentTotal.WithLabelValues(port, vc).Inc()
	bytesSentTotal.WithLabelValues(port, vc).Add(float64(n))
}

// ObserveDrop records one dropped frame on port for the given reason.
func ObserveDrop(port, reason string) {
	if !modEnabled.Load() {
		return
	}
	dropsTotal.WithLabelValues(port, reason).Inc()
}

// ObserveRetransmit records one LLR retransmission on port/vc.
func ObserveRetransmit(port, vc string) {
	if !modEnabled.Load() {
		return
	}
	llrRetransmitsTotal.WithLabelValues(port, vc).Inc()
}

// ObserveCreditOverflow records a fatal CreditOverflow event.
func ObserveCreditOverflow() {
	if !modEnabled.Load() {
		return
	}
	creditOverflowsTotal.Inc()
}
