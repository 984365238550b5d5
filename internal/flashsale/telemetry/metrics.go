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

// Package telemetry holds the process-wide Prometheus collectors for the
// flashsale service. Counters only, global cardinality — per-key labels are
// deliberately avoided so hot-path instrumentation stays allocation-free.
package telemetry

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cache_hits_total",
		Help: "Cache reads served fresh from the store",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cache_misses_total",
		Help: "Cache reads that fell through to the backing loader",
	})
	cacheNullMarkersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cache_null_marker_hits_total",
		Help: "Reads answered 'absent' by a cached null marker without touching the loader",
	})
	cacheStaleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cache_stale_served_total",
		Help: "Logically expired reads answered with the stale payload",
	})
	cacheRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cache_rebuilds_total",
		Help: "Asynchronous cache rebuild tasks executed",
	})
	admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_admissions_total",
		Help: "Flash-sale admission attempts by outcome",
	}, []string{"outcome"})
	consumerErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_consumer_errors_total",
		Help: "Errors while handling order-intent stream entries",
	})
	deadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_dead_letters_total",
		Help: "Order intents moved to the dead-letter stream after exhausting retries",
	})
	ordersPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_orders_persisted_total",
		Help: "Orders durably written by the stream consumer",
	})
)

func init() {
	// Registration is harmless if no /metrics endpoint is ever exposed.
	prometheus.MustRegister(
		cacheHitsTotal, cacheMissesTotal, cacheNullMarkersTotal,
		cacheStaleTotal, cacheRebuildsTotal, admissionsTotal,
		consumerErrorsTotal, deadLettersTotal, ordersPersistedTotal,
	)
}

func CacheHit()           { cacheHitsTotal.Inc() }
func CacheMiss()          { cacheMissesTotal.Inc() }
func CacheNullMarkerHit() { cacheNullMarkersTotal.Inc() }
func CacheStaleServed()   { cacheStaleTotal.Inc() }
func CacheRebuild()       { cacheRebuildsTotal.Inc() }

func AdmissionOutcome(outcome string) { admissionsTotal.WithLabelValues(outcome).Inc() }
func ConsumerError()                  { consumerErrorsTotal.Inc() }
func DeadLetter()                     { deadLettersTotal.Inc() }
func OrderPersisted()                 { ordersPersistedTotal.Inc() }

// Serve exposes /metrics on its own listener when addr is non-empty. It
// returns immediately; the server runs for process lifetime.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("telemetry: metrics server on %s: %v", addr, err)
		}
	}()
}
