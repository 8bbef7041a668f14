// Copyright 2025 Antfly, Inc.
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

package promptspan

import (
	"github.com/antflydb/promptspan/pkg/promptspan/lib/spans"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	validationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "validation_ops_total",
			Help:      "The total number of validation runs.",
		},
		[]string{"mode", "outcome"},
	)
	spansIn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "spans_in_total",
			Help:      "The total number of raw spans submitted for validation.",
		},
	)
	spansOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "spans_out_total",
			Help:      "The total number of spans returned after validation.",
		},
	)
	spansDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "spans_dropped_total",
			Help:      "The total number of spans removed, by pipeline stage.",
		},
		[]string{"stage"},
	)

	annotationRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "annotation_request_ops_total",
			Help:      "The total number of annotation requests.",
		},
		[]string{"annotator"},
	)
	chunkCreationOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "chunk_creation_ops_total",
			Help:      "The total number of chunks created.",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"endpoint", "status"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "queue_depth",
			Help:      "Number of requests currently waiting in queue.",
		},
	)
	queueActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "queue_active_requests",
			Help:      "Number of requests currently being processed.",
		},
	)
	queueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "queue_rejected_total",
			Help:      "Total number of requests rejected due to full queue.",
		},
	)
	queueTimedOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "queue_timed_out_total",
			Help:      "Total number of requests that timed out while waiting in queue.",
		},
	)
	queueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "promptspan",
			Name:      "queue_wait_duration_seconds",
			Help:      "Time spent waiting in queue before processing.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(validationOps)
	prometheus.MustRegister(spansIn)
	prometheus.MustRegister(spansOut)
	prometheus.MustRegister(spansDropped)
	prometheus.MustRegister(annotationRequestOps)
	prometheus.MustRegister(chunkCreationOps)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueActiveRequests)
	prometheus.MustRegister(queueRejectedTotal)
	prometheus.MustRegister(queueTimedOutTotal)
	prometheus.MustRegister(queueWaitDuration)
}

// RecordValidation records one validation run, its span counts and the
// spans each stage dropped.
func RecordValidation(out spans.Outcome, in int) {
	outcome := "ok"
	if !out.OK {
		outcome = "rejected"
	}
	validationOps.WithLabelValues(out.Mode.String(), outcome).Inc()
	spansIn.Add(float64(in))
	spansOut.Add(float64(len(out.Result.Spans)))
	for _, st := range out.Stats {
		if d := st.Dropped(); d > 0 {
			spansDropped.WithLabelValues(st.Stage).Add(float64(d))
		}
	}
}

// RecordAnnotationRequest increments the annotation request counter
func RecordAnnotationRequest(annotator string) {
	annotationRequestOps.WithLabelValues(annotator).Inc()
}

// RecordChunkCreation records the number of chunks created
func RecordChunkCreation(count int) {
	chunkCreationOps.Add(float64(count))
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// UpdateQueueMetrics updates all queue-related metrics from QueueStats
func UpdateQueueMetrics(stats QueueStats) {
	queueDepth.Set(float64(stats.CurrentQueued))
	queueActiveRequests.Set(float64(stats.CurrentActive))
}

// RecordQueueRejection increments the rejected counter
func RecordQueueRejection() {
	queueRejectedTotal.Inc()
}

// RecordQueueTimeout increments the timeout counter
func RecordQueueTimeout() {
	queueTimedOutTotal.Inc()
}

// RecordQueueWaitTime records how long a request waited in queue
func RecordQueueWaitTime(seconds float64) {
	queueWaitDuration.Observe(seconds)
}
