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
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when no request may wait for a slot.
	ErrQueueFull = errors.New("request queue is full")
	// ErrRequestTimeout is returned when a request waited too long for a slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures backpressure.
type RequestQueueConfig struct {
	// MaxConcurrentRequests is the number of slots. Zero means unlimited.
	MaxConcurrentRequests int
	// MaxQueueSize is the number of waiters allowed. Zero means unlimited.
	MaxQueueSize int
	// RequestTimeout bounds the wait for a slot. Zero means no bound.
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of the queue.
type QueueStats struct {
	CurrentActive  int64  `json:"current_active"`
	CurrentQueued  int64  `json:"current_queued"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalRejected  uint64 `json:"total_rejected"`
	TotalTimedOut  uint64 `json:"total_timed_out"`
}

// RequestQueue limits concurrent request processing with a weighted
// semaphore and rejects requests once too many are waiting.
type RequestQueue struct {
	config RequestQueueConfig
	sem    *semaphore.Weighted
	logger *zap.Logger

	active    atomic.Int64
	queued    atomic.Int64
	processed atomic.Uint64
	rejected  atomic.Uint64
	timedOut  atomic.Uint64
}

// NewRequestQueue creates a queue.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &RequestQueue{config: config, logger: logger}
	if config.MaxConcurrentRequests > 0 {
		q.sem = semaphore.NewWeighted(int64(config.MaxConcurrentRequests))
	}
	return q
}

// Acquire waits for a slot. The returned release function must be called
// exactly once when the request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if q.sem == nil {
		q.active.Add(1)
		return q.releaseFunc(false), nil
	}

	if q.sem.TryAcquire(1) {
		q.active.Add(1)
		return q.releaseFunc(true), nil
	}

	if limit := q.config.MaxQueueSize; limit > 0 && q.queued.Load() >= int64(limit) {
		q.rejected.Add(1)
		q.logger.Debug("Rejecting request, queue full",
			zap.Int64("queued", q.queued.Load()),
			zap.Int("maxQueueSize", limit))
		return nil, ErrQueueFull
	}

	q.queued.Add(1)
	defer q.queued.Add(-1)

	waitCtx := ctx
	if q.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, q.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := q.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.timedOut.Add(1)
		return nil, ErrRequestTimeout
	}
	RecordQueueWaitTime(time.Since(start).Seconds())
	q.active.Add(1)
	return q.releaseFunc(true), nil
}

func (q *RequestQueue) releaseFunc(held bool) func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		q.active.Add(-1)
		q.processed.Add(1)
		if held {
			q.sem.Release(1)
		}
	}
}

// Stats returns a snapshot of the queue counters.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentActive:  q.active.Load(),
		CurrentQueued:  q.queued.Load(),
		TotalProcessed: q.processed.Load(),
		TotalRejected:  q.rejected.Load(),
		TotalTimedOut:  q.timedOut.Load(),
	}
}

// ErrorResponse is the JSON body of error responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteQueueFullResponse writes a 503 with a Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ErrQueueFull.Error()})
}

// WriteTimeoutResponse writes a 504 for a request that never got a slot.
func WriteTimeoutResponse(w http.ResponseWriter) {
	writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: ErrRequestTimeout.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(body)
}
