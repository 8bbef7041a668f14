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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRequestQueue_Unlimited(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{}, zaptest.NewLogger(t))

	var releases []func()
	for range 5 {
		release, err := q.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}
	assert.EqualValues(t, 5, q.Stats().CurrentActive)
	for _, release := range releases {
		release()
	}
	stats := q.Stats()
	assert.EqualValues(t, 0, stats.CurrentActive)
	assert.EqualValues(t, 5, stats.TotalProcessed)
}

func TestRequestQueue_Full(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		r, err := q.Acquire(context.Background())
		if err == nil {
			r()
		}
		waited <- err
	}()
	require.Eventually(t, func() bool { return q.Stats().CurrentQueued == 1 }, time.Second, time.Millisecond)

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.EqualValues(t, 1, q.Stats().TotalRejected)

	release()
	require.NoError(t, <-waited)
	assert.EqualValues(t, 2, q.Stats().TotalProcessed)
}

func TestRequestQueue_Timeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		RequestTimeout:        20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.EqualValues(t, 1, q.Stats().TotalTimedOut)
}

func TestRequestQueue_CallerCancelled(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))
	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, q.Stats().TotalTimedOut)
}

func TestRequestQueue_ReleaseIsIdempotent(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, nil)
	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()

	stats := q.Stats()
	assert.EqualValues(t, 0, stats.CurrentActive)
	assert.EqualValues(t, 1, stats.TotalProcessed)

	release, err = q.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestWriteQueueResponses(t *testing.T) {
	w := httptest.NewRecorder()
	WriteQueueFullResponse(w, 5*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), ErrQueueFull.Error())

	w = httptest.NewRecorder()
	WriteTimeoutResponse(w)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), ErrRequestTimeout.Error())
}

func TestHandlerRejectsWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.MaxQueueSize = 0
	cfg.RequestTimeout = "10ms"
	node, err := NewNode(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(node.Close)

	release, err := node.requestQueue.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	w := post(t, node.Handler(), "/api/chunk", ChunkRequest{Text: "a fox"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}
