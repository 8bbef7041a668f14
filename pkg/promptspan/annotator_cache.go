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
	"encoding/binary"
	"slices"
	"sync/atomic"
	"time"

	"github.com/antflydb/promptspan/pkg/promptspan/lib/annotate"
	"github.com/antflydb/promptspan/pkg/promptspan/lib/schema"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AnnotationCacheTTL is the default TTL for cached annotations
const AnnotationCacheTTL = 5 * time.Minute

// CachedAnnotator wraps an annotator with caching support
type CachedAnnotator struct {
	annotator annotate.Annotator
	name      string
	cache     *ttlcache.Cache[string, schema.Envelope]
	sfGroup   *singleflight.Group
	logger    *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCachedAnnotator wraps an annotator with caching
func NewCachedAnnotator(
	annotator annotate.Annotator,
	name string,
	cache *ttlcache.Cache[string, schema.Envelope],
	logger *zap.Logger,
) *CachedAnnotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedAnnotator{
		annotator: annotator,
		name:      name,
		cache:     cache,
		sfGroup:   &singleflight.Group{},
		logger:    logger,
	}
}

// Annotate returns the cached envelope for text, annotating it on a miss.
// Concurrent misses for the same text share one annotation.
func (c *CachedAnnotator) Annotate(ctx context.Context, text string) (schema.Envelope, error) {
	if c.annotator == nil {
		return schema.Envelope{}, annotate.ErrNoAnnotator
	}
	key := c.cacheKey(text)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("annotation")
		c.logger.Debug("Annotation cache hit",
			zap.String("annotator", c.name),
			zap.Int("textLength", len(text)))
		return detach(item.Value()), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("annotation")
		RecordAnnotationRequest(c.name)

		start := time.Now()
		env, err := c.annotator.Annotate(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, env, ttlcache.DefaultTTL)

		c.logger.Debug("Annotation completed and cached",
			zap.String("annotator", c.name),
			zap.Int("spans", len(env.Spans)),
			zap.Duration("duration", time.Since(start)))
		return env, nil
	})
	if err != nil {
		return schema.Envelope{}, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for annotation request",
			zap.String("annotator", c.name))
	}
	return detach(result.(schema.Envelope)), nil
}

// detach copies the parts of a cached envelope that callers may modify.
func detach(env schema.Envelope) schema.Envelope {
	env.Spans = slices.Clone(env.Spans)
	env.Meta = env.Meta.Clone()
	return env
}

// cacheKey hashes the annotator name and text.
func (c *CachedAnnotator) cacheKey(text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(text)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Stats returns cache statistics for this annotator
func (c *CachedAnnotator) Stats() AnnotationCacheStats {
	return AnnotationCacheStats{
		Annotator:        c.name,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// AnnotationCacheStats holds cache statistics for an annotator
type AnnotationCacheStats struct {
	Annotator        string `json:"annotator"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// AnnotationCache owns the shared annotation cache
type AnnotationCache struct {
	cache  *ttlcache.Cache[string, schema.Envelope]
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewAnnotationCache creates a cache whose entries live for ttl. A
// non-positive ttl uses AnnotationCacheTTL.
func NewAnnotationCache(ttl time.Duration, logger *zap.Logger) *AnnotationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = AnnotationCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, schema.Envelope](ttl),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ac := &AnnotationCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}
	go ac.logStats(ctx)
	return ac
}

// Wrap wraps an annotator with caching
func (ac *AnnotationCache) Wrap(annotator annotate.Annotator, name string) *CachedAnnotator {
	return NewCachedAnnotator(annotator, name, ac.cache, ac.logger.Named(name))
}

// Close stops the cache
func (ac *AnnotationCache) Close() {
	ac.cancel()
	ac.cache.Stop()
}

func (ac *AnnotationCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := ac.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				total := metrics.Hits + metrics.Misses
				hitRate := float64(metrics.Hits) / float64(total) * 100
				ac.logger.Info("Annotation cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", ac.cache.Len()))
			}
		}
	}
}

// Stats returns global cache statistics
func (ac *AnnotationCache) Stats() map[string]any {
	metrics := ac.cache.Metrics()
	return map[string]any{
		"hits":   metrics.Hits,
		"misses": metrics.Misses,
		"items":  ac.cache.Len(),
	}
}
