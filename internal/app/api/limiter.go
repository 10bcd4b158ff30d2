// Copyright 2019 Google LLC
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

package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
)

const (
	defaultRatePerSecond = 20
	defaultRateBurst     = 40
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// Limiter holds one token bucket per actor. It is created per server and
// owned by it.
type Limiter struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	buckets *xsync.Map[string, *bucket]
}

// NewLimiter creates a Limiter. A non-positive perSecond disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		buckets: xsync.NewMap[string, *bucket](),
	}
}

// LimiterFromConfig reads api.http.rateLimit.*.
func LimiterFromConfig(cfg config.View) *Limiter {
	perSecond := float64(defaultRatePerSecond)
	if cfg.IsSet(consts.RateLimitPerSecond) {
		perSecond = cfg.GetFloat64(consts.RateLimitPerSecond)
	}
	burst := defaultRateBurst
	if cfg.IsSet(consts.RateLimitBurst) {
		burst = cfg.GetInt(consts.RateLimitBurst)
	}
	return NewLimiter(perSecond, burst)
}

// Allow reports whether actor may make one more request now.
func (l *Limiter) Allow(actor string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.now()
	b, _ := l.buckets.Compute(actor, func(b *bucket, loaded bool) (*bucket, xsync.ComputeOp) {
		if !loaded {
			b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		}
		b.lastSeen.Store(now.UnixNano())
		return b, xsync.UpdateOp
	})
	return b.limiter.AllowN(now, 1)
}

// Forget drops the buckets of actors idle for longer than idle.
func (l *Limiter) Forget(idle time.Duration) {
	cutoff := l.now().Add(-idle).UnixNano()
	l.buckets.Range(func(actor string, _ *bucket) bool {
		l.buckets.Compute(actor, func(b *bucket, loaded bool) (*bucket, xsync.ComputeOp) {
			if loaded && b.lastSeen.Load() < cutoff {
				return b, xsync.DeleteOp
			}
			return b, xsync.CancelOp
		})
		return true
	})
}

// Run calls Forget every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Forget(interval)
		}
	}
}

func (l *Limiter) size() int {
	return l.buckets.Size()
}
