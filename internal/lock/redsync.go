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

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/redigo"
	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/telemetry"
)

// Redsync locks keys in Redis so that every replica sharing the database
// observes the same lock.
type Redsync struct {
	rs       *redsync.Redsync
	settings settings
}

// NewRedsync creates a Redsync locker on top of an existing redigo pool.
func NewRedsync(cfg config.View, pool *redis.Pool) *Redsync {
	return &Redsync{
		rs:       redsync.New(redigo.NewPool(pool)),
		settings: readSettings(cfg),
	}
}

// Lock implements Locker.
func (r *Redsync) Lock(ctx context.Context, key string) (Unlock, error) {
	m := r.rs.NewMutex(key,
		redsync.WithExpiry(r.settings.expiry),
		redsync.WithTries(r.settings.tries),
		redsync.WithRetryDelay(r.settings.retryDelay),
	)

	start := time.Now()
	if err := m.LockContext(ctx); err != nil {
		telemetry.RecordUnitMeasurement(ctx, mLockFailureCount)
		if ctx.Err() != nil {
			return nil, evalerr.Wrap(ctx.Err(), evalerr.KindPersistence, "gave up waiting for lock %s", key)
		}
		return nil, evalerr.Wrap(err, evalerr.KindPersistence, "failed to acquire lock %s", key)
	}
	recordWait(ctx, start)

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, m, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may be cancelled by now; the release must still happen.
			ok, err := m.UnlockContext(context.Background())
			if err != nil || !ok {
				logger.WithFields(logrus.Fields{
					"key":   key,
					"error": err,
				}).Warning("failed to release lock, it will expire on its own")
			}
		})
	}, nil
}

// keepAlive extends m every third of its expiry until stop is closed, so a
// holder that outlives the expiry keeps exclusive access.
func (r *Redsync) keepAlive(key string, m *redsync.Mutex, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.settings.expiry / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := m.ExtendContext(context.Background())
			if err != nil || !ok {
				telemetry.RecordUnitMeasurement(context.Background(), mLockLostCount)
				logger.WithFields(logrus.Fields{
					"key":   key,
					"error": err,
				}).Error("lost lock before release")
				return
			}
		}
	}
}
