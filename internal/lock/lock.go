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

// Package lock provides per-key mutual exclusion. The matcher holds one lock
// per assignment and the lifecycle controller one per submission.
package lock

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "lock",
	})
	mLockWaitMs       = telemetry.HistogramWithBounds("lock/waitlatency", "time spent waiting for a lock", "ms", telemetry.HistogramBounds)
	mLockFailureCount = telemetry.Counter("lock/failurecount", "lock acquisitions that gave up")
	mLockLostCount    = telemetry.Counter("lock/lostcount", "held locks that could not be extended")
)

const (
	// BackendRedis selects redsync locks shared by every replica.
	BackendRedis = "redis"
	// BackendLocal selects in-process locks, for single replica deployments and tests.
	BackendLocal = "local"

	defaultExpiry     = 8 * time.Second
	defaultTries      = 32
	defaultRetryDelay = 50 * time.Millisecond
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker hands out exclusive locks by key.
type Locker interface {
	// Lock blocks until the lock for key is held, ctx is done or the configured
	// attempts are exhausted.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// AssignmentKey is the lock key guarding a matcher run.
func AssignmentKey(assignmentID string) string {
	return "lock:assignment:" + assignmentID
}

// SubmissionKey is the lock key guarding a submission's completion check.
func SubmissionKey(submissionID string) string {
	return "lock:submission:" + submissionID
}

type settings struct {
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
}

func readSettings(cfg config.View) settings {
	s := settings{expiry: defaultExpiry, tries: defaultTries, retryDelay: defaultRetryDelay}
	if cfg.IsSet(consts.LockExpiry) {
		s.expiry = cfg.GetDuration(consts.LockExpiry)
	}
	if cfg.IsSet(consts.LockTries) {
		s.tries = cfg.GetInt(consts.LockTries)
	}
	if cfg.IsSet(consts.LockRetryDelay) {
		s.retryDelay = cfg.GetDuration(consts.LockRetryDelay)
	}
	return s
}

// New creates the Locker selected by lock.backend. The redis backend shares pool.
func New(cfg config.View, pool *redis.Pool) Locker {
	backend := cfg.GetString(consts.LockBackend)
	logger.WithField("backend", backend).Info("configuring locks")
	if backend == BackendLocal {
		return NewLocal(cfg)
	}
	return NewRedsync(cfg, pool)
}

func recordWait(ctx context.Context, start time.Time) {
	telemetry.RecordNUnitMeasurement(ctx, mLockWaitMs, time.Since(start).Milliseconds())
}
