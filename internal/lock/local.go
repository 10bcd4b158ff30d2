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

	"github.com/puzpuzpuz/xsync/v4"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/telemetry"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local locks keys inside the current process. Entries are dropped once no
// goroutine holds or waits for them.
type Local struct {
	entries *xsync.Map[string, *localEntry]
	wait    time.Duration
}

// NewLocal creates a Local locker. A waiter gives up after tries*retryDelay.
func NewLocal(cfg config.View) *Local {
	s := readSettings(cfg)
	return &Local{
		entries: xsync.NewMap[string, *localEntry](),
		wait:    time.Duration(s.tries) * s.retryDelay,
	}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	entry, _ := l.entries.Compute(key, func(e *localEntry, loaded bool) (*localEntry, xsync.ComputeOp) {
		if !loaded {
			e = &localEntry{sem: make(chan struct{}, 1)}
		}
		e.refs++
		return e, xsync.UpdateOp
	})

	start := time.Now()
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		telemetry.RecordUnitMeasurement(ctx, mLockFailureCount)
		return nil, evalerr.Wrap(ctx.Err(), evalerr.KindPersistence, "gave up waiting for lock %s", key)
	case <-timer.C:
		l.release(key)
		telemetry.RecordUnitMeasurement(ctx, mLockFailureCount)
		return nil, evalerr.New(evalerr.KindPersistence, "lock %s still held after %s", key, l.wait)
	}
	recordWait(ctx, start)

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key)
		})
	}, nil
}

func (l *Local) release(key string) {
	l.entries.Compute(key, func(e *localEntry, loaded bool) (*localEntry, xsync.ComputeOp) {
		if !loaded {
			return e, xsync.CancelOp
		}
		e.refs--
		if e.refs == 0 {
			return e, xsync.DeleteOp
		}
		return e, xsync.UpdateOp
	})
}

func (l *Local) size() int {
	return l.entries.Size()
}
