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
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter(t *testing.T) {
	require := require.New(t)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(1, 2)
	l.now = func() time.Time { return now }

	require.True(l.Allow("u1"))
	require.True(l.Allow("u1"))
	require.False(l.Allow("u1"))
	require.True(l.Allow("u2"))
	require.Equal(2, l.size())

	now = now.Add(time.Second)
	require.True(l.Allow("u1"))

	now = now.Add(time.Minute)
	require.True(l.Allow("u2"))
	l.Forget(30 * time.Second)
	require.Equal(1, l.size())
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("u1"))
	}
	require.Zero(t, l.size())
}

func TestLimiterFromConfig(t *testing.T) {
	cfg := viper.New()
	l := LimiterFromConfig(cfg)
	require.Equal(t, rate.Limit(defaultRatePerSecond), l.limit)
	require.Equal(t, defaultRateBurst, l.burst)

	cfg.Set("api.http.rateLimit.perSecond", 5.5)
	cfg.Set("api.http.rateLimit.burst", 3)
	l = LimiterFromConfig(cfg)
	require.Equal(t, rate.Limit(5.5), l.limit)
	require.Equal(t, 3, l.burst)
}
