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

// Package consts names the configuration keys shared across packages.
package consts

const (
	// API settings
	HTTPPort           = "api.http.port"
	RateLimitPerSecond = "api.http.rateLimit.perSecond"
	RateLimitBurst     = "api.http.rateLimit.burst"

	// Redis settings
	RedisHostName               = "redis.hostname"
	RedisPort                   = "redis.port"
	RedisUser                   = "redis.user"
	RedisUsePassword            = "redis.usePassword"
	RedisPasswordPath           = "redis.passwordPath"
	RedisConnMaxIdle            = "redis.pool.maxIdle"
	RedisConnMaxActive          = "redis.pool.maxActive"
	RedisConnIdleTimeout        = "redis.pool.idleTimeout"
	RedisConnHealthCheckTimeout = "redis.pool.healthCheckTimeout"

	// Storage retries
	BackoffInitInterval   = "backoff.initialInterval"
	BackoffRandFactor     = "backoff.randFactor"
	BackoffMultiplier     = "backoff.multiplier"
	BackoffMaxInterval    = "backoff.maxInterval"
	BackoffMaxElapsedTime = "backoff.maxElapsedTime"

	// Lock settings
	LockBackend    = "lock.backend"
	LockExpiry     = "lock.expiry"
	LockTries      = "lock.tries"
	LockRetryDelay = "lock.retryDelay"

	// Evaluation lifecycle
	RejectLateSubmissions = "evaluation.rejectLateSubmissions"
	LateWindow            = "evaluation.lateWindow"
	SweepInterval         = "evaluation.sweepInterval"
	SweepConcurrency      = "evaluation.sweepConcurrency"

	// Finalization
	OutlierThreshold         = "finalization.outlierThreshold"
	MinEvaluatorsForOutliers = "finalization.minEvaluatorsForOutliers"

	// Collaborators
	CollabBackend      = "collab.backend"
	CollabFixturesPath = "collab.fixturesPath"
	CollabPostgresDSN  = "collab.postgres.dsn"

	// Events
	EventsBackend           = "events.backend"
	EventsNATSURL           = "events.nats.url"
	EventsNATSSubjectPrefix = "events.nats.subjectPrefix"
)
