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

// Package evaluation is the Lifecycle Controller: it moves Evaluations
// through their states, validates submissions and answers status queries.
package evaluation

import (
	"time"

	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/internal/lifecycle"
)

const (
	defaultLateWindow       = 72 * time.Hour
	defaultSweepConcurrency = 4
)

// Options holds the late-submission policy and the sweeper settings.
type Options struct {
	// RejectLate fails submissions after the due date with DeadlineExceeded
	// instead of accepting them with IsLate set.
	RejectLate bool
	// LateWindow is how long after the due date a late submission is still
	// accepted. Pending evaluations expire once it has elapsed.
	LateWindow       time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
}

// OptionsFromConfig reads the evaluation.* settings.
func OptionsFromConfig(cfg config.View) Options {
	o := Options{
		RejectLate:       cfg.GetBool(consts.RejectLateSubmissions),
		LateWindow:       defaultLateWindow,
		SweepInterval:    cfg.GetDuration(consts.SweepInterval),
		SweepConcurrency: defaultSweepConcurrency,
	}
	if cfg.IsSet(consts.LateWindow) {
		o.LateWindow = cfg.GetDuration(consts.LateWindow)
	}
	if cfg.IsSet(consts.SweepConcurrency) && cfg.GetInt(consts.SweepConcurrency) > 0 {
		o.SweepConcurrency = cfg.GetInt(consts.SweepConcurrency)
	}
	return o
}

// Deadline is the expiry policy of o.
func (o Options) Deadline() lifecycle.Deadline {
	return lifecycle.Deadline{RejectLate: o.RejectLate, LateWindow: o.LateWindow}
}

// expiresAt is the moment a pending evaluation becomes missed.
func (o Options) expiresAt(dueDate time.Time) time.Time {
	return o.Deadline().ExpiresAt(dueDate)
}
