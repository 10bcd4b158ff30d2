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

package lifecycle

import (
	"time"

	"peereval.dev/peereval/pkg/model"
)

// Deadline is the expiry policy of pending evaluations. Every component that
// reads an Evaluation before acting on it applies the same policy, so a
// pending evaluation past its expiry behaves as missed even before the
// sweeper has written that.
type Deadline struct {
	// RejectLate expires evaluations at the due date itself.
	RejectLate bool
	// LateWindow is added to the due date when RejectLate is unset.
	LateWindow time.Duration
}

// ExpiresAt is the moment a pending evaluation due at dueDate becomes missed.
func (d Deadline) ExpiresAt(dueDate time.Time) time.Time {
	if d.RejectLate {
		return dueDate
	}
	return dueDate.Add(d.LateWindow)
}

// Expired reports whether e may expire and its expiry has passed at now.
func (d Deadline) Expired(e *model.Evaluation, now time.Time) bool {
	return Can(e.Status, EventExpire) && now.After(d.ExpiresAt(e.DueDate))
}
