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

// Package events publishes domain events to collaborators such as the
// notification and leaderboard services.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "events",
	})
)

// Event types.
const (
	TypeAssignmentMatched   = "assignment.matched"
	TypeAssignmentCancelled = "assignment.cancelled"
	TypeEvaluationSubmitted = "evaluation.submitted"
	TypeEvaluationReviewed  = "evaluation.reviewed"
	TypeEvaluationReassign  = "evaluation.reassigned"
	TypeEvaluationMissed    = "evaluation.missed"
	TypeSubmissionFinalized = "submission.finalized"
)

// Event is one domain event. Ids that do not apply are left empty.
type Event struct {
	Type         string    `json:"type"`
	AssignmentID string    `json:"assignmentId"`
	SubmissionID string    `json:"submissionId,omitempty"`
	EvaluationID string    `json:"evaluationId,omitempty"`
	EvaluatorID  string    `json:"evaluatorId,omitempty"`
	Count        int       `json:"count,omitempty"`
	Score        float64   `json:"score,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and never fail a state transition because an event could not be sent.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, e Event) error {
	logger.WithFields(logrus.Fields{
		"type":         e.Type,
		"assignmentId": e.AssignmentID,
		"submissionId": e.SubmissionID,
		"evaluationId": e.EvaluationID,
		"evaluatorId":  e.EvaluatorID,
	}).Info("event")
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error {
	return nil
}

// Emit publishes e and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.WithFields(logrus.Fields{
			"type":  e.Type,
			"error": err.Error(),
		}).Warning("failed to publish event")
	}
}
