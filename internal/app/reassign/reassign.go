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

// Package reassign is the Reassignment Resolver: it replaces the evaluator of
// an Evaluation without breaking the matcher's pairing rules.
package reassign

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/app/assignment"
	"peereval.dev/peereval/internal/app/finalize"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/events"
	"peereval.dev/peereval/internal/lifecycle"
	"peereval.dev/peereval/internal/lock"
	"peereval.dev/peereval/internal/statestore"
	"peereval.dev/peereval/internal/telemetry"
	"peereval.dev/peereval/pkg/model"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "app.reassign",
	})
	mReassignCount = telemetry.Counter("reassign/reassigncount", "evaluations moved to a new evaluator")
	mOverrideCount = telemetry.Counter("reassign/overridecount", "reassignments of completed or missed evaluations")
)

// Request describes one reassignment. NewEvaluatorID is optional; when empty
// the least loaded eligible candidate is chosen.
type Request struct {
	NewEvaluatorID string `json:"newEvaluatorId,omitempty"`
	Reason         string `json:"reason"`
	// Override allows reassigning submitted, reviewed and missed
	// evaluations. Their scores are cleared.
	Override bool `json:"override,omitempty"`
	// DueDate replaces the due date of the evaluation when set and must lie
	// in the future. Without it a due date that has already passed is moved
	// to now plus the time the previous evaluator was given.
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// Resolver reassigns evaluations.
type Resolver struct {
	store     statestore.Service
	locker    lock.Locker
	directory collab.AssignmentDirectory
	pool      collab.SubmissionPool
	identity  collab.IdentityService
	finalizer *finalize.Finalizer
	publisher events.Publisher
	deadline  lifecycle.Deadline
	now       func() time.Time
}

// New creates a Resolver.
func New(store statestore.Service, locker lock.Locker, backend collab.Backend, finalizer *finalize.Finalizer, publisher events.Publisher, deadline lifecycle.Deadline) *Resolver {
	return &Resolver{
		store:     store,
		locker:    locker,
		directory: backend,
		pool:      backend,
		identity:  backend,
		finalizer: finalizer,
		publisher: publisher,
		deadline:  deadline,
		now:       time.Now,
	}
}

// Reassign moves an evaluation to a new evaluator and resets it to assigned.
// The previous evaluator, status and the reason are appended to the
// evaluation's reassignment trail.
func (r *Resolver) Reassign(ctx context.Context, evaluationID, actorID string, req Request) (*model.Evaluation, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, evalerr.New(evalerr.KindValidation, "a reason is required to reassign evaluation %s", evaluationID)
	}
	e, err := r.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	a, err := r.directory.GetAssignment(ctx, e.AssignmentID)
	if err != nil {
		return nil, err
	}
	role, err := r.identity.Role(ctx, actorID, a)
	if err != nil {
		return nil, err
	}
	if !role.Privileged() {
		return nil, evalerr.New(evalerr.KindPermission, "actor %s may not reassign evaluations of assignment %s", actorID, a.ID)
	}

	now := r.now().UTC()
	if req.DueDate != nil && !req.DueDate.After(now) {
		return nil, evalerr.New(evalerr.KindValidation, "due date %s of evaluation %s is not in the future", req.DueDate.Format(time.RFC3339), evaluationID)
	}

	ev := lifecycle.EventReassign
	if req.Override {
		ev = lifecycle.EventForceReassign
	}
	// An expired evaluation the sweeper has not reached yet is missed.
	status := e.Status
	if r.deadline.Expired(e, now) {
		status = model.StatusMissed
	}
	if _, err := lifecycle.Next(status, ev); err != nil {
		return nil, err
	}

	// Assignment before submission, the order every caller locks in.
	unlockAssignment, err := r.locker.Lock(ctx, lock.AssignmentKey(a.ID))
	if err != nil {
		return nil, err
	}
	defer unlockAssignment()
	unlockSubmission, err := r.locker.Lock(ctx, lock.SubmissionKey(e.SubmissionID))
	if err != nil {
		return nil, err
	}
	defer unlockSubmission()

	evals, err := r.store.ListAssignmentEvaluations(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	newEvaluator := req.NewEvaluatorID
	if newEvaluator == "" {
		newEvaluator, err = r.pick(ctx, a, e, evals)
	} else {
		err = checkEligible(a, e, evals, loads(evals), newEvaluator)
	}
	if err != nil {
		return nil, err
	}

	var previous model.Status
	updated, err := r.store.UpdateEvaluation(ctx, evaluationID, func(cur *model.Evaluation) (*model.Evaluation, error) {
		now := r.now().UTC()
		if r.deadline.Expired(cur, now) {
			missed, err := lifecycle.Next(cur.Status, lifecycle.EventExpire)
			if err != nil {
				return nil, err
			}
			cur.Status = missed
		}
		to, err := lifecycle.Next(cur.Status, ev)
		if err != nil {
			return nil, err
		}
		if cur.EvaluatorID != e.EvaluatorID {
			return nil, evalerr.New(evalerr.KindInvalidState, "evaluation %s was reassigned concurrently", cur.ID)
		}
		due, err := dueDate(cur, req, now)
		if err != nil {
			return nil, err
		}
		previous = cur.Status
		cur.Reassignments = append(cur.Reassignments, model.Reassignment{
			FromEvaluatorID: cur.EvaluatorID,
			ToEvaluatorID:   newEvaluator,
			PreviousStatus:  cur.Status,
			Reason:          req.Reason,
			At:              now,
		})
		cur.EvaluatorID = newEvaluator
		cur.Status = to
		cur.AssignedAt = now
		cur.StartedAt = nil
		cur.SubmittedAt = nil
		cur.ReviewedAt = nil
		cur.Scores = nil
		cur.TotalScore = 0
		cur.OverallFeedback = ""
		cur.Grade = ""
		cur.IsLate = false
		cur.QualityFlags = model.QualityFlags{}
		cur.DueDate = due
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	if previous.Completed() {
		if err := r.finalizer.Discard(ctx, updated.SubmissionID); err != nil {
			return nil, err
		}
	}

	telemetry.RecordUnitMeasurement(ctx, mReassignCount)
	if req.Override {
		telemetry.RecordUnitMeasurement(ctx, mOverrideCount)
	}
	logger.WithFields(logrus.Fields{
		"assignmentId":   updated.AssignmentID,
		"evaluationId":   evaluationID,
		"submissionId":   updated.SubmissionID,
		"from":           e.EvaluatorID,
		"to":             newEvaluator,
		"previousStatus": previous,
	}).Info("evaluation reassigned")
	events.Emit(ctx, r.publisher, events.Event{
		Type:         events.TypeEvaluationReassign,
		AssignmentID: updated.AssignmentID,
		SubmissionID: updated.SubmissionID,
		EvaluationID: updated.ID,
		EvaluatorID:  newEvaluator,
	})
	return updated, nil
}

// dueDate is the due date of cur once it is reassigned at now.
func dueDate(cur *model.Evaluation, req Request, now time.Time) (time.Time, error) {
	if req.DueDate != nil {
		return req.DueDate.UTC(), nil
	}
	if now.Before(cur.DueDate) {
		return cur.DueDate, nil
	}
	span := cur.DueDate.Sub(cur.AssignedAt)
	if cur.AssignedAt.IsZero() || span <= 0 {
		return time.Time{}, evalerr.New(evalerr.KindValidation, "evaluation %s was due at %s, a new due date is required", cur.ID, cur.DueDate.Format(time.RFC3339))
	}
	return now.Add(span), nil
}

// pick returns the least loaded eligible candidate of the assignment's
// evaluator pool, ties broken by the matcher's candidate order.
func (r *Resolver) pick(ctx context.Context, a *model.Assignment, e *model.Evaluation, evals []*model.Evaluation) (string, error) {
	submissions, err := r.pool.ListSubmissions(ctx, a.ID)
	if err != nil {
		return "", err
	}
	load := loads(evals)
	best := ""
	for _, c := range assignment.Candidates(a.ID, submissions) {
		if checkEligible(a, e, evals, load, c) != nil {
			continue
		}
		if best == "" || load[c] < load[best] {
			best = c
		}
	}
	if best == "" {
		return "", evalerr.New(evalerr.KindNoEligibleEvaluator, "no eligible evaluator left for submission %s", e.SubmissionID)
	}
	return best, nil
}

// checkEligible applies the exclusion rules e was matched under to candidate.
func checkEligible(a *model.Assignment, e *model.Evaluation, evals []*model.Evaluation, load map[string]int, candidate string) error {
	rules := e.EffectiveRules(a)
	if candidate == e.SubmitterID && !rules.AllowSelfEvaluation {
		return evalerr.New(evalerr.KindValidation, "%s is the author of submission %s", candidate, e.SubmissionID)
	}
	for _, other := range evals {
		if other.SubmissionID == e.SubmissionID && other.EvaluatorID == candidate {
			return evalerr.New(evalerr.KindValidation, "%s already evaluates submission %s", candidate, e.SubmissionID)
		}
	}
	if m := rules.MaxEvaluationsPerStudent; m > 0 && load[candidate] >= m {
		return evalerr.New(evalerr.KindValidation, "%s already carries the maximum of %d evaluations", candidate, m)
	}
	return nil
}

// loads counts the active evaluations of every evaluator.
func loads(evals []*model.Evaluation) map[string]int {
	r := map[string]int{}
	for _, e := range evals {
		if !e.Status.Terminal() {
			r[e.EvaluatorID]++
		}
	}
	return r
}
