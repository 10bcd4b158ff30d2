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

package evaluation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
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
		"component": "app.evaluation",
	})
	mStartCount   = telemetry.Counter("evaluation/startcount", "evaluations started")
	mSubmitCount  = telemetry.Counter("evaluation/submitcount", "evaluations submitted")
	mLateCount    = telemetry.Counter("evaluation/latecount", "evaluations submitted after the due date")
	mReviewCount  = telemetry.Counter("evaluation/reviewcount", "evaluations reviewed")
	mExpiredCount = telemetry.Counter("evaluation/expiredcount", "evaluations moved to missed")

	// errNotDue aborts an expiry whose evaluation changed after it was read.
	errNotDue = evalerr.New(evalerr.KindInvalidState, "evaluation is not due for expiry")
)

// Controller drives Evaluations through the lifecycle.
type Controller struct {
	store     statestore.Service
	locker    lock.Locker
	directory collab.AssignmentDirectory
	identity  collab.IdentityService
	finalizer *finalize.Finalizer
	publisher events.Publisher
	opts      Options
	now       func() time.Time
}

// New creates a Controller.
func New(store statestore.Service, locker lock.Locker, backend collab.Backend, finalizer *finalize.Finalizer, publisher events.Publisher, opts Options) *Controller {
	return &Controller{
		store:     store,
		locker:    locker,
		directory: backend,
		identity:  backend,
		finalizer: finalizer,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Start moves an assigned evaluation to in_progress.
func (c *Controller) Start(ctx context.Context, evaluationID, actorID string) (*model.Evaluation, error) {
	e, err := c.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := checkEvaluator(e, actorID); err != nil {
		return nil, err
	}

	updated, err := c.store.UpdateEvaluation(ctx, evaluationID, func(cur *model.Evaluation) (*model.Evaluation, error) {
		if err := checkEvaluator(cur, actorID); err != nil {
			return nil, err
		}
		to, err := lifecycle.Next(cur.Status, lifecycle.EventStart)
		if err != nil {
			return nil, err
		}
		now := c.now().UTC()
		if now.After(cur.DueDate) {
			return nil, evalerr.New(evalerr.KindDeadlineExceeded, "evaluation %s was due at %s", cur.ID, cur.DueDate.Format(time.RFC3339))
		}
		cur.Status = to
		cur.StartedAt = &now
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mStartCount)
	logger.WithFields(logrus.Fields{
		"evaluationId": evaluationID,
		"submissionId": updated.SubmissionID,
	}).Debug("evaluation started")
	return updated, nil
}

// Submit records the evaluator's scores and runs the finalization check for
// the submission. Both happen under the submission lock, so of several
// submits completing one submission exactly one writes its FinalEvaluation.
func (c *Controller) Submit(ctx context.Context, evaluationID, actorID string, req SubmitRequest) (*model.Evaluation, error) {
	e, err := c.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := checkEvaluator(e, actorID); err != nil {
		return nil, err
	}
	if e.Status == model.StatusMissed {
		return nil, evalerr.New(evalerr.KindDeadlineExceeded, "evaluation %s expired at %s", e.ID, c.opts.expiresAt(e.DueDate).Format(time.RFC3339))
	}
	assignment, err := c.directory.GetAssignment(ctx, e.AssignmentID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, lock.SubmissionKey(e.SubmissionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := c.store.UpdateEvaluation(ctx, evaluationID, func(cur *model.Evaluation) (*model.Evaluation, error) {
		if err := checkEvaluator(cur, actorID); err != nil {
			return nil, err
		}
		to, err := lifecycle.Next(cur.Status, lifecycle.EventSubmit)
		if err != nil {
			return nil, err
		}
		now := c.now().UTC()
		if c.expired(cur, now) {
			return nil, evalerr.New(evalerr.KindDeadlineExceeded, "evaluation %s expired at %s", cur.ID, c.opts.expiresAt(cur.DueDate).Format(time.RFC3339))
		}
		scores, total, maxTotal, err := scoreSubmission(assignment, cur, req)
		if err != nil {
			return nil, err
		}
		if err := checkFeedback(assignment.Settings, req.Feedback); err != nil {
			return nil, err
		}
		cur.Status = to
		cur.Scores = scores
		cur.TotalScore = total
		cur.MaxTotalScore = maxTotal
		cur.OverallFeedback = req.Feedback
		cur.Grade = req.Grade
		cur.SubmittedAt = &now
		cur.IsLate = now.After(cur.DueDate)
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mSubmitCount)
	if updated.IsLate {
		telemetry.RecordUnitMeasurement(ctx, mLateCount)
	}
	entry := logger.WithFields(logrus.Fields{
		"assignmentId": updated.AssignmentID,
		"evaluationId": evaluationID,
		"submissionId": updated.SubmissionID,
		"isLate":       updated.IsLate,
	})
	entry.Info("evaluation submitted")
	events.Emit(ctx, c.publisher, events.Event{
		Type:         events.TypeEvaluationSubmitted,
		AssignmentID: updated.AssignmentID,
		SubmissionID: updated.SubmissionID,
		EvaluationID: updated.ID,
		EvaluatorID:  updated.EvaluatorID,
		Score:        updated.TotalScore,
	})

	// The submit is stored even if finalization fails; the sweeper picks up
	// complete submissions without a current FinalEvaluation.
	if _, err := c.finalizer.FinalizeLocked(ctx, assignment, updated.SubmissionID); err != nil {
		entry.WithError(err).Error("finalization failed")
	}
	return updated, nil
}

// Review approves or rejects a submitted evaluation. A rejected evaluation
// stays submitted and is flagged for review. The FinalEvaluation of the
// submission is recomputed afterwards.
func (c *Controller) Review(ctx context.Context, evaluationID, actorID string, approved bool, notes string) (*model.Evaluation, error) {
	e, err := c.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	assignment, err := c.directory.GetAssignment(ctx, e.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := c.checkPrivileged(ctx, actorID, assignment); err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, lock.SubmissionKey(e.SubmissionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ev := lifecycle.EventReject
	if approved {
		ev = lifecycle.EventApprove
	}
	updated, err := c.store.UpdateEvaluation(ctx, evaluationID, func(cur *model.Evaluation) (*model.Evaluation, error) {
		to, err := lifecycle.Next(cur.Status, ev)
		if err != nil {
			return nil, err
		}
		now := c.now().UTC()
		cur.Status = to
		cur.ReviewedAt = &now
		cur.QualityFlags.NeedsReview = !approved
		cur.QualityFlags.ReviewNotes = notes
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mReviewCount)
	entry := logger.WithFields(logrus.Fields{
		"assignmentId": updated.AssignmentID,
		"evaluationId": evaluationID,
		"submissionId": updated.SubmissionID,
		"approved":     approved,
	})
	entry.Info("evaluation reviewed")
	events.Emit(ctx, c.publisher, events.Event{
		Type:         events.TypeEvaluationReviewed,
		AssignmentID: updated.AssignmentID,
		SubmissionID: updated.SubmissionID,
		EvaluationID: updated.ID,
	})

	if _, err := c.finalizer.FinalizeLocked(ctx, assignment, updated.SubmissionID); err != nil {
		entry.WithError(err).Error("finalization failed")
	}
	return updated, nil
}

// Expire moves a pending evaluation past its expiry to missed. Expiry is also
// applied lazily whenever an evaluation is read through the Controller.
func (c *Controller) Expire(ctx context.Context, evaluationID string) (*model.Evaluation, error) {
	e, err := c.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	updated, changed, err := c.expireIfDue(ctx, e)
	if err != nil {
		return nil, err
	}
	if !changed && updated.Status != model.StatusMissed {
		return nil, evalerr.New(evalerr.KindInvalidState, "evaluation %s is %s and not due for expiry", evaluationID, updated.Status)
	}
	return updated, nil
}

// FinalizeAssignment closes an assignment: every submitted or reviewed
// evaluation becomes finalized and the FinalEvaluations are recomputed. It
// returns the FinalEvaluations of the submissions whose sets are complete.
func (c *Controller) FinalizeAssignment(ctx context.Context, assignmentID, actorID string) ([]*model.FinalEvaluation, error) {
	assignment, err := c.directory.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := c.checkPrivileged(ctx, actorID, assignment); err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, lock.AssignmentKey(assignmentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	evals, err := c.store.ListAssignmentEvaluations(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	finals := []*model.FinalEvaluation{}
	for _, sid := range submissionIDs(evals) {
		final, err := c.finalizeSubmission(ctx, assignment, sid)
		if err != nil {
			return nil, err
		}
		if final != nil {
			finals = append(finals, final)
		}
	}

	logger.WithFields(logrus.Fields{
		"assignmentId": assignmentID,
		"finalized":    len(finals),
	}).Info("assignment finalized")
	return finals, nil
}

func (c *Controller) finalizeSubmission(ctx context.Context, assignment *model.Assignment, submissionID string) (*model.FinalEvaluation, error) {
	unlock, err := c.locker.Lock(ctx, lock.SubmissionKey(submissionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	evals, err := c.store.ListSubmissionEvaluations(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	for _, e := range evals {
		e, _, err := c.expireIfDue(ctx, e)
		if err != nil {
			return nil, err
		}
		if !lifecycle.Can(e.Status, lifecycle.EventFinalize) {
			continue
		}
		_, err = c.store.UpdateEvaluation(ctx, e.ID, func(cur *model.Evaluation) (*model.Evaluation, error) {
			to, err := lifecycle.Next(cur.Status, lifecycle.EventFinalize)
			if err != nil {
				return nil, err
			}
			cur.Status = to
			return cur, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return c.finalizer.FinalizeLocked(ctx, assignment, submissionID)
}

// CancelAssignment deletes every evaluation and final evaluation of an
// assignment and returns the number of evaluations removed.
func (c *Controller) CancelAssignment(ctx context.Context, assignmentID, actorID string) (int, error) {
	assignment, err := c.directory.GetAssignment(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	if err := c.checkPrivileged(ctx, actorID, assignment); err != nil {
		return 0, err
	}

	unlock, err := c.locker.Lock(ctx, lock.AssignmentKey(assignmentID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	removed, err := c.store.DeleteAssignment(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	logger.WithFields(logrus.Fields{
		"assignmentId": assignmentID,
		"removed":      removed,
	}).Info("assignment cancelled")
	events.Emit(ctx, c.publisher, events.Event{
		Type:         events.TypeAssignmentCancelled,
		AssignmentID: assignmentID,
		Count:        removed,
	})
	return removed, nil
}

// load reads an Evaluation and applies a due expiry.
func (c *Controller) load(ctx context.Context, evaluationID string) (*model.Evaluation, error) {
	e, err := c.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	e, _, err = c.expireIfDue(ctx, e)
	return e, err
}

func (c *Controller) expired(e *model.Evaluation, now time.Time) bool {
	return c.opts.Deadline().Expired(e, now)
}

// expireIfDue moves e to missed when its expiry has passed and reports whether
// it did.
func (c *Controller) expireIfDue(ctx context.Context, e *model.Evaluation) (*model.Evaluation, bool, error) {
	if !c.expired(e, c.now()) {
		return e, false, nil
	}
	updated, err := c.store.UpdateEvaluation(ctx, e.ID, func(cur *model.Evaluation) (*model.Evaluation, error) {
		if !c.expired(cur, c.now()) {
			return nil, errNotDue
		}
		to, err := lifecycle.Next(cur.Status, lifecycle.EventExpire)
		if err != nil {
			return nil, err
		}
		cur.Status = to
		return cur, nil
	})
	if errors.Is(err, errNotDue) {
		current, err := c.store.GetEvaluation(ctx, e.ID)
		return current, false, err
	}
	if err != nil {
		return nil, false, err
	}

	telemetry.RecordUnitMeasurement(ctx, mExpiredCount)
	logger.WithFields(logrus.Fields{
		"assignmentId": updated.AssignmentID,
		"evaluationId": updated.ID,
		"evaluatorId":  updated.EvaluatorID,
	}).Info("evaluation missed its deadline")
	events.Emit(ctx, c.publisher, events.Event{
		Type:         events.TypeEvaluationMissed,
		AssignmentID: updated.AssignmentID,
		SubmissionID: updated.SubmissionID,
		EvaluationID: updated.ID,
		EvaluatorID:  updated.EvaluatorID,
	})
	return updated, true, nil
}

func (c *Controller) role(ctx context.Context, actorID string, assignment *model.Assignment) (model.Role, error) {
	if actorID == "" {
		return "", evalerr.New(evalerr.KindPermission, "actor id is required")
	}
	return c.identity.Role(ctx, actorID, assignment)
}

func (c *Controller) checkPrivileged(ctx context.Context, actorID string, assignment *model.Assignment) error {
	role, err := c.role(ctx, actorID, assignment)
	if err != nil {
		return err
	}
	if !role.Privileged() {
		return evalerr.New(evalerr.KindPermission, "actor %s is not an instructor of assignment %s", actorID, assignment.ID)
	}
	return nil
}

func checkEvaluator(e *model.Evaluation, actorID string) error {
	if actorID == "" || actorID != e.EvaluatorID {
		return evalerr.New(evalerr.KindPermission, "actor %s is not the evaluator of evaluation %s", actorID, e.ID)
	}
	return nil
}
