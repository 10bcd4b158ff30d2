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

package finalize

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/events"
	"peereval.dev/peereval/internal/lock"
	"peereval.dev/peereval/internal/statestore"
	"peereval.dev/peereval/internal/telemetry"
	"peereval.dev/peereval/pkg/model"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "app.finalize",
	})
	mFinalizationCount = telemetry.Counter("finalize/finalizationcount", "final evaluations written")
	mOutlierCount      = telemetry.Counter("finalize/outliercount", "evaluations excluded as outliers")
	mDegenerateCount   = telemetry.Counter("finalize/degeneratecount", "finalizations that fell back to the plain mean")
)

// Finalizer writes FinalEvaluations once a submission's evaluation set is complete.
type Finalizer struct {
	store     statestore.Service
	locker    lock.Locker
	pool      collab.SubmissionPool
	publisher events.Publisher
	opts      Options
	now       func() time.Time
}

// New creates a Finalizer.
func New(store statestore.Service, locker lock.Locker, pool collab.SubmissionPool, publisher events.Publisher, opts Options) *Finalizer {
	return &Finalizer{
		store:     store,
		locker:    locker,
		pool:      pool,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Recompute takes the submission lock and runs FinalizeLocked.
func (f *Finalizer) Recompute(ctx context.Context, assignment *model.Assignment, submissionID string) (*model.FinalEvaluation, error) {
	unlock, err := f.locker.Lock(ctx, lock.SubmissionKey(submissionID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return f.FinalizeLocked(ctx, assignment, submissionID)
}

// FinalizeLocked compiles and stores the FinalEvaluation of a submission when
// every one of its Evaluations is completed. It returns nil while evaluations
// are still pending. Callers must hold lock.SubmissionKey(submissionID).
//
// Re-running over an unchanged evaluation set returns the stored result
// without rewriting it, so the completion hook fires once per distinct set.
func (f *Finalizer) FinalizeLocked(ctx context.Context, assignment *model.Assignment, submissionID string) (*model.FinalEvaluation, error) {
	evals, err := f.store.ListSubmissionEvaluations(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if len(evals) == 0 {
		return nil, nil
	}
	for _, e := range evals {
		if !e.Status.Completed() {
			return nil, nil
		}
	}

	existing, err := f.store.GetFinalEvaluation(ctx, submissionID)
	if err != nil && !evalerr.Is(err, evalerr.KindNotFound) {
		return nil, err
	}
	if existing != nil && existing.Fingerprint == Fingerprint(evals) {
		return existing, nil
	}

	final := Compile(assignment, evals, f.opts, f.now())
	if err := f.flagOutliers(ctx, final); err != nil {
		return nil, err
	}
	if err := f.store.PutFinalEvaluation(ctx, final); err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mFinalizationCount)
	telemetry.RecordNUnitMeasurement(ctx, mOutlierCount, int64(len(final.OutlierEvaluationIDs)))
	entry := logger.WithFields(logrus.Fields{
		"assignmentId":  final.AssignmentID,
		"submissionId":  submissionID,
		"compiledScore": final.CompiledScore,
		"outliers":      len(final.OutlierEvaluationIDs),
	})
	if final.NeedsReview {
		telemetry.RecordUnitMeasurement(ctx, mDegenerateCount)
		entry.Warning("every evaluation was an outlier, final evaluation flagged for review")
	} else {
		entry.Info("submission finalized")
	}

	if existing == nil {
		if err := f.pool.MarkEvaluated(ctx, submissionID); err != nil {
			entry.WithError(err).Warning("submission pool rejected the evaluated status update")
		}
	}
	events.Emit(ctx, f.publisher, events.Event{
		Type:         events.TypeSubmissionFinalized,
		AssignmentID: final.AssignmentID,
		SubmissionID: submissionID,
		Count:        final.EvaluatorCount,
		Score:        final.CompiledScore,
	})
	return final, nil
}

func (f *Finalizer) flagOutliers(ctx context.Context, final *model.FinalEvaluation) error {
	note := fmt.Sprintf("score deviates from peers by more than %gσ", f.opts.OutlierThreshold)
	if final.NeedsReview {
		note = "every evaluation of this submission deviates from its peers"
	}
	for _, id := range final.OutlierEvaluationIDs {
		_, err := f.store.UpdateEvaluation(ctx, id, func(e *model.Evaluation) (*model.Evaluation, error) {
			e.QualityFlags.NeedsReview = true
			if e.QualityFlags.ReviewNotes == "" {
				e.QualityFlags.ReviewNotes = note
			}
			return e, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Discard removes the FinalEvaluation of a submission whose evaluation set is
// no longer complete.
func (f *Finalizer) Discard(ctx context.Context, submissionID string) error {
	return f.store.DeleteFinalEvaluation(ctx, submissionID)
}
