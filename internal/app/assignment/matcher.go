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

package assignment

import (
	"context"
	"sort"
	"time"

	"github.com/rs/xid"
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
		"component": "app.assignment",
	})
	mMatchCount         = telemetry.Counter("assignment/matchcount", "matcher runs that created evaluations")
	mCreatedEvaluations = telemetry.Counter("assignment/createdevaluations", "evaluations created by the matcher")
	mCancelledCount     = telemetry.Counter("assignment/cancelledevaluations", "evaluations removed by forced re-runs")
	mUnderAssignedCount = telemetry.Counter("assignment/underassigned", "submissions left under-assigned")
)

// Matcher runs the Assignment Matcher against the collaborators and the store.
type Matcher struct {
	store     statestore.Service
	locker    lock.Locker
	directory collab.AssignmentDirectory
	pool      collab.SubmissionPool
	identity  collab.IdentityService
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

// New creates a Matcher.
func New(store statestore.Service, locker lock.Locker, backend collab.Backend, publisher events.Publisher) *Matcher {
	return &Matcher{
		store:     store,
		locker:    locker,
		directory: backend,
		pool:      backend,
		identity:  backend,
		publisher: publisher,
		now:       time.Now,
		newID:     func() string { return xid.New().String() },
	}
}

// TriggerAssignment matches evaluators to every eligible submission of an
// assignment and stores the resulting Evaluations.
//
// A run over an assignment with active evaluations fails with
// AlreadyAssigned unless force is set, in which case every stored evaluation
// of the assignment is replaced by the new plan in one transaction. When only
// terminal evaluations exist the run is additive and never repeats a pair.
// Submissions the plan could not fully cover are listed in the feasibility
// report and do not fail the run.
func (m *Matcher) TriggerAssignment(ctx context.Context, actorID, assignmentID string, override *model.SettingsOverride, force bool) (*model.AssignmentResult, error) {
	assignment, err := m.directory.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	role, err := m.identity.Role(ctx, actorID, assignment)
	if err != nil {
		return nil, err
	}
	if !role.Privileged() {
		return nil, evalerr.New(evalerr.KindPermission, "actor %s may not assign evaluators for assignment %s", actorID, assignmentID)
	}

	settings := override.Apply(assignment.Settings)
	if settings.EvaluationDeadline.IsZero() {
		return nil, evalerr.New(evalerr.KindConfiguration, "assignment %s has no evaluation deadline", assignmentID)
	}

	unlock, err := m.locker.Lock(ctx, lock.AssignmentKey(assignmentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := m.store.ListAssignmentEvaluations(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, e := range stored {
		if !e.Status.Terminal() {
			active++
		}
	}
	if active > 0 && !force {
		return nil, evalerr.New(evalerr.KindAlreadyAssigned, "assignment %s already has %d active evaluations", assignmentID, active)
	}

	submissions, err := m.pool.ListSubmissions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	existing := stored
	if force {
		existing = nil
	}
	plan, report, err := Plan(assignmentID, submissions, settings, existing)
	if err != nil {
		return nil, err
	}

	created := m.evaluations(assignment, settings, submissions, plan)
	cancelled := 0
	if force && len(stored) > 0 {
		cancelled, err = m.store.ReplaceAssignmentEvaluations(ctx, assignmentID, created)
	} else {
		err = m.store.CreateEvaluations(ctx, created)
	}
	if err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mMatchCount)
	telemetry.RecordNUnitMeasurement(ctx, mCreatedEvaluations, int64(len(created)))
	telemetry.RecordNUnitMeasurement(ctx, mCancelledCount, int64(cancelled))
	telemetry.RecordNUnitMeasurement(ctx, mUnderAssignedCount, int64(len(report.UnderAssigned)))
	entry := logger.WithFields(logrus.Fields{
		"assignmentId": assignmentID,
		"created":      len(created),
		"cancelled":    cancelled,
		"force":        force,
	})
	if report.Feasible() {
		entry.Info("evaluators assigned")
	} else {
		entry.WithField("underAssigned", len(report.UnderAssigned)).Warning("evaluators assigned with partial coverage")
	}
	events.Emit(ctx, m.publisher, events.Event{
		Type:         events.TypeAssignmentMatched,
		AssignmentID: assignmentID,
		Count:        len(created),
	})

	return &model.AssignmentResult{
		CreatedEvaluations: created,
		FeasibilityReport:  report,
		Plan:               plan,
		CancelledCount:     cancelled,
	}, nil
}

// evaluations turns a plan into assigned Evaluations, ordered by submission
// and then evaluator.
func (m *Matcher) evaluations(assignment *model.Assignment, settings model.PeerEvaluationSettings, submissions []model.Submission, plan *model.AssignmentPlan) []*model.Evaluation {
	authors := make(map[string]string, len(submissions))
	for _, s := range submissions {
		authors[s.ID] = s.AuthorID
	}
	bySubmission := map[string][]string{}
	for evaluator, subs := range plan.Pairs {
		for _, sid := range subs {
			bySubmission[sid] = append(bySubmission[sid], evaluator)
		}
	}
	sids := make([]string, 0, len(bySubmission))
	for sid := range bySubmission {
		sids = append(sids, sid)
	}
	sort.Strings(sids)

	now := m.now().UTC()
	maxTotal := assignment.MaxTotalScore()
	rules := settings.PairingRules()
	r := make([]*model.Evaluation, 0, len(sids)*settings.EvaluationsPerSubmission)
	for _, sid := range sids {
		evaluators := bySubmission[sid]
		sort.Strings(evaluators)
		for _, evaluator := range evaluators {
			rules := rules
			r = append(r, &model.Evaluation{
				ID:            m.newID(),
				AssignmentID:  assignment.ID,
				SubmissionID:  sid,
				EvaluatorID:   evaluator,
				SubmitterID:   authors[sid],
				Status:        model.StatusAssigned,
				MaxTotalScore: maxTotal,
				IsAnonymous:   settings.AnonymousEvaluation,
				AssignedAt:    now,
				DueDate:       settings.EvaluationDeadline.UTC(),
				Rules:         &rules,
				Version:       1,
			})
		}
	}
	return r
}
