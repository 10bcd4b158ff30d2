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
	"sort"

	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

// GetEvaluation returns an evaluation as actorID may see it. Instructors and
// the evaluator see everything; the submission owner sees an anonymized copy
// when the evaluation is anonymous.
func (c *Controller) GetEvaluation(ctx context.Context, evaluationID, actorID string) (*model.Evaluation, error) {
	e, err := c.load(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	privileged, err := c.isPrivileged(ctx, actorID, e.AssignmentID)
	if err != nil {
		return nil, err
	}
	view, ok := project(e, actorID, privileged)
	if !ok {
		return nil, evalerr.New(evalerr.KindPermission, "actor %s may not view evaluation %s", actorID, evaluationID)
	}
	return view, nil
}

// ListSubmissionEvaluations returns the evaluations of a submission visible
// to actorID, projected the same way as GetEvaluation.
func (c *Controller) ListSubmissionEvaluations(ctx context.Context, submissionID, actorID string) ([]*model.Evaluation, error) {
	evals, err := c.store.ListSubmissionEvaluations(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	r := []*model.Evaluation{}
	if len(evals) == 0 {
		return r, nil
	}
	privileged, err := c.isPrivileged(ctx, actorID, evals[0].AssignmentID)
	if err != nil {
		return nil, err
	}
	for _, e := range evals {
		e, _, err := c.expireIfDue(ctx, e)
		if err != nil {
			return nil, err
		}
		if view, ok := project(e, actorID, privileged); ok {
			r = append(r, view)
		}
	}
	if len(r) == 0 {
		return nil, evalerr.New(evalerr.KindPermission, "actor %s may not view the evaluations of submission %s", actorID, submissionID)
	}
	return r, nil
}

// GetAssignmentEvaluationStatus counts the evaluations of an assignment by
// status and reports the completion of every submission.
func (c *Controller) GetAssignmentEvaluationStatus(ctx context.Context, assignmentID string) (*model.AssignmentEvaluationStatus, error) {
	if _, err := c.directory.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	evals, err := c.store.ListAssignmentEvaluations(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	status := &model.AssignmentEvaluationStatus{
		AssignmentID:            assignmentID,
		ByStatus:                make(map[model.Status]int, len(model.AllStatuses)),
		PerSubmissionCompletion: map[string]model.SubmissionCompletion{},
	}
	for _, s := range model.AllStatuses {
		status.ByStatus[s] = 0
	}
	for _, e := range evals {
		e, _, err := c.expireIfDue(ctx, e)
		if err != nil {
			return nil, err
		}
		status.Total++
		status.ByStatus[e.Status]++
		completion := status.PerSubmissionCompletion[e.SubmissionID]
		completion.Total++
		if e.Status.Completed() {
			completion.Completed++
		}
		status.PerSubmissionCompletion[e.SubmissionID] = completion
	}
	for sid, completion := range status.PerSubmissionCompletion {
		_, err := c.store.GetFinalEvaluation(ctx, sid)
		switch {
		case err == nil:
			completion.Finalized = true
		case !evalerr.Is(err, evalerr.KindNotFound):
			return nil, err
		}
		status.PerSubmissionCompletion[sid] = completion
	}
	return status, nil
}

// GetFinalEvaluation returns the FinalEvaluation of a submission or NotFound.
func (c *Controller) GetFinalEvaluation(ctx context.Context, submissionID string) (*model.FinalEvaluation, error) {
	return c.store.GetFinalEvaluation(ctx, submissionID)
}

func (c *Controller) isPrivileged(ctx context.Context, actorID, assignmentID string) (bool, error) {
	assignment, err := c.directory.GetAssignment(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	role, err := c.role(ctx, actorID, assignment)
	if err != nil {
		return false, err
	}
	return role.Privileged(), nil
}

// project returns e as actorID may see it, or false if the actor may not see
// it at all. Anonymity hides evaluator identities from the submission owner
// only; the stored record is never changed.
func project(e *model.Evaluation, actorID string, privileged bool) (*model.Evaluation, bool) {
	switch {
	case privileged, actorID == e.EvaluatorID:
		return e, true
	case actorID != e.SubmitterID:
		return nil, false
	case !e.IsAnonymous:
		return e, true
	}
	view := e.Clone()
	view.EvaluatorID = ""
	for i := range view.Reassignments {
		view.Reassignments[i].FromEvaluatorID = ""
		view.Reassignments[i].ToEvaluatorID = ""
	}
	return view, true
}

func submissionIDs(evals []*model.Evaluation) []string {
	seen := map[string]bool{}
	r := []string{}
	for _, e := range evals {
		if !seen[e.SubmissionID] {
			seen[e.SubmissionID] = true
			r = append(r, e.SubmissionID)
		}
	}
	sort.Strings(r)
	return r
}
