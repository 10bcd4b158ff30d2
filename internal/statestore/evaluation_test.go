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

package statestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"peereval.dev/peereval/internal/evalerr"
	utilTesting "peereval.dev/peereval/internal/util/testing"
	"peereval.dev/peereval/pkg/model"
)

func newEvaluation(id, assignmentID, submissionID, evaluatorID string) *model.Evaluation {
	return &model.Evaluation{
		ID:            id,
		AssignmentID:  assignmentID,
		SubmissionID:  submissionID,
		EvaluatorID:   evaluatorID,
		SubmitterID:   "author-" + submissionID,
		Status:        model.StatusAssigned,
		MaxTotalScore: 20,
		AssignedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluationLifecycle(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := utilTesting.NewContext(t)

	// Validate that GetEvaluation fails for an Evaluation that does not exist.
	_, err := service.GetEvaluation(ctx, "e1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))

	evals := []*model.Evaluation{
		newEvaluation("e2", "a1", "s1", "u2"),
		newEvaluation("e1", "a1", "s1", "u3"),
		newEvaluation("e3", "a1", "s2", "u1"),
		newEvaluation("e4", "a2", "s9", "u1"),
	}
	require.NoError(service.CreateEvaluations(ctx, evals))
	require.NoError(service.CreateEvaluations(ctx, nil))

	got, err := service.GetEvaluation(ctx, "e1")
	require.NoError(err)
	require.Equal(evals[1], got)

	byAssignment, err := service.ListAssignmentEvaluations(ctx, "a1")
	require.NoError(err)
	require.Equal([]string{"e1", "e2", "e3"}, ids(byAssignment))

	bySubmission, err := service.ListSubmissionEvaluations(ctx, "s1")
	require.NoError(err)
	require.Equal([]string{"e1", "e2"}, ids(bySubmission))

	empty, err := service.ListSubmissionEvaluations(ctx, "unknown")
	require.NoError(err)
	require.Empty(empty)

	some, err := service.GetEvaluations(ctx, []string{"e4", "missing", "e2"})
	require.NoError(err)
	require.Equal([]string{"e2", "e4"}, ids(some))

	assignments, err := service.ListAssignmentIDs(ctx)
	require.NoError(err)
	require.Equal([]string{"a1", "a2"}, assignments)
}

func TestUpdateEvaluation(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := utilTesting.NewContext(t)

	require.NoError(service.CreateEvaluations(ctx, []*model.Evaluation{newEvaluation("e1", "a1", "s1", "u2")}))

	updated, err := service.UpdateEvaluation(ctx, "e1", func(e *model.Evaluation) (*model.Evaluation, error) {
		e.Status = model.StatusInProgress
		return e, nil
	})
	require.NoError(err)
	require.Equal(model.StatusInProgress, updated.Status)
	require.Equal(int64(1), updated.Version)

	stored, err := service.GetEvaluation(ctx, "e1")
	require.NoError(err)
	require.Equal(updated, stored)

	t.Run("callback error leaves the record unchanged", func(t *testing.T) {
		calls := 0
		denied := evalerr.New(evalerr.KindInvalidState, "nope")
		_, err := service.UpdateEvaluation(ctx, "e1", func(e *model.Evaluation) (*model.Evaluation, error) {
			calls++
			e.Status = model.StatusMissed
			return nil, denied
		})
		assert.Equal(t, denied, err)
		assert.Equal(t, 1, calls)

		stored, err := service.GetEvaluation(ctx, "e1")
		require.NoError(err)
		assert.Equal(t, model.StatusInProgress, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("plain callback errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := service.UpdateEvaluation(ctx, "e1", func(e *model.Evaluation) (*model.Evaluation, error) {
			calls++
			return nil, errors.New("boom")
		})
		assert.EqualError(t, err, "PersistenceError: UpdateEvaluation failed after 1 attempts: boom")
		assert.Equal(t, 1, calls)
	})

	t.Run("identity cannot change", func(t *testing.T) {
		_, err := service.UpdateEvaluation(ctx, "e1", func(e *model.Evaluation) (*model.Evaluation, error) {
			e.SubmissionID = "s2"
			return e, nil
		})
		assert.True(t, evalerr.Is(err, evalerr.KindValidation))
	})

	t.Run("missing evaluation", func(t *testing.T) {
		_, err := service.UpdateEvaluation(ctx, "nope", func(e *model.Evaluation) (*model.Evaluation, error) {
			return e, nil
		})
		assert.True(t, evalerr.Is(err, evalerr.KindNotFound))
	})
}

func TestUpdateEvaluationConcurrentWriters(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := utilTesting.NewContext(t)

	require.NoError(service.CreateEvaluations(ctx, []*model.Evaluation{newEvaluation("e1", "a1", "s1", "u2")}))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.UpdateEvaluation(ctx, "e1", func(e *model.Evaluation) (*model.Evaluation, error) {
				e.TotalScore++
				return e, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	stored, err := service.GetEvaluation(ctx, "e1")
	require.NoError(err)
	require.Equal(float64(writers), stored.TotalScore)
	require.Equal(int64(writers), stored.Version)
}

func TestReplaceAssignmentEvaluations(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := utilTesting.NewContext(t)

	require.NoError(service.CreateEvaluations(ctx, []*model.Evaluation{
		newEvaluation("old1", "a1", "s1", "u2"),
		newEvaluation("old2", "a1", "s2", "u1"),
		newEvaluation("other", "a2", "s9", "u1"),
	}))
	require.NoError(service.PutFinalEvaluation(ctx, &model.FinalEvaluation{SubmissionID: "s1", EvaluationIDs: []string{"old1"}}))

	removed, err := service.ReplaceAssignmentEvaluations(ctx, "a1", []*model.Evaluation{
		newEvaluation("new1", "a1", "s1", "u3"),
		newEvaluation("new2", "a1", "s3", "u1"),
	})
	require.NoError(err)
	require.Equal(2, removed)

	evals, err := service.ListAssignmentEvaluations(ctx, "a1")
	require.NoError(err)
	require.Equal([]string{"new1", "new2"}, ids(evals))

	s2, err := service.ListSubmissionEvaluations(ctx, "s2")
	require.NoError(err)
	require.Empty(s2)

	_, err = service.GetEvaluation(ctx, "old1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))
	_, err = service.GetFinalEvaluation(ctx, "s1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))

	other, err := service.ListAssignmentEvaluations(ctx, "a2")
	require.NoError(err)
	require.Equal([]string{"other"}, ids(other))

	_, err = service.ReplaceAssignmentEvaluations(ctx, "a1", []*model.Evaluation{newEvaluation("x", "a2", "s1", "u1")})
	require.True(evalerr.Is(err, evalerr.KindValidation))
}

func TestDeleteAssignment(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := utilTesting.NewContext(t)

	var evals []*model.Evaluation
	for i := 0; i < 5; i++ {
		evals = append(evals, newEvaluation(fmt.Sprintf("e%d", i), "a1", fmt.Sprintf("s%d", i%2), fmt.Sprintf("u%d", i)))
	}
	require.NoError(service.CreateEvaluations(ctx, evals))

	removed, err := service.DeleteAssignment(ctx, "a1")
	require.NoError(err)
	require.Equal(5, removed)

	remaining, err := service.ListAssignmentEvaluations(ctx, "a1")
	require.NoError(err)
	require.Empty(remaining)

	assignments, err := service.ListAssignmentIDs(ctx)
	require.NoError(err)
	require.Empty(assignments)

	removed, err = service.DeleteAssignment(ctx, "a1")
	require.NoError(err)
	require.Zero(removed)
}

func TestFinalEvaluation(t *testing.T) {
	require := require.New(t)
	cfg, _ := createBackend(t)
	service := New(cfg)
	defer service.Close()
	ctx := context.Background()

	require.NoError(service.CreateEvaluations(ctx, []*model.Evaluation{
		newEvaluation("e1", "a1", "s1", "u2"),
		newEvaluation("e2", "a1", "s1", "u3"),
	}))

	_, err := service.GetFinalEvaluation(ctx, "s1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))

	stale := &model.FinalEvaluation{SubmissionID: "s1", AssignmentID: "a1", EvaluationIDs: []string{"e1"}}
	err = service.PutFinalEvaluation(ctx, stale)
	require.True(evalerr.Is(err, evalerr.KindInvalidState))

	final := &model.FinalEvaluation{
		SubmissionID:        "s1",
		AssignmentID:        "a1",
		CompiledScore:       85,
		PerCriterionAverage: map[string]float64{"clarity": 8},
		EvaluatorCount:      2,
		EvaluationIDs:       []string{"e2", "e1"},
		CompiledAt:          time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(service.PutFinalEvaluation(ctx, final))

	got, err := service.GetFinalEvaluation(ctx, "s1")
	require.NoError(err)
	require.Equal(final, got)

	require.NoError(service.DeleteFinalEvaluation(ctx, "s1"))
	require.NoError(service.DeleteFinalEvaluation(ctx, "s1"))
	_, err = service.GetFinalEvaluation(ctx, "s1")
	require.True(evalerr.Is(err, evalerr.KindNotFound))
}

func ids(evals []*model.Evaluation) []string {
	r := make([]string, 0, len(evals))
	for _, e := range evals {
		r = append(r, e.ID)
	}
	return r
}
