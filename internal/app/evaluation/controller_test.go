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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"peereval.dev/peereval/internal/app/finalize"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/collab/memory"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/events"
	"peereval.dev/peereval/internal/lock"
	"peereval.dev/peereval/internal/statestore"
	statestoreTesting "peereval.dev/peereval/internal/statestore/testing"
	utilTesting "peereval.dev/peereval/internal/util/testing"
	"peereval.dev/peereval/pkg/model"
)

var due = time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error {
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store      statestore.Service
	backend    *memory.Store
	events     *recorder
	controller *Controller
	clock      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	cfg := viper.New()
	store, closer := statestoreTesting.NewStoreServiceForTesting(t, cfg)
	t.Cleanup(closer)

	backend := memory.New()
	backend.PutAssignment(&model.Assignment{
		ID:          "a1",
		CourseID:    "c1",
		OwnerID:     "prof",
		TotalPoints: 50,
		Settings: model.PeerEvaluationSettings{
			EvaluationsPerSubmission: 3,
			MaxEvaluationsPerStudent: 3,
			AnonymousEvaluation:      true,
			RequireEvaluatorComments: true,
			MinCommentLength:         10,
			EvaluationDeadline:       due,
		},
		Criteria: []model.GradingCriterion{
			{Name: "clarity", MaxPoints: 10},
			{Name: "correctness", MaxPoints: 10},
			{Name: "style", MaxPoints: 5, Optional: true},
		},
	})
	backend.PutSubmission(model.Submission{ID: "s1", AssignmentID: "a1", AuthorID: "u1", Status: "submitted"})
	backend.PutSubmission(model.Submission{ID: "s2", AssignmentID: "a1", AuthorID: "u2", Status: "submitted"})
	backend.AddInstructor("c1", "ta")

	rec := &recorder{}
	locker := lock.NewLocal(cfg)
	finalizer := finalize.New(store, locker, backend, rec, finalize.Options{OutlierThreshold: 2, MinEvaluators: 3})
	fx := &fixture{store: store, backend: backend, events: rec, clock: due.Add(-24 * time.Hour)}
	fx.controller = New(store, locker, backend, finalizer, rec, opts)
	fx.controller.now = func() time.Time { return fx.clock }
	return fx
}

func defaultOptions() Options {
	return Options{LateWindow: 72 * time.Hour, SweepConcurrency: 2}
}

// assign stores one assigned evaluation of submissionID per evaluator, with
// ids <submissionID>-<evaluator>.
func (fx *fixture) assign(t *testing.T, submissionID, author string, evaluators ...string) []*model.Evaluation {
	evals := make([]*model.Evaluation, 0, len(evaluators))
	for _, evaluator := range evaluators {
		evals = append(evals, &model.Evaluation{
			ID:            fmt.Sprintf("%s-%s", submissionID, evaluator),
			AssignmentID:  "a1",
			SubmissionID:  submissionID,
			EvaluatorID:   evaluator,
			SubmitterID:   author,
			Status:        model.StatusAssigned,
			MaxTotalScore: 25,
			IsAnonymous:   true,
			AssignedAt:    due.Add(-7 * 24 * time.Hour),
			DueDate:       due,
			Version:       1,
		})
	}
	require.NoError(t, fx.store.CreateEvaluations(utilTesting.NewContext(t), evals))
	return evals
}

func answer(clarity, correctness float64) SubmitRequest {
	return SubmitRequest{
		Scores: []model.Score{
			{CriteriaName: "clarity", Score: clarity},
			{CriteriaName: "correctness", Score: correctness},
		},
		Feedback: "clear structure, minor slips",
	}
}

func ptr(f float64) *float64 {
	return &f
}

func TestStart(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2", "u3")

	_, err := fx.controller.Start(ctx, "s1-u2", "u3")
	require.True(evalerr.Is(err, evalerr.KindPermission), "%v", err)

	e, err := fx.controller.Start(ctx, "s1-u2", "u2")
	require.NoError(err)
	require.Equal(model.StatusInProgress, e.Status)
	require.Equal(fx.clock, *e.StartedAt)
	require.Equal(int64(2), e.Version)

	_, err = fx.controller.Start(ctx, "s1-u2", "u2")
	require.True(evalerr.Is(err, evalerr.KindInvalidState), "%v", err)

	fx.clock = due.Add(time.Minute)
	_, err = fx.controller.Start(ctx, "s1-u3", "u3")
	require.True(evalerr.Is(err, evalerr.KindDeadlineExceeded), "%v", err)

	_, err = fx.controller.Start(ctx, "missing", "u3")
	require.True(evalerr.Is(err, evalerr.KindNotFound), "%v", err)
}

func TestSubmitValidation(t *testing.T) {
	testCases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing required criterion", SubmitRequest{Scores: []model.Score{{CriteriaName: "clarity", Score: 8}}, Feedback: "long enough feedback"}},
		{"score above maximum", answer(11, 9)},
		{"negative score", answer(-1, 9)},
		{"unknown criterion", SubmitRequest{Scores: append(answer(8, 9).Scores, model.Score{CriteriaName: "humor", Score: 1}), Feedback: "long enough feedback"}},
		{"duplicate criterion", SubmitRequest{Scores: append(answer(8, 9).Scores, model.Score{CriteriaName: "clarity", Score: 1}), Feedback: "long enough feedback"}},
		{"total mismatch", SubmitRequest{Scores: answer(8, 9).Scores, TotalScore: ptr(18), Feedback: "long enough feedback"}},
		{"max total mismatch", SubmitRequest{Scores: answer(8, 9).Scores, MaxTotalScore: ptr(20), Feedback: "long enough feedback"}},
		{"short feedback", SubmitRequest{Scores: answer(8, 9).Scores, Feedback: "  ok   "}},
	}

	fx := newFixture(t, defaultOptions())
	fx.assign(t, "s1", "u1", "u2")
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := utilTesting.NewContext(t)
			_, err := fx.controller.Submit(ctx, "s1-u2", "u2", tc.req)
			require.True(t, evalerr.Is(err, evalerr.KindValidation), "%v", err)

			stored, err := fx.store.GetEvaluation(ctx, "s1-u2")
			require.NoError(t, err)
			require.Equal(t, model.StatusAssigned, stored.Status)
			require.Equal(t, int64(1), stored.Version)
		})
	}
}

func TestSubmit(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2")

	_, err := fx.controller.Submit(ctx, "s1-u2", "u1", answer(8, 9))
	require.True(evalerr.Is(err, evalerr.KindPermission), "%v", err)

	req := answer(8, 9)
	req.TotalScore = ptr(17)
	req.MaxTotalScore = ptr(25)
	req.Grade = "B+"
	e, err := fx.controller.Submit(ctx, "s1-u2", "u2", req)
	require.NoError(err)
	require.Equal(model.StatusSubmitted, e.Status)
	require.Equal(17.0, e.TotalScore)
	require.Equal(25.0, e.MaxTotalScore)
	require.Equal("B+", e.Grade)
	require.False(e.IsLate)
	require.Equal([]model.Score{
		{CriteriaName: "clarity", Score: 8, MaxScore: 10},
		{CriteriaName: "correctness", Score: 9, MaxScore: 10},
	}, e.Scores)
	require.Equal(1, fx.events.count(events.TypeEvaluationSubmitted))

	before, err := fx.store.GetEvaluation(ctx, "s1-u2")
	require.NoError(err)
	_, err = fx.controller.Submit(ctx, "s1-u2", "u2", answer(1, 1))
	require.True(evalerr.Is(err, evalerr.KindInvalidState), "%v", err)
	after, err := fx.store.GetEvaluation(ctx, "s1-u2")
	require.NoError(err)
	require.Equal(before, after)
}

func TestSubmitFinalizesCompleteSubmission(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2", "u3", "u4")

	for _, evaluator := range []string{"u2", "u3"} {
		_, err := fx.controller.Submit(ctx, "s1-"+evaluator, evaluator, answer(8, 9))
		require.NoError(err)
		_, err = fx.controller.GetFinalEvaluation(ctx, "s1")
		require.True(evalerr.Is(err, evalerr.KindNotFound), "%v", err)
	}

	_, err := fx.controller.Submit(ctx, "s1-u4", "u4", answer(8, 9))
	require.NoError(err)
	final, err := fx.controller.GetFinalEvaluation(ctx, "s1")
	require.NoError(err)
	require.Equal(3, final.EvaluatorCount)
	require.InDelta(68.0, final.CompiledPercentage, 1e-9)
	require.InDelta(34.0, final.CompiledScore, 1e-9)
	require.Empty(final.OutlierEvaluationIDs)

	sub, ok := fx.backend.Submission("s1")
	require.True(ok)
	require.Equal(collab.SubmissionStatusEvaluated, sub.Status)
	require.Equal(1, fx.events.count(events.TypeSubmissionFinalized))
}

func TestConcurrentSubmitsFinalizeOnce(t *testing.T) {
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	evaluators := []string{"u2", "u3", "u4", "u5"}
	fx.assign(t, "s1", "u1", evaluators...)

	var wg sync.WaitGroup
	errs := make([]error, len(evaluators))
	for i, evaluator := range evaluators {
		wg.Add(1)
		go func(i int, evaluator string) {
			defer wg.Done()
			_, errs[i] = fx.controller.Submit(ctx, "s1-"+evaluator, evaluator, answer(7, 9))
		}(i, evaluator)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	final, err := fx.controller.GetFinalEvaluation(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 4, final.EvaluatorCount)
	require.Equal(t, 1, fx.events.count(events.TypeSubmissionFinalized))
}

func TestLateSubmissions(t *testing.T) {
	t.Run("accepted with flag", func(t *testing.T) {
		fx := newFixture(t, defaultOptions())
		ctx := utilTesting.NewContext(t)
		fx.assign(t, "s1", "u1", "u2")

		fx.clock = due.Add(time.Hour)
		e, err := fx.controller.Submit(ctx, "s1-u2", "u2", answer(8, 9))
		require.NoError(t, err)
		require.True(t, e.IsLate)
	})

	t.Run("rejected by policy", func(t *testing.T) {
		opts := defaultOptions()
		opts.RejectLate = true
		fx := newFixture(t, opts)
		ctx := utilTesting.NewContext(t)
		fx.assign(t, "s1", "u1", "u2")

		fx.clock = due.Add(time.Hour)
		_, err := fx.controller.Submit(ctx, "s1-u2", "u2", answer(8, 9))
		require.True(t, evalerr.Is(err, evalerr.KindDeadlineExceeded), "%v", err)

		stored, err := fx.store.GetEvaluation(ctx, "s1-u2")
		require.NoError(t, err)
		require.Equal(t, model.StatusMissed, stored.Status)
	})

	t.Run("expired after the late window", func(t *testing.T) {
		fx := newFixture(t, defaultOptions())
		ctx := utilTesting.NewContext(t)
		fx.assign(t, "s1", "u1", "u2")

		fx.clock = due.Add(73 * time.Hour)
		_, err := fx.controller.Submit(ctx, "s1-u2", "u2", answer(8, 9))
		require.True(t, evalerr.Is(err, evalerr.KindDeadlineExceeded), "%v", err)
		require.Equal(t, 1, fx.events.count(events.TypeEvaluationMissed))
	})
}

func TestExpire(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2")

	_, err := fx.controller.Expire(ctx, "s1-u2")
	require.True(evalerr.Is(err, evalerr.KindInvalidState), "%v", err)

	fx.clock = due.Add(100 * time.Hour)
	e, err := fx.controller.Expire(ctx, "s1-u2")
	require.NoError(err)
	require.Equal(model.StatusMissed, e.Status)

	e, err = fx.controller.Expire(ctx, "s1-u2")
	require.NoError(err)
	require.Equal(model.StatusMissed, e.Status)
	require.Equal(1, fx.events.count(events.TypeEvaluationMissed))
}

func TestReview(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2", "u3")

	_, err := fx.controller.Review(ctx, "s1-u2", "ta", true, "")
	require.True(evalerr.Is(err, evalerr.KindInvalidState), "%v", err)

	_, err = fx.controller.Submit(ctx, "s1-u2", "u2", answer(8, 9))
	require.NoError(err)
	_, err = fx.controller.Review(ctx, "s1-u2", "u3", true, "")
	require.True(evalerr.Is(err, evalerr.KindPermission), "%v", err)

	e, err := fx.controller.Review(ctx, "s1-u2", "ta", false, "please justify the correctness score")
	require.NoError(err)
	require.Equal(model.StatusSubmitted, e.Status)
	require.True(e.QualityFlags.NeedsReview)
	require.Equal("please justify the correctness score", e.QualityFlags.ReviewNotes)

	e, err = fx.controller.Review(ctx, "s1-u2", "prof", true, "fine")
	require.NoError(err)
	require.Equal(model.StatusReviewed, e.Status)
	require.False(e.QualityFlags.NeedsReview)
	require.NotNil(e.ReviewedAt)

	_, err = fx.controller.Review(ctx, "s1-u2", "prof", false, "")
	require.True(evalerr.Is(err, evalerr.KindInvalidState), "%v", err)
	require.Equal(2, fx.events.count(events.TypeEvaluationReviewed))
}

func TestReviewRecomputesFinalEvaluation(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)
	fx.assign(t, "s1", "u1", "u2", "u3")

	for _, evaluator := range []string{"u2", "u3"} {
		_, err := fx.controller.Submit(ctx, "s1-"+evaluator, evaluator, answer(8, 9))
		require.NoError(err)
	}
	first, err := fx.controller.GetFinalEvaluation(ctx, "s1")
	require.NoError(err)

	_, err = fx.controller.Review(ctx, "s1-u2", "ta", true, "")
	require.NoError(err)
	second, err := fx.controller.GetFinalEvaluation(ctx, "s1")
	require.NoError(err)
	require.Equal(first, second)
	require.Equal(1, fx.events.count(events.TypeSubmissionFinalized))
}
