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
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/collab/memory"
	"peereval.dev/peereval/internal/events"
	"peereval.dev/peereval/internal/lock"
	"peereval.dev/peereval/internal/statestore"
	statestoreTesting "peereval.dev/peereval/internal/statestore/testing"
	utilTesting "peereval.dev/peereval/internal/util/testing"
	"peereval.dev/peereval/pkg/model"
)

type fixture struct {
	store      statestore.Service
	pool       *memory.Store
	finalizer  *Finalizer
	assignment *model.Assignment
}

func newFixture(t *testing.T, opts Options) *fixture {
	cfg := viper.New()
	store, closer := statestoreTesting.NewStoreServiceForTesting(t, cfg)
	t.Cleanup(closer)

	pool := memory.New()
	a := &model.Assignment{ID: "a1", TotalPoints: 50}
	pool.PutAssignment(a)
	pool.PutSubmission(model.Submission{ID: "s1", AssignmentID: "a1", AuthorID: "u1", Status: "submitted"})

	f := New(store, lock.NewLocal(cfg), pool, events.LogPublisher{}, opts)
	f.now = func() time.Time { return compiledAt }
	return &fixture{store: store, pool: pool, finalizer: f, assignment: a}
}

func TestFinalizeWaitsForPendingEvaluations(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)

	pending := scored("e2", 0, 0, 100)
	pending.Status = model.StatusInProgress
	require.NoError(fx.store.CreateEvaluations(ctx, []*model.Evaluation{scored("e1", 40, 40, 100), pending}))

	final, err := fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.Nil(final)

	missed := pending.Clone()
	missed.Status = model.StatusMissed
	_, err = fx.store.ReplaceAssignmentEvaluations(ctx, "a1", []*model.Evaluation{scored("e1", 40, 40, 100), missed})
	require.NoError(err)
	final, err = fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.Nil(final, "missed evaluations block finalization")

	final, err = fx.finalizer.Recompute(ctx, fx.assignment, "unknown")
	require.NoError(err)
	require.Nil(final)
}

func TestFinalizeWritesOnceAndFlagsOutliers(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)

	require.NoError(fx.store.CreateEvaluations(ctx, []*model.Evaluation{
		scored("e1", 40, 40, 100),
		scored("e2", 41, 41, 100),
		scored("e3", 42, 42, 100),
		scored("e4", 43, 43, 100),
		scored("e5", 44, 44, 100),
		scored("e6", 10, 10, 100),
	}))

	final, err := fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.NotNil(final)
	require.Equal(float64(42), final.CompiledScore)
	require.Equal([]string{"e6"}, final.OutlierEvaluationIDs)

	stored, err := fx.store.GetFinalEvaluation(ctx, "s1")
	require.NoError(err)
	require.Equal(final, stored)

	outlier, err := fx.store.GetEvaluation(ctx, "e6")
	require.NoError(err)
	require.True(outlier.QualityFlags.NeedsReview)
	require.NotEmpty(outlier.QualityFlags.ReviewNotes)

	sub, ok := fx.pool.Submission("s1")
	require.True(ok)
	require.Equal(collab.SubmissionStatusEvaluated, sub.Status)

	// A re-run over the unchanged set returns the stored result untouched.
	fx.finalizer.now = func() time.Time { return compiledAt.Add(time.Hour) }
	again, err := fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.Equal(final, again)
}

func TestFinalizeRecomputesAfterScoreChange(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, defaultOptions())
	ctx := utilTesting.NewContext(t)

	require.NoError(fx.store.CreateEvaluations(ctx, []*model.Evaluation{scored("e1", 40, 40, 100), scored("e2", 30, 30, 100)}))
	first, err := fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.Equal(float64(35), first.CompiledScore)

	_, err = fx.store.UpdateEvaluation(ctx, "e2", func(e *model.Evaluation) (*model.Evaluation, error) {
		e.Scores[0].Score = 40
		e.Scores[1].Score = 40
		e.TotalScore = 80
		return e, nil
	})
	require.NoError(err)

	second, err := fx.finalizer.Recompute(ctx, fx.assignment, "s1")
	require.NoError(err)
	require.Equal(float64(40), second.CompiledScore)
	require.NotEqual(first.Fingerprint, second.Fingerprint)

	require.NoError(fx.finalizer.Discard(ctx, "s1"))
	_, err = fx.store.GetFinalEvaluation(ctx, "s1")
	require.Error(err)
}
