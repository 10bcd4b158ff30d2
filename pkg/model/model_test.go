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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClassification(t *testing.T) {
	testCases := []struct {
		status    Status
		terminal  bool
		pending   bool
		completed bool
	}{
		{StatusAssigned, false, true, false},
		{StatusInProgress, false, true, false},
		{StatusSubmitted, false, false, true},
		{StatusReviewed, false, false, true},
		{StatusFinalized, true, false, true},
		{StatusMissed, true, false, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.terminal, tc.status.Terminal())
			assert.Equal(t, tc.pending, tc.status.Pending())
			assert.Equal(t, tc.completed, tc.status.Completed())
		})
	}
}

func TestSettingsOverrideApply(t *testing.T) {
	base := PeerEvaluationSettings{
		EvaluationsPerSubmission: 3,
		MaxEvaluationsPerStudent: 3,
		AnonymousEvaluation:      true,
	}
	k := 2
	self := true
	deadline := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	var nilOverride *SettingsOverride
	assert.Equal(t, base, nilOverride.Apply(base))

	got := (&SettingsOverride{
		EvaluationsPerSubmission: &k,
		AllowSelfEvaluation:      &self,
		EvaluationDeadline:       &deadline,
	}).Apply(base)
	assert.Equal(t, 2, got.EvaluationsPerSubmission)
	assert.Equal(t, 3, got.MaxEvaluationsPerStudent)
	assert.True(t, got.AllowSelfEvaluation)
	assert.True(t, got.AnonymousEvaluation)
	assert.Equal(t, deadline, got.EvaluationDeadline)
}

func TestEvaluationCloneIsDeep(t *testing.T) {
	require := require.New(t)
	started := time.Now()
	e := &Evaluation{
		ID:        "e1",
		Scores:    []Score{{CriteriaName: "clarity", Score: 8, MaxScore: 10}},
		StartedAt: &started,
	}

	c := e.Clone()
	c.Scores[0].Score = 1
	*c.StartedAt = started.Add(time.Hour)

	require.Equal(float64(8), e.Scores[0].Score)
	require.Equal(started, *e.StartedAt)
	require.Nil((*Evaluation)(nil).Clone())
}

func TestEvaluationPercentage(t *testing.T) {
	assert.Equal(t, float64(85), (&Evaluation{TotalScore: 17, MaxTotalScore: 20}).Percentage())
	assert.Equal(t, float64(0), (&Evaluation{TotalScore: 17}).Percentage())
}

func TestAssignmentMaxTotalScore(t *testing.T) {
	a := &Assignment{TotalPoints: 50}
	assert.Equal(t, 50.0, a.MaxTotalScore())
	a.Criteria = []GradingCriterion{{Name: "clarity", MaxPoints: 10}, {Name: "correctness", MaxPoints: 10}}
	assert.Equal(t, 20.0, a.MaxTotalScore())
}
