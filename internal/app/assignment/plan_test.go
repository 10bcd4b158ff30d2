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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

func submissions(authors, perAuthor int) []model.Submission {
	var r []model.Submission
	for i := 0; i < authors; i++ {
		for j := 0; j < perAuthor; j++ {
			r = append(r, model.Submission{
				ID:           fmt.Sprintf("s%02d-%d", i, j),
				AssignmentID: "a1",
				AuthorID:     fmt.Sprintf("u%02d", i),
				Status:       "submitted",
			})
		}
	}
	return r
}

func settings(k, m int) model.PeerEvaluationSettings {
	return model.PeerEvaluationSettings{
		EvaluationsPerSubmission: k,
		MaxEvaluationsPerStudent: m,
		EvaluationDeadline:       time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

// bySubmission inverts a plan.
func bySubmission(plan *model.AssignmentPlan) map[string][]string {
	r := map[string][]string{}
	for evaluator, subs := range plan.Pairs {
		for _, sid := range subs {
			r[sid] = append(r[sid], evaluator)
		}
	}
	return r
}

func TestPlanSixSubmissions(t *testing.T) {
	require := require.New(t)
	subs := submissions(6, 1)
	plan, report, err := Plan("essay-1", subs, settings(2, 3), nil)
	require.NoError(err)
	require.True(report.Feasible())
	require.Empty(report.UnderAssigned)

	total := 0
	for evaluator, assigned := range plan.Pairs {
		require.Len(assigned, 2, "evaluator %s", evaluator)
		total += len(assigned)
	}
	require.Len(plan.Pairs, 6)
	require.Equal(12, total)

	authors := map[string]string{}
	for _, s := range subs {
		authors[s.ID] = s.AuthorID
	}
	for sid, evaluators := range bySubmission(plan) {
		require.Len(evaluators, 2)
		require.NotEqual(evaluators[0], evaluators[1])
		for _, e := range evaluators {
			require.NotEqual(authors[sid], e, "self evaluation of %s", sid)
		}
	}

	require.Len(report.UnderUtilized, 6)
	for _, u := range report.UnderUtilized {
		require.Equal(2, u.Load)
		require.Equal(3, u.Capacity)
	}
}

func TestPlanFeasibleConfigurations(t *testing.T) {
	for authors := 2; authors <= 9; authors++ {
		for per := 1; per <= 3; per++ {
			for k := 1; k < authors; k++ {
				for m := 1; m <= k*per+2; m++ {
					if m*authors < k*authors*per {
						continue
					}
					name := fmt.Sprintf("authors=%d/per=%d/k=%d/m=%d", authors, per, k, m)
					t.Run(name, func(t *testing.T) {
						subs := submissions(authors, per)
						plan, report, err := Plan(name, subs, settings(k, m), nil)
						require.NoError(t, err)
						require.True(t, report.Feasible(), "%+v", report.UnderAssigned)

						owners := map[string]string{}
						for _, s := range subs {
							owners[s.ID] = s.AuthorID
						}
						inverted := bySubmission(plan)
						require.Len(t, inverted, len(subs))
						for sid, evaluators := range inverted {
							require.Len(t, evaluators, k)
							seen := map[string]bool{}
							for _, e := range evaluators {
								require.NotEqual(t, owners[sid], e)
								require.False(t, seen[e], "duplicate pair %s/%s", e, sid)
								seen[e] = true
							}
						}
						for _, assigned := range plan.Pairs {
							require.LessOrEqual(t, len(assigned), m)
						}
					})
				}
			}
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	subs := submissions(7, 2)
	first, _, err := Plan("a1", subs, settings(3, 4), nil)
	require.NoError(t, err)

	reversed := make([]model.Submission, len(subs))
	for i := range subs {
		reversed[len(subs)-1-i] = subs[i]
	}
	second, _, err := Plan("a1", reversed, settings(3, 4), nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPlanReportsInfeasibility(t *testing.T) {
	require := require.New(t)
	plan, report, err := Plan("a1", submissions(3, 1), settings(2, 1), nil)
	require.NoError(err)
	require.False(report.Feasible())
	for _, u := range report.UnderAssigned {
		require.Equal(2, u.Required)
		require.Less(u.Assigned, 2)
	}
	for _, assigned := range plan.Pairs {
		require.LessOrEqual(len(assigned), 1)
	}
	require.Empty(report.UnderUtilized)
}

func TestPlanConfigurationErrors(t *testing.T) {
	testCases := []struct {
		name     string
		subs     []model.Submission
		settings model.PeerEvaluationSettings
	}{
		{"k exceeds candidates", submissions(3, 1), settings(3, 5)},
		{"no submissions", nil, settings(1, 1)},
		{"zero k", submissions(3, 1), settings(0, 1)},
		{"zero m", submissions(3, 1), settings(1, 0)},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Plan("a1", tc.subs, tc.settings, nil)
			require.True(t, evalerr.Is(err, evalerr.KindConfiguration), "%v", err)
		})
	}
}

func TestPlanAllowsSelfEvaluation(t *testing.T) {
	s := settings(3, 3)
	s.AllowSelfEvaluation = true
	plan, report, err := Plan("a1", submissions(3, 1), s, nil)
	require.NoError(t, err)
	require.True(t, report.Feasible())
	for _, evaluators := range bySubmission(plan) {
		assert.ElementsMatch(t, []string{"u00", "u01", "u02"}, evaluators)
	}
}

func TestPlanSkipsExistingPairs(t *testing.T) {
	subs := submissions(6, 1)
	first, _, err := Plan("a1", subs, settings(2, 3), nil)
	require.NoError(t, err)

	var existing []*model.Evaluation
	for evaluator, assigned := range first.Pairs {
		for _, sid := range assigned {
			existing = append(existing, &model.Evaluation{EvaluatorID: evaluator, SubmissionID: sid, Status: model.StatusMissed})
		}
	}
	second, report, err := Plan("a1", subs, settings(2, 3), existing)
	require.NoError(t, err)
	require.True(t, report.Feasible())
	for evaluator, assigned := range second.Pairs {
		for _, sid := range assigned {
			require.NotContains(t, first.Pairs[evaluator], sid)
		}
	}
}
