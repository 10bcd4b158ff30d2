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
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

const scoreTolerance = 1e-9

// SubmitRequest carries an evaluator's scores. TotalScore and MaxTotalScore
// are optional; when present they must agree with the criterion scores.
type SubmitRequest struct {
	Scores        []model.Score `json:"scores"`
	TotalScore    *float64      `json:"totalScore,omitempty"`
	MaxTotalScore *float64      `json:"maxTotalScore,omitempty"`
	Feedback      string        `json:"overallFeedback"`
	Grade         string        `json:"grade,omitempty"`
}

// scoreSubmission validates req against the grading criteria of assignment
// and returns the normalized scores with their total and maximum.
func scoreSubmission(assignment *model.Assignment, e *model.Evaluation, req SubmitRequest) ([]model.Score, float64, float64, error) {
	if len(assignment.Criteria) == 0 {
		return scoreFreeform(e, req)
	}

	byName := make(map[string]model.Score, len(req.Scores))
	for _, s := range req.Scores {
		if _, dup := byName[s.CriteriaName]; dup {
			return nil, 0, 0, evalerr.New(evalerr.KindValidation, "criterion %q is scored more than once", s.CriteriaName)
		}
		byName[s.CriteriaName] = s
	}

	scores := make([]model.Score, 0, len(assignment.Criteria))
	total, maxTotal := 0.0, 0.0
	for _, c := range assignment.Criteria {
		maxTotal += c.MaxPoints
		s, ok := byName[c.Name]
		if !ok {
			if c.Optional {
				continue
			}
			return nil, 0, 0, evalerr.New(evalerr.KindValidation, "criterion %q is required", c.Name)
		}
		delete(byName, c.Name)
		if err := checkRange(c.Name, s.Score, c.MaxPoints); err != nil {
			return nil, 0, 0, err
		}
		scores = append(scores, model.Score{CriteriaName: c.Name, Score: s.Score, MaxScore: c.MaxPoints})
		total += s.Score
	}
	if len(byName) > 0 {
		unknown := make([]string, 0, len(byName))
		for name := range byName {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, 0, 0, evalerr.New(evalerr.KindValidation, "criteria %s are not part of assignment %s", strings.Join(unknown, ", "), assignment.ID)
	}

	if req.TotalScore != nil && math.Abs(*req.TotalScore-total) > scoreTolerance {
		return nil, 0, 0, evalerr.New(evalerr.KindValidation, "totalScore %g does not match the criterion scores, expected %g", *req.TotalScore, total)
	}
	if req.MaxTotalScore != nil && math.Abs(*req.MaxTotalScore-maxTotal) > scoreTolerance {
		return nil, 0, 0, evalerr.New(evalerr.KindValidation, "maxTotalScore %g does not match the grading criteria, expected %g", *req.MaxTotalScore, maxTotal)
	}
	return scores, total, maxTotal, nil
}

// scoreFreeform handles assignments without a rubric: the evaluator reports
// a total against the evaluation's maximum.
func scoreFreeform(e *model.Evaluation, req SubmitRequest) ([]model.Score, float64, float64, error) {
	scores := make([]model.Score, 0, len(req.Scores))
	sum, sumMax := 0.0, 0.0
	for _, s := range req.Scores {
		if err := checkRange(s.CriteriaName, s.Score, s.MaxScore); err != nil {
			return nil, 0, 0, err
		}
		scores = append(scores, s)
		sum += s.Score
		sumMax += s.MaxScore
	}

	maxTotal := e.MaxTotalScore
	if req.MaxTotalScore != nil {
		maxTotal = *req.MaxTotalScore
	} else if maxTotal <= 0 {
		maxTotal = sumMax
	}
	total := sum
	if req.TotalScore != nil {
		total = *req.TotalScore
	} else if len(scores) == 0 {
		return nil, 0, 0, evalerr.New(evalerr.KindValidation, "totalScore is required")
	}
	if maxTotal <= 0 {
		return nil, 0, 0, evalerr.New(evalerr.KindValidation, "maxTotalScore must be positive")
	}
	if err := checkRange("total", total, maxTotal); err != nil {
		return nil, 0, 0, err
	}
	return scores, total, maxTotal, nil
}

func checkRange(name string, score, max float64) error {
	if math.IsNaN(score) || score < 0 || score > max {
		return evalerr.New(evalerr.KindValidation, "score %g for %q is outside [0, %g]", score, name, max)
	}
	return nil
}

func checkFeedback(settings model.PeerEvaluationSettings, feedback string) error {
	if !settings.RequireEvaluatorComments {
		return nil
	}
	min := settings.MinCommentLength
	if min < 1 {
		min = 1
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(feedback)); n < min {
		return evalerr.New(evalerr.KindValidation, "overall feedback must be at least %d characters, got %d", min, n)
	}
	return nil
}
