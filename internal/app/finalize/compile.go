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

// Package finalize compiles the Evaluations of a submission into its
// authoritative FinalEvaluation.
package finalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/pkg/model"
)

const (
	defaultOutlierThreshold         = 2.0
	defaultMinEvaluatorsForOutliers = 3
)

// Options tune outlier exclusion.
type Options struct {
	// OutlierThreshold is the number of standard deviations a percentage may
	// stray from the mean before it is excluded.
	OutlierThreshold float64
	// MinEvaluators disables outlier exclusion for smaller evaluation sets.
	MinEvaluators int
}

// OptionsFromConfig reads the finalization.* settings.
func OptionsFromConfig(cfg config.View) Options {
	o := Options{
		OutlierThreshold: defaultOutlierThreshold,
		MinEvaluators:    defaultMinEvaluatorsForOutliers,
	}
	if cfg.IsSet(consts.OutlierThreshold) {
		o.OutlierThreshold = cfg.GetFloat64(consts.OutlierThreshold)
	}
	if cfg.IsSet(consts.MinEvaluatorsForOutliers) {
		o.MinEvaluators = cfg.GetInt(consts.MinEvaluatorsForOutliers)
	}
	return o
}

// Compile computes the FinalEvaluation of one submission from its completed
// Evaluations. It is a pure function of its inputs: the same evaluation set
// always yields the same result apart from CompiledAt.
func Compile(assignment *model.Assignment, evals []*model.Evaluation, opts Options, now time.Time) *model.FinalEvaluation {
	sorted := append([]*model.Evaluation(nil), evals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	final := &model.FinalEvaluation{
		AssignmentID:         assignment.ID,
		EvaluatorCount:       len(sorted),
		EvaluationIDs:        make([]string, 0, len(sorted)),
		OutlierEvaluationIDs: []string{},
		PerCriterionAverage:  map[string]float64{},
		Fingerprint:          Fingerprint(sorted),
		CompiledAt:           now.UTC(),
	}
	if len(sorted) == 0 {
		return final
	}
	final.SubmissionID = sorted[0].SubmissionID

	percentages := make([]float64, len(sorted))
	for i, e := range sorted {
		final.EvaluationIDs = append(final.EvaluationIDs, e.ID)
		percentages[i] = e.Percentage()
	}
	mean, stddev := meanStddev(percentages)

	kept := make([]*model.Evaluation, 0, len(sorted))
	keptPercentages := make([]float64, 0, len(sorted))
	for i, e := range sorted {
		if len(sorted) >= opts.MinEvaluators && stddev > 0 && math.Abs(percentages[i]-mean) > opts.OutlierThreshold*stddev {
			final.OutlierEvaluationIDs = append(final.OutlierEvaluationIDs, e.ID)
			continue
		}
		kept = append(kept, e)
		keptPercentages = append(keptPercentages, percentages[i])
	}

	if len(kept) == 0 {
		// Every evaluation disagrees with the rest; report the plain mean and
		// leave the decision to a human.
		kept = sorted
		keptPercentages = percentages
		final.NeedsReview = true
	}

	final.CompiledPercentage, _ = meanStddev(keptPercentages)
	final.CompiledScore = final.CompiledPercentage * assignment.TotalPoints / 100
	final.PerCriterionAverage = perCriterionAverage(kept)
	return final
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(squares / float64(len(values)))
}

func perCriterionAverage(evals []*model.Evaluation) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, e := range evals {
		for _, s := range e.Scores {
			sums[s.CriteriaName] += s.Score
			counts[s.CriteriaName]++
		}
	}
	r := make(map[string]float64, len(sums))
	for name, sum := range sums {
		r[name] = sum / float64(counts[name])
	}
	return r
}

// Fingerprint identifies the scoring content of an evaluation set. It ignores
// order, versions and review flags so that flagging outliers does not make a
// finalized set look changed.
func Fingerprint(evals []*model.Evaluation) string {
	lines := make([]string, 0, len(evals))
	for _, e := range evals {
		var b strings.Builder
		b.WriteString(e.ID)
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(e.TotalScore, 'g', -1, 64))
		b.WriteByte('/')
		b.WriteString(strconv.FormatFloat(e.MaxTotalScore, 'g', -1, 64))
		for _, s := range e.Scores {
			fmt.Fprintf(&b, "|%s=%s", s.CriteriaName, strconv.FormatFloat(s.Score, 'g', -1, 64))
		}
		lines = append(lines, b.String())
	}
	sort.Strings(lines)
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(lines, "\n")))
}
