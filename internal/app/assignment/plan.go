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

// Package assignment is the Assignment Matcher: it pairs evaluators with
// submissions and creates the resulting Evaluations.
package assignment

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/set"
	"peereval.dev/peereval/pkg/model"
)

type pair struct {
	evaluatorID  string
	submissionID string
}

type planner struct {
	k          int
	capacity   int
	allowSelf  bool
	candidates []string
	rank       map[string]int
	subs       []model.Submission
	author     map[string]string
	existing   map[pair]bool
	baseLoad   map[string]int
	load       map[string]int
	pairs      map[string][]string
}

// Plan computes the evaluator assignment for one assignment. existing holds
// Evaluations that are already stored: their pairs are never repeated and
// the non-terminal ones count towards evaluator load.
//
// Candidates are the distinct submission authors shuffled by a seed derived
// from assignmentID. Every submission takes the least loaded eligible
// candidates, ties broken by shuffle order. The per-evaluator cap starts at
// the balanced load and is only raised towards the configured maximum when
// the balanced cap leaves a submission short.
func Plan(assignmentID string, submissions []model.Submission, settings model.PeerEvaluationSettings, existing []*model.Evaluation) (*model.AssignmentPlan, model.FeasibilityReport, error) {
	k := settings.EvaluationsPerSubmission
	m := settings.MaxEvaluationsPerStudent
	if k < 1 {
		return nil, model.FeasibilityReport{}, evalerr.New(evalerr.KindConfiguration, "evaluationsPerSubmission must be at least 1, got %d", k)
	}
	if m < 1 {
		return nil, model.FeasibilityReport{}, evalerr.New(evalerr.KindConfiguration, "maxEvaluationsPerStudent must be at least 1, got %d", m)
	}

	subs := distinctSubmissions(submissions)
	candidates := Candidates(assignmentID, subs)

	available := len(candidates) - 1
	if settings.AllowSelfEvaluation {
		available = len(candidates)
	}
	if k > available {
		return nil, model.FeasibilityReport{}, evalerr.New(evalerr.KindConfiguration,
			"evaluationsPerSubmission %d exceeds the %d eligible evaluators of assignment %s", k, available, assignmentID)
	}

	rng := seeded(assignmentID, "submissions")
	rng.Shuffle(len(subs), func(i, j int) { subs[i], subs[j] = subs[j], subs[i] })

	base := &planner{
		k:          k,
		allowSelf:  settings.AllowSelfEvaluation,
		candidates: candidates,
		rank:       make(map[string]int, len(candidates)),
		subs:       subs,
		author:     make(map[string]string, len(subs)),
		existing:   map[pair]bool{},
		baseLoad:   map[string]int{},
	}
	for i, c := range candidates {
		base.rank[c] = i
	}
	for _, s := range subs {
		base.author[s.ID] = s.AuthorID
	}
	for _, e := range existing {
		base.existing[pair{e.EvaluatorID, e.SubmissionID}] = true
		if !e.Status.Terminal() {
			base.baseLoad[e.EvaluatorID]++
		}
	}

	balanced := (k*len(subs) + len(candidates) - 1) / len(candidates)
	if balanced > m {
		balanced = m
	}
	var under []model.UnderAssignedSubmission
	for capacity := balanced; capacity <= m; capacity++ {
		under = base.run(capacity)
		if len(under) == 0 {
			break
		}
	}

	plan := &model.AssignmentPlan{AssignmentID: assignmentID, Pairs: map[string][]string{}}
	for _, s := range subs {
		for _, evaluator := range base.pairs[s.ID] {
			plan.Pairs[evaluator] = append(plan.Pairs[evaluator], s.ID)
		}
	}
	for evaluator := range plan.Pairs {
		sort.Strings(plan.Pairs[evaluator])
	}

	report := model.FeasibilityReport{
		UnderAssigned: under,
		UnderUtilized: []model.UnderUtilizedEvaluator{},
	}
	if report.UnderAssigned == nil {
		report.UnderAssigned = []model.UnderAssignedSubmission{}
	}
	sort.Slice(report.UnderAssigned, func(i, j int) bool {
		return report.UnderAssigned[i].SubmissionID < report.UnderAssigned[j].SubmissionID
	})
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if base.load[c] < m {
			report.UnderUtilized = append(report.UnderUtilized, model.UnderUtilizedEvaluator{EvaluatorID: c, Load: base.load[c], Capacity: m})
		}
	}
	return plan, report, nil
}

// Candidates returns the distinct authors of submissions, the evaluator pool
// of an assignment, in an order shuffled by a seed derived from assignmentID.
func Candidates(assignmentID string, submissions []model.Submission) []string {
	authors := make([]string, 0, len(submissions))
	for _, s := range submissions {
		authors = append(authors, s.AuthorID)
	}
	candidates := set.Distinct(authors)
	sort.Strings(candidates)
	rng := seeded(assignmentID, "candidates")
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	return candidates
}

func seeded(parts ...string) *rand.Rand {
	return rand.New(rand.NewSource(int64(xxh3.HashString(strings.Join(parts, "/")))))
}

// run assigns every submission with the given per-evaluator capacity and
// returns the submissions left short.
func (p *planner) run(capacity int) []model.UnderAssignedSubmission {
	p.capacity = capacity
	p.load = make(map[string]int, len(p.candidates))
	for c, l := range p.baseLoad {
		p.load[c] = l
	}
	p.pairs = make(map[string][]string, len(p.subs))

	var under []model.UnderAssignedSubmission
	for _, s := range p.subs {
		for len(p.pairs[s.ID]) < p.k {
			if c, ok := p.leastLoaded(s.ID); ok {
				p.pairs[s.ID] = append(p.pairs[s.ID], c)
				p.load[c]++
				continue
			}
			if p.repair(s.ID) {
				continue
			}
			under = append(under, model.UnderAssignedSubmission{SubmissionID: s.ID, Assigned: len(p.pairs[s.ID]), Required: p.k})
			break
		}
	}
	return under
}

func (p *planner) eligible(evaluatorID, submissionID string) bool {
	if !p.allowSelf && evaluatorID == p.author[submissionID] {
		return false
	}
	if p.existing[pair{evaluatorID, submissionID}] {
		return false
	}
	for _, e := range p.pairs[submissionID] {
		if e == evaluatorID {
			return false
		}
	}
	return true
}

func (p *planner) leastLoaded(submissionID string) (string, bool) {
	best := ""
	for _, c := range p.candidates {
		if p.load[c] >= p.capacity || !p.eligible(c, submissionID) {
			continue
		}
		if best == "" || p.load[c] < p.load[best] {
			best = c
		}
	}
	return best, best != ""
}

// repair frees a slot for submissionID by moving one of its eligible
// evaluators off another submission and handing that slot to a candidate
// with spare capacity.
func (p *planner) repair(submissionID string) bool {
	spare := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		if p.load[c] < p.capacity {
			spare = append(spare, c)
		}
	}
	sort.SliceStable(spare, func(i, j int) bool { return p.load[spare[i]] < p.load[spare[j]] })

	for _, c := range spare {
		for _, other := range p.subs {
			if other.ID == submissionID || !p.eligible(c, other.ID) {
				continue
			}
			for i, e := range p.pairs[other.ID] {
				if !p.eligible(e, submissionID) {
					continue
				}
				p.pairs[other.ID][i] = c
				p.pairs[submissionID] = append(p.pairs[submissionID], e)
				p.load[c]++
				return true
			}
		}
	}
	return false
}

func distinctSubmissions(submissions []model.Submission) []model.Submission {
	seen := make(map[string]bool, len(submissions))
	r := make([]model.Submission, 0, len(submissions))
	for _, s := range submissions {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		r = append(r, s)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}
