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

// Package model holds the records exchanged with the peer evaluation engine.
// Every type serializes to JSON so it can be stored and exposed over the network.
package model

import "time"

// Status is the lifecycle state of an Evaluation.
type Status string

// Evaluation states. An Evaluation starts in StatusAssigned.
const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusReviewed   Status = "reviewed"
	StatusFinalized  Status = "finalized"
	StatusMissed     Status = "missed"
)

// AllStatuses lists the states in lifecycle order.
var AllStatuses = []Status{
	StatusAssigned,
	StatusInProgress,
	StatusSubmitted,
	StatusReviewed,
	StatusFinalized,
	StatusMissed,
}

// Terminal reports whether no further transition can leave s without an override.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusMissed
}

// Pending reports whether the evaluator still owes work.
func (s Status) Pending() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Completed reports whether s counts towards finalization.
func (s Status) Completed() bool {
	return s == StatusSubmitted || s == StatusReviewed || s == StatusFinalized
}

// Role is the role an actor holds relative to an assignment.
type Role string

// Actor roles.
const (
	RoleStudent    Role = "student"
	RoleOwner      Role = "owner"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Privileged reports whether the role may review, reassign and see true identities.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleInstructor || r == RoleAdmin
}

// Submission is a student's work product. Owned by the Submission Pool.
type Submission struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignmentId"`
	AuthorID     string    `json:"authorId"`
	Status       string    `json:"status"`
	SubmittedAt  time.Time `json:"submittedAt"`
	IsLate       bool      `json:"isLate"`
}

// GradingCriterion is one rubric line. Criteria are required unless Optional is set.
type GradingCriterion struct {
	Name      string  `json:"name"`
	MaxPoints float64 `json:"maxPoints"`
	Optional  bool    `json:"optional,omitempty"`
}

// PeerEvaluationSettings configures matching and the evaluator obligations.
type PeerEvaluationSettings struct {
	EvaluationsPerSubmission int       `json:"evaluationsPerSubmission"`
	MaxEvaluationsPerStudent int       `json:"maxEvaluationsPerStudent"`
	AnonymousEvaluation      bool      `json:"anonymousEvaluation"`
	AllowSelfEvaluation      bool      `json:"allowSelfEvaluation"`
	RequireEvaluatorComments bool      `json:"requireEvaluatorComments"`
	MinCommentLength         int       `json:"minCommentLength"`
	EvaluationDeadline       time.Time `json:"evaluationDeadline"`
}

// SettingsOverride replaces individual settings for a single matcher run.
type SettingsOverride struct {
	EvaluationsPerSubmission *int       `json:"evaluationsPerSubmission,omitempty"`
	MaxEvaluationsPerStudent *int       `json:"maxEvaluationsPerStudent,omitempty"`
	AnonymousEvaluation      *bool      `json:"anonymousEvaluation,omitempty"`
	AllowSelfEvaluation      *bool      `json:"allowSelfEvaluation,omitempty"`
	EvaluationDeadline       *time.Time `json:"evaluationDeadline,omitempty"`
}

// Apply returns s with every non-nil override field applied.
func (o *SettingsOverride) Apply(s PeerEvaluationSettings) PeerEvaluationSettings {
	if o == nil {
		return s
	}
	if o.EvaluationsPerSubmission != nil {
		s.EvaluationsPerSubmission = *o.EvaluationsPerSubmission
	}
	if o.MaxEvaluationsPerStudent != nil {
		s.MaxEvaluationsPerStudent = *o.MaxEvaluationsPerStudent
	}
	if o.AnonymousEvaluation != nil {
		s.AnonymousEvaluation = *o.AnonymousEvaluation
	}
	if o.AllowSelfEvaluation != nil {
		s.AllowSelfEvaluation = *o.AllowSelfEvaluation
	}
	if o.EvaluationDeadline != nil {
		s.EvaluationDeadline = *o.EvaluationDeadline
	}
	return s
}

// Assignment is the collaborator-owned definition the engine evaluates against.
type Assignment struct {
	ID          string                 `json:"id"`
	CourseID    string                 `json:"courseId"`
	OwnerID     string                 `json:"ownerId"`
	TotalPoints float64                `json:"totalPoints"`
	Settings    PeerEvaluationSettings `json:"peerEvaluationSettings"`
	Criteria    []GradingCriterion     `json:"gradingCriteria"`
}

// MaxTotalScore is the rubric maximum of the assignment, or its total points
// when it has no grading criteria.
func (a *Assignment) MaxTotalScore() float64 {
	total := 0.0
	for _, c := range a.Criteria {
		total += c.MaxPoints
	}
	if total <= 0 {
		return a.TotalPoints
	}
	return total
}

// Score is the points an evaluator awarded for one criterion.
type Score struct {
	CriteriaName string  `json:"criteria"`
	Score        float64 `json:"score"`
	MaxScore     float64 `json:"maxScore"`
}

// QualityFlags mark an evaluation for manual attention.
type QualityFlags struct {
	NeedsReview bool   `json:"needsReview"`
	ReviewNotes string `json:"reviewNotes,omitempty"`
}

// Reassignment records one evaluator replacement.
type Reassignment struct {
	FromEvaluatorID string    `json:"fromEvaluatorId"`
	ToEvaluatorID   string    `json:"toEvaluatorId"`
	PreviousStatus  Status    `json:"previousStatus"`
	Reason          string    `json:"reason"`
	At              time.Time `json:"at"`
}

// Evaluation is one evaluator's pass over one submission.
type Evaluation struct {
	ID              string         `json:"id"`
	AssignmentID    string         `json:"assignmentId"`
	SubmissionID    string         `json:"submissionId"`
	EvaluatorID     string         `json:"evaluatorId"`
	SubmitterID     string         `json:"submitterId"`
	Status          Status         `json:"status"`
	Scores          []Score        `json:"scores,omitempty"`
	TotalScore      float64        `json:"totalScore"`
	MaxTotalScore   float64        `json:"maxTotalScore"`
	OverallFeedback string         `json:"overallFeedback,omitempty"`
	Grade           string         `json:"grade,omitempty"`
	IsAnonymous     bool           `json:"isAnonymous"`
	AssignedAt      time.Time      `json:"assignedAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	SubmittedAt     *time.Time     `json:"submittedAt,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewedAt,omitempty"`
	DueDate         time.Time      `json:"dueDate"`
	IsLate          bool           `json:"isLate"`
	QualityFlags    QualityFlags   `json:"qualityFlags"`
	Reassignments   []Reassignment `json:"reassignments,omitempty"`
	// Rules are the pairing rules of the matcher run that created the
	// evaluation, overrides included.
	Rules   *PairingRules `json:"rules,omitempty"`
	Version int64         `json:"version"`
}

// PairingRules constrain which students may evaluate a submission.
type PairingRules struct {
	MaxEvaluationsPerStudent int  `json:"maxEvaluationsPerStudent"`
	AllowSelfEvaluation      bool `json:"allowSelfEvaluation"`
}

// PairingRules returns the rules of s.
func (s PeerEvaluationSettings) PairingRules() PairingRules {
	return PairingRules{
		MaxEvaluationsPerStudent: s.MaxEvaluationsPerStudent,
		AllowSelfEvaluation:      s.AllowSelfEvaluation,
	}
}

// EffectiveRules returns the rules e was matched under, or those of the
// assignment's stored settings for evaluations that predate them.
func (e *Evaluation) EffectiveRules(a *Assignment) PairingRules {
	if e.Rules != nil {
		return *e.Rules
	}
	return a.Settings.PairingRules()
}

// Clone returns a deep copy of e.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	c := *e
	c.Scores = append([]Score(nil), e.Scores...)
	c.Reassignments = append([]Reassignment(nil), e.Reassignments...)
	c.StartedAt = cloneTime(e.StartedAt)
	c.SubmittedAt = cloneTime(e.SubmittedAt)
	c.ReviewedAt = cloneTime(e.ReviewedAt)
	if e.Rules != nil {
		rules := *e.Rules
		c.Rules = &rules
	}
	return &c
}

// Percentage returns TotalScore normalized to [0, 100].
func (e *Evaluation) Percentage() float64 {
	if e.MaxTotalScore <= 0 {
		return 0
	}
	return e.TotalScore * 100 / e.MaxTotalScore
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// FinalEvaluation is the authoritative compiled result for one submission.
type FinalEvaluation struct {
	SubmissionID         string             `json:"submissionId"`
	AssignmentID         string             `json:"assignmentId"`
	CompiledScore        float64            `json:"compiledScore"`
	CompiledPercentage   float64            `json:"compiledPercentage"`
	PerCriterionAverage  map[string]float64 `json:"perCriterionAverage"`
	EvaluatorCount       int                `json:"evaluatorCount"`
	EvaluationIDs        []string           `json:"evaluationIds"`
	OutlierEvaluationIDs []string           `json:"outlierEvaluationIds"`
	NeedsReview          bool               `json:"needsReview"`
	Fingerprint          string             `json:"fingerprint"`
	CompiledAt           time.Time          `json:"compiledAt"`
}

// AssignmentPlan maps every evaluator to the submissions it should evaluate.
type AssignmentPlan struct {
	AssignmentID string              `json:"assignmentId"`
	Pairs        map[string][]string `json:"pairs"`
}

// UnderAssignedSubmission is a submission that got fewer evaluators than required.
type UnderAssignedSubmission struct {
	SubmissionID string `json:"submissionId"`
	Assigned     int    `json:"assigned"`
	Required     int    `json:"required"`
}

// UnderUtilizedEvaluator is a candidate that ended below its capacity.
type UnderUtilizedEvaluator struct {
	EvaluatorID string `json:"evaluatorId"`
	Load        int    `json:"load"`
	Capacity    int    `json:"capacity"`
}

// FeasibilityReport describes how far a plan falls short of full coverage.
// Infeasibility is data, not an error.
type FeasibilityReport struct {
	UnderAssigned []UnderAssignedSubmission `json:"underAssigned"`
	UnderUtilized []UnderUtilizedEvaluator  `json:"underUtilized"`
}

// Feasible reports whether every submission received its full complement of evaluators.
func (r FeasibilityReport) Feasible() bool {
	return len(r.UnderAssigned) == 0
}

// AssignmentResult is returned by a matcher run.
type AssignmentResult struct {
	CreatedEvaluations []*Evaluation     `json:"createdEvaluations"`
	FeasibilityReport  FeasibilityReport `json:"feasibilityReport"`
	Plan               *AssignmentPlan   `json:"plan,omitempty"`
	CancelledCount     int               `json:"cancelledCount"`
}

// SubmissionCompletion is the evaluation progress of a single submission.
type SubmissionCompletion struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Finalized bool `json:"finalized"`
}

// AssignmentEvaluationStatus summarizes all evaluations of an assignment.
type AssignmentEvaluationStatus struct {
	AssignmentID            string                          `json:"assignmentId"`
	Total                   int                             `json:"total"`
	ByStatus                map[Status]int                  `json:"byStatus"`
	PerSubmissionCompletion map[string]SubmissionCompletion `json:"perSubmissionCompletion"`
}
