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

package postgres

import (
	"time"

	"peereval.dev/peereval/pkg/model"
)

type assignmentModel struct {
	AssignmentID             string           `gorm:"column:assignment_id;primaryKey"`
	CourseID                 string           `gorm:"column:course_id;index"`
	OwnerID                  string           `gorm:"column:owner_id"`
	TotalPoints              float64          `gorm:"column:total_points"`
	EvaluationsPerSubmission int              `gorm:"column:evaluations_per_submission"`
	MaxEvaluationsPerStudent int              `gorm:"column:max_evaluations_per_student"`
	AnonymousEvaluation      bool             `gorm:"column:anonymous_evaluation"`
	AllowSelfEvaluation      bool             `gorm:"column:allow_self_evaluation"`
	RequireEvaluatorComments bool             `gorm:"column:require_evaluator_comments"`
	MinCommentLength         int              `gorm:"column:min_comment_length"`
	EvaluationDeadline       time.Time        `gorm:"column:evaluation_deadline"`
	Criteria                 []criterionModel `gorm:"foreignKey:AssignmentID;references:AssignmentID"`
}

func (assignmentModel) TableName() string { return "assignments" }

type criterionModel struct {
	AssignmentID string  `gorm:"column:assignment_id;primaryKey"`
	Name         string  `gorm:"column:name;primaryKey"`
	Position     int     `gorm:"column:position"`
	MaxPoints    float64 `gorm:"column:max_points"`
	Optional     bool    `gorm:"column:optional"`
}

func (criterionModel) TableName() string { return "grading_criteria" }

type submissionModel struct {
	SubmissionID string    `gorm:"column:submission_id;primaryKey"`
	AssignmentID string    `gorm:"column:assignment_id;index"`
	AuthorID     string    `gorm:"column:author_id"`
	Status       string    `gorm:"column:status"`
	SubmittedAt  time.Time `gorm:"column:submitted_at"`
	IsLate       bool      `gorm:"column:is_late"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (submissionModel) TableName() string { return "submissions" }

type userModel struct {
	UserID  string `gorm:"column:user_id;primaryKey"`
	IsAdmin bool   `gorm:"column:is_admin"`
}

func (userModel) TableName() string { return "users" }

type courseInstructorModel struct {
	CourseID string `gorm:"column:course_id;primaryKey"`
	UserID   string `gorm:"column:user_id;primaryKey"`
}

func (courseInstructorModel) TableName() string { return "course_instructors" }

func (m assignmentModel) toModel() *model.Assignment {
	criteria := make([]model.GradingCriterion, 0, len(m.Criteria))
	for _, c := range m.Criteria {
		criteria = append(criteria, model.GradingCriterion{Name: c.Name, MaxPoints: c.MaxPoints, Optional: c.Optional})
	}
	return &model.Assignment{
		ID:          m.AssignmentID,
		CourseID:    m.CourseID,
		OwnerID:     m.OwnerID,
		TotalPoints: m.TotalPoints,
		Criteria:    criteria,
		Settings: model.PeerEvaluationSettings{
			EvaluationsPerSubmission: m.EvaluationsPerSubmission,
			MaxEvaluationsPerStudent: m.MaxEvaluationsPerStudent,
			AnonymousEvaluation:      m.AnonymousEvaluation,
			AllowSelfEvaluation:      m.AllowSelfEvaluation,
			RequireEvaluatorComments: m.RequireEvaluatorComments,
			MinCommentLength:         m.MinCommentLength,
			EvaluationDeadline:       m.EvaluationDeadline.UTC(),
		},
	}
}

func assignmentModelFromDomain(a *model.Assignment) assignmentModel {
	criteria := make([]criterionModel, 0, len(a.Criteria))
	for i, c := range a.Criteria {
		criteria = append(criteria, criterionModel{
			AssignmentID: a.ID,
			Name:         c.Name,
			Position:     i,
			MaxPoints:    c.MaxPoints,
			Optional:     c.Optional,
		})
	}
	return assignmentModel{
		AssignmentID:             a.ID,
		CourseID:                 a.CourseID,
		OwnerID:                  a.OwnerID,
		TotalPoints:              a.TotalPoints,
		EvaluationsPerSubmission: a.Settings.EvaluationsPerSubmission,
		MaxEvaluationsPerStudent: a.Settings.MaxEvaluationsPerStudent,
		AnonymousEvaluation:      a.Settings.AnonymousEvaluation,
		AllowSelfEvaluation:      a.Settings.AllowSelfEvaluation,
		RequireEvaluatorComments: a.Settings.RequireEvaluatorComments,
		MinCommentLength:         a.Settings.MinCommentLength,
		EvaluationDeadline:       a.Settings.EvaluationDeadline.UTC(),
		Criteria:                 criteria,
	}
}

func (m submissionModel) toModel() model.Submission {
	return model.Submission{
		ID:           m.SubmissionID,
		AssignmentID: m.AssignmentID,
		AuthorID:     m.AuthorID,
		Status:       m.Status,
		SubmittedAt:  m.SubmittedAt.UTC(),
		IsLate:       m.IsLate,
	}
}

func submissionModelFromDomain(s model.Submission) submissionModel {
	return submissionModel{
		SubmissionID: s.ID,
		AssignmentID: s.AssignmentID,
		AuthorID:     s.AuthorID,
		Status:       s.Status,
		SubmittedAt:  s.SubmittedAt.UTC(),
		IsLate:       s.IsLate,
		UpdatedAt:    time.Now().UTC(),
	}
}
